// Package pool implements the share-based liquidity pool that takes
// the other side of every trade. LP ownership is tracked as shares;
// the share price floats with pool performance.
//
// Settlement is asymmetric by design: when a trader wins, the pool
// pushes tokens to the engine inside SettlePnL; when a trader loses,
// only the accounting moves here and the engine pushes the tokens
// separately. Both legs of every settlement keep token movement and
// recorded balances numerically identical.
package pool

import (
	"fmt"
	"sync"
	"time"

	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/market"
	"PerpEngine/internal/token"
)

// LiquidityPool holds LP deposits and settles trader PnL. Methods that
// move pool funds on behalf of the engine take a caller principal and
// reject anyone but the registered engine.
type LiquidityPool struct {
	mu sync.Mutex

	cfg market.PoolConfig

	// Token account holding the pool's liquidity.
	account string

	// The only principal allowed to settle, reserve, and report
	// unrealized PnL. Doubles as the engine's token account.
	engine string

	tokens token.Ledger
	bus    *event.Bus

	shares      map[string]int64
	totalShares int64

	// Recorded deposits, fees, and open-position liability.
	totalDeposits int64
	totalFees     int64
	unrealizedPnL int64
}

func NewLiquidityPool(cfg market.PoolConfig, account, engine string, tokens token.Ledger, bus *event.Bus) (*LiquidityPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LiquidityPool{
		cfg:     cfg,
		account: account,
		engine:  engine,
		tokens:  tokens,
		bus:     bus,
		shares:  make(map[string]int64),
	}, nil
}

// Account returns the pool's token account.
func (p *LiquidityPool) Account() string {
	return p.account
}

// Deposit takes tokens from an LP and mints shares. The first deposit
// mints 1:1; later deposits mint proportionally to AUM so existing LPs
// are not diluted.
func (p *LiquidityPool) Deposit(lp string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, market.ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fee, err := fixedpoint.ApplyBps(amount, p.cfg.DepositFeeBps)
	if err != nil {
		return 0, err
	}
	net := amount - fee

	// Mint against the pre-deposit AUM.
	aum := p.aum()
	var minted int64
	if p.totalShares == 0 || aum == 0 {
		minted = net
	} else {
		minted, err = fixedpoint.MulDiv(net, p.totalShares, aum)
		if err != nil {
			return 0, err
		}
	}
	if minted <= 0 {
		return 0, market.ErrInvalidAmount
	}

	if err := p.tokens.Transfer(lp, p.account, amount); err != nil {
		return 0, fmt.Errorf("deposit transfer: %w", err)
	}

	p.totalDeposits += amount - fee
	p.totalFees += fee
	p.shares[lp] += minted
	p.totalShares += minted

	p.emit(event.EventTypePoolDeposit, event.PoolDeposit{
		LP:           lp,
		Amount:       amount,
		SharesMinted: minted,
	})

	return minted, nil
}

// Withdraw burns shares and pays out the proportional slice of AUM,
// minus the withdrawal fee. Fails when the payout exceeds either the
// recorded liquidity or the pool's live token balance.
func (p *LiquidityPool) Withdraw(lp string, shareAmount int64) (int64, error) {
	if shareAmount <= 0 {
		return 0, market.ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shares[lp] < shareAmount {
		return 0, market.ErrInsufficientShares
	}
	if p.totalShares == 0 {
		return 0, fixedpoint.ErrDivisionByZero
	}

	gross, err := fixedpoint.MulDiv(shareAmount, p.aum(), p.totalShares)
	if err != nil {
		return 0, err
	}
	fee, err := fixedpoint.ApplyBps(gross, p.cfg.WithdrawFeeBps)
	if err != nil {
		return 0, err
	}
	net := gross - fee
	if net <= 0 {
		return 0, market.ErrInvalidAmount
	}

	if net > p.totalDeposits || net > p.tokens.Balance(p.account) {
		return 0, market.ErrInsufficientLiquidity
	}

	p.shares[lp] -= shareAmount
	if p.shares[lp] == 0 {
		delete(p.shares, lp)
	}
	p.totalShares -= shareAmount
	p.totalDeposits -= gross
	p.totalFees += fee

	if err := p.tokens.Transfer(p.account, lp, net); err != nil {
		return 0, fmt.Errorf("withdraw transfer: %w", err)
	}

	p.emit(event.EventTypePoolWithdraw, event.PoolWithdraw{
		LP:           lp,
		SharesBurned: shareAmount,
		Payout:       net,
	})

	return net, nil
}

// SettlePnL settles a trader's realized net result against the pool.
// Positive pnl: the pool pays, pushing tokens to the engine after
// checking both the recorded and live balances. Negative pnl: the pool
// records the gain; the engine pushes the loss tokens itself.
func (p *LiquidityPool) SettlePnL(caller string, pnl int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireEngine(caller); err != nil {
		return err
	}

	if pnl > 0 {
		if pnl > p.totalDeposits || pnl > p.tokens.Balance(p.account) {
			return market.ErrInsufficientLiquidity
		}
		if err := p.tokens.Transfer(p.account, p.engine, pnl); err != nil {
			return fmt.Errorf("settlement transfer: %w", err)
		}
		p.totalDeposits -= pnl
	} else {
		p.totalDeposits += -pnl
	}
	return nil
}

// Absorb records trader equity seized on liquidation. The engine
// pushes the tokens; the pool books them as deposits.
func (p *LiquidityPool) Absorb(caller string, amount int64) error {
	if amount <= 0 {
		return market.ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireEngine(caller); err != nil {
		return err
	}
	p.totalDeposits += amount
	return nil
}

// CollectFee records a trading fee pushed by the engine.
func (p *LiquidityPool) CollectFee(caller string, amount int64) error {
	if amount <= 0 {
		return market.ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireEngine(caller); err != nil {
		return err
	}
	p.totalFees += amount
	return nil
}

// Reserve checks that the pool could cover a worst-case payout of the
// given size. No funds move; the actual transfer happens at
// settlement.
func (p *LiquidityPool) Reserve(caller string, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireEngine(caller); err != nil {
		return err
	}
	if amount > p.totalDeposits {
		return market.ErrInsufficientLiquidity
	}
	return nil
}

// UpdateUnrealizedPnL records the open-position liability reported by
// the engine. Affects AUM and thus the share price only.
func (p *LiquidityPool) UpdateUnrealizedPnL(caller string, pnl int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireEngine(caller); err != nil {
		return err
	}
	p.unrealizedPnL = pnl
	return nil
}

// AUM returns assets under management:
// deposits + fees - unrealized trader PnL, floored at zero.
func (p *LiquidityPool) AUM() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aum()
}

func (p *LiquidityPool) aum() int64 {
	aum := p.totalDeposits + p.totalFees - p.unrealizedPnL
	if aum < 0 {
		return 0
	}
	return aum
}

// SharePrice returns the current share price in fixed point; an empty
// pool prices at 1:1.
func (p *LiquidityPool) SharePrice() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sharePrice()
}

func (p *LiquidityPool) sharePrice() (int64, error) {
	if p.totalShares == 0 {
		return fixedpoint.Precision, nil
	}
	return fixedpoint.MulDiv(p.aum(), fixedpoint.Precision, p.totalShares)
}

// ShareBalance returns an LP's share balance.
func (p *LiquidityPool) ShareBalance(lp string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shares[lp]
}

// Info returns a snapshot of the pool state.
func (p *LiquidityPool) Info() (market.PoolInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, err := p.sharePrice()
	if err != nil {
		return market.PoolInfo{}, err
	}
	return market.PoolInfo{
		TotalDeposits: p.totalDeposits,
		TotalShares:   p.totalShares,
		AUM:           p.aum(),
		UnrealizedPnL: p.unrealizedPnL,
		TotalFees:     p.totalFees,
		SharePrice:    price,
	}, nil
}

func (p *LiquidityPool) requireEngine(caller string) error {
	if caller != p.engine {
		return market.ErrUnauthorizedSettlement
	}
	return nil
}

// emit publishes a pool event. Pool events carry no market symbol.
func (p *LiquidityPool) emit(t event.EventType, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(event.New(t, "", time.Now().UTC(), payload))
}
