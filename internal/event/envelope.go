package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeCollateralAdded
	EventTypeFundingApplied
	EventTypePoolDeposit
	EventTypePoolWithdraw
	EventTypePnLSettled
)

// Envelope wraps every event emitted by the engine.
type Envelope struct {
	// Unique event ID
	ID uuid.UUID `json:"id"`

	// Event type discriminator
	Type EventType `json:"type"`

	// Market symbol ("" for pool-level events)
	Symbol string `json:"symbol,omitempty"`

	// Engine clock at emission time
	Timestamp time.Time `json:"timestamp"`

	// Event-specific data, JSON-encoded at persist/publish time
	Payload any `json:"payload"`
}

// New builds an envelope around a payload.
func New(t EventType, symbol string, at time.Time, payload any) Envelope {
	return Envelope{
		ID:        uuid.New(),
		Type:      t,
		Symbol:    symbol,
		Timestamp: at,
		Payload:   payload,
	}
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeCollateralAdded:
		return "CollateralAdded"
	case EventTypeFundingApplied:
		return "FundingApplied"
	case EventTypePoolDeposit:
		return "PoolDeposit"
	case EventTypePoolWithdraw:
		return "PoolWithdraw"
	case EventTypePnLSettled:
		return "PnLSettled"
	default:
		return "Unknown"
	}
}
