package event

// Bus fans engine events out to the persistence and publish pipelines.
//
// The persist feed blocks: an event that is not durably recorded must
// not be silently lost, so backpressure reaches the engine. The
// publish feed drops when full: downstream consumers can always
// replay from the event log.
type Bus struct {
	persist chan<- Envelope
	publish chan<- Envelope

	// Called when the publish feed is full and an event is dropped.
	onDrop func(Envelope)
}

// NewBus wires a bus to its output channels. Either channel may be
// nil to disable that feed. onDrop may be nil.
func NewBus(persist, publish chan<- Envelope, onDrop func(Envelope)) *Bus {
	return &Bus{
		persist: persist,
		publish: publish,
		onDrop:  onDrop,
	}
}

// Emit pushes an event to both feeds.
func (b *Bus) Emit(env Envelope) {
	if b == nil {
		return
	}
	if b.persist != nil {
		b.persist <- env
	}
	if b.publish != nil {
		select {
		case b.publish <- env:
		default:
			if b.onDrop != nil {
				b.onDrop(env)
			}
		}
	}
}
