package domain

// Event is one tagged step of observed execution or one side-channel
// signal. Payload components are serialized in order after the tag.
type Event struct {
	Tag     string
	Payload []Serializable
}

// NewEvent builds an event from a tag and its payload components.
func NewEvent(tag string, payload ...Serializable) Event {
	return Event{Tag: tag, Payload: payload}
}

// Kind classifies the event by its tag.
func (e Event) Kind() Kind {
	return KindOf(e.Tag)
}

// Serialize encodes the event as [tag, component...].
func (e Event) Serialize() any {
	out := make([]any, 0, len(e.Payload)+1)
	out = append(out, e.Tag)
	for _, component := range e.Payload {
		if component == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, component.Serialize())
	}
	return out
}

// Unit is what the classifier hands to the transport: either an event
// delivered atomically or a diri::batch event wrapping a Batch.
type Unit = Event

// NewBatchUnit wraps the accumulated events of a span.
func NewBatchUnit(events []Event) Unit {
	batch := make(Batch, len(events))
	copy(batch, events)
	return NewEvent(TagBatch, batch)
}
