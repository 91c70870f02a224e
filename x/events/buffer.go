package events

// Buffer holds events produced during one coordinator invocation until it
// commits. It is not safe for concurrent use.
type Buffer struct {
	pending []Event
}

func (b *Buffer) Add(e Event) {
	b.pending = append(b.pending, e)
}

func (b *Buffer) Len() int { return len(b.pending) }

// Flush hands buffered events to sink and empties the buffer.
func (b *Buffer) Flush(sink Sink) {
	if len(b.pending) == 0 {
		return
	}
	if sink != nil {
		sink.Append(b.pending...)
	}
	b.pending = nil
}

// Discard drops buffered events. Used when an invocation aborts.
func (b *Buffer) Discard() {
	b.pending = nil
}
