package coordinator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/x/events"
)

type undoFn func(ctx context.Context) error

// journal collects the undo steps and events of one invocation. Undo steps
// run in reverse order on abort; events reach the sink only on commit,
// except those recorded with emitAlways.
type journal struct {
	at     time.Time
	undo   []undoFn
	events events.Buffer
	always events.Buffer
}

func newJournal(at time.Time) *journal {
	return &journal{at: at}
}

func (j *journal) onAbort(fn undoFn) {
	j.undo = append(j.undo, fn)
}

func (j *journal) emit(e events.Event) {
	j.events.Add(e)
}

// emitAlways records an event that describes the failure itself.
func (j *journal) emitAlways(e events.Event) {
	j.always.Add(e)
}

func (j *journal) commit(sink events.Sink) {
	j.undo = nil
	j.always.Flush(sink)
	j.events.Flush(sink)
}

func (j *journal) abort(ctx context.Context, sink events.Sink, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](ctx); err != nil {
			log.Error().Err(err).Int("step", i).Msg("Undo step failed")
		}
	}
	j.undo = nil
	j.events.Discard()
	j.always.Flush(sink)
}
