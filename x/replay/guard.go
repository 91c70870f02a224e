package replay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Verdict is the outcome of an admission attempt.
type Verdict uint8

const (
	// Admitted means fp was new and is now recorded.
	Admitted Verdict = iota
	// Duplicate means fp was already recorded.
	Duplicate
	// Expired means sentAt lies outside the window. Nothing is recorded.
	Expired
)

func (v Verdict) String() string {
	switch v {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Guard remembers fingerprints of applied messages.
type Guard interface {
	// AdmitOnce records fp the first time it is seen. A fingerprint already on
	// record yields Duplicate; a message sent outside the window yields Expired.
	AdmitOnce(ctx context.Context, fp common.Hash, sentAt time.Time) (Verdict, error)
	// Forget drops fp again. Used to undo a mark when the invocation that made it fails.
	Forget(ctx context.Context, fp common.Hash) error
	// Prune removes entries that fell out of the window and returns how many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
	Len() int
}

// Window bounds the acceptance interval. Zero means unbounded: nothing is ever
// pruned and timestamps are not checked.
type Window time.Duration

func (w Window) bounded() bool {
	return w > 0
}

// accepts reports whether a message sent at sentAt may still be admitted at now.
func (w Window) accepts(sentAt, now time.Time) bool {
	if !w.bounded() {
		return true
	}
	d := time.Duration(w)
	return !sentAt.Before(now.Add(-d)) && !sentAt.After(now.Add(d))
}
