package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCooldown is the spacing enforced between two requests of one caller.
const DefaultCooldown = 60 * time.Second

var ErrRateLimited = errors.New("rate limited")

// Limiter is a per-caller cooldown gate.
type Limiter interface {
	// CheckAndRecord fails with ErrRateLimited if caller has an entry and now is
	// strictly before entry+cooldown. Otherwise it records now for caller.
	CheckAndRecord(ctx context.Context, caller common.Address, cooldown time.Duration, now time.Time) (*Reservation, error)
	// Last returns the recorded time of the caller's latest request.
	Last(ctx context.Context, caller common.Address) (time.Time, bool, error)
}

// LimitedError carries the earliest instant at which the caller may retry.
type LimitedError struct {
	Caller  common.Address
	RetryAt time.Time
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s: caller %s may retry at %s", ErrRateLimited, e.Caller.Hex(), e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAt extracts the retry instant from a rate limit error.
func RetryAt(err error) (time.Time, bool) {
	var le *LimitedError
	if errors.As(err, &le) {
		return le.RetryAt, true
	}
	return time.Time{}, false
}

// Reservation is a recorded request that can be undone while the enclosing
// operation has not committed.
type Reservation struct {
	cancel func(ctx context.Context) error
	done   bool
}

func newReservation(cancel func(ctx context.Context) error) *Reservation {
	return &Reservation{cancel: cancel}
}

// Cancel restores the caller's previous entry. Calling it twice is a no-op.
func (r *Reservation) Cancel(ctx context.Context) error {
	if r == nil || r.done || r.cancel == nil {
		return nil
	}
	r.done = true
	return r.cancel(ctx)
}
