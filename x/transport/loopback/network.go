package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/x/transport"
)

const DefaultPumpInterval = 50 * time.Millisecond

type packet struct {
	delivery transport.Delivery
	target   uint16
}

// Network connects coordinators in one process. Published messages are
// queued and handed to receivers by Deliver or the background pump, never
// synchronously from Publish.
type Network struct {
	mu        sync.Mutex
	address   common.Address
	receivers map[uint16]transport.Receiver
	queue     []packet
	last      *packet
	sequence  uint64

	deliverMu sync.Mutex
	wake      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	log zerolog.Logger
}

// NewNetwork creates a network whose deliveries are signed by address.
func NewNetwork(address common.Address, log zerolog.Logger) *Network {
	return &Network{
		address:   address,
		receivers: make(map[uint16]transport.Receiver),
		wake:      make(chan struct{}, 1),
		log:       log.With().Str("component", "loopback-network").Logger(),
	}
}

// Address is the caller identity receivers see on every delivery.
func (n *Network) Address() common.Address {
	return n.address
}

func (n *Network) Attach(transportID uint16, r transport.Receiver) {
	n.mu.Lock()
	n.receivers[transportID] = r
	n.mu.Unlock()
}

// Provider returns a publisher for the chain attached at sourceID.
func (n *Network) Provider(sourceID uint16, sourceAddress []byte) transport.Provider {
	return transport.ProviderFunc(func(_ context.Context, _ uint64, payload []byte, target uint16) (uint64, error) {
		n.mu.Lock()
		if _, ok := n.receivers[target]; !ok {
			n.mu.Unlock()
			return 0, fmt.Errorf("%w: %d", transport.ErrNoRoute, target)
		}
		n.sequence++
		seq := n.sequence
		n.queue = append(n.queue, packet{
			target: target,
			delivery: transport.Delivery{
				Caller:            n.address,
				SourceTransportID: sourceID,
				SourceAddress:     append([]byte(nil), sourceAddress...),
				Sequence:          seq,
				Payload:           append([]byte(nil), payload...),
			},
		})
		n.mu.Unlock()

		select {
		case n.wake <- struct{}{}:
		default:
		}
		return seq, nil
	})
}

// Pending returns the number of queued packets.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Duplicate re-queues the last delivered packet, mimicking an
// at-least-once provider. It reports false if nothing was delivered yet.
func (n *Network) Duplicate() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return false
	}
	n.queue = append(n.queue, *n.last)
	return true
}

// Deliver drains the queue, including packets published by receivers while
// draining. Receiver errors are logged and joined into the returned error.
func (n *Network) Deliver(ctx context.Context) (int, error) {
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	var (
		delivered int
		errs      []error
	)
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return delivered, errors.Join(errs...)
		}
		p := n.queue[0]
		n.queue = n.queue[1:]
		r := n.receivers[p.target]
		n.last = &p
		n.mu.Unlock()

		delivered++
		if r == nil {
			continue
		}
		if err := r.Receive(ctx, p.delivery); err != nil {
			n.log.Warn().
				Err(err).
				Uint16("source", p.delivery.SourceTransportID).
				Uint16("target", p.target).
				Uint64("sequence", p.delivery.Sequence).
				Msg("Receiver rejected delivery")
			errs = append(errs, err)
		}
	}
}

// Start runs a pump that delivers whenever something is published, and at
// least every interval.
func (n *Network) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPumpInterval
	}

	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-n.wake:
			case <-ticker.C:
			}
			if _, err := n.Deliver(ctx); err != nil && ctx.Err() == nil {
				n.log.Debug().Err(err).Msg("Delivery round finished with errors")
			}
		}
	}()

	n.log.Info().Dur("interval", interval).Msg("Loopback pump started")
}

func (n *Network) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	n.log.Info().Msg("Loopback pump stopped")
}
