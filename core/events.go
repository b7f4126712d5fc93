package core

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// ContractEventKind names the on-chain events higher layers may care about.
// The core only declares the taxonomy and the reconnecting subscription
// machinery; decoding a real chain's logs into these values is the
// responsibility of whatever Subscriber implementation is wired in.
type ContractEventKind int

const (
	EventReputationUpdated ContractEventKind = iota
	EventStakeDeposited
	EventStakeWithdrawn
	EventDisputeCreated
	EventDisputeResolved
	EventEscrowCreated
	EventEscrowReleased
	EventStreamCreated
)

// ContractEvent is a decoded on-chain log relevant to AgoraMesh's trust and
// escrow contracts.
type ContractEvent struct {
	Kind        ContractEventKind
	DID         DID
	BlockNumber uint64
	TxHash      string

	// Populated depending on Kind.
	NewScore   *int64
	Amount     *uint64
	DisputeID  string
	EscrowID   string
}

// Subscriber opens a single logical event subscription. Subscribe returns a
// channel that delivers events until ctx is canceled or the underlying
// connection drops, at which point the implementation closes the channel
// and the reconnect loop subscribes again; an error returned by Subscribe
// itself means the subscription could not be opened and is retried with
// backoff.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan ContractEvent, error)
}

// BackoffConfig configures the reconnecting stream's exponential backoff.
type BackoffConfig struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int // 0 means unlimited
}

// DefaultBackoffConfig matches spec: initial 1s, multiplier 2, cap 60s, no
// attempt limit.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Initial: time.Second, Multiplier: 2, Max: 60 * time.Second}
}

func (c BackoffConfig) next(attempt int) time.Duration {
	d := float64(c.Initial)
	for i := 0; i < attempt; i++ {
		d *= c.Multiplier
	}
	if cap := float64(c.Max); d > cap {
		d = cap
	}
	// a small jitter avoids a thundering herd of reconnects on a shared
	// upstream outage.
	jitter := 1 + (rand.Float64()-0.5)*0.2
	return time.Duration(d * jitter)
}

// ReconnectingStream wraps a Subscriber with automatic reconnection on
// subscription failure, using exponential backoff between attempts.
type ReconnectingStream struct {
	sub     Subscriber
	backoff BackoffConfig
	log     log.FieldLogger
}

// NewReconnectingStream builds a resilient wrapper around sub.
func NewReconnectingStream(sub Subscriber, backoff BackoffConfig) *ReconnectingStream {
	return &ReconnectingStream{sub: sub, backoff: backoff, log: log.WithField("component", "events")}
}

// Run drives the reconnect loop until ctx is canceled or MaxAttempts
// consecutive failures are exhausted, forwarding every event it receives to
// out. Run owns out's lifecycle: it closes out before returning.
func (r *ReconnectingStream) Run(ctx context.Context, out chan<- ContractEvent) error {
	defer close(out)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := r.sub.Subscribe(ctx)
		if err != nil {
			attempt++
			if r.backoff.MaxAttempts > 0 && attempt >= r.backoff.MaxAttempts {
				return wrapErr(KindTransport, err, "event subscription exhausted retries")
			}
			wait := r.backoff.next(attempt - 1)
			r.log.WithError(err).WithField("retry_in", wait).Warn("event subscription failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		attempt = 0 // a successful subscribe resets the backoff
		drained := r.drain(ctx, events, out)
		if !drained {
			return ctx.Err()
		}
		// events closed: the connection dropped. Loop to reconnect.
	}
}

// drain forwards events from in to out until in closes or ctx is canceled.
// It returns false when ctx was canceled (caller should stop entirely) and
// true when in simply closed (caller should reconnect).
func (r *ReconnectingStream) drain(ctx context.Context, in <-chan ContractEvent, out chan<- ContractEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-in:
			if !ok {
				return true
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return false
			}
		}
	}
}
