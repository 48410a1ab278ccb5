package prober

import (
	"context"
	"net/netip"
	"time"

	"github.com/kbrandt/sagescan/pkg/target"
)

// Retrying wraps a Prober with a fixed retry budget: a void (timeout)
// result is retried up to MaxRetries times, pausing RetryDelay between
// attempts, before being accepted as a genuine timeout. Any non-timeout
// reply is returned immediately on the first attempt that produces one.
//
// This mirrors the single retry loop every worker in the original tool
// shares: probe, and on a non-reply keep probing the same TTL until either
// a reply arrives, the retry budget is spent, or the socket itself fails.
type Retrying struct {
	Prober     Prober
	MaxRetries int
	RetryDelay time.Duration
}

// NewRetrying wraps p with the given retry policy.
func NewRetrying(p Prober, maxRetries int, retryDelay time.Duration) *Retrying {
	return &Retrying{Prober: p, MaxRetries: maxRetries, RetryDelay: retryDelay}
}

// GetTimeout and SetTimeout delegate to the wrapped Prober, so a worker can
// raise a target's preferred timeout for the duration of its probes and
// restore it afterward without reaching past the Retrying wrapper.
func (r *Retrying) GetTimeout() time.Duration { return r.Prober.GetTimeout() }

func (r *Retrying) SetTimeout(d time.Duration) { r.Prober.SetTimeout(d) }

// Probe retries p.Probe until a non-timeout reply is seen or the retry
// budget is exhausted, returning the last (possibly void) record. A
// SocketError is never retried — it propagates immediately, matching the
// original tool re-throwing on socket failure rather than looping on it.
func (r *Retrying) Probe(ctx context.Context, dst netip.Addr, ttl uint8) (target.ProbeRecord, error) {
	var rec target.ProbeRecord
	attempts := r.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return target.ProbeRecord{}, err
		}

		result, err := r.Prober.Probe(ctx, dst, ttl)
		if err != nil {
			return target.ProbeRecord{}, err
		}
		rec = result
		if !rec.IsTimeout() {
			return rec, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return target.ProbeRecord{}, ctx.Err()
			case <-time.After(r.RetryDelay):
			}
		}
	}
	return rec, nil
}
