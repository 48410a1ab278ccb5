// Package scan implements the location, trail-correction and alias-port
// workers, and the two-phase scanner/scheduler that drives them over a
// target list.
package scan

import (
	"context"
	"time"

	"github.com/kbrandt/sagescan/internal/env"
	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/pkg/target"
)

// maxConsecutiveAnonymousHops bounds how many Unset/Anonymous hops in a row
// forward probing will tolerate before giving up on the rest of the path:
// past this point the probability that the next reply will ever identify a
// router again is low enough that continuing just burns probe budget.
const maxConsecutiveAnonymousHops = 4

// withPreferredTimeout raises p's timeout to at least preferred (an
// entry's PreferredTimeout override, 0 meaning "use whatever p is already
// configured with") for the probes that follow, returning a func the
// caller invokes once the target is complete to restore the prior value.
// Shared by all three workers.
func withPreferredTimeout(p *prober.Retrying, preferred time.Duration) func() {
	saved := p.GetTimeout()
	if preferred > saved {
		p.SetTimeout(preferred)
	}
	return func() { p.SetTimeout(saved) }
}

// LocationWorker discovers, for each of its assigned targets, the minimum
// TTL that reaches it and the route of intermediate hops leading there,
// then derives a Trail from that route.
type LocationWorker struct {
	env    *env.Environment
	prober *prober.Retrying
}

// NewLocationWorker builds a worker around an already-retry-wrapped prober.
func NewLocationWorker(e *env.Environment, p *prober.Retrying) *LocationWorker {
	return &LocationWorker{env: e, prober: p}
}

// Run processes targets in order, stopping early if the environment's
// emergency-stop signal fires (typically triggered by a sibling worker
// hitting an unrecoverable socket error).
func (w *LocationWorker) Run(ctx context.Context, targets []*target.Entry) error {
	var prevTTL uint8
	for _, e := range targets {
		select {
		case <-w.env.Done():
			return ctx.Err()
		default:
		}

		restoreTimeout := withPreferredTimeout(w.prober, e.PreferredTimeout)

		startTTL := prevTTL
		if startTTL == 0 {
			startTTL = w.env.Config.StartTTL
		}

		foundReply, replyOnFirstProbe, err := w.forwardProbing(ctx, e, startTTL)
		if err != nil {
			w.env.TriggerStop()
			return err
		}

		// An abort (MaxTTLAllowed exceeded or too many consecutive
		// anonymous hops) never reached the target: it is left entirely
		// skipped, with no TTL, no backward pass, and no trail.
		if foundReply {
			lastHopAnonymous := e.TTL > 1 && e.RouteHopAt(e.TTL-1).State != target.Resolved
			if (replyOnFirstProbe && startTTL > 1) || lastHopAnonymous {
				if err := w.backwardProbing(ctx, e); err != nil {
					w.env.TriggerStop()
					return err
				}
			}
			e.SetTrail()
		}

		restoreTimeout()

		if e.TTL > 0 {
			prevTTL = e.TTL
		}

		w.env.FlushLog(w.prober.Prober.GetAndClearLog())
		w.env.RecordTargetDone()

		select {
		case <-time.After(w.env.Config.ProbingThreadDelay):
		case <-w.env.Done():
			return ctx.Err()
		}
	}
	return nil
}

// forwardProbing walks TTLs upward from startTTL, recording each reply into
// the target's route, until an Echo Reply confirms the minimum TTL, the
// configured MaxTTLAllowed is exceeded, or too many consecutive
// Unset/Anonymous hops suggest the path can no longer be usefully followed.
// The latter two are an abort: foundReply is false, and the caller leaves
// the target entirely skipped rather than attempting a trail for it.
//
// replyOnFirstProbe reports whether the Echo Reply arrived on the very
// first probe of this call; the caller uses this, together with whether
// the route's last hop before the target is anonymous, to decide whether a
// backward pass is worth running to double check the result.
func (w *LocationWorker) forwardProbing(ctx context.Context, e *target.Entry, startTTL uint8) (foundReply, replyOnFirstProbe bool, err error) {
	consecutiveAnonymous := 0
	ttl := startTTL
	first := true

	for {
		if ttl > w.env.Config.MaxTTLAllowed {
			break
		}

		rec, perr := w.prober.Probe(ctx, e.Addr, ttl)
		if perr != nil {
			return false, false, perr
		}
		w.env.RecordProbe()

		hop := rec.AsRouteHop()
		e.SetRouteHopAt(ttl, hop)

		if rec.IsEchoReply() {
			e.SetTTL(ttl)
			foundReply = true
			replyOnFirstProbe = first
			break
		}

		if hop.State == target.Resolved {
			consecutiveAnonymous = 0
		} else {
			consecutiveAnonymous++
			if consecutiveAnonymous >= maxConsecutiveAnonymousHops {
				break
			}
		}

		first = false
		ttl++
	}

	return foundReply, replyOnFirstProbe, nil
}

// backwardProbing re-probes downward from the TTL just below the current
// believed minimum, looking for an even closer Echo Reply (the target
// answering at a lower hop count than forward probing assumed, typically
// because forward probing started past TTL 1 using a carried-forward
// value from a prior, topologically different target). It stops as soon
// as a Time Exceeded confirms the route at that TTL, or after adopting a
// closer TTL exhausts the walk down to 1.
func (w *LocationWorker) backwardProbing(ctx context.Context, e *target.Entry) error {
	if e.TTL == 0 {
		return nil
	}
	probeTTL := e.TTL - 1

	for probeTTL > 0 {
		rec, err := w.prober.Probe(ctx, e.Addr, probeTTL)
		if err != nil {
			return err
		}
		w.env.RecordProbe()

		if rec.IsEchoReply() {
			e.SetTTL(probeTTL)
			probeTTL--
			continue
		}
		if rec.IsTimeExceeded() {
			e.SetRouteHopAt(probeTTL, rec.AsRouteHop())
		}
		break
	}
	return nil
}
