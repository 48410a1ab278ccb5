package scan

import (
	"context"
	"time"

	"github.com/kbrandt/sagescan/internal/env"
	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/pkg/target"
)

// CorrectionWorker re-probes the TTLs just below a target's already
// discovered minimum, for entries whose Trail carried anomalies (Unset or
// Anonymous hops, or detours) from the initial location pass. It keeps
// walking downward only as long as the number of anomalies already known
// could plausibly still be explained by hops it hasn't re-checked yet;
// once the remaining TTL budget can no longer account for them, further
// correction wouldn't change the trail and the loop stops.
type CorrectionWorker struct {
	env    *env.Environment
	prober *prober.Retrying
}

func NewCorrectionWorker(e *env.Environment, p *prober.Retrying) *CorrectionWorker {
	return &CorrectionWorker{env: e, prober: p}
}

func (w *CorrectionWorker) Run(ctx context.Context, targets []*target.Entry) error {
	for _, e := range targets {
		select {
		case <-w.env.Done():
			return ctx.Err()
		default:
		}

		restoreTimeout := withPreferredTimeout(w.prober, e.PreferredTimeout)

		if err := w.correct(ctx, e); err != nil {
			w.env.TriggerStop()
			return err
		}

		e.SetTrail()
		restoreTimeout()
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

func (w *CorrectionWorker) correct(ctx context.Context, e *target.Entry) error {
	if e.TTL == 0 {
		return nil
	}
	initTTL := e.TTL
	remainingAnomalies := e.Trail.NbAnomalies

	probeTTL := initTTL - 1
	for probeTTL > 0 && int(initTTL-probeTTL) <= remainingAnomalies {
		rec, err := w.prober.Probe(ctx, e.Addr, probeTTL)
		if err != nil {
			return err
		}
		w.env.RecordProbe()

		switch {
		case rec.IsEchoReply():
			// The target answered at a TTL we'd previously recorded as an
			// intermediate hop: our earlier minimum TTL was an
			// overestimate, most likely from a transient retry that
			// skipped straight to a farther reply.
			e.SetTTL(probeTTL)
		case rec.IsTimeExceeded() && rec.ReplyAddr.IsValid():
			e.SetRouteHopAt(probeTTL, rec.AsRouteHop())
		}

		probeTTL--
	}
	return nil
}
