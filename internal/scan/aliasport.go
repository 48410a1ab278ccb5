package scan

import (
	"context"

	"github.com/kbrandt/sagescan/internal/env"
	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/pkg/target"
)

// aliasPortProbeTTL is high enough that the UDP datagram is guaranteed to
// reach the target itself rather than dying at an intermediate hop; the
// worker only cares about a Port Unreachable from the target.
const aliasPortProbeTTL = 64

// AliasPortWorker sends one high-port UDP probe per target and records the
// source address of any Port Unreachable reply, a fingerprint that a later,
// separate alias-inference pass (outside this subsystem) can use alongside
// Trail to group interfaces belonging to the same router.
type AliasPortWorker struct {
	env    *env.Environment
	udp    *prober.UDPProber
	single *prober.Retrying
}

// NewAliasPortWorker switches udp into high-port mode via UseHighPortNumber
// and pairs it with p, the worker's own single-probe retry policy.
func NewAliasPortWorker(e *env.Environment, udp *prober.UDPProber, p *prober.Retrying) *AliasPortWorker {
	udp.UseHighPortNumber()
	return &AliasPortWorker{env: e, udp: udp, single: p}
}

func (w *AliasPortWorker) Run(ctx context.Context, targets []*target.Entry) error {
	for _, e := range targets {
		select {
		case <-w.env.Done():
			return ctx.Err()
		default:
		}

		restoreTimeout := withPreferredTimeout(w.single, e.PreferredTimeout)

		rec, err := w.single.Probe(ctx, e.Addr, aliasPortProbeTTL)
		if err != nil {
			w.env.TriggerStop()
			return err
		}
		w.env.RecordProbe()

		if rec.IsPortUnreachable() {
			e.AliasHints.PortUnreachableSrc = rec.ReplyAddr
		}

		restoreTimeout()
		w.env.FlushLog(w.udp.GetAndClearLog())
		w.env.RecordTargetDone()
	}
	return nil
}
