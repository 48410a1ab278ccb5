package scan

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/pkg/target"
)

func TestCorrectionWorker_FillsInMissingIntermediateHop(t *testing.T) {
	e := testEnvironment()
	entry := target.NewEntry(netip.MustParseAddr("198.51.100.1"))
	entry.SetTTL(3)
	entry.Trail.NbAnomalies = 1 // one hop was Unset during the location pass

	rp := newRouteProber(map[uint8]target.ProbeRecord{
		2: timeExceeded("10.0.0.2"),
	})
	w := NewCorrectionWorker(e, prober.NewRetrying(rp, 0, time.Millisecond))

	if err := w.correct(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hop := entry.RouteHopAt(2)
	if hop.State != target.Resolved {
		t.Errorf("expected hop 2 resolved, got %v", hop.State)
	}
}

func TestCorrectionWorker_StopsWhenAnomalyBudgetExhausted(t *testing.T) {
	e := testEnvironment()
	entry := target.NewEntry(netip.MustParseAddr("198.51.100.1"))
	entry.SetTTL(5)
	entry.Trail.NbAnomalies = 1

	rp := newRouteProber(map[uint8]target.ProbeRecord{
		4: timeExceeded("10.0.0.4"),
		3: timeExceeded("10.0.0.3"),
	})
	w := NewCorrectionWorker(e, prober.NewRetrying(rp, 0, time.Millisecond))

	if err := w.correct(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rp.calls) != 1 {
		t.Errorf("expected correction to stop after 1 probe given 1 anomaly, made %d calls", len(rp.calls))
	}
}

func TestCorrectionWorker_AdoptsOverestimatedTTL(t *testing.T) {
	e := testEnvironment()
	entry := target.NewEntry(netip.MustParseAddr("198.51.100.1"))
	entry.SetTTL(4)
	entry.Trail.NbAnomalies = 2

	rp := newRouteProber(map[uint8]target.ProbeRecord{
		3: echoReply("198.51.100.1"),
	})
	w := NewCorrectionWorker(e, prober.NewRetrying(rp, 0, time.Millisecond))

	if err := w.correct(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if entry.TTL != 3 {
		t.Errorf("expected TTL corrected to 3, got %d", entry.TTL)
	}
}

func TestCorrectionWorker_NoopWhenTTLUnknown(t *testing.T) {
	e := testEnvironment()
	entry := target.NewEntry(netip.MustParseAddr("198.51.100.1"))

	rp := newRouteProber(nil)
	w := NewCorrectionWorker(e, prober.NewRetrying(rp, 0, time.Millisecond))

	if err := w.correct(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rp.calls) != 0 {
		t.Error("expected no probes for a target with no known TTL")
	}
}
