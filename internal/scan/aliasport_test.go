package scan

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/pkg/target"
)

func TestAliasPortWorker_RecordsPortUnreachableSource(t *testing.T) {
	e := testEnvironment()
	entry := target.NewEntry(netip.MustParseAddr("198.51.100.1"))

	rp := newRouteProber(map[uint8]target.ProbeRecord{
		aliasPortProbeTTL: portUnreachable("198.51.100.1"),
	})
	cfg := prober.DefaultConfig()
	udp, err := prober.NewUDPProber(cfg)
	if err != nil {
		t.Skip("raw socket unavailable in this sandbox")
	}
	w := NewAliasPortWorker(e, udp, prober.NewRetrying(rp, 0, time.Millisecond))

	if err := w.Run(context.Background(), []*target.Entry{entry}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !entry.AliasHints.HasPortUnreachableHint() {
		t.Fatal("expected a port-unreachable hint to be recorded")
	}
	if entry.AliasHints.PortUnreachableSrc.String() != "198.51.100.1" {
		t.Errorf("expected hint source 198.51.100.1, got %s", entry.AliasHints.PortUnreachableSrc)
	}
}

func TestAliasPortWorker_NoHintOnTimeout(t *testing.T) {
	e := testEnvironment()
	entry := target.NewEntry(netip.MustParseAddr("198.51.100.1"))

	rp := newRouteProber(nil)
	cfg := prober.DefaultConfig()
	udp, err := prober.NewUDPProber(cfg)
	if err != nil {
		t.Skip("raw socket unavailable in this sandbox")
	}
	w := NewAliasPortWorker(e, udp, prober.NewRetrying(rp, 0, time.Millisecond))

	if err := w.Run(context.Background(), []*target.Entry{entry}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if entry.AliasHints.HasPortUnreachableHint() {
		t.Error("expected no hint on timeout")
	}
}
