package display

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/kbrandt/sagescan/pkg/target"
)

func TestSimpleRenderer_FormatRTT(t *testing.T) {
	r := NewSimpleRenderer()
	if got := r.FormatRTT(12500 * time.Microsecond); got != "12.50ms" {
		t.Errorf("expected 12.50ms, got %s", got)
	}
}

func TestSimpleRenderer_RenderEntry_Unresolved(t *testing.T) {
	r := NewSimpleRenderer()
	e := target.NewEntry(netip.MustParseAddr("198.51.100.1"))

	line := r.RenderEntry(e)

	if !strings.Contains(line, "unresolved") {
		t.Errorf("expected unresolved marker, got %q", line)
	}
}

func TestSimpleRenderer_RenderEntry_ShowsTrailAndAnomalies(t *testing.T) {
	r := NewSimpleRenderer()
	e := target.NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.SetTTL(2)
	e.Route = []target.RouteHop{
		{State: target.Resolved, Addr: netip.MustParseAddr("10.0.0.2"), RTT: 5 * time.Millisecond},
		{State: target.Unset},
	}
	e.SetTrail()

	line := r.RenderEntry(e)

	if !strings.Contains(line, "trail=10.0.0.2") {
		t.Errorf("expected trail hop address in output, got %q", line)
	}
	if !strings.Contains(line, "anomalies=1") {
		t.Errorf("expected one counted anomaly, got %q", line)
	}
}

func TestSimpleRenderer_RenderEntry_ShowsPortUnreachableHint(t *testing.T) {
	r := NewSimpleRenderer()
	e := target.NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.AliasHints.PortUnreachableSrc = netip.MustParseAddr("10.0.0.9")

	line := r.RenderEntry(e)

	if !strings.Contains(line, "port-unreachable-src=10.0.0.9") {
		t.Errorf("expected port-unreachable hint in output, got %q", line)
	}
}

func TestSimpleRenderer_RenderEntry_RouteLinesOmittedWhenDisabled(t *testing.T) {
	r := &SimpleRenderer{ShowRoute: false}
	e := target.NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.SetTTL(1)
	e.Route = []target.RouteHop{{State: target.Resolved, Addr: netip.MustParseAddr("10.0.0.1")}}
	e.SetTrail()

	line := r.RenderEntry(e)

	if strings.Contains(line, "10.0.0.1\n") || strings.Contains(line, "\n   1") {
		t.Errorf("did not expect per-hop route lines when ShowRoute is false, got %q", line)
	}
}

func TestSimpleRenderer_RenderResults_WritesOneLinePerEntry(t *testing.T) {
	r := NewSimpleRenderer()
	entries := []*target.Entry{
		target.NewEntry(netip.MustParseAddr("198.51.100.1")),
		target.NewEntry(netip.MustParseAddr("198.51.100.2")),
	}

	var buf bytes.Buffer
	r.RenderResults(&buf, entries)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
}
