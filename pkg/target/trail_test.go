package target

import (
	"net/netip"
	"testing"
)

func TestSetTrail_FindsLastResolvedHop(t *testing.T) {
	e := NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.Route = []RouteHop{
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.1")},
		{State: Unset},
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.3")},
	}

	ok := e.SetTrail()

	if !ok {
		t.Fatal("expected SetTrail to succeed")
	}
	if e.Trail.LastNonAnonymousHop.Addr.String() != "10.0.0.3" {
		t.Errorf("expected trail hop 10.0.0.3, got %s", e.Trail.LastNonAnonymousHop.Addr)
	}
	if e.Trail.NbAnomalies != 0 {
		t.Errorf("expected 0 anomalies, got %d", e.Trail.NbAnomalies)
	}
}

func TestSetTrail_CountsSkippedAnomalies(t *testing.T) {
	e := NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.Route = []RouteHop{
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.1")},
		{State: Unset},
		{State: Anonymous},
	}

	ok := e.SetTrail()

	if !ok {
		t.Fatal("expected SetTrail to succeed")
	}
	if e.Trail.NbAnomalies != 2 {
		t.Errorf("expected 2 anomalies skipped, got %d", e.Trail.NbAnomalies)
	}
	if e.Trail.LastNonAnonymousHop.Addr.String() != "10.0.0.1" {
		t.Errorf("expected trail hop 10.0.0.1, got %s", e.Trail.LastNonAnonymousHop.Addr)
	}
}

func TestSetTrail_SkipsSelfCycle(t *testing.T) {
	addr := netip.MustParseAddr("198.51.100.1")
	e := NewEntry(addr)
	e.Route = []RouteHop{
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.1")},
		{State: Resolved, Addr: addr},
	}

	ok := e.SetTrail()

	if !ok {
		t.Fatal("expected SetTrail to succeed past the self-cycle hop")
	}
	if e.Trail.LastNonAnonymousHop.Addr.String() != "10.0.0.1" {
		t.Errorf("expected trail to skip the self-cycle hop, got %s", e.Trail.LastNonAnonymousHop.Addr)
	}
	if e.Trail.NbAnomalies != 1 {
		t.Errorf("expected 1 anomaly for the skipped self-cycle hop, got %d", e.Trail.NbAnomalies)
	}
}

func TestSetTrail_UnsettableWhenNoUsableHop(t *testing.T) {
	e := NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.Route = []RouteHop{{State: Unset}, {State: Anonymous}}

	ok := e.SetTrail()

	if ok {
		t.Fatal("expected SetTrail to fail with no resolved hop")
	}
	if e.Trail.IsSet() {
		t.Error("expected trail to remain unset")
	}
	if e.Trail.NbAnomalies != 2 {
		t.Errorf("expected 2 anomalies counted, got %d", e.Trail.NbAnomalies)
	}
}

func TestSetTrail_EmptyRoute_IsTargetItself(t *testing.T) {
	addr := netip.MustParseAddr("198.51.100.1")
	e := NewEntry(addr)

	ok := e.SetTrail()

	if !ok {
		t.Fatal("expected SetTrail to succeed for a target one hop away")
	}
	if e.Trail.LastNonAnonymousHop.Addr != addr {
		t.Errorf("expected trail to be the target's own address %s, got %s", addr, e.Trail.LastNonAnonymousHop.Addr)
	}
	if e.Trail.NbAnomalies != 0 {
		t.Errorf("expected 0 anomalies for a target one hop away, got %d", e.Trail.NbAnomalies)
	}
}

func TestSetTrail_DetectsConsecutiveDuplicateAddress(t *testing.T) {
	e := NewEntry(netip.MustParseAddr("198.51.100.1"))
	e.Route = []RouteHop{
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.1")},
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.2")},
		{State: Resolved, Addr: netip.MustParseAddr("10.0.0.2")},
	}

	ok := e.SetTrail()

	if !ok {
		t.Fatal("expected SetTrail to succeed past the duplicated hop")
	}
	if e.Trail.LastNonAnonymousHop.Addr.String() != "10.0.0.1" {
		t.Errorf("expected trail to skip the repeated-address hop, got %s", e.Trail.LastNonAnonymousHop.Addr)
	}
	if e.Trail.NbAnomalies != 1 {
		t.Errorf("expected 1 anomaly for the repeated hop at consecutive TTLs, got %d", e.Trail.NbAnomalies)
	}
}
