// Package target defines the shared data model produced by the scanning
// and trail resolution subsystem: table entries, route hops, probe records,
// trails and alias hints.
package target

import (
	"net/netip"
	"time"
)

// HopState tags what a RouteHop represents.
type HopState int

const (
	// Unset means no reply was ever recorded for this TTL.
	Unset HopState = iota
	// Anonymous means a reply was received but carried no usable source
	// address (invalid or 0.0.0.0).
	Anonymous
	// Resolved means a usable router address was recorded at this TTL.
	Resolved
)

// RouteHop is one entry in an Entry's discovered route, indexed by TTL-1.
type RouteHop struct {
	State    HopState
	Addr     netip.Addr
	ICMPType uint8
	ICMPCode uint8
	RTT      time.Duration
}

// IsUsable reports whether this hop can serve as a trail candidate: it
// carries a real, non-anonymous address.
func (h RouteHop) IsUsable() bool {
	return h.State == Resolved && h.Addr.IsValid()
}

// icmpTypeTimeExceeded and icmpCodePortUnreachable mirror the ICMP codes the
// prober primitive reports; kept here so RouteHop/ProbeRecord construction
// doesn't need to import internal/prober.
const (
	icmpTypeTimeExceeded    = 11
	icmpTypeEchoReply       = 0
	icmpTypeDestUnreachable = 3
	icmpCodePortUnreachable = 3
	icmpTimeoutSentinel     uint8 = 255
)

// ProbeRecord is the result of a single probe: either a reply, a timeout
// (ICMPType == TimeoutSentinel) or the pre-probe void value.
type ProbeRecord struct {
	ReplyAddr netip.Addr
	ICMPType  uint8
	ICMPCode  uint8
	RTT       time.Duration
	TTL       uint8
}

// TimeoutSentinel is the ICMPType value used for a ProbeRecord that never
// received a reply before its retry budget was exhausted.
const TimeoutSentinel = icmpTimeoutSentinel

// VoidProbeRecord returns the pre-probe sentinel record for the given TTL.
func VoidProbeRecord(ttl uint8) ProbeRecord {
	return ProbeRecord{ICMPType: TimeoutSentinel, TTL: ttl}
}

// IsTimeout reports whether this record represents an unanswered probe.
func (r ProbeRecord) IsTimeout() bool {
	return r.ICMPType == TimeoutSentinel
}

// IsEchoReply reports whether the record is an Echo Reply from the target
// itself (the route discovery stop condition).
func (r ProbeRecord) IsEchoReply() bool {
	return r.ICMPType == icmpTypeEchoReply
}

// IsTimeExceeded reports whether the record is a Time Exceeded reply from an
// intermediate router.
func (r ProbeRecord) IsTimeExceeded() bool {
	return r.ICMPType == icmpTypeTimeExceeded
}

// IsPortUnreachable reports whether the record is a Destination Unreachable
// / Port Unreachable reply, the alias-port worker's success condition.
func (r ProbeRecord) IsPortUnreachable() bool {
	return r.ICMPType == icmpTypeDestUnreachable && r.ICMPCode == icmpCodePortUnreachable
}

// AsRouteHop converts a reply ProbeRecord into the RouteHop stored at
// route[TTL-1]. Anonymous replies (no usable source address) are still
// recorded as Anonymous so the forward-probing consecutive-anonymous count
// can see them.
func (r ProbeRecord) AsRouteHop() RouteHop {
	if r.IsTimeout() {
		return RouteHop{State: Unset}
	}
	state := Resolved
	if !r.ReplyAddr.IsValid() || r.ReplyAddr.IsUnspecified() {
		state = Anonymous
	}
	return RouteHop{
		State:    state,
		Addr:     r.ReplyAddr,
		ICMPType: r.ICMPType,
		ICMPCode: r.ICMPCode,
		RTT:      r.RTT,
	}
}

// Trail is the alias-resolution fingerprint computed for an Entry: the last
// non-anonymous, non-cyclical hop seen before the target, plus the number
// of anomalies (unset or anonymous hops, or detours) skipped to reach it.
type Trail struct {
	LastNonAnonymousHop RouteHop
	NbAnomalies         int
	set                 bool
}

// IsSet reports whether SetTrail succeeded in finding a usable hop.
func (t Trail) IsSet() bool {
	return t.set
}

// AliasHints carries the results of the alias-port worker: the source
// address that answered the high-port UDP probe with Port Unreachable.
type AliasHints struct {
	PortUnreachableSrc netip.Addr
}

// HasPortUnreachableHint reports whether the alias-port worker ever
// recorded a reply.
func (a AliasHints) HasPortUnreachableHint() bool {
	return a.PortUnreachableSrc.IsValid()
}

// Entry is a single target IP carried through scanning: its current best
// known TTL, its discovered route, its trail and alias hints.
type Entry struct {
	Addr             netip.Addr
	TTL              uint8
	Route            []RouteHop
	PreferredTimeout time.Duration
	Trail            Trail
	AliasHints       AliasHints
}

// NewEntry creates an Entry for addr with no prior knowledge.
func NewEntry(addr netip.Addr) *Entry {
	return &Entry{Addr: addr}
}

// SetTTL records a newly discovered minimum TTL and resets the route to
// match its length, as done when backward probing finds the target closer
// than previously believed.
func (e *Entry) SetTTL(ttl uint8) {
	e.TTL = ttl
	n := 0
	if ttl > 0 {
		n = int(ttl) - 1
	}
	if len(e.Route) != n {
		route := make([]RouteHop, n)
		copy(route, e.Route)
		e.Route = route
	}
}

// EnsureRouteLen grows Route to n hops, padding new slots as Unset. Used by
// the forward-probing fill loop when the anomaly-padding Open Question
// applies (start TTL > 1, fewer Time Exceeded replies were recorded than
// the final route length requires).
func (e *Entry) EnsureRouteLen(n int) {
	if len(e.Route) >= n {
		return
	}
	grown := make([]RouteHop, n)
	copy(grown, e.Route)
	e.Route = grown
}

// RouteHopAt returns the hop recorded at the given TTL (1-based), or the
// zero-value Unset hop if the route is shorter.
func (e *Entry) RouteHopAt(ttl uint8) RouteHop {
	idx := int(ttl) - 1
	if idx < 0 || idx >= len(e.Route) {
		return RouteHop{State: Unset}
	}
	return e.Route[idx]
}

// SetRouteHopAt records hop at the given TTL (1-based), growing Route if
// necessary.
func (e *Entry) SetRouteHopAt(ttl uint8, hop RouteHop) {
	idx := int(ttl) - 1
	if idx < 0 {
		return
	}
	e.EnsureRouteLen(idx + 1)
	e.Route[idx] = hop
}
