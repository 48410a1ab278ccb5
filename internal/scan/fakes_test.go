package scan

import (
	"context"
	"net/netip"
	"time"

	"github.com/kbrandt/sagescan/pkg/target"
)

// routeProber answers each TTL from a fixed map, defaulting to a timeout
// for any TTL it wasn't told about.
type routeProber struct {
	byTTL   map[uint8]target.ProbeRecord
	calls   []uint8
	timeout time.Duration
}

func newRouteProber(byTTL map[uint8]target.ProbeRecord) *routeProber {
	return &routeProber{byTTL: byTTL}
}

func (p *routeProber) Probe(ctx context.Context, dst netip.Addr, ttl uint8) (target.ProbeRecord, error) {
	p.calls = append(p.calls, ttl)
	if rec, ok := p.byTTL[ttl]; ok {
		return rec, nil
	}
	return target.VoidProbeRecord(ttl), nil
}

func (p *routeProber) GetAndClearLog() string     { return "" }
func (p *routeProber) Close() error               { return nil }
func (p *routeProber) GetTimeout() time.Duration  { return p.timeout }
func (p *routeProber) SetTimeout(d time.Duration) { p.timeout = d }

func echoReply(addr string) target.ProbeRecord {
	return target.ProbeRecord{ICMPType: 0, ReplyAddr: netip.MustParseAddr(addr)}
}

func timeExceeded(addr string) target.ProbeRecord {
	return target.ProbeRecord{ICMPType: 11, ReplyAddr: netip.MustParseAddr(addr)}
}

func portUnreachable(addr string) target.ProbeRecord {
	return target.ProbeRecord{ICMPType: 3, ICMPCode: 3, ReplyAddr: netip.MustParseAddr(addr)}
}
