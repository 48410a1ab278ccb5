package prober

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/kbrandt/sagescan/pkg/target"
)

// ICMPProber sends an ICMP Echo Request at a chosen TTL and reports
// whatever Echo Reply, Time Exceeded or Destination Unreachable comes back
// addressed to it first, within its timeout budget.
type ICMPProber struct {
	cfg     Config
	conn    *icmp.PacketConn
	ids     *idSeqCounter
	log     logBuffer
}

// NewICMPProber opens a raw ICMP listen socket and returns a ready prober.
// Opening the socket requires CAP_NET_RAW / root, exactly as the teacher's
// ICMPTracer requires.
func NewICMPProber(cfg Config) (*ICMPProber, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, &SocketError{Op: "listen", Err: err}
	}
	return &ICMPProber{
		cfg:  cfg,
		conn: conn,
		ids:  newIDSeqCounter(cfg.IDLow, cfg.IDHigh, cfg.SeqLow, cfg.SeqHigh),
	}, nil
}

func (p *ICMPProber) Close() error {
	return p.conn.Close()
}

func (p *ICMPProber) GetAndClearLog() string {
	return p.log.clear()
}

func (p *ICMPProber) GetTimeout() time.Duration { return p.cfg.Timeout }

func (p *ICMPProber) SetTimeout(d time.Duration) { p.cfg.Timeout = d }

// Probe sends one Echo Request at ttl and waits for a matching reply.
func (p *ICMPProber) Probe(ctx context.Context, dst netip.Addr, ttl uint8) (target.ProbeRecord, error) {
	if err := p.conn.IPv4PacketConn().SetTTL(int(ttl)); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "setttl", Err: err}
	}

	id, seq := p.ids.next()
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: []byte(p.cfg.AttentionMessage),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "marshal", Err: err}
	}

	start := time.Now()
	if _, err := p.conn.WriteTo(wire, &net.IPAddr{IP: net.IP(dst.AsSlice())}); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "sendto", Err: err}
	}

	deadline := start.Add(p.cfg.Timeout)
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "setdeadline", Err: err}
	}

	reply := make([]byte, bufferSize*3)
	for {
		n, peer, err := p.conn.ReadFrom(reply)
		if err != nil {
			if p.cfg.DebugMode {
				p.log.add("ttl=%d id=%d seq=%d -> timeout", ttl, id, seq)
			}
			return target.VoidProbeRecord(ttl), nil
		}

		rtt := time.Since(start)
		rm, err := icmp.ParseMessage(1, reply[:n])
		if err != nil {
			continue
		}
		peerAddr, ok := netip.AddrFromSlice(peer.(*net.IPAddr).IP.To4())
		if !ok {
			continue
		}

		switch rm.Type {
		case ipv4.ICMPTypeEchoReply:
			body, ok := rm.Body.(*icmp.Echo)
			if !ok || body.ID != int(id) || body.Seq != int(seq) {
				continue
			}
			return p.record(peerAddr, 0, 0, rtt, ttl, "echo-reply"), nil

		case ipv4.ICMPTypeTimeExceeded:
			body, ok := rm.Body.(*icmp.TimeExceeded)
			if !ok || len(body.Data) < 28 {
				continue
			}
			origID := int(body.Data[24])<<8 | int(body.Data[25])
			origSeq := int(body.Data[26])<<8 | int(body.Data[27])
			if origID != int(id) || origSeq != int(seq) {
				continue
			}
			return p.record(peerAddr, 11, uint8(rm.Code), rtt, ttl, "time-exceeded"), nil

		case ipv4.ICMPTypeDestinationUnreachable:
			body, ok := rm.Body.(*icmp.DstUnreach)
			if !ok || len(body.Data) < 28 {
				continue
			}
			origID := int(body.Data[24])<<8 | int(body.Data[25])
			if origID != int(id) {
				continue
			}
			return p.record(peerAddr, 3, uint8(rm.Code), rtt, ttl, "dest-unreachable"), nil
		}

		if time.Now().After(deadline) {
			return target.VoidProbeRecord(ttl), nil
		}
	}
}

func (p *ICMPProber) record(addr netip.Addr, icmpType, icmpCode uint8, rtt time.Duration, ttl uint8, what string) target.ProbeRecord {
	if p.cfg.DebugMode {
		p.log.add("ttl=%d -> %s from %s (%s, %s)", ttl, what, addr, rtt, fmt.Sprintf("code=%d", icmpCode))
	}
	return target.ProbeRecord{
		ReplyAddr: addr,
		ICMPType:  icmpType,
		ICMPCode:  icmpCode,
		RTT:       rtt,
		TTL:       ttl,
	}
}
