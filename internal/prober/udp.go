package prober

import (
	"context"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/net/icmp"

	"github.com/kbrandt/sagescan/pkg/target"
)

// basePort is the first destination port a UDP prober cycles through; it
// sits just past the classic traceroute range so it doesn't collide with a
// real listener on common low ports.
const basePort = 33434

// highPort is the destination port used once UseHighPortNumber is called,
// chosen to almost certainly land on a closed port and elicit a Port
// Unreachable rather than anything a real service might be listening on.
const highPort = 62222

// UDPProber sends a UDP datagram at a chosen TTL toward a destination port
// unlikely to have a listener, then reads the Time Exceeded or Destination
// Unreachable / Port Unreachable that comes back on a companion raw ICMP
// socket.
type UDPProber struct {
	cfg       Config
	icmpConn  *icmp.PacketConn
	rrPorts   int
	probeNum  int
	highPorts bool
	log       logBuffer
}

// NewUDPProber opens the companion ICMP listen socket used to read replies.
func NewUDPProber(cfg Config) (*UDPProber, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, &SocketError{Op: "listen", Err: err}
	}
	rr := DefaultTCPUDPRoundRobinSocketCount
	if cfg.FixedFlow {
		rr = 1
	}
	return &UDPProber{cfg: cfg, icmpConn: conn, rrPorts: rr}, nil
}

// UseHighPortNumber switches the prober's destination port into the
// deliberately-closed high range; used by the alias-port worker, which
// wants a Port Unreachable from the target itself rather than a reply from
// an intermediate Time Exceeded hop.
func (p *UDPProber) UseHighPortNumber() {
	p.highPorts = true
}

func (p *UDPProber) Close() error {
	return p.icmpConn.Close()
}

func (p *UDPProber) GetAndClearLog() string {
	return p.log.clear()
}

func (p *UDPProber) GetTimeout() time.Duration { return p.cfg.Timeout }

func (p *UDPProber) SetTimeout(d time.Duration) { p.cfg.Timeout = d }

func (p *UDPProber) port() int {
	if p.highPorts {
		return highPort
	}
	return basePort + (p.probeNum % p.rrPorts)
}

// Probe sends one UDP datagram at ttl and waits for a matching ICMP reply.
func (p *UDPProber) Probe(ctx context.Context, dst netip.Addr, ttl uint8) (target.ProbeRecord, error) {
	p.probeNum++
	port := p.port()

	fd, err := createRawSocket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "socket", Err: err}
	}
	defer closeSocket(fd)

	if err := setSocketTTL(fd, syscall.IPPROTO_IP, syscall.IP_TTL, int(ttl)); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "setttl", Err: err}
	}

	var addr4 [4]byte
	copy(addr4[:], dst.AsSlice())
	sa := &syscall.SockaddrInet4{Port: port, Addr: addr4}

	payload := []byte(p.cfg.AttentionMessage)

	start := time.Now()
	if err := sendToSocket(fd, payload, 0, sa); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "sendto", Err: err}
	}

	deadline := start.Add(p.cfg.Timeout)
	if err := p.icmpConn.SetReadDeadline(deadline); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "setdeadline", Err: err}
	}

	reply := make([]byte, 1500)
	for {
		n, peer, err := p.icmpConn.ReadFrom(reply)
		if err != nil {
			if p.cfg.DebugMode {
				p.log.add("udp ttl=%d port=%d -> timeout", ttl, port)
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

		if te, ok := rm.Body.(*icmp.TimeExceeded); ok {
			if p.isOurs(te.Data, port) {
				return p.record(peerAddr, 11, uint8(rm.Code), rtt, ttl), nil
			}
			continue
		}
		if du, ok := rm.Body.(*icmp.DstUnreach); ok {
			if p.isOurs(du.Data, port) {
				return p.record(peerAddr, 3, uint8(rm.Code), rtt, ttl), nil
			}
			continue
		}

		if time.Now().After(deadline) {
			return target.VoidProbeRecord(ttl), nil
		}
	}
}

// isOurs checks the quoted IPv4+UDP header carried back inside the ICMP
// error for our destination port.
func (p *UDPProber) isOurs(data []byte, wantPort int) bool {
	const ipHdr = 20
	if len(data) < ipHdr+4 {
		return false
	}
	dstPort := int(data[ipHdr+2])<<8 | int(data[ipHdr+3])
	return dstPort == wantPort
}

func (p *UDPProber) record(addr netip.Addr, icmpType, icmpCode uint8, rtt time.Duration, ttl uint8) target.ProbeRecord {
	if p.cfg.DebugMode {
		p.log.add("udp ttl=%d -> type=%d code=%d from %s (%s)", ttl, icmpType, icmpCode, addr, rtt)
	}
	return target.ProbeRecord{ReplyAddr: addr, ICMPType: icmpType, ICMPCode: icmpCode, RTT: rtt, TTL: ttl}
}
