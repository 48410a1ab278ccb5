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

// tcpDestPort is the fixed TCP destination port used for SYN probes; 80
// gives a plausible reason for a firewall to RST rather than silently drop.
const tcpDestPort = 80

// TCPProber sends a non-blocking TCP SYN at a chosen TTL and reports either
// a reachable-but-filtered Time Exceeded/Destination Unreachable from the
// companion ICMP socket, or a direct RST (ECONNREFUSED) from the target
// itself, treated as reaching the target.
type TCPProber struct {
	cfg      Config
	icmpConn *icmp.PacketConn
	rrPorts  int
	probeNum int
	log      logBuffer
}

func NewTCPProber(cfg Config) (*TCPProber, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, &SocketError{Op: "listen", Err: err}
	}
	rr := DefaultTCPUDPRoundRobinSocketCount
	if cfg.FixedFlow {
		rr = 1
	}
	return &TCPProber{cfg: cfg, icmpConn: conn, rrPorts: rr}, nil
}

func (p *TCPProber) Close() error {
	return p.icmpConn.Close()
}

func (p *TCPProber) GetAndClearLog() string {
	return p.log.clear()
}

func (p *TCPProber) GetTimeout() time.Duration { return p.cfg.Timeout }

func (p *TCPProber) SetTimeout(d time.Duration) { p.cfg.Timeout = d }

func (p *TCPProber) Probe(ctx context.Context, dst netip.Addr, ttl uint8) (target.ProbeRecord, error) {
	p.probeNum++
	port := tcpDestPort

	fd, err := createRawSocket(syscall.AF_INET, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "socket", Err: err}
	}
	defer closeSocket(fd)

	if err := setSocketTTL(fd, syscall.IPPROTO_IP, syscall.IP_TTL, int(ttl)); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "setttl", Err: err}
	}
	if err := setSocketNonBlocking(fd); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "nonblock", Err: err}
	}

	var addr4 [4]byte
	copy(addr4[:], dst.AsSlice())
	sa := &syscall.SockaddrInet4{Port: port, Addr: addr4}

	start := time.Now()
	err = connectSocket(fd, sa)
	if err != nil && !isErrInProgress(err) {
		if isErrConnRefused(err) {
			return p.record(dst, 0, 0, time.Since(start), ttl, true), nil
		}
		return target.ProbeRecord{}, &SocketError{Op: "connect", Err: err}
	}

	deadline := start.Add(p.cfg.Timeout)
	if err := p.icmpConn.SetReadDeadline(deadline); err != nil {
		return target.ProbeRecord{}, &SocketError{Op: "setdeadline", Err: err}
	}

	reply := make([]byte, 1500)
	for {
		if ready, _ := selectWrite(socketFDInt(fd)); ready {
			if errno, _ := getSocketError(fd); errno == 0 || errno == int(syscall.ECONNREFUSED) {
				return p.record(dst, 0, 0, time.Since(start), ttl, true), nil
			}
		}

		n, peer, err := p.icmpConn.ReadFrom(reply)
		if err != nil {
			if time.Now().After(deadline) {
				if p.cfg.DebugMode {
					p.log.add("tcp ttl=%d port=%d -> timeout", ttl, port)
				}
				return target.VoidProbeRecord(ttl), nil
			}
			continue
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
				return p.record(peerAddr, 11, uint8(rm.Code), rtt, ttl, false), nil
			}
			continue
		}
		if du, ok := rm.Body.(*icmp.DstUnreach); ok {
			if p.isOurs(du.Data, port) {
				return p.record(peerAddr, 3, uint8(rm.Code), rtt, ttl, false), nil
			}
			continue
		}

		if time.Now().After(deadline) {
			return target.VoidProbeRecord(ttl), nil
		}
	}
}

func (p *TCPProber) isOurs(data []byte, wantPort int) bool {
	const ipHdr = 20
	if len(data) < ipHdr+4 {
		return false
	}
	dstPort := int(data[ipHdr+2])<<8 | int(data[ipHdr+3])
	return dstPort == wantPort
}

func (p *TCPProber) record(addr netip.Addr, icmpType, icmpCode uint8, rtt time.Duration, ttl uint8, fromTarget bool) target.ProbeRecord {
	if p.cfg.DebugMode {
		p.log.add("tcp ttl=%d -> type=%d code=%d from %s (target=%v, %s)", ttl, icmpType, icmpCode, addr, fromTarget, rtt)
	}
	return target.ProbeRecord{ReplyAddr: addr, ICMPType: icmpType, ICMPCode: icmpCode, RTT: rtt, TTL: ttl}
}
