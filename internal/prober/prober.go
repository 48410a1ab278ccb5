// Package prober implements the single-probe primitive: one probe at one
// TTL, returning the reply (or timeout sentinel) that the scanning workers
// build their TTL-discovery and trail-resolution state machines on top of.
package prober

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/kbrandt/sagescan/pkg/target"
)

// Protocol selects which wire encoding a Prober variant uses to elicit a
// Time Exceeded / Echo Reply / Port Unreachable from the network.
type Protocol int

const (
	ICMP Protocol = iota
	UDP
	TCP
)

func (p Protocol) String() string {
	switch p {
	case ICMP:
		return "icmp"
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Default ICMP identifier/sequence pool bounds. A scanner partitions this
// space into disjoint sub-ranges, one per concurrent worker, so workers
// never confuse each other's in-flight probes.
const (
	DefaultLowerICMPIdentifier = 0
	DefaultUpperICMPIdentifier = 0xffff
	DefaultLowerICMPSequence   = 0
	DefaultUpperICMPSequence   = 0xffff
)

// DefaultTCPUDPRoundRobinSocketCount is the number of destination ports a
// UDPProber cycles through between probes, starting at basePort; it is
// reduced to 1 in fixed-flow mode. The source port is not pooled: each probe
// opens a fresh socket and the kernel picks its source port. TCPProber does
// not use this count and always probes tcpDestPort.
const DefaultTCPUDPRoundRobinSocketCount = 4

// bufferSize is the read buffer used for raw ICMP replies.
const bufferSize = 512

// Config holds the parameters shared by every Prober variant.
type Config struct {
	// Timeout bounds how long a single probe waits for a reply.
	Timeout time.Duration
	// AttentionMessage is embedded in the probe payload, letting a network
	// operator identify the traffic this tool generates.
	AttentionMessage string
	// IDLow/IDHigh and SeqLow/SeqHigh bound this prober's ICMP
	// identifier/sequence space.
	IDLow, IDHigh   uint16
	SeqLow, SeqHigh uint16
	// FixedFlow makes the UDP prober send every probe to one destination
	// port. It does not pin the source port (each probe opens a new socket
	// whose source port the kernel picks), and the TCP prober ignores it.
	FixedFlow bool
	// DebugMode accumulates a narrative log line per probe, retrievable
	// via GetAndClearLog, instead of discarding it.
	DebugMode bool
}

// DefaultConfig returns sane defaults for a standalone prober.
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		AttentionMessage: "sagescan probe - see README for contact info",
		IDLow:            DefaultLowerICMPIdentifier,
		IDHigh:           DefaultUpperICMPIdentifier,
		SeqLow:           DefaultLowerICMPSequence,
		SeqHigh:          DefaultUpperICMPSequence,
	}
}

// Prober is the single-probe contract every protocol variant implements.
// A single call to Probe sends exactly one probe at the given TTL and
// waits up to Config.Timeout for a reply; it never retries internally —
// retry policy belongs to Retrying.
type Prober interface {
	Probe(ctx context.Context, dst netip.Addr, ttl uint8) (target.ProbeRecord, error)
	// GetTimeout and SetTimeout read and override the per-probe timeout,
	// letting a caller raise it for one target's preferred timeout and
	// restore it afterward.
	GetTimeout() time.Duration
	SetTimeout(time.Duration)
	// GetAndClearLog returns and resets this prober's accumulated debug
	// narrative, one line per probe sent since the last call.
	GetAndClearLog() string
	// Close releases the underlying socket.
	Close() error
}

// SocketError wraps a failure to send or receive at the socket layer,
// distinct from a clean timeout (which Probe reports via the timeout
// sentinel ProbeRecord rather than an error).
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("prober: %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// idSeqCounter cycles an ICMP identifier/sequence pair through the
// prober's assigned sub-range, wrapping back to the low bound.
type idSeqCounter struct {
	idLow, idHigh   uint16
	seqLow, seqHigh uint16
	id, seq         uint16
	started         bool
}

func newIDSeqCounter(idLow, idHigh, seqLow, seqHigh uint16) *idSeqCounter {
	return &idSeqCounter{idLow: idLow, idHigh: idHigh, seqLow: seqLow, seqHigh: seqHigh}
}

func (c *idSeqCounter) next() (id, seq uint16) {
	if !c.started {
		c.id, c.seq = c.idLow, c.seqLow
		c.started = true
		return c.id, c.seq
	}
	if c.seq >= c.seqHigh {
		c.seq = c.seqLow
		if c.id >= c.idHigh {
			c.id = c.idLow
		} else {
			c.id++
		}
	} else {
		c.seq++
	}
	return c.id, c.seq
}

// logBuffer accumulates debug narrative lines under DebugMode and is
// flushed atomically by the owning worker under Environment's console
// lock, mirroring the teacher's per-worker buffer-then-flush pattern.
type logBuffer struct {
	lines []string
}

func (b *logBuffer) add(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *logBuffer) clear() string {
	if len(b.lines) == 0 {
		return ""
	}
	out := ""
	for _, l := range b.lines {
		out += l + "\n"
	}
	b.lines = b.lines[:0]
	return out
}
