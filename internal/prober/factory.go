package prober

import "fmt"

// New opens a Prober of the given protocol, ready to use.
func New(protocol Protocol, cfg Config) (Prober, error) {
	switch protocol {
	case ICMP:
		return NewICMPProber(cfg)
	case UDP:
		return NewUDPProber(cfg)
	case TCP:
		return NewTCPProber(cfg)
	default:
		return nil, fmt.Errorf("prober: unknown protocol %v", protocol)
	}
}

// PartitionIDSpace splits the default ICMP identifier/sequence space into n
// disjoint sub-ranges, one per concurrent worker, so workers never collide
// on in-flight probe matching.
func PartitionIDSpace(n int) []Config {
	if n <= 0 {
		n = 1
	}
	base := DefaultConfig()
	span := uint32(DefaultUpperICMPIdentifier-DefaultLowerICMPIdentifier+1) / uint32(n)
	if span == 0 {
		span = 1
	}
	configs := make([]Config, n)
	for i := 0; i < n; i++ {
		low := uint32(DefaultLowerICMPIdentifier) + uint32(i)*span
		high := low + span - 1
		if i == n-1 || high > DefaultUpperICMPIdentifier {
			high = DefaultUpperICMPIdentifier
		}
		c := base
		c.IDLow, c.IDHigh = uint16(low), uint16(high)
		c.SeqLow, c.SeqHigh = DefaultLowerICMPSequence, DefaultUpperICMPSequence
		configs[i] = c
	}
	return configs
}
