package scan

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kbrandt/sagescan/internal/env"
	"github.com/kbrandt/sagescan/internal/prober"
	"github.com/kbrandt/sagescan/pkg/target"
)

// Scanner drives the whole two-phase scan over a target list: an initial
// location pass split evenly across Concurrency location workers, followed
// by a trail-correction pass over only the entries whose trail came out
// anomalous, rescheduled into TTL-local sublists so each correction worker
// spends its probes on hops it's already likely to have warmed caches and
// routing state for, and finally an alias-port pass over every entry.
type Scanner struct {
	env   *env.Environment
	RunID string
}

// NewScanner builds a Scanner over e, tagged with a fresh RunID that callers
// can read to tell runs apart. The scanner does not add RunID to FlushLog
// output or to any other log record.
func NewScanner(e *env.Environment) *Scanner {
	return &Scanner{env: e, RunID: uuid.NewString()}
}

// Scan runs the full pipeline (location, correction, alias-port) over
// targets and returns once every worker has finished or the emergency-stop
// signal has fired.
func (s *Scanner) Scan(ctx context.Context, targets []*target.Entry) error {
	if err := s.locationPhase(ctx, targets); err != nil {
		return err
	}
	if s.env.Stopped() {
		return ctx.Err()
	}

	bad := s.filterBadEntries(targets)
	if len(bad) > 0 {
		sublists := s.reschedule(bad, s.env.Config.Concurrency)
		if err := s.correctionPhase(ctx, sublists); err != nil {
			return err
		}
	}
	if s.env.Stopped() {
		return ctx.Err()
	}

	return s.aliasPortPhase(ctx, targets)
}

// Finalize groups resolved entries into alias candidate clusters: entries
// sharing the same Trail hop address are presumed to be interfaces of the
// same router. addFlickeringPeers then merges any two clusters that refer
// to each other (A's trail hop is B's own address and vice versa), a
// pattern that shows up when ECMP sends probes for two nearby targets down
// slightly different paths that rejoin one hop early.
func (s *Scanner) Finalize(targets []*target.Entry) [][]*target.Entry {
	groups := make(map[string][]*target.Entry)
	for _, e := range targets {
		if !e.Trail.IsSet() {
			continue
		}
		key := e.Trail.LastNonAnonymousHop.Addr.String()
		groups[key] = append(groups[key], e)
	}

	clusters := make([][]*target.Entry, 0, len(groups))
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clusters = append(clusters, groups[k])
	}

	return addFlickeringPeers(clusters)
}

// addFlickeringPeers merges two clusters when each holds an entry whose
// trail hop is the address of an entry in the other (A's trail points at B
// and B's trail points at A), since that mutual reference means the two
// clusters describe the same router. A one-way reference does not merge.
func addFlickeringPeers(clusters [][]*target.Entry) [][]*target.Entry {
	addrToCluster := make(map[string]int)
	for i, c := range clusters {
		for _, e := range c {
			addrToCluster[e.Addr.String()] = i
		}
	}

	parent := make([]int, len(clusters))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	refs := make(map[[2]int]bool)
	for i, c := range clusters {
		for _, e := range c {
			if j, ok := addrToCluster[e.Trail.LastNonAnonymousHop.Addr.String()]; ok {
				refs[[2]int{i, j}] = true
			}
		}
	}
	for r := range refs {
		if refs[[2]int{r[1], r[0]}] {
			union(r[0], r[1])
		}
	}

	merged := make(map[int][]*target.Entry)
	for i, c := range clusters {
		r := find(i)
		merged[r] = append(merged[r], c...)
	}

	out := make([][]*target.Entry, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	return out
}

func (s *Scanner) locationPhase(ctx context.Context, targets []*target.Entry) error {
	n := s.env.Config.Concurrency
	if n > len(targets) {
		n = len(targets)
	}
	if n == 0 {
		return nil
	}
	sublists := partitionContiguous(targets, n)
	configs := prober.PartitionIDSpace(n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, sub := range sublists {
		if len(sub) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, sub []*target.Entry) {
			defer wg.Done()
			cfg := configs[i]
			cfg.Timeout = s.env.Config.Timeout
			cfg.FixedFlow = s.env.Config.FixedFlow
			cfg.DebugMode = s.env.Config.Debug
			cfg.AttentionMessage = s.env.Config.AttentionMessage

			p, err := prober.New(s.env.Config.Protocol, cfg)
			if err != nil {
				errs[i] = err
				s.env.TriggerStop()
				return
			}
			defer p.Close()

			retrying := prober.NewRetrying(p, s.env.Config.MaxRetries, s.env.Config.RetryDelay)
			worker := NewLocationWorker(s.env, retrying)
			errs[i] = worker.Run(ctx, sub)
		}(i, sub)
	}
	wg.Wait()

	return firstErr(errs)
}

func (s *Scanner) correctionPhase(ctx context.Context, sublists [][]*target.Entry) error {
	configs := prober.PartitionIDSpace(len(sublists))

	var wg sync.WaitGroup
	errs := make([]error, len(sublists))
	for i, sub := range sublists {
		if len(sub) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, sub []*target.Entry) {
			defer wg.Done()
			cfg := configs[i]
			cfg.Timeout = s.env.Config.Timeout
			cfg.FixedFlow = s.env.Config.FixedFlow
			cfg.DebugMode = s.env.Config.Debug
			cfg.AttentionMessage = s.env.Config.AttentionMessage

			p, err := prober.New(s.env.Config.Protocol, cfg)
			if err != nil {
				errs[i] = err
				s.env.TriggerStop()
				return
			}
			defer p.Close()

			retrying := prober.NewRetrying(p, s.env.Config.MaxRetries, s.env.Config.RetryDelay)
			worker := NewCorrectionWorker(s.env, retrying)
			errs[i] = worker.Run(ctx, sub)
		}(i, sub)
	}
	wg.Wait()

	return firstErr(errs)
}

func (s *Scanner) aliasPortPhase(ctx context.Context, targets []*target.Entry) error {
	n := s.env.Config.Concurrency
	if n > len(targets) {
		n = len(targets)
	}
	if n == 0 {
		return nil
	}
	sublists := partitionContiguous(targets, n)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, sub := range sublists {
		if len(sub) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, sub []*target.Entry) {
			defer wg.Done()
			cfg := prober.DefaultConfig()
			cfg.Timeout = s.env.Config.Timeout
			cfg.DebugMode = s.env.Config.Debug
			cfg.AttentionMessage = s.env.Config.AttentionMessage
			cfg.FixedFlow = true // a single stable flow is plenty for one probe per target

			udp, err := prober.NewUDPProber(cfg)
			if err != nil {
				errs[i] = err
				s.env.TriggerStop()
				return
			}
			defer udp.Close()

			retrying := prober.NewRetrying(udp, 0, s.env.Config.RetryDelay)
			worker := NewAliasPortWorker(s.env, udp, retrying)
			errs[i] = worker.Run(ctx, sub)
		}(i, sub)
	}
	wg.Wait()

	return firstErr(errs)
}

// filterBadEntries returns entries whose trail resolution left anomalies
// behind: an unset trail, or a settled trail that still skipped hops to
// get there.
func (s *Scanner) filterBadEntries(targets []*target.Entry) []*target.Entry {
	var bad []*target.Entry
	for _, e := range targets {
		if !e.Trail.IsSet() || e.Trail.NbAnomalies > 0 {
			bad = append(bad, e)
		}
	}
	return bad
}

// partitionContiguous splits list into n contiguous sublists, sized as
// evenly as possible with any remainder spread across the first sublists,
// preserving the caller's ordering. Used for the location and alias-port
// passes, which split the full target list before any TTL is known and so
// have nothing more structured than position to balance on; contiguity
// preserves whatever address locality the caller's ordering carries.
func partitionContiguous(list []*target.Entry, n int) [][]*target.Entry {
	if n <= 0 {
		return nil
	}
	sizes := make([]int, n)
	base := len(list) / n
	rem := len(list) % n
	for i := range sizes {
		sizes[i] = base
		if i < rem {
			sizes[i]++
		}
	}
	out := make([][]*target.Entry, 0, n)
	idx := 0
	for _, sz := range sizes {
		out = append(out, list[idx:idx+sz])
		idx += sz
	}
	return out
}

// reschedule sorts bad entries by (ttl, addr) ascending, then splits them
// into n sublists along their most TTL-incoherent boundaries, so that each
// correction worker spends its probes on hops it's already likely to share
// routing state and timing with. Sublists are then ordered by ascending
// size so the shortest run finishes first and frees a worker slot sooner.
func (s *Scanner) reschedule(bad []*target.Entry, n int) [][]*target.Entry {
	sorted := make([]*target.Entry, len(bad))
	copy(sorted, bad)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TTL != sorted[j].TTL {
			return sorted[i].TTL < sorted[j].TTL
		}
		return sorted[i].Addr.Compare(sorted[j].Addr) < 0
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	if n == 0 {
		return nil
	}
	sublists := splitList(sorted, n)
	sort.Slice(sublists, func(i, j int) bool { return compareLists(sublists[i], sublists[j]) < 0 })
	return sublists
}

// estimateSplit locates the split point in a (ttl, addr)-sorted list where
// consecutive TTLs differ most, so cutting there separates the list into
// two internally TTL-coherent halves. Among points tied on gap size, the
// one closest to the list's midpoint wins, keeping the two halves close in
// size; this is what drives splitList's recursive halving toward sublists
// sized near n/2, n/4, and so on rather than an arbitrary uneven cut.
func estimateSplit(list []*target.Entry) int {
	if len(list) < 2 {
		return 0
	}
	mid := len(list) / 2
	best, bestGap, bestDist := mid, -1, len(list)+1
	for i := 1; i < len(list); i++ {
		gap := int(list[i].TTL) - int(list[i-1].TTL)
		if gap < 0 {
			gap = -gap
		}
		dist := i - mid
		if dist < 0 {
			dist = -dist
		}
		if gap > bestGap || (gap == bestGap && dist < bestDist) {
			best, bestGap, bestDist = i, gap, dist
		}
	}
	return best
}

// splitList recursively bisects a (ttl, addr)-sorted list at the point
// estimateSplit picks, always extending whichever current sublist is
// largest, until n sublists exist or every remaining sublist is too small
// to split further. Each halving pushes sizes toward n/2, n/4, and so on,
// while keeping every sublist's TTLs internally coherent.
func splitList(list []*target.Entry, n int) [][]*target.Entry {
	if n <= 1 || len(list) < 2 {
		return [][]*target.Entry{list}
	}
	out := [][]*target.Entry{list}
	for len(out) < n {
		largest := 0
		for i, sub := range out {
			if len(sub) > len(out[largest]) {
				largest = i
			}
		}
		if len(out[largest]) < 2 {
			break
		}
		split := estimateSplit(out[largest])
		if split <= 0 || split >= len(out[largest]) {
			break
		}
		left, right := out[largest][:split], out[largest][split:]
		out[largest] = left
		out = append(out, right)
	}
	return out
}

// compareLists orders two sublists by ascending entry count, so the
// correction phase can launch the shortest run first and free a worker
// slot sooner.
func compareLists(a, b []*target.Entry) int {
	return len(a) - len(b)
}

func firstErr(errs []error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
