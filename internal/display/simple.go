package display

import (
	"fmt"
	"io"
	"time"

	"github.com/kbrandt/sagescan/pkg/target"
)

// SimpleRenderer renders scan results in plain text, one line per target,
// for non-interactive or redirected output.
type SimpleRenderer struct {
	ShowRoute bool
}

// NewSimpleRenderer creates a SimpleRenderer with route display enabled.
func NewSimpleRenderer() *SimpleRenderer {
	return &SimpleRenderer{ShowRoute: true}
}

// FormatRTT formats a duration as milliseconds.
func (r *SimpleRenderer) FormatRTT(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%.2fms", ms)
}

// RenderEntry renders a single target's scan result as a text line.
func (r *SimpleRenderer) RenderEntry(e *target.Entry) string {
	if e.TTL == 0 {
		line := fmt.Sprintf("%-16s  unresolved", e.Addr)
		if e.AliasHints.HasPortUnreachableHint() {
			line += fmt.Sprintf(" port-unreachable-src=%s", e.AliasHints.PortUnreachableSrc)
		}
		return line
	}

	trail := "no trail"
	if e.Trail.IsSet() {
		trail = fmt.Sprintf("trail=%s anomalies=%d", e.Trail.LastNonAnonymousHop.Addr, e.Trail.NbAnomalies)
	}

	line := fmt.Sprintf("%-16s  ttl=%-3d %s", e.Addr, e.TTL, trail)

	if e.AliasHints.HasPortUnreachableHint() {
		line += fmt.Sprintf(" port-unreachable-src=%s", e.AliasHints.PortUnreachableSrc)
	}

	if r.ShowRoute {
		for i, hop := range e.Route {
			ttl := i + 1
			switch hop.State {
			case target.Resolved:
				line += fmt.Sprintf("\n  %2d  %s  %s", ttl, hop.Addr, r.FormatRTT(hop.RTT))
			case target.Anonymous:
				line += fmt.Sprintf("\n  %2d  *anonymous*", ttl)
			default:
				line += fmt.Sprintf("\n  %2d  *", ttl)
			}
		}
	}

	return line
}

// RenderResults writes a summary line for every entry to w.
func (r *SimpleRenderer) RenderResults(w io.Writer, entries []*target.Entry) {
	for _, e := range entries {
		fmt.Fprintln(w, r.RenderEntry(e))
	}
}
