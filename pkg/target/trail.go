package target

// SetTrail (re)computes the Entry's Trail by walking its Route backward from
// the hop closest to the target, looking for the last usable (non-unset,
// non-anonymous) hop that doesn't repeat the address of the hop immediately
// closer to the target (a router echoing back the same address at two
// consecutive TTLs, common behind NAT or loose reverse paths, can't serve as
// an alias-resolution fingerprint). Every Unset or Anonymous hop skipped
// along the way, and every such repeated-address hop, counts as an anomaly.
//
// A target one hop away has an empty Route: there is nothing to walk, and
// the target itself is its own trail, with zero anomalies.
//
// SetTrail returns false when no usable hop exists anywhere in the route:
// the Trail is left unset, but NbAnomalies still reflects every hop that
// was skipped, so a caller such as the trail-correction worker can decide
// whether another pass is worth attempting.
func (e *Entry) SetTrail() bool {
	if len(e.Route) == 0 {
		e.Trail = Trail{
			LastNonAnonymousHop: RouteHop{State: Resolved, Addr: e.Addr},
			NbAnomalies:         0,
			set:                 true,
		}
		return true
	}

	anomalies := 0
	closerAddr := e.Addr
	for i := len(e.Route) - 1; i >= 0; i-- {
		hop := e.Route[i]
		switch {
		case hop.State != Resolved:
			anomalies++
		case hop.Addr == closerAddr:
			anomalies++
		default:
			e.Trail = Trail{
				LastNonAnonymousHop: hop,
				NbAnomalies:         anomalies,
				set:                 true,
			}
			return true
		}
		closerAddr = hop.Addr
	}
	e.Trail = Trail{NbAnomalies: anomalies, set: false}
	return false
}
