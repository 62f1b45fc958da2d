package mesh

import (
	"math"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// snrUnknown is what firmware writes into a route's SNR slot when the hop
// did not report one (INT8_MIN in quarter dB).
const snrUnknown = float64(math.MinInt8) / 4

// NodeLookup resolves node ids against a node snapshot.
type NodeLookup interface {
	Lookup(id meshtastic.NodeID) (*models.Node, bool)
}

// Hop is one node along a reconstructed path.
type Hop struct {
	ID meshtastic.NodeID `json:"id"`
	// Node is nil for unknown hops.
	Node *models.Node `json:"-"`
	// IncomingSNR is the SNR of the edge arriving at this hop. It is nil for
	// the first hop and whenever the value was not reported.
	IncomingSNR *float64 `json:"incoming_snr"`
}

// Known reports whether the hop resolved to a node in the snapshot.
func (h Hop) Known() bool {
	return h.Node != nil
}

// Name returns a display name, or "Unknown" for placeholder hops.
func (h Hop) Name() string {
	if h.Node == nil {
		return "Unknown"
	}
	return h.Node.GetSafeShortName()
}

// Edge is the link between two consecutive hops.
type Edge struct {
	From meshtastic.NodeID `json:"from"`
	To   meshtastic.NodeID `json:"to"`
	SNR  *float64          `json:"snr"`
	// Tier is nil when SNR is.
	Tier       *Tier    `json:"tier"`
	DistanceKm *float64 `json:"distance_km"`
}

// Path is a directional hop sequence. len(Edges) == len(Hops)-1.
type Path struct {
	Hops  []Hop  `json:"hops"`
	Edges []Edge `json:"edges"`
}

// HopCount is the number of edges traversed.
func (p *Path) HopCount() int {
	return len(p.Edges)
}

// PathView is a traceroute resolved into forward and return paths.
type PathView struct {
	Traceroute *models.Traceroute `json:"-"`
	Forward    Path               `json:"forward"`
	// Return is nil when no reply was captured.
	Return *Path `json:"return"`
}

// Reconstruct builds the forward path [from]+route+[to] and, when present,
// the return path [to]+route_back+[from]. The SNR at index i of a route's
// SNR list belongs to the edge arriving at hop i+1. Missing entries and the
// firmware placeholder value are treated as not reported.
func Reconstruct(tr *models.Traceroute, lookup NodeLookup) PathView {
	pv := PathView{
		Traceroute: tr,
		Forward:    buildPath(tr.From, tr.To, tr.Route, tr.SnrTowards, lookup),
	}
	if tr.RouteBack != nil {
		back := buildPath(tr.To, tr.From, tr.RouteBack, tr.SnrBack, lookup)
		pv.Return = &back
	}
	return pv
}

func buildPath(src, dst meshtastic.NodeID, route models.IDList, snrs models.SNRList, lookup NodeLookup) Path {
	ids := make([]meshtastic.NodeID, 0, len(route)+2)
	ids = append(ids, src)
	ids = append(ids, route...)
	ids = append(ids, dst)

	p := Path{
		Hops:  make([]Hop, len(ids)),
		Edges: make([]Edge, 0, len(ids)-1),
	}
	for i, id := range ids {
		h := Hop{ID: id}
		if !id.IsBroadcast() && lookup != nil {
			if n, ok := lookup.Lookup(id); ok {
				h.Node = n
			}
		}
		if i > 0 {
			h.IncomingSNR = hopSNR(snrs, i-1)
		}
		p.Hops[i] = h
	}

	for i := 1; i < len(p.Hops); i++ {
		prev, cur := p.Hops[i-1], p.Hops[i]
		e := Edge{From: prev.ID, To: cur.ID, SNR: cur.IncomingSNR}
		if e.SNR != nil {
			tier := Classify(*e.SNR)
			e.Tier = &tier
		}
		if km, ok := DistanceBetween(prev.Node, cur.Node); ok {
			e.DistanceKm = &km
		}
		p.Edges = append(p.Edges, e)
	}
	return p
}

func hopSNR(snrs models.SNRList, i int) *float64 {
	v, ok := snrs.At(i)
	if !ok || v <= snrUnknown {
		return nil
	}
	return &v
}
