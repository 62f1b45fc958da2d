package components

import (
	"github.com/kabili207/meshinfo/pkg/mesh"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
	"github.com/kabili207/meshinfo/pkg/service"
)

// NewSignal returns nil when snr is nil.
func NewSignal(snr *float64) *SignalData {
	if snr == nil {
		return nil
	}
	t := mesh.Classify(*snr)
	return &SignalData{SNR: *snr, Tier: t.String(), Label: t.Label(), CSSClass: t.CSSClass()}
}

func NewNodeData(n *models.Node) NodeData {
	nd := NodeData{
		NodeID:          n.ID.String(),
		Num:             uint32(n.ID),
		ShortName:       n.GetSafeShortName(),
		LongName:        n.GetSafeLongName(),
		Role:            n.Role.String(),
		HwModel:         n.HwModel,
		FirmwareVersion: n.FirmwareVersion,
		Active:          n.Active,
		LastSeen:        n.TsSeen,
		Owner:           n.OwnerUsername,
	}
	if p := n.Position; p != nil {
		if lat, ok := p.Latitude(); ok {
			nd.Latitude = &lat
		}
		if lon, ok := p.Longitude(); ok {
			nd.Longitude = &lon
		}
		nd.Altitude = p.Altitude
		nd.Geocoded = p.Geocoded
	}
	if t := n.Telemetry; t != nil {
		nd.Telemetry = &TelemetryData{
			BatteryLevel:       t.BatteryLevel,
			Voltage:            t.Voltage,
			ChannelUtilization: t.ChannelUtilization,
			AirUtilTx:          t.AirUtilTx,
			UptimeSeconds:      t.UptimeSeconds,
			Temperature:        t.Temperature,
			RelativeHumidity:   t.RelativeHumidity,
			BarometricPressure: t.BarometricPressure,
			Time:               t.TelemetryTime,
		}
	}
	return nd
}

func NewNodeList(nodes []*models.Node) []NodeData {
	out := make([]NodeData, len(nodes))
	for i, n := range nodes {
		out[i] = NewNodeData(n)
	}
	return out
}

func nodeName(id meshtastic.NodeID, n *models.Node) string {
	if n == nil {
		return id.DefaultLongName()
	}
	return n.GetSafeLongName()
}

func lookupName(lookup mesh.NodeLookup, id meshtastic.NodeID) string {
	var n *models.Node
	if lookup != nil {
		n, _ = lookup.Lookup(id)
	}
	return nodeName(id, n)
}

func NewLinkList(links []service.Link) []LinkData {
	out := make([]LinkData, len(links))
	for i, l := range links {
		out[i] = LinkData{
			PeerID:     l.PeerID.String(),
			PeerName:   nodeName(l.PeerID, l.Peer),
			Known:      l.Peer != nil,
			Count:      l.Count,
			Best:       NewSignal(l.BestSNR),
			AvgSNR:     l.AvgSNR,
			LastHeard:  l.LastRxTime,
			DistanceKm: l.DistanceKm,
		}
	}
	return out
}

// NewMapLinks converts every direct link, adding distances where both ends
// have a known position.
func NewMapLinks(links []mesh.ZeroHopAggregate, lookup mesh.NodeLookup) []MapLinkData {
	out := make([]MapLinkData, len(links))
	for i, l := range links {
		ml := MapLinkData{
			From:      l.From.String(),
			Observer:  l.Observer.String(),
			Count:     l.Count,
			Best:      NewSignal(l.BestSNR),
			LastHeard: l.LastRxTime,
		}
		if lookup != nil {
			a, _ := lookup.Lookup(l.From)
			b, _ := lookup.Lookup(l.Observer)
			if km, ok := mesh.DistanceBetween(a, b); ok {
				ml.DistanceKm = &km
			}
		}
		out[i] = ml
	}
	return out
}

func NewNeighborList(neighbors []service.Neighbor) []NeighborData {
	out := make([]NeighborData, len(neighbors))
	for i, n := range neighbors {
		out[i] = NeighborData{
			NeighborID: n.NeighborID.String(),
			Name:       nodeName(n.NeighborID, n.Node),
			Known:      n.Node != nil,
			Signal:     NewSignal(n.SNR),
			DistanceKm: n.DistanceKm,
			ReportedAt: n.TsCreated,
		}
	}
	SortNeighbors(out)
	return out
}

func newPathData(p *mesh.Path) PathData {
	pd := PathData{
		Hops:     make([]HopData, len(p.Hops)),
		Edges:    make([]EdgeData, len(p.Edges)),
		HopCount: p.HopCount(),
	}
	for i, h := range p.Hops {
		pd.Hops[i] = HopData{
			NodeID: h.ID.String(),
			Name:   h.Name(),
			Known:  h.Known(),
			Signal: NewSignal(h.IncomingSNR),
		}
	}
	for i, e := range p.Edges {
		pd.Edges[i] = EdgeData{
			From:       e.From.String(),
			To:         e.To.String(),
			Signal:     NewSignal(e.SNR),
			DistanceKm: e.DistanceKm,
		}
	}
	return pd
}

func NewTracerouteData(pv *mesh.PathView) TracerouteData {
	tr := pv.Traceroute
	td := TracerouteData{
		ID:        tr.ID,
		From:      tr.From.String(),
		To:        tr.To.String(),
		Channel:   tr.Channel,
		Success:   tr.Success,
		CreatedAt: tr.TsCreated,
		Forward:   newPathData(&pv.Forward),
	}
	if pv.Return != nil {
		ret := newPathData(pv.Return)
		td.Return = &ret
	}
	return td
}

func NewTraceroutePage(page *service.TraceroutePage) TraceroutePageData {
	out := TraceroutePageData{
		Traceroutes: make([]TracerouteData, len(page.Traceroutes)),
		Pagination:  page.Pagination,
	}
	for i := range page.Traceroutes {
		out.Traceroutes[i] = NewTracerouteData(&page.Traceroutes[i])
	}
	return out
}

func NewMessageData(m *models.Message, lookup mesh.NodeLookup) MessageData {
	md := MessageData{
		ID:         m.MessageID,
		From:       m.From.String(),
		FromName:   lookupName(lookup, m.From),
		To:         m.To.String(),
		Broadcast:  m.IsBroadcast(),
		Channel:    m.Channel,
		Text:       m.Text,
		CreatedAt:  m.TsCreated,
		Receptions: make([]ReceptionData, len(m.Receptions)),
	}
	for i, r := range m.Receptions {
		rd := ReceptionData{
			ReceivedBy: r.ReceivedBy.String(),
			Name:       lookupName(lookup, r.ReceivedBy),
			Signal:     NewSignal(r.RxSnr),
			RSSI:       r.RxRssi,
			RxTime:     r.RxTime,
		}
		if hops, ok := r.HopsTaken(); ok {
			rd.Hops = &hops
		}
		md.Receptions[i] = rd
	}
	return md
}

func NewChatPage(page *service.ChatPage, lookup mesh.NodeLookup) ChatPageData {
	out := ChatPageData{
		Messages:   make([]MessageData, len(page.Messages)),
		Pagination: page.Pagination,
	}
	for i, m := range page.Messages {
		out.Messages[i] = NewMessageData(m, lookup)
	}
	return out
}
