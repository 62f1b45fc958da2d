package components

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/meshinfo/pkg/mesh"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
	"github.com/kabili207/meshinfo/pkg/service"
)

func ptr[T any](v T) *T { return &v }

func ids(nodes []NodeData) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.NodeID
	}
	return out
}

func TestSortNodes(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := []NodeData{
		{NodeID: "!00000003", LongName: "alpha", LastSeen: ptr(now.Add(-time.Hour))},
		{NodeID: "!00000001", LongName: "Charlie"},
		{NodeID: "!00000002", LongName: "Bravo", LastSeen: ptr(now)},
	}

	tests := []struct {
		by   string
		want []string
	}{
		{SortByID, []string{"!00000001", "!00000002", "!00000003"}},
		{"", []string{"!00000001", "!00000002", "!00000003"}},
		{SortByName, []string{"!00000003", "!00000002", "!00000001"}},
		{SortByLastSeen, []string{"!00000002", "!00000003", "!00000001"}},
	}
	for _, tt := range tests {
		t.Run(tt.by, func(t *testing.T) {
			nodes := append([]NodeData(nil), base...)
			SortNodes(nodes, tt.by)
			assert.Equal(t, tt.want, ids(nodes))
		})
	}
}

func TestSortNeighbors(t *testing.T) {
	neighbors := []NeighborData{
		{NeighborID: "!0000000c"},
		{NeighborID: "!0000000b", Signal: NewSignal(ptr(-3.0))},
		{NeighborID: "!0000000a"},
		{NeighborID: "!0000000d", Signal: NewSignal(ptr(4.5))},
	}
	SortNeighbors(neighbors)

	got := make([]string, len(neighbors))
	for i, n := range neighbors {
		got[i] = n.NeighborID
	}
	assert.Equal(t, []string{"!0000000d", "!0000000b", "!0000000a", "!0000000c"}, got)
}

func TestNewSignal(t *testing.T) {
	assert.Nil(t, NewSignal(nil))

	s := NewSignal(ptr(-12.0))
	require.NotNil(t, s)
	assert.Equal(t, "very_poor", s.Tier)
	assert.Equal(t, "Very Poor", s.Label)
	assert.Equal(t, "snr-very_poor", s.CSSClass)
}

func TestNewNodeData(t *testing.T) {
	n := &models.Node{
		ID:   0xa1b2c3d4,
		Role: models.RoleRouter,
		Position: &models.Position{
			LatitudeI:  ptr(int32(521234567)),
			LongitudeI: ptr(int32(-41234567)),
		},
		Telemetry: &models.Telemetry{BatteryLevel: ptr(int32(87))},
	}
	nd := NewNodeData(n)

	assert.Equal(t, "!a1b2c3d4", nd.NodeID)
	assert.Equal(t, uint32(0xa1b2c3d4), nd.Num)
	assert.Equal(t, "c3d4", nd.ShortName)
	assert.Equal(t, "Meshtastic c3d4", nd.LongName)
	assert.Equal(t, "Router", nd.Role)
	require.NotNil(t, nd.Latitude)
	assert.InDelta(t, 52.1234567, *nd.Latitude, 1e-9)
	require.NotNil(t, nd.Longitude)
	assert.InDelta(t, -4.1234567, *nd.Longitude, 1e-9)
	require.NotNil(t, nd.Telemetry)
	assert.Equal(t, int32(87), *nd.Telemetry.BatteryLevel)

	bare := NewNodeData(&models.Node{ID: 5})
	assert.Nil(t, bare.Latitude)
	assert.Nil(t, bare.Telemetry)
}

type mapLookup map[meshtastic.NodeID]*models.Node

func (m mapLookup) Lookup(id meshtastic.NodeID) (*models.Node, bool) {
	n, ok := m[id]
	return n, ok
}

func TestNewMessageData(t *testing.T) {
	snr, rssi := 2.5, int32(-101)
	m := &models.Message{
		MessageID: 42,
		From:      1,
		To:        meshtastic.BROADCAST_ID,
		Text:      "hello",
		Receptions: []models.Reception{
			{ReceivedBy: 2, RxSnr: &snr, RxRssi: &rssi, HopStart: ptr(int32(3)), HopLimit: ptr(int32(1))},
			{ReceivedBy: 3},
		},
	}
	lookup := mapLookup{1: {ID: 1, LongName: "Base"}, 2: {ID: 2, LongName: "Hill"}}

	md := NewMessageData(m, lookup)
	assert.Equal(t, "Base", md.FromName)
	assert.True(t, md.Broadcast)
	require.Len(t, md.Receptions, 2)
	assert.Equal(t, "Hill", md.Receptions[0].Name)
	require.NotNil(t, md.Receptions[0].Hops)
	assert.Equal(t, 2, *md.Receptions[0].Hops)
	assert.Equal(t, "good", md.Receptions[0].Signal.Tier)
	assert.Equal(t, "Meshtastic 0003", md.Receptions[1].Name)
	assert.Nil(t, md.Receptions[1].Hops)
	assert.Nil(t, md.Receptions[1].Signal)

	assert.Equal(t, "Meshtastic 0001", NewMessageData(m, nil).FromName)
}

func TestNewMapLinks(t *testing.T) {
	best := 1.0
	links := []mesh.ZeroHopAggregate{{From: 1, Observer: 2, Count: 3, BestSNR: &best}}
	lookup := mapLookup{
		1: {ID: 1, Position: &models.Position{LatitudeI: ptr(int32(0)), LongitudeI: ptr(int32(0))}},
		2: {ID: 2, Position: &models.Position{LatitudeI: ptr(int32(10000000)), LongitudeI: ptr(int32(0))}},
	}

	out := NewMapLinks(links, lookup)
	require.Len(t, out, 1)
	assert.Equal(t, "!00000001", out[0].From)
	assert.Equal(t, "!00000002", out[0].Observer)
	require.NotNil(t, out[0].DistanceKm)
	assert.InDelta(t, 111.19, *out[0].DistanceKm, 0.01)

	assert.Nil(t, NewMapLinks(links, nil)[0].DistanceKm)
}

func TestNewTracerouteDataWithReturn(t *testing.T) {
	tr := &models.Traceroute{
		ID:         7,
		From:       1,
		To:         3,
		Route:      models.IDList{2},
		RouteBack:  models.IDList{},
		SnrTowards: models.SNRList{4, -6},
		SnrBack:    models.SNRList{-11},
	}
	pv := mesh.Reconstruct(tr, mapLookup{2: {ID: 2, ShortName: "MID"}})
	td := NewTracerouteData(&pv)

	assert.Equal(t, 2, td.Forward.HopCount)
	require.Len(t, td.Forward.Hops, 3)
	assert.Equal(t, "MID", td.Forward.Hops[1].Name)
	assert.False(t, td.Forward.Hops[0].Known)
	assert.Equal(t, "poor", td.Forward.Edges[1].Signal.Tier)
	require.NotNil(t, td.Return)
	assert.Equal(t, 1, td.Return.HopCount)
	assert.Equal(t, "very_poor", td.Return.Edges[0].Signal.Tier)
}

func TestNewLinkList(t *testing.T) {
	best := -4.0
	links := []service.Link{
		{ZeroHopAggregate: mesh.ZeroHopAggregate{From: 5, Observer: 1, Count: 2, BestSNR: &best}, PeerID: 5},
	}
	out := NewLinkList(links)
	require.Len(t, out, 1)
	assert.Equal(t, "!00000005", out[0].PeerID)
	assert.Equal(t, "Meshtastic 0005", out[0].PeerName)
	assert.False(t, out[0].Known)
	assert.Equal(t, "adequate", out[0].Best.Tier)
}
