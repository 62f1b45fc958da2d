package service

import (
	"context"

	"github.com/kabili207/meshinfo/pkg/mesh"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// Neighbor is a self-reported neighbor with derived fields.
type Neighbor struct {
	models.NeighborRecord
	Node       *models.Node
	DistanceKm *float64
	Tier       *mesh.Tier
}

// Neighbors lists the neighbors id reported in its last NEIGHBORINFO packet.
func (s *Service) Neighbors(ctx context.Context, id meshtastic.NodeID) []Neighbor {
	byOwner, err := s.neighbors.Get(ctx, struct{}{})
	if err != nil {
		s.log.Error("neighbor reports unavailable", "error", err)
		return nil
	}

	snap := s.nodes.GetAll(ctx)
	owner, _ := snap.Lookup(id)
	records := byOwner[id]
	out := make([]Neighbor, len(records))
	for i, r := range records {
		n := Neighbor{NeighborRecord: r}
		if r.SNR != nil {
			tier := mesh.Classify(*r.SNR)
			n.Tier = &tier
		}
		if node, ok := snap.Lookup(r.NeighborID); ok {
			n.Node = node
			if km, ok := mesh.DistanceBetween(owner, node); ok {
				n.DistanceKm = &km
			}
		}
		out[i] = n
	}
	return out
}
