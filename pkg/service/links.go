package service

import (
	"context"

	"github.com/kabili207/meshinfo/pkg/mesh"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// Link is a zero-hop aggregate seen from one node, with the node at the
// other end resolved against the current snapshot.
type Link struct {
	mesh.ZeroHopAggregate
	// Peer is nil when the other node is not known.
	Peer       *models.Node
	PeerID     meshtastic.NodeID
	DistanceKm *float64
}

// Tier classifies the link by its best SNR.
func (l *Link) Tier() (mesh.Tier, bool) {
	return l.ZeroHopAggregate.Tier()
}

func (s *Service) zeroHopTable(ctx context.Context) *mesh.ZeroHopTable {
	table, err := s.links.Get(ctx, struct{}{})
	if err != nil || table == nil {
		s.log.Error("zero-hop links unavailable", "error", err)
		return mesh.Aggregate(nil, 0, s.now())
	}
	return table
}

// ZeroHopHeard lists the nodes id heard directly, most recent first.
func (s *Service) ZeroHopHeard(ctx context.Context, id meshtastic.NodeID) []Link {
	return s.resolveLinks(ctx, s.zeroHopTable(ctx).Heard(id), id)
}

// ZeroHopHeardBy lists the nodes that heard id directly, most recent first.
func (s *Service) ZeroHopHeardBy(ctx context.Context, id meshtastic.NodeID) []Link {
	return s.resolveLinks(ctx, s.zeroHopTable(ctx).HeardBy(id), id)
}

// ZeroHopLinks returns every direct link in the aggregation window.
func (s *Service) ZeroHopLinks(ctx context.Context) []mesh.ZeroHopAggregate {
	return s.zeroHopTable(ctx).Links()
}

func (s *Service) resolveLinks(ctx context.Context, aggs []mesh.ZeroHopAggregate, self meshtastic.NodeID) []Link {
	snap := s.nodes.GetAll(ctx)
	me, _ := snap.Lookup(self)

	out := make([]Link, len(aggs))
	for i, agg := range aggs {
		peerID := agg.From
		if peerID == self {
			peerID = agg.Observer
		}
		l := Link{ZeroHopAggregate: agg, PeerID: peerID}
		if peer, ok := snap.Lookup(peerID); ok {
			l.Peer = peer
			if km, ok := mesh.DistanceBetween(me, peer); ok {
				l.DistanceKm = &km
			}
		}
		out[i] = l
	}
	return out
}
