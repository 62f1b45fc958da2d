package components

import (
	"cmp"
	"slices"
	"strings"
)

// Node sort orders accepted by SortNodes.
const (
	SortByID       = "id"
	SortByName     = "name"
	SortByLastSeen = "last_seen"
)

// SortNodes sorts nodes in place. Unknown orders fall back to SortByID.
func SortNodes(nodes []NodeData, by string) {
	switch by {
	case SortByName:
		slices.SortStableFunc(nodes, func(a, b NodeData) int {
			if c := strings.Compare(strings.ToLower(a.LongName), strings.ToLower(b.LongName)); c != 0 {
				return c
			}
			return strings.Compare(a.NodeID, b.NodeID)
		})
	case SortByLastSeen:
		// most recent first, never-seen nodes last
		slices.SortStableFunc(nodes, func(a, b NodeData) int {
			switch {
			case a.LastSeen == nil && b.LastSeen == nil:
			case a.LastSeen == nil:
				return 1
			case b.LastSeen == nil:
				return -1
			default:
				if c := b.LastSeen.Compare(*a.LastSeen); c != 0 {
					return c
				}
			}
			return strings.Compare(a.NodeID, b.NodeID)
		})
	default:
		slices.SortStableFunc(nodes, func(a, b NodeData) int {
			return strings.Compare(a.NodeID, b.NodeID)
		})
	}
}

// SortNeighbors orders neighbors by SNR, strongest first, with unknown SNR last.
func SortNeighbors(neighbors []NeighborData) {
	slices.SortStableFunc(neighbors, func(a, b NeighborData) int {
		switch {
		case a.Signal == nil && b.Signal == nil:
			return strings.Compare(a.NeighborID, b.NeighborID)
		case a.Signal == nil:
			return 1
		case b.Signal == nil:
			return -1
		}
		if c := cmp.Compare(b.Signal.SNR, a.Signal.SNR); c != 0 {
			return c
		}
		return strings.Compare(a.NeighborID, b.NeighborID)
	})
}
