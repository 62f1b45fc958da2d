package meshtastic

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is the 32-bit Meshtastic node number.
type NodeID uint32

const (
	// BROADCAST_ID is the destination used for channel-wide packets. Traceroutes
	// also use it as a placeholder for hops that did not identify themselves.
	BROADCAST_ID NodeID = 0xffffffff
)

// String returns the node ID in the "!a1b2c3d4" form used by Meshtastic clients.
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// Hex returns the canonical 8-digit lowercase hex form without the leading "!".
// This is the key used by node snapshots and URLs.
func (n NodeID) Hex() string {
	return fmt.Sprintf("%08x", uint32(n))
}

// IsBroadcast reports whether the ID is the broadcast sentinel.
func (n NodeID) IsBroadcast() bool {
	return n == BROADCAST_ID
}

// DefaultShortName mirrors the firmware fallback of the last four hex digits.
func (n NodeID) DefaultShortName() string {
	h := n.Hex()
	return h[len(h)-4:]
}

// DefaultLongName mirrors the firmware fallback "Meshtastic xxxx".
func (n NodeID) DefaultLongName() string {
	return "Meshtastic " + n.DefaultShortName()
}

// ParseNodeID accepts "!a1b2c3d4", "a1b2c3d4" or a decimal node number.
// An unprefixed string of eight decimal digits is read as hex; use
// NodeIDCandidates when the decimal reading must also be considered.
func ParseNodeID(s string) (NodeID, error) {
	ids, err := NodeIDCandidates(s)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// NodeIDCandidates returns every node id s can denote, hex reading first.
// Only an unprefixed string of eight decimal digits has two readings.
func NodeIDCandidates(s string) ([]NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty node id")
	}
	if strings.HasPrefix(s, "!") {
		return single(parseHex(s[1:]))
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return single(parseHex(s[2:]))
	}
	if len(s) == 8 {
		hex, err := parseHex(s)
		if err != nil {
			return nil, err
		}
		if dec, err := strconv.ParseUint(s, 10, 32); err == nil && NodeID(dec) != hex {
			return []NodeID{hex, NodeID(dec)}, nil
		}
		return []NodeID{hex}, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return []NodeID{NodeID(v)}, nil
}

func single(id NodeID, err error) ([]NodeID, error) {
	if err != nil {
		return nil, err
	}
	return []NodeID{id}, nil
}

func parseHex(s string) (NodeID, error) {
	if len(s) == 0 || len(s) > 8 {
		return 0, fmt.Errorf("invalid node id length %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeID(v), nil
}
