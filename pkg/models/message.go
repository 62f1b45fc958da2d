package models

import (
	"time"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
)

// Reception is one observation of a packet by a receiving node.
type Reception struct {
	// PacketID is the mesh packet id. Chat receptions carry the message id here.
	PacketID   *int64            `db:"packet_id"`
	From       meshtastic.NodeID `db:"from_id"`
	ReceivedBy meshtastic.NodeID `db:"received_by_id"`
	RxTime     time.Time         `db:"rx_time"`
	RxSnr      *float64          `db:"rx_snr"`
	RxRssi     *int32            `db:"rx_rssi"`
	HopStart   *int32            `db:"hop_start"`
	HopLimit   *int32            `db:"hop_limit"`
}

// HopsTaken returns hop_start - hop_limit. The second value is false when
// either field was not reported, in which case the hop count is unknown.
func (r *Reception) HopsTaken() (int, bool) {
	if r.HopStart == nil || r.HopLimit == nil {
		return 0, false
	}
	if *r.HopLimit > *r.HopStart {
		return 0, false
	}
	return int(*r.HopStart - *r.HopLimit), true
}

// IsDirect reports whether the packet reached the receiver without a relay.
// Receptions missing either hop field are treated as direct.
func (r *Reception) IsDirect() bool {
	if r.HopStart == nil || r.HopLimit == nil {
		return true
	}
	return *r.HopStart == *r.HopLimit
}

// Message is a text message together with every reception of it.
type Message struct {
	MessageID  int64             `db:"message_id"`
	From       meshtastic.NodeID `db:"from_id"`
	To         meshtastic.NodeID `db:"to_id"`
	Channel    int32             `db:"channel"`
	Text       string            `db:"text"`
	TsCreated  time.Time         `db:"ts_created"`
	Receptions []Reception       `db:"-"`
}

// IsBroadcast reports whether the message was sent to the whole channel.
func (m *Message) IsBroadcast() bool {
	return m.To.IsBroadcast()
}

// NeighborRecord is a neighbor reported by a node's own NEIGHBORINFO packet.
// Unlike zero-hop links it is self-reported, not inferred from traffic.
type NeighborRecord struct {
	NodeID     meshtastic.NodeID `db:"id"`
	NeighborID meshtastic.NodeID `db:"neighbor_id"`
	SNR        *float64          `db:"snr"`
	TsCreated  time.Time         `db:"ts_created"`
}
