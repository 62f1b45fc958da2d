package components

import (
	"time"

	"github.com/kabili207/meshinfo/pkg/models"
)

// NodeData represents a node for display
type NodeData struct {
	NodeID          string     `json:"node_id"`
	Num             uint32     `json:"num"`
	ShortName       string     `json:"short_name"`
	LongName        string     `json:"long_name"`
	Role            string     `json:"role"`
	HwModel         *int32     `json:"hw_model,omitempty"`
	FirmwareVersion *string    `json:"firmware_version,omitempty"`
	Active          bool       `json:"active"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	Owner           *string    `json:"owner,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *int32   `json:"altitude,omitempty"`
	Geocoded  *string  `json:"geocoded,omitempty"`

	Telemetry *TelemetryData `json:"telemetry,omitempty"`
}

// TelemetryData holds the latest device and environment metrics
type TelemetryData struct {
	BatteryLevel       *int32     `json:"battery_level,omitempty"`
	Voltage            *float64   `json:"voltage,omitempty"`
	ChannelUtilization *float64   `json:"channel_utilization,omitempty"`
	AirUtilTx          *float64   `json:"air_util_tx,omitempty"`
	UptimeSeconds      *int64     `json:"uptime_seconds,omitempty"`
	Temperature        *float64   `json:"temperature,omitempty"`
	RelativeHumidity   *float64   `json:"relative_humidity,omitempty"`
	BarometricPressure *float64   `json:"barometric_pressure,omitempty"`
	Time               *time.Time `json:"time,omitempty"`
}

// SignalData is an SNR reading with its quality tier
type SignalData struct {
	SNR      float64 `json:"snr"`
	Tier     string  `json:"tier"`
	Label    string  `json:"label"`
	CSSClass string  `json:"css_class"`
}

// LinkData is one direct reception link as seen from a node
type LinkData struct {
	PeerID     string      `json:"peer_id"`
	PeerName   string      `json:"peer_name"`
	Known      bool        `json:"known"`
	Count      int         `json:"count"`
	Best       *SignalData `json:"best,omitempty"`
	AvgSNR     *float64    `json:"avg_snr,omitempty"`
	LastHeard  time.Time   `json:"last_heard"`
	DistanceKm *float64    `json:"distance_km,omitempty"`
}

// ZeroHopData holds both directions of direct reception for a node
type ZeroHopData struct {
	NodeID  string     `json:"node_id"`
	Heard   []LinkData `json:"heard"`
	HeardBy []LinkData `json:"heard_by"`
}

// MapLinkData is a directed link for the network map
type MapLinkData struct {
	From       string      `json:"from"`
	Observer   string      `json:"observer"`
	Count      int         `json:"count"`
	Best       *SignalData `json:"best,omitempty"`
	LastHeard  time.Time   `json:"last_heard"`
	DistanceKm *float64    `json:"distance_km,omitempty"`
}

// NeighborData is a self-reported neighbor
type NeighborData struct {
	NeighborID string      `json:"neighbor_id"`
	Name       string      `json:"name"`
	Known      bool        `json:"known"`
	Signal     *SignalData `json:"signal,omitempty"`
	DistanceKm *float64    `json:"distance_km,omitempty"`
	ReportedAt time.Time   `json:"reported_at"`
}

// HopData is one node along a traceroute
type HopData struct {
	NodeID string      `json:"node_id"`
	Name   string      `json:"name"`
	Known  bool        `json:"known"`
	Signal *SignalData `json:"signal,omitempty"`
}

// EdgeData is the hop between two consecutive route nodes
type EdgeData struct {
	From       string      `json:"from"`
	To         string      `json:"to"`
	Signal     *SignalData `json:"signal,omitempty"`
	DistanceKm *float64    `json:"distance_km,omitempty"`
}

// PathData is one direction of a traceroute
type PathData struct {
	Hops     []HopData  `json:"hops"`
	Edges    []EdgeData `json:"edges"`
	HopCount int        `json:"hop_count"`
}

// TracerouteData holds a reconstructed traceroute
type TracerouteData struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Channel   *int32    `json:"channel,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
	Forward   PathData  `json:"forward"`
	Return    *PathData `json:"return,omitempty"`
}

// ReceptionData is one gateway's reception of a message
type ReceptionData struct {
	ReceivedBy string      `json:"received_by"`
	Name       string      `json:"name"`
	Signal     *SignalData `json:"signal,omitempty"`
	RSSI       *int32      `json:"rssi,omitempty"`
	Hops       *int        `json:"hops,omitempty"`
	RxTime     time.Time   `json:"rx_time"`
}

// MessageData represents a chat message for display
type MessageData struct {
	ID         int64           `json:"id"`
	From       string          `json:"from"`
	FromName   string          `json:"from_name"`
	To         string          `json:"to"`
	Broadcast  bool            `json:"broadcast"`
	Channel    int32           `json:"channel"`
	Text       string          `json:"text"`
	CreatedAt  time.Time       `json:"created_at"`
	Receptions []ReceptionData `json:"receptions"`
}

// ChatPageData holds a page of chat messages
type ChatPageData struct {
	Messages   []MessageData     `json:"messages"`
	Pagination models.Pagination `json:"pagination"`
}

// TraceroutePageData holds a page of traceroutes
type TraceroutePageData struct {
	Traceroutes []TracerouteData  `json:"traceroutes"`
	Pagination  models.Pagination `json:"pagination"`
}

// DistanceData is the result of a distance query
type DistanceData struct {
	A          string   `json:"a"`
	B          string   `json:"b"`
	DistanceKm *float64 `json:"distance_km"`
}
