package models

import (
	"time"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
)

// Role is the device role a node advertises in its NODEINFO.
type Role int

const (
	RoleUnknown Role = -1

	RoleClient       Role = 0
	RoleClientMute   Role = 1
	RoleRouter       Role = 2
	RoleRouterClient Role = 3
	RoleRepeater     Role = 4
	RoleTracker      Role = 5
	RoleSensor       Role = 6
	RoleTAK          Role = 7
	RoleClientHidden Role = 8
	RoleLostAndFound Role = 9
	RoleTAKTracker   Role = 10
)

var roleNames = map[Role]string{
	RoleClient:       "Client",
	RoleClientMute:   "Client Mute",
	RoleRouter:       "Router",
	RoleRouterClient: "Router Client",
	RoleRepeater:     "Repeater",
	RoleTracker:      "Tracker",
	RoleSensor:       "Sensor",
	RoleTAK:          "TAK",
	RoleClientHidden: "Client Hidden",
	RoleLostAndFound: "Lost and Found",
	RoleTAKTracker:   "TAK Tracker",
}

// RoleFromInt maps a stored role value, treating NULL and out-of-range values as unknown.
func RoleFromInt(v *int64) Role {
	if v == nil {
		return RoleUnknown
	}
	r := Role(*v)
	if _, ok := roleNames[r]; !ok {
		return RoleUnknown
	}
	return r
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "Unknown"
}

// Position is the last reported location of a node. Coordinates are stored
// as integers scaled by 1e7, the same way the firmware sends them.
type Position struct {
	LatitudeI  *int32
	LongitudeI *int32
	Altitude   *int32
	Geocoded   *string
	UpdatedAt  *time.Time
}

// Latitude returns the latitude in decimal degrees.
func (p *Position) Latitude() (float64, bool) {
	if p == nil || p.LatitudeI == nil {
		return 0, false
	}
	return float64(*p.LatitudeI) / 1e7, true
}

// Longitude returns the longitude in decimal degrees.
func (p *Position) Longitude() (float64, bool) {
	if p == nil || p.LongitudeI == nil {
		return 0, false
	}
	return float64(*p.LongitudeI) / 1e7, true
}

// HasLocation returns true if both coordinates are known.
func (p *Position) HasLocation() bool {
	return p != nil && p.LatitudeI != nil && p.LongitudeI != nil
}

// Telemetry is the most recent device and environment metrics for a node.
type Telemetry struct {
	BatteryLevel       *int32
	Voltage            *float64
	ChannelUtilization *float64
	AirUtilTx          *float64
	UptimeSeconds      *int64
	Temperature        *float64
	RelativeHumidity   *float64
	BarometricPressure *float64
	TelemetryTime      *time.Time
}

// Node is the cached view of a single mesh node.
type Node struct {
	ID              meshtastic.NodeID
	ShortName       string
	LongName        string
	HwModel         *int32
	FirmwareVersion *string
	Role            Role
	Position        *Position
	Telemetry       *Telemetry
	TsCreated       time.Time
	TsSeen          *time.Time
	Active          bool
	OwnerUsername   *string
	UpdatedVia      *meshtastic.NodeID
}

// GetSafeShortName returns the short name, falling back to the firmware default.
func (n *Node) GetSafeShortName() string {
	if n.ShortName != "" {
		return n.ShortName
	}
	return n.ID.DefaultShortName()
}

// GetSafeLongName returns the long name, falling back to the firmware default.
func (n *Node) GetSafeLongName() string {
	if n.LongName != "" {
		return n.LongName
	}
	return n.ID.DefaultLongName()
}

// IsActiveAt reports whether the node was seen within threshold of now.
func (n *Node) IsActiveAt(now time.Time, threshold time.Duration) bool {
	if n.TsSeen == nil {
		return false
	}
	return n.TsSeen.After(now.Add(-threshold))
}
