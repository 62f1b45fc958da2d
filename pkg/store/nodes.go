package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

var selectNodes = `
SELECT n.id, n.long_name, n.short_name, n.hw_model, n.role, n.firmware_version,
       n.owner_username, n.updated_via, n.ts_seen, n.ts_created,
       p.id AS position_id, p.latitude_i, p.longitude_i, p.altitude, p.geocoded,
       p.ts_updated AS position_updated,
       t.id AS telemetry_id, t.battery_level, t.voltage, t.channel_utilization,
       t.air_util_tx, t.uptime_seconds, t.temperature, t.relative_humidity,
       t.barometric_pressure, t.telemetry_time
FROM nodeinfo n
LEFT JOIN position p ON p.id = n.id
LEFT JOIN LATERAL (
    SELECT * FROM telemetry tt WHERE tt.id = n.id ORDER BY tt.ts_created DESC LIMIT 1
) t ON TRUE`

// NodeStore reads node metadata joined with the latest position and telemetry.
type NodeStore interface {
	// FetchNodes returns every known node.
	FetchNodes(ctx context.Context) ([]*models.Node, error)
	// GetNode returns a single node, or nil if it does not exist.
	GetNode(ctx context.Context, id meshtastic.NodeID) (*models.Node, error)
}

type postgresNodeStore struct {
	db *sqlx.DB
}

func NewNodeStore(dbconn *sqlx.DB) NodeStore {
	return &postgresNodeStore{db: dbconn}
}

// nodeRow is the flat shape of one selectNodes row.
type nodeRow struct {
	ID              meshtastic.NodeID  `db:"id"`
	LongName        string             `db:"long_name"`
	ShortName       string             `db:"short_name"`
	HwModel         *int32             `db:"hw_model"`
	Role            *int64             `db:"role"`
	FirmwareVersion *string            `db:"firmware_version"`
	OwnerUsername   *string            `db:"owner_username"`
	UpdatedVia      *meshtastic.NodeID `db:"updated_via"`
	TsSeen          *time.Time         `db:"ts_seen"`
	TsCreated       time.Time          `db:"ts_created"`

	PositionID      *int64     `db:"position_id"`
	LatitudeI       *int32     `db:"latitude_i"`
	LongitudeI      *int32     `db:"longitude_i"`
	Altitude        *int32     `db:"altitude"`
	Geocoded        *string    `db:"geocoded"`
	PositionUpdated *time.Time `db:"position_updated"`

	TelemetryID        *int64     `db:"telemetry_id"`
	BatteryLevel       *int32     `db:"battery_level"`
	Voltage            *float64   `db:"voltage"`
	ChannelUtilization *float64   `db:"channel_utilization"`
	AirUtilTx          *float64   `db:"air_util_tx"`
	UptimeSeconds      *int64     `db:"uptime_seconds"`
	Temperature        *float64   `db:"temperature"`
	RelativeHumidity   *float64   `db:"relative_humidity"`
	BarometricPressure *float64   `db:"barometric_pressure"`
	TelemetryTime      *time.Time `db:"telemetry_time"`
}

func (r *nodeRow) toModel() *models.Node {
	n := &models.Node{
		ID:              r.ID,
		ShortName:       r.ShortName,
		LongName:        r.LongName,
		HwModel:         r.HwModel,
		FirmwareVersion: r.FirmwareVersion,
		Role:            models.RoleFromInt(r.Role),
		TsCreated:       r.TsCreated,
		TsSeen:          r.TsSeen,
		OwnerUsername:   r.OwnerUsername,
		UpdatedVia:      r.UpdatedVia,
	}
	if r.PositionID != nil {
		n.Position = &models.Position{
			LatitudeI:  r.LatitudeI,
			LongitudeI: r.LongitudeI,
			Altitude:   r.Altitude,
			Geocoded:   r.Geocoded,
			UpdatedAt:  r.PositionUpdated,
		}
	}
	if r.TelemetryID != nil {
		n.Telemetry = &models.Telemetry{
			BatteryLevel:       r.BatteryLevel,
			Voltage:            r.Voltage,
			ChannelUtilization: r.ChannelUtilization,
			AirUtilTx:          r.AirUtilTx,
			UptimeSeconds:      r.UptimeSeconds,
			Temperature:        r.Temperature,
			RelativeHumidity:   r.RelativeHumidity,
			BarometricPressure: r.BarometricPressure,
			TelemetryTime:      r.TelemetryTime,
		}
	}
	return n
}

func (s *postgresNodeStore) FetchNodes(ctx context.Context) ([]*models.Node, error) {
	var rows []nodeRow
	if err := s.db.SelectContext(ctx, &rows, selectNodes+" ORDER BY n.id;"); err != nil {
		return nil, err
	}
	nodes := make([]*models.Node, len(rows))
	for i := range rows {
		nodes[i] = rows[i].toModel()
	}
	return nodes, nil
}

func (s *postgresNodeStore) GetNode(ctx context.Context, id meshtastic.NodeID) (*models.Node, error) {
	var row nodeRow
	err := s.db.GetContext(ctx, &row, selectNodes+" WHERE n.id = $1;", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}
