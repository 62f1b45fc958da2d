package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kabili207/meshinfo/pkg/models"
)

// directOnly keeps receptions heard without a relay. Rows from firmware
// that does not report hop_start are kept.
const directOnly = ` AND (hop_start IS NULL OR hop_limit IS NULL OR hop_start = hop_limit)`

const selectMessageReceptions = `
SELECT message_id AS packet_id, from_id, received_by_id, rx_time, rx_snr, rx_rssi, hop_start, hop_limit
FROM message_reception`

const selectReceptionLog = `
SELECT packet_id, from_id, received_by_id, rx_time, rx_snr, rx_rssi, hop_start, hop_limit
FROM reception_log`

// ReceptionStore reads and records packet receptions.
type ReceptionStore interface {
	// FetchReceptions returns logged receptions heard directly since the given time.
	FetchReceptions(ctx context.Context, since time.Time) ([]models.Reception, error)
	// FetchMessageReceptions returns direct receptions of text messages since the given time.
	FetchMessageReceptions(ctx context.Context, since time.Time) ([]models.Reception, error)
	// RecordReception stores one raw reception. Repeated receptions of the
	// same packet by the same observer are ignored.
	RecordReception(ctx context.Context, r *models.Reception, portnum int32) error
	// PruneReceptions deletes raw receptions older than the given time.
	PruneReceptions(ctx context.Context, before time.Time) (int64, error)
}

type postgresReceptionStore struct {
	db *sqlx.DB
}

func NewReceptionStore(dbconn *sqlx.DB) ReceptionStore {
	return &postgresReceptionStore{db: dbconn}
}

func (s *postgresReceptionStore) FetchReceptions(ctx context.Context, since time.Time) ([]models.Reception, error) {
	var out []models.Reception
	err := s.db.SelectContext(ctx, &out, selectReceptionLog+" WHERE rx_time >= $1"+directOnly+" ORDER BY rx_time;", since)
	return out, err
}

func (s *postgresReceptionStore) FetchMessageReceptions(ctx context.Context, since time.Time) ([]models.Reception, error) {
	var out []models.Reception
	err := s.db.SelectContext(ctx, &out, selectMessageReceptions+" WHERE rx_time >= $1"+directOnly+" ORDER BY rx_time;", since)
	return out, err
}

func (s *postgresReceptionStore) RecordReception(ctx context.Context, r *models.Reception, portnum int32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reception_log
			(packet_id, from_id, received_by_id, portnum, rx_time, rx_snr, rx_rssi, hop_limit, hop_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (packet_id, from_id, received_by_id) DO NOTHING;`,
		r.PacketID, r.From, r.ReceivedBy, portnum, r.RxTime, r.RxSnr, r.RxRssi, r.HopLimit, r.HopStart)
	return err
}

func (s *postgresReceptionStore) PruneReceptions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reception_log WHERE rx_time < $1;`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
