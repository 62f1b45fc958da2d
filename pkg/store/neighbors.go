package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kabili207/meshinfo/pkg/models"
)

// NeighborStore reads self-reported neighbor lists.
type NeighborStore interface {
	FetchNeighborReports(ctx context.Context) ([]models.NeighborRecord, error)
}

type postgresNeighborStore struct {
	db *sqlx.DB
}

func NewNeighborStore(dbconn *sqlx.DB) NeighborStore {
	return &postgresNeighborStore{db: dbconn}
}

func (s *postgresNeighborStore) FetchNeighborReports(ctx context.Context) ([]models.NeighborRecord, error) {
	var out []models.NeighborRecord
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, neighbor_id, snr, ts_created
		FROM neighborinfo
		ORDER BY id, snr DESC NULLS LAST;`)
	return out, err
}
