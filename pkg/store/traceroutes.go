package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kabili207/meshinfo/pkg/models"
)

var selectTraceroutes = `
SELECT traceroute_id, from_id, to_id, channel, ts_created, route, route_back,
       snr_towards, snr_back, success
FROM traceroute`

// TracerouteStore reads stored traceroutes.
type TracerouteStore interface {
	// FetchTraceroutes returns one page of traceroutes, newest first, and the
	// total number of traceroutes.
	FetchTraceroutes(ctx context.Context, page, pageSize int) ([]*models.Traceroute, int, error)
	// FetchTraceroute returns a single traceroute, or nil if it does not exist.
	FetchTraceroute(ctx context.Context, id int64) (*models.Traceroute, error)
}

type postgresTracerouteStore struct {
	db *sqlx.DB
}

func NewTracerouteStore(dbconn *sqlx.DB) TracerouteStore {
	return &postgresTracerouteStore{db: dbconn}
}

func (s *postgresTracerouteStore) FetchTraceroutes(ctx context.Context, page, pageSize int) ([]*models.Traceroute, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM traceroute;`); err != nil {
		return nil, 0, fmt.Errorf("count traceroutes: %w", err)
	}

	p := models.NewPagination(page, pageSize, total)
	var out []*models.Traceroute
	err := s.db.SelectContext(ctx, &out,
		selectTraceroutes+" ORDER BY ts_created DESC, traceroute_id DESC LIMIT $1 OFFSET $2;",
		p.PerPage, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("select traceroutes: %w", err)
	}
	return out, total, nil
}

func (s *postgresTracerouteStore) FetchTraceroute(ctx context.Context, id int64) (*models.Traceroute, error) {
	var tr models.Traceroute
	err := s.db.GetContext(ctx, &tr, selectTraceroutes+" WHERE traceroute_id = $1;", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}
