// Package store implements the postgres datastore the caches load from.
package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Stores groups every table store behind one value.
type Stores struct {
	NodeStore
	ReceptionStore
	MessageStore
	TracerouteStore
	NeighborStore

	db *sqlx.DB
}

func New(dbconn *sqlx.DB) *Stores {
	return &Stores{
		NodeStore:       NewNodeStore(dbconn),
		ReceptionStore:  NewReceptionStore(dbconn),
		MessageStore:    NewMessageStore(dbconn),
		TracerouteStore: NewTracerouteStore(dbconn),
		NeighborStore:   NewNeighborStore(dbconn),
		db:              dbconn,
	}
}

func (s *Stores) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Stores) Close() error {
	return s.db.Close()
}
