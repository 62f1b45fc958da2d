package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kabili207/meshinfo/pkg/models"
)

// MessageStore reads text messages with their receptions.
type MessageStore interface {
	// FetchChat returns one page of messages, newest first, and the total
	// number of messages.
	FetchChat(ctx context.Context, page, pageSize int) ([]*models.Message, int, error)
}

type postgresMessageStore struct {
	db *sqlx.DB
}

func NewMessageStore(dbconn *sqlx.DB) MessageStore {
	return &postgresMessageStore{db: dbconn}
}

func (s *postgresMessageStore) FetchChat(ctx context.Context, page, pageSize int) ([]*models.Message, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM text;`); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	p := models.NewPagination(page, pageSize, total)
	var msgs []*models.Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT message_id, from_id, to_id, channel, text, ts_created
		FROM text
		ORDER BY ts_created DESC, message_id DESC
		LIMIT $1 OFFSET $2;`, p.PerPage, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("select messages: %w", err)
	}
	if len(msgs) == 0 {
		return msgs, total, nil
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	var receptions []models.Reception
	err = s.db.SelectContext(ctx, &receptions, selectMessageReceptions+`
		WHERE message_id = ANY($1)
		ORDER BY rx_time;`, pq.Array(ids))
	if err != nil {
		return nil, 0, fmt.Errorf("select message receptions: %w", err)
	}

	attachReceptions(msgs, receptions)
	return msgs, total, nil
}

// attachReceptions distributes receptions onto their messages by packet id
// and sender, keeping reception order.
func attachReceptions(msgs []*models.Message, receptions []models.Reception) {
	type key struct {
		id   int64
		from uint32
	}
	byKey := make(map[key]*models.Message, len(msgs))
	for _, m := range msgs {
		byKey[key{m.MessageID, uint32(m.From)}] = m
	}
	for _, r := range receptions {
		if r.PacketID == nil {
			continue
		}
		if m, ok := byKey[key{*r.PacketID, uint32(r.From)}]; ok {
			m.Receptions = append(m.Receptions, r)
		}
	}
}
