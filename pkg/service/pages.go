package service

import (
	"context"

	"github.com/kabili207/meshinfo/pkg/mesh"
	"github.com/kabili207/meshinfo/pkg/models"
)

type ChatPage struct {
	Messages   []*models.Message
	Pagination models.Pagination
}

type TraceroutePage struct {
	Traceroutes []mesh.PathView
	Pagination  models.Pagination
}

func clampPage(page int) int {
	return max(page, 1)
}

// Chat returns one page of messages, newest first. A datastore failure with
// nothing cached yields an empty page.
func (s *Service) Chat(ctx context.Context, page int) *ChatPage {
	page = clampPage(page)
	rows, err := s.chat.Get(ctx, page)
	if err != nil {
		s.log.Error("chat unavailable", "page", page, "error", err)
	}
	return &ChatPage{
		Messages:   rows.items,
		Pagination: models.NewPagination(page, s.settings.ChatPageSize, rows.total),
	}
}

// Traceroutes returns one page of traceroutes reconstructed against the
// current node snapshot.
func (s *Service) Traceroutes(ctx context.Context, page int) *TraceroutePage {
	page = clampPage(page)
	rows, err := s.traceroutes.Get(ctx, page)
	if err != nil {
		s.log.Error("traceroutes unavailable", "page", page, "error", err)
	}

	snap := s.nodes.GetAll(ctx)
	views := make([]mesh.PathView, len(rows.items))
	for i, tr := range rows.items {
		views[i] = mesh.Reconstruct(tr, snap)
	}
	return &TraceroutePage{
		Traceroutes: views,
		Pagination:  models.NewPagination(page, s.settings.TraceroutePageSize, rows.total),
	}
}

// Traceroute loads and reconstructs a single traceroute. It returns nil
// when the traceroute does not exist.
func (s *Service) Traceroute(ctx context.Context, id int64) (*mesh.PathView, error) {
	tr, err := s.store.FetchTraceroute(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, nil
	}
	pv := mesh.Reconstruct(tr, s.nodes.GetAll(ctx))
	return &pv, nil
}
