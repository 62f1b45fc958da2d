// Package service is the read model consumed by the HTTP layer. It combines
// the datastore, the caches and the topology derivations in pkg/mesh.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabili207/meshinfo/pkg/cache"
	"github.com/kabili207/meshinfo/pkg/mesh"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// Datastore is the read side of the persistence layer.
type Datastore interface {
	FetchNodes(ctx context.Context) ([]*models.Node, error)
	FetchReceptions(ctx context.Context, since time.Time) ([]models.Reception, error)
	FetchMessageReceptions(ctx context.Context, since time.Time) ([]models.Reception, error)
	FetchNeighborReports(ctx context.Context) ([]models.NeighborRecord, error)
	FetchTraceroutes(ctx context.Context, page, pageSize int) ([]*models.Traceroute, int, error)
	FetchTraceroute(ctx context.Context, id int64) (*models.Traceroute, error)
	FetchChat(ctx context.Context, page, pageSize int) ([]*models.Message, int, error)
}

type Settings struct {
	NodeTTL            time.Duration
	AppTTL             time.Duration
	ZeroHopWindow      time.Duration
	ActiveThreshold    time.Duration
	ChatPageSize       int
	TraceroutePageSize int
	MaxEntries         int

	Metrics cache.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type pageRows[T any] struct {
	items []T
	total int
}

type Service struct {
	store    Datastore
	settings Settings
	log      *slog.Logger
	now      func() time.Time

	nodes       *cache.NodeCache
	links       *cache.Memo[struct{}, *mesh.ZeroHopTable]
	neighbors   *cache.Memo[struct{}, map[meshtastic.NodeID][]models.NeighborRecord]
	chat        *cache.Memo[int, pageRows[*models.Message]]
	traceroutes *cache.Memo[int, pageRows[*models.Traceroute]]
}

func New(store Datastore, s Settings) *Service {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Metrics == nil {
		s.Metrics = cache.NopMetrics()
	}
	if s.ChatPageSize <= 0 {
		s.ChatPageSize = 50
	}
	if s.TraceroutePageSize <= 0 {
		s.TraceroutePageSize = 100
	}

	svc := &Service{
		store:    store,
		settings: s,
		log:      s.Logger,
		now:      s.Now,
	}

	common := []cache.Option{
		cache.WithClock(s.Now),
		cache.WithMetrics(s.Metrics),
		cache.WithLogger(s.Logger),
	}
	appOpts := append([]cache.Option{cache.WithTTL(s.AppTTL), cache.WithCapacity(uint64(max(s.MaxEntries, 0)))}, common...)

	svc.nodes = cache.NewNodeCache(store.FetchNodes, s.ActiveThreshold,
		append([]cache.Option{cache.WithTTL(s.NodeTTL)}, common...)...)
	svc.links = cache.NewMemo[struct{}, *mesh.ZeroHopTable]("zero_hop", svc.loadLinks, appOpts...)
	svc.neighbors = cache.NewMemo[struct{}, map[meshtastic.NodeID][]models.NeighborRecord]("neighbors", svc.loadNeighbors, appOpts...)
	svc.chat = cache.NewMemo[int, pageRows[*models.Message]]("chat", svc.loadChat, appOpts...)
	svc.traceroutes = cache.NewMemo[int, pageRows[*models.Traceroute]]("traceroutes", svc.loadTraceroutes, appOpts...)
	return svc
}

// Caches lists every cache for registration with a cache.Manager.
func (s *Service) Caches() []cache.Invalidator {
	return []cache.Invalidator{s.nodes, s.links, s.neighbors, s.chat, s.traceroutes}
}

// Close stops the cache janitors.
func (s *Service) Close() {
	s.links.Close()
	s.neighbors.Close()
	s.chat.Close()
	s.traceroutes.Close()
}

func (s *Service) InvalidateNodes()       { s.nodes.Invalidate() }
func (s *Service) InvalidateLinks()       { s.links.Invalidate() }
func (s *Service) InvalidateNeighbors()   { s.neighbors.Invalidate() }
func (s *Service) InvalidateChat()        { s.chat.Invalidate() }
func (s *Service) InvalidateTraceroutes() { s.traceroutes.Invalidate() }

// Nodes returns the current node snapshot.
func (s *Service) Nodes(ctx context.Context) *cache.Snapshot {
	return s.nodes.GetAll(ctx)
}

// Node finds a node by id in the current snapshot.
func (s *Service) Node(ctx context.Context, id meshtastic.NodeID) (*models.Node, bool) {
	return s.nodes.GetAll(ctx).Lookup(id)
}

// ResolveNodeID parses a hex or decimal node id from a request, using the
// current snapshot to settle ids that read both ways.
func (s *Service) ResolveNodeID(ctx context.Context, raw string) (meshtastic.NodeID, error) {
	return s.nodes.GetAll(ctx).Resolve(raw)
}

// Classify exposes the SNR tiering used throughout the API.
func (s *Service) Classify(snr float64) mesh.Tier {
	return mesh.Classify(snr)
}

// Distance returns the distance between two nodes' last known positions.
func (s *Service) Distance(ctx context.Context, a, b meshtastic.NodeID) (float64, bool) {
	snap := s.nodes.GetAll(ctx)
	na, ok := snap.Lookup(a)
	if !ok {
		return 0, false
	}
	nb, ok := snap.Lookup(b)
	if !ok {
		return 0, false
	}
	return mesh.DistanceBetween(na, nb)
}

func (s *Service) loadLinks(ctx context.Context, _ struct{}) (*mesh.ZeroHopTable, error) {
	now := s.now()
	since := now.Add(-s.settings.ZeroHopWindow)
	if s.settings.ZeroHopWindow <= 0 {
		since = time.Time{}
	}

	chat, err := s.store.FetchMessageReceptions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("fetch message receptions: %w", err)
	}
	raw, err := s.store.FetchReceptions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("fetch receptions: %w", err)
	}

	merged := mesh.MergeReceptions(chat, raw)
	table := mesh.Aggregate(merged, s.settings.ZeroHopWindow, now)
	s.log.Debug("zero-hop links aggregated",
		"chat_receptions", len(chat), "raw_receptions", len(raw), "links", table.Len())
	return table, nil
}

func (s *Service) loadNeighbors(ctx context.Context, _ struct{}) (map[meshtastic.NodeID][]models.NeighborRecord, error) {
	records, err := s.store.FetchNeighborReports(ctx)
	if err != nil {
		return nil, err
	}
	byOwner := make(map[meshtastic.NodeID][]models.NeighborRecord)
	for _, r := range records {
		byOwner[r.NodeID] = append(byOwner[r.NodeID], r)
	}
	return byOwner, nil
}

func (s *Service) loadChat(ctx context.Context, page int) (pageRows[*models.Message], error) {
	msgs, total, err := s.store.FetchChat(ctx, page, s.settings.ChatPageSize)
	return pageRows[*models.Message]{items: msgs, total: total}, err
}

func (s *Service) loadTraceroutes(ctx context.Context, page int) (pageRows[*models.Traceroute], error) {
	trs, total, err := s.store.FetchTraceroutes(ctx, page, s.settings.TraceroutePageSize)
	return pageRows[*models.Traceroute]{items: trs, total: total}, err
}
