package routes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/meshinfo/internal/web/components"
	"github.com/kabili207/meshinfo/pkg/cache"
	"github.com/kabili207/meshinfo/pkg/config"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
	"github.com/kabili207/meshinfo/pkg/service"
)

var testNow = time.Date(2026, 4, 10, 18, 30, 0, 0, time.UTC)

type fakeStore struct {
	mu          sync.Mutex
	nodes       []*models.Node
	receptions  []models.Reception
	traceroutes []*models.Traceroute
	messages    []*models.Message
	err         error
}

func (f *fakeStore) FetchNodes(context.Context) ([]*models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes, f.err
}

func (f *fakeStore) FetchReceptions(context.Context, time.Time) ([]models.Reception, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receptions, f.err
}

func (f *fakeStore) FetchMessageReceptions(context.Context, time.Time) ([]models.Reception, error) {
	return nil, nil
}

func (f *fakeStore) FetchNeighborReports(context.Context) ([]models.NeighborRecord, error) {
	snr := -7.5
	return []models.NeighborRecord{
		{NodeID: 1, NeighborID: 2, SNR: &snr, TsCreated: testNow},
		{NodeID: 1, NeighborID: 3, TsCreated: testNow},
	}, nil
}

func (f *fakeStore) FetchTraceroutes(_ context.Context, page, size int) ([]*models.Traceroute, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.traceroutes, len(f.traceroutes), nil
}

func (f *fakeStore) FetchTraceroute(_ context.Context, id int64) (*models.Traceroute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, tr := range f.traceroutes {
		if tr.ID == id {
			return tr, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FetchChat(_ context.Context, page, size int) ([]*models.Message, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	p := models.NewPagination(page, size, len(f.messages))
	if p.StartItem == 0 {
		return nil, len(f.messages), nil
	}
	return f.messages[p.StartItem-1 : p.EndItem], len(f.messages), nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func i32(v int32) *int32 { return &v }

func testNode(id meshtastic.NodeID, name string, lat, lon float64, seen time.Duration) *models.Node {
	ts := testNow.Add(-seen)
	return &models.Node{
		ID:       id,
		LongName: name,
		TsSeen:   &ts,
		Position: &models.Position{LatitudeI: i32(int32(lat * 1e7)), LongitudeI: i32(int32(lon * 1e7))},
	}
}

func newTestStore() *fakeStore {
	snr := 3.0
	pkt := int64(77)
	return &fakeStore{
		nodes: []*models.Node{
			testNode(1, "Charlie", 10, 0, time.Hour),
			testNode(2, "alpha", 11, 0, time.Minute),
			testNode(3, "Bravo", 12, 0, 72*time.Hour),
		},
		receptions: []models.Reception{
			{PacketID: &pkt, From: 2, ReceivedBy: 1, RxTime: testNow.Add(-time.Hour), RxSnr: &snr},
		},
		traceroutes: []*models.Traceroute{
			{ID: 1, From: 1, To: 2, TsCreated: testNow, Route: models.IDList{}, SnrTowards: models.SNRList{6.0}, Success: true},
		},
		messages: []*models.Message{
			{MessageID: 10, From: 1, To: meshtastic.BROADCAST_ID, Text: "one", TsCreated: testNow},
			{MessageID: 11, From: 2, To: meshtastic.BROADCAST_ID, Text: "two", TsCreated: testNow},
			{MessageID: 12, From: 9, To: 1, Text: "three", TsCreated: testNow},
		},
	}
}

type testEnv struct {
	store    *fakeStore
	svc      *service.Service
	router   *WebRouter
	handler  http.Handler
	notifier *ChangeNotifier
}

func newTestEnv(t *testing.T, pinger Pinger) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newTestStore()
	svc := service.New(store, service.Settings{
		NodeTTL:            time.Minute,
		AppTTL:             time.Minute,
		ZeroHopWindow:      12 * time.Hour,
		ActiveThreshold:    24 * time.Hour,
		ChatPageSize:       2,
		TraceroutePageSize: 2,
		Logger:             logger,
		Now:                func() time.Time { return testNow },
	})
	t.Cleanup(svc.Close)

	manager := cache.NewManager(cache.WithManagerLogger(logger))
	manager.Register(svc.Caches()...)
	notifier := NewChangeNotifier()

	wr := NewWebRouter(svc, Options{
		Manager:  manager,
		Notifier: notifier,
		Pinger:   pinger,
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	})
	return &testEnv{store: store, svc: svc, router: wr, handler: wr.Handler(), notifier: notifier}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusCodes(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{"GET", "/api/nodes", http.StatusOK},
		{"GET", "/api/nodes?sort=bogus", http.StatusBadRequest},
		{"GET", "/api/nodes/!00000001", http.StatusOK},
		{"GET", "/api/nodes/not-a-node", http.StatusBadRequest},
		{"GET", "/api/nodes/!0000ffff", http.StatusNotFound},
		{"GET", "/api/nodes/!0000ffff/zero-hop", http.StatusOK},
		{"GET", "/api/nodes/xyz/zero-hop", http.StatusBadRequest},
		{"GET", "/api/nodes/1/neighbors", http.StatusOK},
		{"GET", "/api/links", http.StatusOK},
		{"GET", "/api/chat", http.StatusOK},
		{"GET", "/api/chat?page=abc", http.StatusBadRequest},
		{"GET", "/api/traceroutes?page=1", http.StatusOK},
		{"GET", "/api/traceroutes/1", http.StatusOK},
		{"GET", "/api/traceroutes/99", http.StatusNotFound},
		{"GET", "/api/traceroutes/abc", http.StatusBadRequest},
		{"GET", "/api/distance?a=!00000001&b=!00000002", http.StatusOK},
		{"GET", "/api/distance?a=!00000001", http.StatusBadRequest},
		{"GET", "/api/distance?a=!00000001&b=zz", http.StatusBadRequest},
		{"GET", "/api/cache", http.StatusOK},
		{"DELETE", "/api/cache", http.StatusNoContent},
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := env.do(tt.method, tt.target)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetNodesSorted(t *testing.T) {
	env := newTestEnv(t, nil)

	byName := decode[[]components.NodeData](t, env.do("GET", "/api/nodes?sort=name"))
	require.Len(t, byName, 3)
	assert.Equal(t, []string{"alpha", "Bravo", "Charlie"}, []string{byName[0].LongName, byName[1].LongName, byName[2].LongName})

	active := decode[[]components.NodeData](t, env.do("GET", "/api/nodes?active=true&sort=last_seen"))
	require.Len(t, active, 2)
	assert.Equal(t, "!00000002", active[0].NodeID)
	assert.Equal(t, "!00000001", active[1].NodeID)
}

func TestGetNodeEightDigitDecimal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.mu.Lock()
	env.store.nodes = append(env.store.nodes, testNode(12345678, "Decimal", 13, 0, time.Minute))
	env.store.mu.Unlock()

	rec := env.do("GET", "/api/nodes/12345678")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	node := decode[components.NodeData](t, rec)
	assert.Equal(t, "!00bc614e", node.NodeID)
	assert.Equal(t, "Decimal", node.LongName)

	d := decode[components.DistanceData](t, env.do("GET", "/api/distance?a=12345678&b=!00000003"))
	assert.Equal(t, "!00bc614e", d.A)
	require.NotNil(t, d.DistanceKm)
	assert.InDelta(t, 111.19, *d.DistanceKm, 0.01)
}

func TestGetZeroHop(t *testing.T) {
	env := newTestEnv(t, nil)

	data := decode[components.ZeroHopData](t, env.do("GET", "/api/nodes/!00000001/zero-hop"))
	require.Len(t, data.Heard, 1)
	assert.Empty(t, data.HeardBy)

	link := data.Heard[0]
	assert.Equal(t, "!00000002", link.PeerID)
	assert.Equal(t, "alpha", link.PeerName)
	assert.Equal(t, 1, link.Count)
	require.NotNil(t, link.Best)
	assert.Equal(t, "good", link.Best.Tier)
	require.NotNil(t, link.DistanceKm)
	assert.InDelta(t, 111.19, *link.DistanceKm, 0.01)

	other := decode[components.ZeroHopData](t, env.do("GET", "/api/nodes/!00000002/zero-hop"))
	assert.Empty(t, other.Heard)
	require.Len(t, other.HeardBy, 1)
	assert.Equal(t, "!00000001", other.HeardBy[0].PeerID)
}

func TestGetNeighbors(t *testing.T) {
	env := newTestEnv(t, nil)

	neighbors := decode[[]components.NeighborData](t, env.do("GET", "/api/nodes/!00000001/neighbors"))
	require.Len(t, neighbors, 2)
	assert.Equal(t, "!00000002", neighbors[0].NeighborID)
	require.NotNil(t, neighbors[0].Signal)
	assert.Equal(t, "poor", neighbors[0].Signal.Tier)
	assert.Nil(t, neighbors[1].Signal)
}

func TestGetChatPagination(t *testing.T) {
	env := newTestEnv(t, nil)

	page := decode[components.ChatPageData](t, env.do("GET", "/api/chat?page=2"))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "three", page.Messages[0].Text)
	assert.Equal(t, "Meshtastic 0009", page.Messages[0].FromName)
	assert.False(t, page.Messages[0].Broadcast)
	assert.Equal(t, 2, page.Pagination.Page)
	assert.Equal(t, 2, page.Pagination.Pages)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.True(t, page.Pagination.HasPrev)
	assert.False(t, page.Pagination.HasNext)
	assert.Equal(t, 3, page.Pagination.StartItem)
	assert.Equal(t, 3, page.Pagination.EndItem)
}

func TestGetTraceroute(t *testing.T) {
	env := newTestEnv(t, nil)

	tr := decode[components.TracerouteData](t, env.do("GET", "/api/traceroutes/1"))
	assert.Equal(t, int64(1), tr.ID)
	assert.Equal(t, 1, tr.Forward.HopCount)
	require.Len(t, tr.Forward.Hops, 2)
	assert.True(t, tr.Forward.Hops[0].Known)
	assert.Equal(t, "0001", tr.Forward.Hops[0].Name)
	require.Len(t, tr.Forward.Edges, 1)
	require.NotNil(t, tr.Forward.Edges[0].Signal)
	assert.InDelta(t, 6.0, tr.Forward.Edges[0].Signal.SNR, 1e-9)
	assert.Nil(t, tr.Return)
}

func TestGetTracerouteStoreError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.mu.Lock()
	env.store.err = errors.New("connection refused")
	env.store.mu.Unlock()

	rec := env.do("GET", "/api/traceroutes/1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// list views degrade to empty pages
	rec = env.do("GET", "/api/traceroutes")
	assert.Equal(t, http.StatusOK, rec.Code)
	page := decode[components.TraceroutePageData](t, rec)
	assert.Empty(t, page.Traceroutes)
}

func TestGetDistance(t *testing.T) {
	env := newTestEnv(t, nil)

	d := decode[components.DistanceData](t, env.do("GET", "/api/distance?a=!00000001&b=00000003"))
	require.NotNil(t, d.DistanceKm)
	assert.InDelta(t, 222.39, *d.DistanceKm, 0.01)

	unknown := decode[components.DistanceData](t, env.do("GET", "/api/distance?a=!00000001&b=!00000099"))
	assert.Nil(t, unknown.DistanceKm)
}

func TestInvalidateCachesNotifies(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.notifier.subscribe()
	defer env.notifier.unsubscribe(sub)

	rec := env.do("DELETE", "/api/cache")
	require.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case <-sub.signal:
	default:
		t.Fatal("subscriber was not signalled")
	}
	assert.ElementsMatch(t, allTopics, sub.drain())
}

func TestCacheStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do("GET", "/api/nodes")

	stats := decode[cache.Stats](t, env.do("GET", "/api/cache"))
	assert.Equal(t, 3, stats.Caches["nodes"])
	assert.Contains(t, stats.Caches, "chat")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, fakePinger{err: errors.New("down")})
	rec := env.do("GET", "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do("GET", "/api/nodes/!00000001")

	rec := env.do("GET", "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `meshinfo_http_requests_total{code="200",route="/api/nodes/{id}"} 1`)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingInvalidator) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *countingInvalidator) InvalidateNodes()       { c.add(TopicNodes) }
func (c *countingInvalidator) InvalidateLinks()       { c.add(TopicLinks) }
func (c *countingInvalidator) InvalidateNeighbors()   { c.add(TopicNeighbors) }
func (c *countingInvalidator) InvalidateChat()        { c.add(TopicChat) }
func (c *countingInvalidator) InvalidateTraceroutes() { c.add(TopicTraceroutes) }

func TestNotifierWrap(t *testing.T) {
	cn := NewChangeNotifier()
	sub := cn.subscribe()
	defer cn.unsubscribe(sub)

	next := &countingInvalidator{}
	inv := cn.Wrap(next)
	inv.InvalidateChat()
	inv.InvalidateChat()
	inv.InvalidateNodes()

	assert.Equal(t, []string{TopicChat, TopicChat, TopicNodes}, next.calls)
	<-sub.signal
	assert.Equal(t, []string{TopicChat, TopicNodes}, sub.drain())
	assert.Empty(t, sub.drain())
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), ": connected")

	// the subscription is registered before the connected comment is flushed
	env.notifier.Notify(TopicTraceroutes)

	var got strings.Builder
	for !strings.Contains(got.String(), "event: traceroutes-update") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
}
