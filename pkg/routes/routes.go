// Package routes serves the JSON API over the cached mesh views.
package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabili207/meshinfo/internal/web/components"
	"github.com/kabili207/meshinfo/pkg/cache"
	"github.com/kabili207/meshinfo/pkg/config"
	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/service"
)

// Pinger reports datastore health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type WebRouter struct {
	svc       *service.Service
	manager   *cache.Manager
	notifier  *ChangeNotifier
	pinger    Pinger
	metrics   config.MetricsConfig
	registry  *prometheus.Registry
	decoder   *schema.Decoder
	heartbeat time.Duration
	log       *slog.Logger
}

type Options struct {
	Manager  *cache.Manager
	Notifier *ChangeNotifier
	Pinger   Pinger
	Metrics  config.MetricsConfig
	// Registry receives HTTP metrics and backs the metrics endpoint.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

func NewWebRouter(svc *service.Service, opts Options) *WebRouter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewChangeNotifier()
	}
	if opts.Manager == nil {
		opts.Manager = cache.NewManager()
		opts.Manager.Register(svc.Caches()...)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &WebRouter{
		svc:       svc,
		manager:   opts.Manager,
		notifier:  opts.Notifier,
		pinger:    opts.Pinger,
		metrics:   opts.Metrics,
		registry:  opts.Registry,
		decoder:   decoder,
		heartbeat: 30 * time.Second,
		log:       opts.Logger,
	}
}

// Handler builds the router with its middleware chain.
func (wr *WebRouter) Handler() http.Handler {
	myRouter := mux.NewRouter().StrictSlash(true)

	api := myRouter.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", wr.getHealth).Methods("GET")
	api.HandleFunc("/nodes", wr.getNodes).Methods("GET")
	api.HandleFunc("/nodes/{id}", wr.getNode).Methods("GET")
	api.HandleFunc("/nodes/{id}/zero-hop", wr.getZeroHop).Methods("GET")
	api.HandleFunc("/nodes/{id}/neighbors", wr.getNeighbors).Methods("GET")
	api.HandleFunc("/links", wr.getLinks).Methods("GET")
	api.HandleFunc("/chat", wr.getChat).Methods("GET")
	api.HandleFunc("/traceroutes", wr.getTraceroutes).Methods("GET")
	api.HandleFunc("/traceroutes/{id}", wr.getTraceroute).Methods("GET")
	api.HandleFunc("/distance", wr.getDistance).Methods("GET")
	api.HandleFunc("/cache", wr.getCacheStats).Methods("GET")
	api.HandleFunc("/cache", wr.invalidateCaches).Methods("DELETE")
	api.HandleFunc("/events", wr.eventsSSE).Methods("GET")

	if wr.metrics.Enabled {
		myRouter.Handle(wr.metrics.Path, promhttp.HandlerFor(wr.registry, promhttp.HandlerOpts{})).Methods("GET")
		myRouter.Use(newHTTPMetrics(wr.registry).Middleware)
	}

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(wr.RequestLogger)
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))

	return h(myRouter)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (wr *WebRouter) ListenAndServe(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           wr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		wr.log.Info("http server listening", "addr", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (wr *WebRouter) RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		wr.log.Debug("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func (wr *WebRouter) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		wr.log.Error("error encoding response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func (wr *WebRouter) writeError(w http.ResponseWriter, status int, msg string) {
	wr.writeJSON(w, status, errorBody{Error: msg})
}

func (wr *WebRouter) nodeIDVar(w http.ResponseWriter, r *http.Request) (meshtastic.NodeID, bool) {
	id, err := wr.svc.ResolveNodeID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		wr.writeError(w, http.StatusBadRequest, "invalid node id")
		return 0, false
	}
	return id, true
}

func (wr *WebRouter) decodeQuery(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := wr.decoder.Decode(dst, r.URL.Query()); err != nil {
		wr.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (wr *WebRouter) getHealth(w http.ResponseWriter, r *http.Request) {
	if wr.pinger != nil {
		if err := wr.pinger.Ping(r.Context()); err != nil {
			wr.log.Warn("health check failed", "error", err)
			wr.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	wr.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nodesQuery struct {
	Sort       string `schema:"sort"`
	ActiveOnly bool   `schema:"active"`
}

func (wr *WebRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	var q nodesQuery
	if !wr.decodeQuery(w, r, &q) {
		return
	}
	switch q.Sort {
	case "", components.SortByID, components.SortByName, components.SortByLastSeen:
	default:
		wr.writeError(w, http.StatusBadRequest, "invalid sort order")
		return
	}

	nodes := components.NewNodeList(wr.svc.Nodes(r.Context()).Nodes())
	if q.ActiveOnly {
		active := nodes[:0]
		for _, n := range nodes {
			if n.Active {
				active = append(active, n)
			}
		}
		nodes = active
	}
	components.SortNodes(nodes, q.Sort)
	wr.writeJSON(w, http.StatusOK, nodes)
}

func (wr *WebRouter) getNode(w http.ResponseWriter, r *http.Request) {
	id, ok := wr.nodeIDVar(w, r)
	if !ok {
		return
	}
	node, ok := wr.svc.Node(r.Context(), id)
	if !ok {
		wr.writeError(w, http.StatusNotFound, "node not found")
		return
	}
	wr.writeJSON(w, http.StatusOK, components.NewNodeData(node))
}

func (wr *WebRouter) getZeroHop(w http.ResponseWriter, r *http.Request) {
	id, ok := wr.nodeIDVar(w, r)
	if !ok {
		return
	}
	wr.writeJSON(w, http.StatusOK, components.ZeroHopData{
		NodeID:  id.String(),
		Heard:   components.NewLinkList(wr.svc.ZeroHopHeard(r.Context(), id)),
		HeardBy: components.NewLinkList(wr.svc.ZeroHopHeardBy(r.Context(), id)),
	})
}

func (wr *WebRouter) getNeighbors(w http.ResponseWriter, r *http.Request) {
	id, ok := wr.nodeIDVar(w, r)
	if !ok {
		return
	}
	wr.writeJSON(w, http.StatusOK, components.NewNeighborList(wr.svc.Neighbors(r.Context(), id)))
}

func (wr *WebRouter) getLinks(w http.ResponseWriter, r *http.Request) {
	links := wr.svc.ZeroHopLinks(r.Context())
	wr.writeJSON(w, http.StatusOK, components.NewMapLinks(links, wr.svc.Nodes(r.Context())))
}

type pageQuery struct {
	Page int `schema:"page"`
}

func (wr *WebRouter) getChat(w http.ResponseWriter, r *http.Request) {
	q := pageQuery{Page: 1}
	if !wr.decodeQuery(w, r, &q) {
		return
	}
	page := wr.svc.Chat(r.Context(), q.Page)
	wr.writeJSON(w, http.StatusOK, components.NewChatPage(page, wr.svc.Nodes(r.Context())))
}

func (wr *WebRouter) getTraceroutes(w http.ResponseWriter, r *http.Request) {
	q := pageQuery{Page: 1}
	if !wr.decodeQuery(w, r, &q) {
		return
	}
	wr.writeJSON(w, http.StatusOK, components.NewTraceroutePage(wr.svc.Traceroutes(r.Context(), q.Page)))
}

func (wr *WebRouter) getTraceroute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		wr.writeError(w, http.StatusBadRequest, "invalid traceroute id")
		return
	}
	pv, err := wr.svc.Traceroute(r.Context(), id)
	if err != nil {
		wr.log.Error("error loading traceroute", "id", id, "error", err)
		wr.writeError(w, http.StatusServiceUnavailable, "traceroute unavailable")
		return
	}
	if pv == nil {
		wr.writeError(w, http.StatusNotFound, "traceroute not found")
		return
	}
	wr.writeJSON(w, http.StatusOK, components.NewTracerouteData(pv))
}

type distanceQuery struct {
	A string `schema:"a,required"`
	B string `schema:"b,required"`
}

func (wr *WebRouter) getDistance(w http.ResponseWriter, r *http.Request) {
	var q distanceQuery
	if !wr.decodeQuery(w, r, &q) {
		return
	}
	a, errA := wr.svc.ResolveNodeID(r.Context(), q.A)
	b, errB := wr.svc.ResolveNodeID(r.Context(), q.B)
	if errA != nil || errB != nil {
		wr.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	out := components.DistanceData{A: a.String(), B: b.String()}
	if km, ok := wr.svc.Distance(r.Context(), a, b); ok {
		out.DistanceKm = &km
	}
	wr.writeJSON(w, http.StatusOK, out)
}

func (wr *WebRouter) getCacheStats(w http.ResponseWriter, r *http.Request) {
	wr.writeJSON(w, http.StatusOK, wr.manager.Stats())
}

func (wr *WebRouter) invalidateCaches(w http.ResponseWriter, r *http.Request) {
	wr.manager.InvalidateAll()
	wr.notifier.Notify(allTopics...)
	wr.log.Info("caches invalidated", "remote_host", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}
