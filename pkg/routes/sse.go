package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/kabili207/meshinfo/pkg/ingest"
)

// Topics published by ChangeNotifier. Each names a cached view clients
// should refetch.
const (
	TopicNodes       = "nodes"
	TopicLinks       = "links"
	TopicNeighbors   = "neighbors"
	TopicChat        = "chat"
	TopicTraceroutes = "traceroutes"
)

var allTopics = []string{TopicNodes, TopicLinks, TopicNeighbors, TopicChat, TopicTraceroutes}

type subscriber struct {
	signal chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

func (s *subscriber) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.pending))
	for t := range s.pending {
		topics = append(topics, t)
	}
	clear(s.pending)
	slices.Sort(topics)
	return topics
}

// ChangeNotifier tells SSE subscribers which cached views changed
type ChangeNotifier struct {
	subscribers map[*subscriber]struct{}
	mu          sync.RWMutex
}

func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (cn *ChangeNotifier) subscribe() *subscriber {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	s := &subscriber{signal: make(chan struct{}, 1), pending: make(map[string]struct{})}
	cn.subscribers[s] = struct{}{}
	return s
}

func (cn *ChangeNotifier) unsubscribe(s *subscriber) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	delete(cn.subscribers, s)
}

// Notify marks topics as changed for every subscriber
func (cn *ChangeNotifier) Notify(topics ...string) {
	cn.mu.RLock()
	defer cn.mu.RUnlock()
	for s := range cn.subscribers {
		s.mu.Lock()
		for _, t := range topics {
			s.pending[t] = struct{}{}
		}
		s.mu.Unlock()
		select {
		case s.signal <- struct{}{}:
		default:
			// already signalled, pending set carries the topics
		}
	}
}

// Wrap returns an invalidator that forwards to next and then notifies
// subscribers of the matching topic.
func (cn *ChangeNotifier) Wrap(next ingest.Invalidator) ingest.Invalidator {
	return &notifyingInvalidator{next: next, cn: cn}
}

type notifyingInvalidator struct {
	next ingest.Invalidator
	cn   *ChangeNotifier
}

func (n *notifyingInvalidator) InvalidateNodes() {
	n.next.InvalidateNodes()
	n.cn.Notify(TopicNodes)
}

func (n *notifyingInvalidator) InvalidateLinks() {
	n.next.InvalidateLinks()
	n.cn.Notify(TopicLinks)
}

func (n *notifyingInvalidator) InvalidateNeighbors() {
	n.next.InvalidateNeighbors()
	n.cn.Notify(TopicNeighbors)
}

func (n *notifyingInvalidator) InvalidateChat() {
	n.next.InvalidateChat()
	n.cn.Notify(TopicChat)
}

func (n *notifyingInvalidator) InvalidateTraceroutes() {
	n.next.InvalidateTraceroutes()
	n.cn.Notify(TopicTraceroutes)
}

// SSE endpoint announcing cache changes. Events carry no payload; clients
// refetch the named view.
func (wr *WebRouter) eventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := wr.notifier.subscribe()
	defer wr.notifier.unsubscribe(sub)

	ctx := r.Context()
	ticker := time.NewTicker(wr.heartbeat)
	defer ticker.Stop()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.signal:
			for _, topic := range sub.drain() {
				if _, err := fmt.Fprintf(w, "event: %s-update\ndata: {}\n\n", topic); err != nil {
					slog.Debug("SSE client went away", "error", err)
					return
				}
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
