package ws

import (
	"sync"
	"time"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

const defaultRetention = 5 * time.Minute

// Hub fans build log lines out to subscribers of a bake. Lines published
// before a subscriber joins are replayed from a bounded backlog, and a
// finished bake closes its subscribers. A finished bake's backlog is dropped
// after the retention period.
type Hub struct {
	mu        sync.Mutex
	streams   map[string]*stream
	backlog   int
	retention time.Duration
}

// stream fields other than deliver are guarded by Hub.mu. deliver orders
// replay, broadcast and close within one bake without holding Hub.mu while
// writing to clients.
type stream struct {
	deliver sync.Mutex
	clients map[Subscriber]struct{}
	lines   [][]byte
	done    bool
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithRetention sets how long a finished bake's backlog stays available.
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) { h.retention = d }
}

// NewHub creates a hub keeping up to backlog lines per bake.
func NewHub(backlog int, opts ...HubOption) *Hub {
	if backlog <= 0 {
		backlog = 500
	}
	h := &Hub{streams: make(map[string]*stream), backlog: backlog, retention: defaultRetention}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) streamFor(bakeID string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[bakeID]
	if !ok {
		s = &stream{clients: make(map[Subscriber]struct{})}
		h.streams[bakeID] = s
	}
	return s
}

// Register subscribes a client to a bake and replays its backlog. It
// reports false when the bake already finished; the client is then closed
// after the replay.
func (h *Hub) Register(bakeID string, client Subscriber) bool {
	s := h.streamFor(bakeID)
	s.deliver.Lock()
	defer s.deliver.Unlock()

	h.mu.Lock()
	lines := append([][]byte(nil), s.lines...)
	done := s.done
	h.mu.Unlock()

	for _, line := range lines {
		if err := client.Send(line); err != nil {
			client.Close()
			return false
		}
	}
	if done {
		client.Close()
		return false
	}
	h.mu.Lock()
	s.clients[client] = struct{}{}
	h.mu.Unlock()
	return true
}

// Unregister removes a client.
func (h *Hub) Unregister(bakeID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[bakeID]; ok {
		delete(s.clients, client)
	}
}

// Broadcast sends payload to all bake subscribers. A slow subscriber only
// delays lines of its own bake.
func (h *Hub) Broadcast(bakeID string, payload []byte) {
	s := h.streamFor(bakeID)
	s.deliver.Lock()
	defer s.deliver.Unlock()

	h.mu.Lock()
	if s.done {
		h.mu.Unlock()
		return
	}
	line := append([]byte(nil), payload...)
	s.lines = append(s.lines, line)
	if len(s.lines) > h.backlog {
		s.lines = s.lines[len(s.lines)-h.backlog:]
	}
	clients := make([]Subscriber, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var failed []Subscriber
	for _, c := range clients {
		if err := c.Send(line); err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range failed {
		delete(s.clients, c)
	}
	h.mu.Unlock()
	for _, c := range failed {
		c.Close()
	}
}

// Finish closes every subscriber of a bake and schedules its backlog for
// removal.
func (h *Hub) Finish(bakeID string) {
	s := h.streamFor(bakeID)
	s.deliver.Lock()
	h.mu.Lock()
	s.done = true
	clients := s.clients
	s.clients = map[Subscriber]struct{}{}
	h.mu.Unlock()
	for c := range clients {
		c.Close()
	}
	s.deliver.Unlock()

	if h.retention <= 0 {
		h.drop(bakeID, s)
		return
	}
	time.AfterFunc(h.retention, func() { h.drop(bakeID, s) })
}

func (h *Hub) drop(bakeID string, s *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[bakeID] == s {
		delete(h.streams, bakeID)
	}
}

// Forget drops a bake's backlog.
func (h *Hub) Forget(bakeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, bakeID)
}

// Known reports whether the hub holds a stream for a bake.
func (h *Hub) Known(bakeID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[bakeID]
	return ok
}

// Streams returns the number of bakes with a live or retained stream.
func (h *Hub) Streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Subscribers returns the number of live subscribers of a bake.
func (h *Hub) Subscribers(bakeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[bakeID]; ok {
		return len(s.clients)
	}
	return 0
}
