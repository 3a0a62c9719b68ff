package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackclass/backend/internal/platform/logger"
)

// Scope names one progress stream. Course-level and stage-level streams
// are separate scopes; a commit publishes to both.
type Scope string

func CourseScope(enrollmentID uuid.UUID) Scope {
	return Scope(fmt.Sprintf("progress:%s", enrollmentID))
}

func StageScope(enrollmentID uuid.UUID, stageSlug string) Scope {
	return Scope(fmt.Sprintf("progress:%s:%s", enrollmentID, stageSlug))
}

// Message is one status frame. Data is the already-marshaled payload so
// publishers decide the shape and the hub stays generic.
type Message struct {
	Scope Scope           `json:"scope"`
	Data  json.RawMessage `json:"data"`
}

const outboundBuffer = 16

// Subscriber receives messages for a single scope. A subscriber that
// stops draining Outbound is disconnected by the hub; Done is closed
// exactly once on disconnect.
type Subscriber struct {
	ID       uuid.UUID
	Scope    Scope
	Outbound chan Message

	done      chan struct{}
	closeOnce sync.Once
}

// Done signals that the hub dropped this subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans progress messages out to per-scope subscribers. Publishing
// never blocks: a subscriber whose buffer is full is disconnected while
// the rest keep receiving.
type Hub struct {
	mu   sync.RWMutex
	log  *logger.Logger
	subs map[Scope]map[*Subscriber]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:  log.With("component", "ProgressHub"),
		subs: make(map[Scope]map[*Subscriber]bool),
	}
}

func (h *Hub) Subscribe(scope Scope) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New(),
		Scope:    scope,
		Outbound: make(chan Message, outboundBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[scope]
	if !ok {
		subs = make(map[*Subscriber]bool)
		h.subs[scope] = subs
	}
	subs[sub] = true

	h.log.Debug("subscriber added", "subscriberID", sub.ID, "scope", scope)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.Scope]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.Scope)
		}
	}
	h.mu.Unlock()

	sub.signalDone()
	h.log.Debug("subscriber removed", "subscriberID", sub.ID, "scope", sub.Scope)
}

func (h *Hub) Publish(msg Message) {
	if msg.Scope == "" {
		return
	}

	var overflowed []*Subscriber

	h.mu.RLock()
	for sub := range h.subs[msg.Scope] {
		select {
		case sub.Outbound <- msg:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		h.log.Warn("disconnecting slow subscriber", "subscriberID", sub.ID, "scope", sub.Scope)
		h.Unsubscribe(sub)
	}
}

// ServeHTTP streams a subscription as server-sent events. The snapshot
// is written as the first frame before any published message; the
// stream ends when the client disconnects or the hub drops the
// subscriber. The caller owns creating and unsubscribing sub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, sub *Subscriber, snapshot []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	writeFrame(w, snapshot)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("subscriber context done", "subscriberID", sub.ID, "err", ctx.Err())
			return
		case <-sub.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg := <-sub.Outbound:
			writeFrame(w, msg.Data)
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, data []byte) {
	fmt.Fprint(w, "event: status\n")
	fmt.Fprintf(w, "data: %s\n\n", data)
}
