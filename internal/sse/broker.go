// Package sse streams per-tenant pipeline events over Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/tenantgraph/internal/models"
)

// Event is delivered to the subscribers of one tenant.
type Event struct {
	TenantID string `json:"-"`
	Type     string `json:"type"`
	Data     any    `json:"data"`
}

// IngestEvent is the payload of ingest.completed.
type IngestEvent struct {
	TenantID     string `json:"tenantId"`
	Source       string `json:"source,omitempty"`
	NodesCreated int    `json:"nodesCreated"`
	NodesMatched int    `json:"nodesMatched"`
	EdgesCreated int    `json:"edgesCreated"`
	EdgesSkipped int    `json:"edgesSkipped"`
}

type subscription struct {
	tenantID string
	ch       chan []byte
}

// Broker fans events out to SSE clients subscribed to a tenant.
//
// A single event loop goroutine owns the client set and the schema.updated
// throttle state; public methods talk to it over channels.
type Broker struct {
	schemaMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	ingestCh      chan IngestEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. schema.updated is emitted at most once per
// schemaThrottle per tenant.
func NewBroker(schemaThrottle time.Duration) *Broker {
	if schemaThrottle <= 0 {
		schemaThrottle = 2 * time.Second
	}

	b := &Broker{
		schemaMin:     schemaThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		ingestCh:      make(chan IngestEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastSchema := make(map[string]time.Time)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch, tenantID := range clients {
			if tenantID != event.TenantID {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.tenantID

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case ev := <-b.ingestCh:
			broadcast(Event{TenantID: ev.TenantID, Type: "ingest.completed", Data: ev})

			if ev.NodesCreated == 0 && ev.EdgesCreated == 0 {
				continue
			}
			now := time.Now()
			if now.Sub(lastSchema[ev.TenantID]) >= b.schemaMin {
				lastSchema[ev.TenantID] = now
				broadcast(Event{
					TenantID: ev.TenantID,
					Type:     "schema.updated",
					Data:     map[string]string{"tenantId": ev.TenantID},
				})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client for one tenant's events.
func (b *Broker) Subscribe(tenantID string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{tenantID: tenantID, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the subscribers of event.TenantID.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishIngest announces a completed ingestion and, when it changed the
// graph, a throttled schema.updated event.
func (b *Broker) PublishIngest(tenantID, source string, report models.UpsertReport) {
	if b.closed.Load() {
		return
	}
	ev := IngestEvent{
		TenantID:     tenantID,
		Source:       source,
		NodesCreated: report.NodesCreated,
		NodesMatched: report.NodesMatched,
		EdgesCreated: report.EdgesCreated,
		EdgesSkipped: report.EdgesSkipped,
	}
	select {
	case b.ingestCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events?tenantId=...).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		http.Error(w, "tenantId is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(tenantID)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
