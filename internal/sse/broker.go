// Package sse streams index activity to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeRebuildStarted  = "index.rebuild_started"
	TypeRebuildFinished = "index.rebuild_finished"
	TypeNoteChanged     = "note.changed"
	TypeStatus          = "index.status"
)

// Event is one SSE message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StatusFunc produces the payload of index.status events.
type StatusFunc func() any

type noteChange struct {
	kind string
	id   string
}

// Broker fans events out to connected clients.
//
// A single goroutine owns the client set and the status throttle; public
// methods talk to it over channels.
type Broker struct {
	statusMin time.Duration
	status    StatusFunc

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteCh        chan noteChange
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. After note changes it emits at most one
// index.status event per throttle interval, with status() as payload
// (no status events if status is nil).
func NewBroker(throttle time.Duration, status StatusFunc) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		statusMin:     throttle,
		status:        status,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteCh:        make(chan noteChange, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastStatus time.Time

	broadcast := func(event Event) {
		raw, err := encode(event)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client: drop rather than stall the loop.
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

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case change := <-b.noteCh:
			broadcast(Event{Type: TypeNoteChanged, Data: map[string]string{"kind": change.kind, "id": change.id}})

			if b.status == nil {
				continue
			}
			now := time.Now()
			if now.Sub(lastStatus) >= b.statusMin {
				lastStatus = now
				// Status reads the indexes; keep that off the loop.
				go b.Publish(Event{Type: TypeStatus, Data: b.status()})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
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

// Publish sends an event to all clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// NoteChanged publishes a note.changed event followed by a throttled index.status.
func (b *Broker) NoteChanged(kind, id string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteCh <- noteChange{kind: kind, id: id}:
	case <-b.stopped:
	}
}

// RebuildStarted publishes index.rebuild_started for source.
func (b *Broker) RebuildStarted(source string) {
	b.Publish(Event{Type: TypeRebuildStarted, Data: map[string]string{"source": source}})
}

// RebuildFinished publishes index.rebuild_finished for source.
func (b *Broker) RebuildFinished(source string, count int, err error) {
	data := map[string]any{"source": source, "count": count}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: TypeRebuildFinished, Data: data})
}

// ServeHTTP streams events to one client (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	ch := b.Subscribe()
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
