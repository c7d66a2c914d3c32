package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// drain collects messages from ch until it stays quiet for 50ms.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestRebuildEvents(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.RebuildStarted("fulltext")
	b.RebuildFinished("fulltext", 12, nil)
	b.RebuildFinished("semantic", 0, errors.New("model missing"))

	msgs := drain(ch)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "event: index.rebuild_started") || !strings.Contains(msgs[0], `"source":"fulltext"`) {
		t.Errorf("started message = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], `"count":12`) {
		t.Errorf("finished message = %q", msgs[1])
	}
	if !strings.Contains(msgs[2], `"error":"model missing"`) {
		t.Errorf("failed message = %q", msgs[2])
	}
}

func TestNoteChanged_StatusThrottle(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	b := NewBroker(500*time.Millisecond, func() any {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return map[string]bool{"stale": true}
	})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.NoteChanged("created", "a.md")
	b.NoteChanged("updated", "b.md")

	msgs := drain(ch)
	if n := countType(msgs, TypeNoteChanged); n != 2 {
		t.Errorf("note events = %d, want 2", n)
	}
	if n := countType(msgs, TypeStatus); n != 1 {
		t.Errorf("status events = %d, want 1 (throttled)", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("status computed %d times, want 1", calls)
	}
}

func TestNoteChanged_NoStatusFunc(t *testing.T) {
	b := NewBroker(time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.NoteChanged("deleted", "x.md")
	msgs := drain(ch)
	if len(msgs) != 1 || !strings.Contains(msgs[0], `"kind":"deleted"`) || !strings.Contains(msgs[0], `"id":"x.md"`) {
		t.Errorf("messages = %q", msgs)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.RebuildStarted("semantic")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if !strings.Contains(w.Body.String(), "event: index.rebuild_started") {
		t.Errorf("handler output missing event: %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.RebuildStarted("fulltext")
	b.NoteChanged("updated", "x.md")
}
