package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/casewatch/casewatch/internal/derive"
	"github.com/casewatch/casewatch/internal/store"
)

func seededStore() *store.Store {
	st := store.New(48 * time.Hour)
	st.Put("cases", "feed", derive.Result{
		Rows:    []derive.Derived{{Entity: "CA", Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Cumulative: 100, Incremental: 100}},
		Quality: derive.Quality{Rows: 1, Entities: 1},
	})
	return st
}

func TestClient_TrySendAfterClose(t *testing.T) {
	c := &client{send: make(chan []byte, 1)}
	c.closeSend()
	if c.trySend([]byte("x")) {
		t.Error("trySend after closeSend returned true")
	}
}

func TestClient_CloseSendIdempotent(t *testing.T) {
	c := &client{send: make(chan []byte, 1)}
	c.closeSend()
	c.closeSend() // second close must be a no-op, not a panic
}

func TestClient_TrySendFullBuffer(t *testing.T) {
	c := &client{send: make(chan []byte, 1)}
	if !c.trySend([]byte("a")) {
		t.Fatal("first send into empty buffer failed")
	}
	if c.trySend([]byte("b")) {
		t.Error("send into full buffer returned true")
	}
}

// Broadcasts racing disconnects must never hit a closed send channel.
func TestBroadcastDuringDisconnect(t *testing.T) {
	h := New(seededStore(), time.Hour)

	clients := make([]*client, 256)
	for i := range clients {
		clients[i] = &client{send: make(chan []byte, 1)}
		h.register(clients[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.broadcast()
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			h.unregister(c)
		}
	}()
	wg.Wait()

	h.broadcast() // everyone is gone; must still be safe
	if n := h.Count(); n != 0 {
		t.Errorf("clients remaining after disconnect storm = %d, want 0", n)
	}
}

// A full-buffer client gets disconnected by the next broadcast rather than
// left to back up the hub.
func TestBroadcastDropsSlowClient(t *testing.T) {
	h := New(seededStore(), time.Hour)
	c := &client{send: make(chan []byte, 1)}
	h.register(c)

	h.broadcast() // fills the depth-1 buffer
	if h.Count() != 1 {
		t.Fatalf("clients after first broadcast = %d, want 1", h.Count())
	}
	h.broadcast() // overflows it
	if h.Count() != 0 {
		t.Errorf("clients after overflow broadcast = %d, want 0", h.Count())
	}
}
