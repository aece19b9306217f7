package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func receive(t *testing.T, conn *Connection) []byte {
	t.Helper()
	select {
	case data := <-conn.Send:
		return data
	case <-time.After(time.Second):
		t.Fatalf("no message for %s", conn.ID)
		return nil
	}
}

func TestBroadcastReachesSessionOnly(t *testing.T) {
	h := startHub(t)

	a := h.NewConnection(nil)
	b := h.NewConnection(nil)
	h.Register(a)
	h.Register(b)
	h.BindSession(a, "s1")
	h.BindSession(b, "s2")

	if !h.HasActiveConnections("s1") || h.GetSessionCount() != 2 {
		t.Fatalf("expected two bound sessions")
	}

	if err := h.BroadcastJSON("s1", map[string]string{"type": "event"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if got := string(receive(t, a)); got != `{"type":"event"}` {
		t.Fatalf("unexpected payload %q", got)
	}
	select {
	case data := <-b.Send:
		t.Fatalf("s2 received %q", data)
	default:
	}
}

func TestRebindMovesConnection(t *testing.T) {
	h := startHub(t)

	conn := h.NewConnection(nil)
	h.Register(conn)
	h.BindSession(conn, "old")
	h.BindSession(conn, "new")

	if h.HasActiveConnections("old") {
		t.Fatalf("old session should be released")
	}
	if h.Session(conn) != "new" {
		t.Fatalf("expected new session, got %q", h.Session(conn))
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := startHub(t)

	conn := h.NewConnection(nil)
	h.Register(conn)
	h.BindSession(conn, "s1")
	h.Unregister(conn)
	h.Unregister(conn)

	if _, ok := <-conn.Send; ok {
		t.Fatalf("expected closed send channel")
	}
	if h.GetConnectionCount() != 0 || h.HasActiveConnections("s1") {
		t.Fatalf("connection should be gone")
	}
	if err := h.SendToConnection(conn, []byte("late")); err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestSendToConnectionBufferFull(t *testing.T) {
	h := NewHub(nil)
	conn := h.NewConnection(nil)
	for i := 0; i < cap(conn.Send); i++ {
		if err := h.SendToConnection(conn, []byte("x")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := h.SendToConnection(conn, []byte("x")); err != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	conn := h.NewConnection(nil)
	h.Register(conn)
	cancel()
	<-stopped

	if _, ok := <-conn.Send; ok {
		t.Fatalf("expected send channel closed on shutdown")
	}
	// Calls after shutdown must not block.
	h.Register(h.NewConnection(nil))
	h.Broadcast("s1", nil)
}

func TestRegisterAndBindConcurrently(t *testing.T) {
	h := startHub(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := h.NewConnection(nil)
			h.Register(conn)
			h.BindSession(conn, fmt.Sprintf("s%d", i%5))
			_ = h.SendToConnection(conn, []byte("hello"))
		}(i)
	}
	wg.Wait()

	if n := h.GetSessionCount(); n != 5 {
		t.Fatalf("expected 5 sessions, got %d", n)
	}
}

func TestBroadcastDropsSlowConnection(t *testing.T) {
	h := startHub(t)

	slow := h.NewConnection(nil)
	h.Register(slow)
	h.BindSession(slow, "s1")
	for i := 0; i < cap(slow.Send); i++ {
		if err := h.SendToConnection(slow, []byte("x")); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}

	h.Broadcast("s1", []byte("overflow"))

	deadline := time.Now().Add(time.Second)
	for h.HasActiveConnections("s1") {
		if time.Now().After(deadline) {
			t.Fatalf("slow connection was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := h.SendToConnection(slow, []byte("late")); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	// BindSession on a removed connection leaves the hub untouched.
	h.BindSession(slow, "s2")
	if h.HasActiveConnections("s2") {
		t.Fatalf("closed connection rejoined a session")
	}
}

func TestSendDuringShutdown(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	conn := h.NewConnection(nil)
	h.Register(conn)
	h.BindSession(conn, "s1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			err := h.SendToConnection(conn, []byte("x"))
			if err != nil && !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, ErrBufferFull) {
				t.Errorf("unexpected error %v", err)
				return
			}
		}
	}()
	cancel()
	<-stopped
	wg.Wait()

	if err := h.SendToConnection(conn, []byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed after shutdown, got %v", err)
	}
}
