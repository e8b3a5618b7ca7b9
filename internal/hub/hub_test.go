package hub

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []TimerEvent
	panics bool
	seen   chan TimerEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan TimerEvent, 16)}
}

func (r *recordingHandler) HandleTimerEvent(ctx context.Context, evt TimerEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	shouldPanic := r.panics
	r.mu.Unlock()
	r.seen <- evt
	if shouldPanic {
		panic("handler failure")
	}
}

func waitForEvent(t *testing.T, ch <-chan TimerEvent) TimerEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
		return TimerEvent{}
	}
}

// TestHub_StartStop tests functional validation - hub lifecycle management
func TestHub_StartStop(t *testing.T) {
	hub := NewHub(10)
	ctx := context.Background()

	if err := hub.Start(ctx, newRecordingHandler()); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}

	if err := hub.Start(ctx, newRecordingHandler()); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}

	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}

	if err := hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_StartRequiresHandler(t *testing.T) {
	hub := NewHub(10)
	if err := hub.Start(context.Background(), nil); err != ErrNilHandler {
		t.Errorf("Expected ErrNilHandler, got %v", err)
	}
	if hub.IsRunning() {
		t.Error("Hub should not be running without a handler")
	}
}

func TestHub_PostBeforeStart(t *testing.T) {
	hub := NewHub(10)
	err := hub.Post(TimerEvent{SessionID: "s1", Purpose: "warning"})
	if err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_DispatchesInOrder(t *testing.T) {
	hub := NewHub(10)
	handler := newRecordingHandler()
	if err := hub.Start(context.Background(), handler); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	purposes := []string{"warning", "break", "break-end"}
	for _, p := range purposes {
		if err := hub.Post(TimerEvent{SessionID: "s1", Purpose: p, FiredAt: time.Now()}); err != nil {
			t.Fatalf("Post(%s) failed: %v", p, err)
		}
	}

	for _, want := range purposes {
		got := waitForEvent(t, handler.seen)
		if got.Purpose != want {
			t.Errorf("Expected purpose %s, got %s", want, got.Purpose)
		}
	}
}

func TestHub_SurvivesHandlerPanic(t *testing.T) {
	hub := NewHub(10)
	handler := newRecordingHandler()
	handler.panics = true
	if err := hub.Start(context.Background(), handler); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer func() { _ = hub.Stop() }()

	_ = hub.Post(TimerEvent{SessionID: "s1", Purpose: "break"})
	waitForEvent(t, handler.seen)

	handler.mu.Lock()
	handler.panics = false
	handler.mu.Unlock()

	_ = hub.Post(TimerEvent{SessionID: "s2", Purpose: "break"})
	if got := waitForEvent(t, handler.seen); got.SessionID != "s2" {
		t.Errorf("Expected dispatch to continue after panic, got %+v", got)
	}
}

func TestHub_FullChannel(t *testing.T) {
	hub := NewHub(1)
	block := make(chan struct{})
	handler := &blockingHandler{release: block, entered: make(chan struct{}, 1)}
	if err := hub.Start(context.Background(), handler); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer func() {
		close(block)
		_ = hub.Stop()
	}()

	// First event occupies the handler, second fills the buffer
	_ = hub.Post(TimerEvent{SessionID: "s1", Purpose: "warning"})
	<-handler.entered
	if err := hub.Post(TimerEvent{SessionID: "s1", Purpose: "break"}); err != nil {
		t.Fatalf("Expected buffered post to succeed, got %v", err)
	}
	if err := hub.Post(TimerEvent{SessionID: "s1", Purpose: "break-end"}); err != ErrEventChannelFull {
		t.Errorf("Expected ErrEventChannelFull, got %v", err)
	}
}

type blockingHandler struct {
	release <-chan struct{}
	entered chan struct{}
}

func (b *blockingHandler) HandleTimerEvent(ctx context.Context, evt TimerEvent) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	hub := NewHub(10)
	ctx, cancel := context.WithCancel(context.Background())
	if err := hub.Start(ctx, newRecordingHandler()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for hub.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.IsRunning() {
		t.Error("Hub should stop running after context cancellation")
	}
}

func TestTimerEvent_Key(t *testing.T) {
	evt := TimerEvent{SessionID: "abc", Purpose: "break-end"}
	if evt.Key() != "abc-break-end" {
		t.Errorf("Unexpected key %s", evt.Key())
	}
}
