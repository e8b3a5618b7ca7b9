package hub

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultBufferSize is used when the configured event buffer is not positive
const DefaultBufferSize = 1000

// TimerEvent is a break-scheduler firing posted for serialized handling.
// Purpose is one of "warning", "break" or "break-end". Generation identifies
// the arming that scheduled the timer.
type TimerEvent struct {
	SessionID  string
	Purpose    string
	Generation uint64
	FiredAt    time.Time
}

// Key returns the timer registry key this event was scheduled under
func (e TimerEvent) Key() string {
	return e.SessionID + "-" + e.Purpose
}

// Handler applies a timer event to session state.
// Handlers must re-validate state before acting; the hub never guarantees
// that the session is still in the state it was in when the timer was armed.
type Handler interface {
	HandleTimerEvent(ctx context.Context, evt TimerEvent)
}

// Hub serializes timer firings into a single dispatch goroutine
// ARCHITECTURAL DISCOVERY: Timer goroutines never touch session state directly;
// they post events here, and the handler takes the per-session lock
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts when many sessions
	// hit their break interval at the same moment
	eventChannel    chan TimerEvent
	shutdownChannel chan struct{}
	done            sync.WaitGroup

	handler Handler

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub with the given event buffer size
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		eventChannel:    make(chan TimerEvent, bufferSize),
		shutdownChannel: make(chan struct{}),
	}
}

// Start begins hub processing with the given handler
func (h *Hub) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.handler = handler
	h.mu.Unlock()

	log.Println("Starting timer event hub...")

	h.done.Add(1)
	go h.run(ctx)

	return nil
}

// Stop gracefully shuts down the hub and waits for the dispatch loop to exit.
// Events still queued are dropped; every handler tolerates missed firings.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping timer event hub...")

	// TECHNICAL DISCOVERY: Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	h.done.Wait()
	return nil
}

// Post queues a timer event for dispatch.
// Non-blocking: a full channel drops the event and reports it.
func (h *Hub) Post(evt TimerEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- evt:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// IsRunning reports whether the dispatch loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer h.done.Done()
	defer log.Println("Hub processing stopped")

	for {
		select {
		case evt := <-h.eventChannel:
			h.dispatch(ctx, evt)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// dispatch hands one event to the handler, recovering so a faulty handler
// cannot take down the loop for every other session
func (h *Hub) dispatch(ctx context.Context, evt TimerEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Timer event handler panicked: key=%s panic=%v", evt.Key(), r)
		}
	}()
	h.handler.HandleTimerEvent(ctx, evt)
}
