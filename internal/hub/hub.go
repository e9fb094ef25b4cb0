package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"proctordraw/internal/websocket"
	"proctordraw/pkg/types"
)

// EventBufferSize is the number of roster events queued ahead of the
// broadcast loop.
const EventBufferSize = 1000

// Hub fans roster events out to every registered viewer connection.
// It implements interfaces.Notifier.
type Hub struct {
	eventChannel    chan types.RosterEvent
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry

	published atomic.Uint64
	dropped   atomic.Uint64

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub(registry *websocket.Registry) *Hub {
	return &Hub{
		eventChannel: make(chan types.RosterEvent, EventBufferSize),
		registry:     registry,
	}
}

// Start begins broadcasting. A stopped hub can be started again.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	log.Println("Starting roster hub...")

	go h.run(ctx, h.shutdownChannel, h.done)

	return nil
}

// Stop shuts down the broadcast loop and waits for it to exit. Events
// still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	log.Println("Stopping roster hub...")
	<-done

	return nil
}

// Publish queues event for broadcast without blocking. When the queue is
// full the event is dropped.
func (h *Hub) Publish(event types.RosterEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- event:
		h.published.Add(1)
		return nil
	default:
		h.dropped.Add(1)
		log.Printf("Dropping roster event: type=%s queued=%d", event.Type, len(h.eventChannel))
		return ErrEventChannelFull
	}
}

// GetStats returns event counters for the health endpoint.
func (h *Hub) GetStats() map[string]uint64 {
	return map[string]uint64{
		"events_published": h.published.Load(),
		"events_dropped":   h.dropped.Load(),
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.broadcast(event)

		case <-shutdown:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// broadcast delivers event to every viewer. A viewer that cannot keep up
// is disconnected; its browser reconnects and receives a fresh snapshot.
func (h *Hub) broadcast(event types.RosterEvent) {
	connections := h.registry.GetAllConnections()
	delivered := 0

	for _, conn := range connections {
		err := conn.WriteJSON(event)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, websocket.ErrWriteTimeout), errors.Is(err, websocket.ErrConnectionClosed):
			log.Printf("Dropping viewer: id=%s client=%s: %v", conn.ID(), conn.GetClientID(), err)
			h.registry.UnregisterConnection(conn)
			_ = conn.Close()
		default:
			log.Printf("Failed to deliver %s event: client=%s: %v", event.Type, conn.GetClientID(), err)
		}
	}

	log.Printf("Roster event broadcast: type=%s delivered=%d/%d", event.Type, delivered, len(connections))
}
