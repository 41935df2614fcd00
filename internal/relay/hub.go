package relay

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueSize         = 16
)

// Result is the outcome of a dispatch as reported to API callers.
type Result struct {
	Delivered bool `json:"delivered"`
}

func (r Result) Status() string {
	if r.Delivered {
		return "command sent"
	}
	return "queued"
}

type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Hub wires the registry, dispatcher and synchronizer together and is the
// entry point used by the HTTP layer.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	sync       *Synchronizer
	metrics    *Metrics

	heartbeat time.Duration
	queueSize int
	newTicker tickerFunc
	nextID    atomic.Uint64
}

type Option func(*Hub)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub builds a relay. When st is nil no reconnect replay is performed.
func NewHub(st StateStore, opts ...Option) *Hub {
	h := &Hub{
		heartbeat: DefaultHeartbeatInterval,
		queueSize: DefaultQueueSize,
		newTicker: realTicker,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	h.registry = NewRegistry(h.metrics)
	h.dispatcher = NewDispatcher(h.registry, h.metrics)
	if st != nil {
		h.sync = NewSynchronizer(st, h.dispatcher, h.metrics)
		h.registry.OnConnect(h.sync.HandleConnect)
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) HeartbeatInterval() time.Duration { return h.heartbeat }

// Serve runs a device session on sink until ctx is done, the session is
// superseded or disconnected, or a write fails. It writes the connected
// marker, starts the session's writer, then registers the session (closing
// any older one for the same device) and waits for the writer to finish.
func (h *Hub) Serve(ctx context.Context, deviceID string, sink Sink) error {
	if err := sink.WriteCommand(Connected()); err != nil {
		return fmt.Errorf("writing connected marker: %w", err)
	}

	s := newSession(h.nextID.Add(1), deviceID, sink, h.queueSize)
	tick, stop := h.newTicker(h.heartbeat)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- s.run(ctx, tick) }()

	if prev := h.registry.Register(s); prev != nil {
		prev.Close()
	}
	s.markReady()

	err := <-errCh
	h.registry.Unregister(s)
	log.Printf("relay: device %s session %d closed after %s", deviceID, s.id, time.Since(s.createdAt).Round(time.Second))
	if err != nil {
		return fmt.Errorf("device %s session %d: %w", deviceID, s.id, err)
	}
	return nil
}

// Dispatch sends cmd to deviceID's live session, if any.
func (h *Hub) Dispatch(deviceID string, cmd Command) Result {
	return Result{Delivered: h.dispatcher.Send(deviceID, cmd)}
}

// Disconnect ends deviceID's live session, if any.
func (h *Hub) Disconnect(deviceID string) bool {
	return h.registry.Disconnect(deviceID)
}

func (h *Hub) IsConnected(deviceID string) bool {
	return h.registry.IsConnected(deviceID)
}
