package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mattone/internal/models"
)

// recordingSink captures every command written to it and publishes each one
// on frames so tests can wait for writes.
type recordingSink struct {
	mu       sync.Mutex
	written  []Command
	times    []time.Time
	frames   chan Command
	failOn   int // 1-based write index that fails; 0 never fails
	writes   int
	inWrite  atomic.Bool
	overlaps atomic.Int32
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: make(chan Command, 128)}
}

func (s *recordingSink) WriteCommand(cmd Command) error {
	if !s.inWrite.CompareAndSwap(false, true) {
		s.overlaps.Add(1)
	}
	defer s.inWrite.Store(false)

	s.mu.Lock()
	s.writes++
	fail := s.failOn != 0 && s.writes == s.failOn
	if !fail {
		s.written = append(s.written, cmd)
		s.times = append(s.times, time.Now())
	}
	s.mu.Unlock()
	if fail {
		return errors.New("broken pipe")
	}
	s.frames <- cmd
	return nil
}

func (s *recordingSink) Written() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.written))
	copy(out, s.written)
	return out
}

// writeTimes returns when each command of type typ was written.
func (s *recordingSink) writeTimes(typ CommandType) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for i, c := range s.written {
		if c.Type == typ {
			out = append(out, s.times[i])
		}
	}
	return out
}

func (s *recordingSink) next(t *testing.T) Command {
	t.Helper()
	select {
	case cmd := <-s.frames:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Command{}
	}
}

func (s *recordingSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case cmd := <-s.frames:
		t.Fatalf("unexpected frame %+v", cmd)
	case <-time.After(50 * time.Millisecond):
	}
}

// blockingSink holds every write until release is closed.
type blockingSink struct {
	entered chan Command
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan Command, 16), release: make(chan struct{})}
}

func (s *blockingSink) WriteCommand(cmd Command) error {
	s.entered <- cmd
	<-s.release
	return nil
}

// liveSession registers an opened session for deviceID and runs its writer
// until the test ends.
func liveSession(t *testing.T, r *Registry, id uint64, deviceID string, sink Sink, queueSize int) *Session {
	t.Helper()
	s := newSession(id, deviceID, sink, queueSize)
	r.Register(s)
	s.markReady()
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		_ = s.run(ctx, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-exited
	})
	return s
}

// manualTicker replaces the heartbeat ticker so tests decide when ticks fire.
type manualTicker struct {
	ch       chan time.Time
	interval atomic.Int64
	stopped  atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) factory(d time.Duration) (<-chan time.Time, func()) {
	m.interval.Store(int64(d))
	return m.ch, func() { m.stopped.Store(true) }
}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not accept heartbeat tick")
	}
}

type serving struct {
	cancel context.CancelFunc
	errCh  chan error
}

func (s *serving) stop(t *testing.T) error {
	t.Helper()
	s.cancel()
	return s.wait(t)
}

func (s *serving) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// startServe runs h.Serve in the background and waits until the device is
// registered.
func startServe(t *testing.T, h *Hub, deviceID string, sink Sink) *serving {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(ctx, deviceID, sink) }()
	t.Cleanup(cancel)
	return &serving{cancel: cancel, errCh: errCh}
}

// waitRegistered blocks until deviceID has a live session whose open phase,
// including any reconnect replay, has completed.
func waitRegistered(t *testing.T, h *Hub, deviceID string, sessionID uint64) {
	t.Helper()
	var s *Session
	require.Eventually(t, func() bool {
		cur, ok := h.Registry().Lookup(deviceID)
		if ok && (sessionID == 0 || cur.ID() == sessionID) {
			s = cur
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("session never finished opening")
	}
}

// fakeStates is an in-memory device and channel directory that scopes
// channel lookups to their owner.
type fakeStates struct {
	mu       sync.Mutex
	devices  map[string]*models.Device
	channels map[string]*models.Channel
	err      error
	calls    atomic.Int32
}

func newFakeStates() *fakeStates {
	return &fakeStates{
		devices:  make(map[string]*models.Device),
		channels: make(map[string]*models.Channel),
	}
}

func (f *fakeStates) addDevice(code, userID string, activeChannel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &models.Device{ID: "row-" + code, DeviceCode: code, UserID: userID}
	if activeChannel != "" {
		d.ActiveChannelID = &activeChannel
	}
	f.devices[code] = d
}

func (f *fakeStates) addChannel(id, userID, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = &models.Channel{ID: id, UserID: userID, StreamURL: url, TvgName: "name-" + id, TvgLogo: "logo-" + id}
}

func (f *fakeStates) GetDeviceByCode(code string) (*models.Device, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.devices[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStates) GetChannelForUser(id, userID string) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok || ch.UserID != userID {
		return nil, models.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func newTestHub(t *testing.T, st StateStore, opts ...Option) (*Hub, *manualTicker) {
	t.Helper()
	h := NewHub(st, opts...)
	mt := newManualTicker()
	h.newTicker = mt.factory
	return h, mt
}

func testChannel() *models.Channel {
	return &models.Channel{ID: "ch-1", TvgName: "One", StreamURL: "http://stream/1"}
}

func commandTypes(cmds []Command) []CommandType {
	out := make([]CommandType, len(cmds))
	for i, c := range cmds {
		out[i] = c.Type
	}
	return out
}
