package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionClosed is reported for commands that were accepted by a session
// which ended before writing them.
var ErrSessionClosed = errors.New("session closed")

// Sink is the transport end of a device session. WriteCommand must write and
// flush one complete command; it is only ever called from the session's
// writer goroutine.
type Sink interface {
	WriteCommand(cmd Command) error
}

// writeRequest is one queued command and where to report its write result.
type writeRequest struct {
	cmd   Command
	reply chan error
}

// Session is one device's live event stream. All writes to the sink go
// through run, which is the single writer; other goroutines hand commands
// over through the queue and wait for the write result.
type Session struct {
	id        uint64
	deviceID  string
	createdAt time.Time
	sink      Sink

	queue chan writeRequest
	// ready is closed once registration, including the reconnect replay,
	// has finished. Console commands wait for it so the replay goes first.
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	// mu guards stopped; once the writer has stopped nothing more is queued.
	mu      sync.Mutex
	stopped bool
}

func newSession(id uint64, deviceID string, sink Sink, queueSize int) *Session {
	return &Session{
		id:        id,
		deviceID:  deviceID,
		createdAt: time.Now().UTC(),
		sink:      sink,
		queue:     make(chan writeRequest, queueSize),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID is the token used for identity checks in the registry. It is unique for
// the lifetime of the process.
func (s *Session) ID() uint64 { return s.id }

func (s *Session) DeviceID() string { return s.deviceID }

// Done is closed once the session has been closed for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session. The writer goroutine notices and returns, which
// unregisters the session. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// awaitReady blocks until the session has finished opening. It reports false
// if the session closed first.
func (s *Session) awaitReady() bool {
	select {
	case <-s.ready:
		return true
	case <-s.done:
		return false
	}
}

// submit queues cmd for the writer without blocking. It returns nil when the
// session is closed or its queue is full.
func (s *Session) submit(cmd Command) chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	req := writeRequest{cmd: cmd, reply: make(chan error, 1)}
	select {
	case s.queue <- req:
		return req.reply
	default:
		return nil
	}
}

// stop closes the session, refuses further submissions and fails every
// command still queued.
func (s *Session) stop() {
	s.Close()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	for {
		select {
		case req := <-s.queue:
			req.reply <- ErrSessionClosed
		default:
			return
		}
	}
}

// run owns the sink until ctx is cancelled, the session is closed or a write
// fails. Queued commands and heartbeat ticks are written one at a time in the
// order this loop receives them, and each queued command gets its write
// result back. Commands left in the queue on exit are failed.
func (s *Session) run(ctx context.Context, tick <-chan time.Time) error {
	defer s.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case req := <-s.queue:
			err := s.sink.WriteCommand(req.cmd)
			req.reply <- err
			if err != nil {
				return err
			}
		case <-tick:
			if err := s.sink.WriteCommand(Heartbeat()); err != nil {
				return err
			}
		}
	}
}
