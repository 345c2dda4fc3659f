package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the connection state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultReplyTimeout is the default time to wait for a console reply.
const defaultReplyTimeout = 5 * time.Second

// SessionConfig tunes a Session.
type SessionConfig struct {
	// ReplyTimeout bounds how long a Send waits for the console's reply.
	// Zero means the default of 5 seconds.
	ReplyTimeout time.Duration

	// Backoff is the reconnect delay policy.
	Backoff Backoff
}

// Session is a single logical connection to the mixer-control endpoint.
//
// All operations against the console are serialized: one in-flight
// operation at a time. While the session is not Connected, Send fails
// fast with ErrNotConnected instead of queueing. Reconnection runs on its
// own goroutine and never blocks callers.
type Session struct {
	dialer Dialer
	cfg    SessionConfig
	log    zerolog.Logger

	mu              sync.Mutex
	state           State
	conn            Conn
	endpoint        string
	attempts        int
	gen             int
	reconnectCancel context.CancelFunc

	// sendMu serializes in-flight operations.
	sendMu sync.Mutex

	listenerMu   sync.Mutex
	listeners    map[int]func(State)
	nextListener int

	// notifyMu guards the queue of pending state notifications. The
	// queue is unbounded so queueing a transition never blocks the state
	// machine, however slow a listener is.
	notifyMu    sync.Mutex
	notifyQueue []State
	notifyKick  chan struct{}

	updates   chan Update
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession creates a session that dials through the given dialer.
// The session starts in the Idle state.
func NewSession(dialer Dialer, cfg SessionConfig, log zerolog.Logger) *Session {
	s := &Session{
		dialer:     dialer,
		cfg:        cfg,
		log:        log,
		state:      StateIdle,
		listeners:  make(map[int]func(State)),
		notifyKick: make(chan struct{}, 1),
		updates:    make(chan Update, 64),
		closed:     make(chan struct{}),
	}
	go s.notifyLoop()
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReconnectAttempts returns how many reconnect attempts have been made
// since the last successful connection. Resets to zero only on a
// successful Connected transition.
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Updates returns the channel of raw value-change notifications. The
// channel stays open across reconnects.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// OnStateChange registers a listener invoked (queued, in transition
// order) on every connection state transition. The returned function
// cancels the registration.
func (s *Session) OnStateChange(fn func(State)) (cancel func()) {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// Connect establishes the session to the given endpoint.
//
// On success the session transitions Idle→Connecting→Connected. On
// failure the returned error is a *ConnectError; a Rejected handshake
// leaves the session in the Failed state (terminal until a new Connect),
// any other failure returns it to Idle.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.endpoint = endpoint
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, endpoint)
	if err != nil {
		s.mu.Lock()
		var ce *ConnectError
		if errors.As(err, &ce) && ce.Kind == ConnectRejected {
			s.setStateLocked(StateFailed)
		} else {
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	s.mu.Lock()
	s.adoptLocked(conn)
	s.mu.Unlock()

	s.log.Info().Str("endpoint", endpoint).Msg("connected to console")
	return nil
}

// Disconnect tears the session down and returns it to Idle. It cancels
// any reconnect loop in progress. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.reconnectCancel != nil {
		s.reconnectCancel()
		s.reconnectCancel = nil
	}
	conn := s.conn
	s.conn = nil
	s.gen++ // invalidates the connection watcher
	if s.state != StateIdle {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Close disconnects and releases the session's internal goroutines.
// The session must not be used afterwards.
func (s *Session) Close() {
	s.Disconnect()
	s.closeOnce.Do(func() { close(s.closed) })
}

// Send issues one operation against the console and waits for the
// console's confirmation.
//
// Valid only while Connected; otherwise fails fast with ErrNotConnected.
// Concurrent callers are serialized, never interleaved.
func (s *Session) Send(ctx context.Context, op Operation) (Ack, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		state := s.state
		s.mu.Unlock()
		return Ack{}, fmt.Errorf("session is %s: %w", state, ErrNotConnected)
	}
	conn := s.conn
	s.mu.Unlock()

	reply, err := s.request(ctx, conn, NewSetRequest(op.Path, op.Value))
	if err != nil {
		return Ack{}, &SendError{Path: op.Path, Err: err}
	}
	return Ack{Path: op.Path, Value: reply.Payload}, nil
}

// Get reads one value from the console.
func (s *Session) Get(ctx context.Context, path string) (any, error) {
	conn, err := s.connected()
	if err != nil {
		return nil, err
	}
	reply, err := s.request(ctx, conn, NewGetRequest(path))
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

// Subscribe asks the console to notify about changes at or below path.
// Notifications arrive on the Updates channel.
func (s *Session) Subscribe(ctx context.Context, path string) error {
	conn, err := s.connected()
	if err != nil {
		return err
	}
	_, err = s.request(ctx, conn, NewSubscribeRequest(path))
	return err
}

// Unsubscribe cancels a subscription.
func (s *Session) Unsubscribe(ctx context.Context, path string) error {
	conn, err := s.connected()
	if err != nil {
		return err
	}
	_, err = s.request(ctx, conn, NewUnsubscribeRequest(path))
	return err
}

func (s *Session) connected() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.conn == nil {
		return nil, fmt.Errorf("session is %s: %w", s.state, ErrNotConnected)
	}
	return s.conn, nil
}

// request performs one correlated request/reply with the reply timeout.
func (s *Session) request(ctx context.Context, conn Conn, req Request) (Message, error) {
	timeout := s.cfg.ReplyTimeout
	if timeout == 0 {
		timeout = defaultReplyTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Request(rctx, req)
}

// adoptLocked installs a freshly dialed connection, closing any
// connection it supersedes so a racing Connect cannot leak one that
// keeps pumping updates. Caller holds s.mu.
func (s *Session) adoptLocked(conn Conn) {
	if prev := s.conn; prev != nil {
		go prev.Close()
	}
	s.conn = conn
	s.attempts = 0
	s.gen++
	s.setStateLocked(StateConnected)
	go s.watch(conn, s.gen)
}

// watch forwards raw updates from one connection into the session-wide
// updates channel and kicks off reconnection when the connection dies.
func (s *Session) watch(conn Conn, gen int) {
	for u := range conn.Updates() {
		select {
		case s.updates <- u:
		case <-s.closed:
			return
		}
	}
	s.connectionLost(gen)
}

// connectionLost handles the death of the connection identified by gen.
// A stale generation means the session has already moved on (explicit
// disconnect or a newer connection), in which case nothing happens.
func (s *Session) connectionLost(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.setStateLocked(StateReconnecting)

	ctx, cancel := context.WithCancel(context.Background())
	s.reconnectCancel = cancel
	endpoint := s.endpoint
	s.mu.Unlock()

	s.log.Warn().Str("endpoint", endpoint).Msg("connection lost, reconnecting")
	go s.reconnectLoop(ctx, endpoint)
}

// reconnectLoop retries the endpoint with capped exponential backoff
// until it succeeds, the handshake is rejected, or it is cancelled by an
// explicit Disconnect. The attempt counter resets only on success.
func (s *Session) reconnectLoop(ctx context.Context, endpoint string) {
	for {
		s.mu.Lock()
		attempt := s.attempts
		s.attempts++
		s.mu.Unlock()

		delay := s.cfg.Backoff.Delay(attempt)
		s.log.Info().Dur("delay", delay).Int("attempt", attempt+1).Msg("reconnect attempt scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := s.dialer.Dial(ctx, endpoint)
		if err != nil {
			var ce *ConnectError
			if errors.As(err, &ce) && ce.Kind == ConnectRejected {
				s.mu.Lock()
				if s.state == StateReconnecting {
					s.reconnectCancel = nil
					s.setStateLocked(StateFailed)
				}
				s.mu.Unlock()
				s.log.Error().Err(err).Msg("reconnect rejected by console, giving up")
				return
			}
			s.log.Debug().Err(err).Msg("reconnect attempt failed")
			continue
		}

		s.mu.Lock()
		if s.state != StateReconnecting {
			// Disconnected while we were dialing.
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		cancel := s.reconnectCancel
		s.reconnectCancel = nil
		s.adoptLocked(conn)
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		s.log.Info().Str("endpoint", endpoint).Msg("reconnected to console")
		return
	}
}

// setStateLocked transitions the state machine and queues listener
// notification. Caller holds s.mu.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.log.Debug().Stringer("from", s.state).Stringer("to", next).Msg("connection state change")
	s.state = next

	s.notifyMu.Lock()
	s.notifyQueue = append(s.notifyQueue, next)
	s.notifyMu.Unlock()

	select {
	case s.notifyKick <- struct{}{}:
	default:
	}
}

// notifyLoop delivers state transitions to listeners in order, decoupled
// from the state machine so a slow listener cannot stall it.
func (s *Session) notifyLoop() {
	for {
		select {
		case <-s.notifyKick:
		case <-s.closed:
			return
		}

		for {
			s.notifyMu.Lock()
			if len(s.notifyQueue) == 0 {
				s.notifyMu.Unlock()
				break
			}
			state := s.notifyQueue[0]
			s.notifyQueue = s.notifyQueue[1:]
			s.notifyMu.Unlock()

			s.listenerMu.Lock()
			fns := make([]func(State), 0, len(s.listeners))
			for _, fn := range s.listeners {
				fns = append(fns, fn)
			}
			s.listenerMu.Unlock()

			for _, fn := range fns {
				fn(state)
			}
		}
	}
}
