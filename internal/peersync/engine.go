package peersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illarion/lockpass/internal/core"
	"github.com/rs/zerolog"
)

const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	eventBuffer             = 64
)

// Status is the initiator's connection state
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSyncing      Status = "syncing"
	StatusError        Status = "error"
)

// EventKind names a notification for the host
type EventKind string

const (
	EventStatusChange        EventKind = "status-change"
	EventWelcome             EventKind = "welcome"
	EventDisconnected        EventKind = "disconnected"
	EventError               EventKind = "error"
	EventSyncRequestReceived EventKind = "sync-request-received"
)

// Event is delivered on Engine.Events. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	Status Status
	Peer   *Welcome
	Err    error
}

// SyncResult is what a sync request returned
type SyncResult struct {
	Entries []core.SyncEntry
	Locked  bool
	Peer    Welcome
}

// EngineConfig configures an Engine. Zero values get defaults.
type EngineConfig struct {
	Dialer           Dialer
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

type reply struct {
	msg Message
	err error
}

// link is one connection; it is replaced on every Connect
type link struct {
	conn    Conn
	welcome chan Welcome
	done    chan struct{}
	once    sync.Once
}

// Engine is the initiating side of a sync: it connects to a responder,
// waits for its welcome and sends sync requests.
type Engine struct {
	cfg    EngineConfig
	log    zerolog.Logger
	events chan Event

	mu         sync.Mutex
	status     Status
	peer       *Welcome
	link       *link
	connecting bool // a Connect or Attach holds the slot before link is set
	closed     bool
	pending    map[string]chan reply
	inflight   int
}

// NewEngine returns a disconnected engine
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Dialer == nil {
		cfg.Dialer = TCPDialer{Timeout: DefaultHandshakeTimeout}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "sync").Logger(),
		events:  make(chan Event, eventBuffer),
		status:  StatusDisconnected,
		pending: make(map[string]chan reply),
	}
}

// Events returns the notification channel. Events are dropped when the
// buffer is full rather than blocking the engine. The channel is closed by
// Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Status returns the current state
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Peer returns the welcome of the connected peer, or nil
func (e *Engine) Peer() *Welcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peer == nil {
		return nil
	}
	p := *e.peer
	return &p
}

// Connect dials the advertised peer and waits for its welcome
func (e *Engine) Connect(ctx context.Context, info PairingInfo) error {
	if err := e.reserve(); err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, e.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := e.cfg.Dialer.Dial(hctx, info.Address())
	if err != nil {
		e.mu.Lock()
		e.connecting = false
		e.emitLocked(Event{Kind: EventError, Err: err})
		e.setStatusLocked(StatusError)
		e.setStatusLocked(StatusDisconnected)
		e.mu.Unlock()
		if errors.Is(err, ErrTransportUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return e.handshake(hctx, conn)
}

// Attach runs the handshake over an already open connection
func (e *Engine) Attach(ctx context.Context, conn Conn) error {
	if err := e.reserve(); err != nil {
		conn.Close()
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, e.cfg.HandshakeTimeout)
	defer cancel()
	return e.handshake(hctx, conn)
}

// reserve claims the connection slot and moves to connecting
func (e *Engine) reserve() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return errEngineClosed
	case e.link != nil || e.connecting:
		return errAlreadyConnected
	}
	e.connecting = true
	e.setStatusLocked(StatusConnecting)
	return nil
}

func (e *Engine) handshake(ctx context.Context, conn Conn) error {
	l := &link{
		conn:    conn,
		welcome: make(chan Welcome, 1),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.connecting = false
	if e.closed {
		e.mu.Unlock()
		conn.Close()
		return errEngineClosed
	}
	e.link = l
	e.mu.Unlock()

	go e.readLoop(l)

	select {
	case w := <-l.welcome:
		e.log.Debug().Str("peer", w.DeviceName).Str("addr", conn.RemoteAddr()).Msg("connected")
		return nil
	case <-l.done:
		return fmt.Errorf("%w: connection closed during handshake", ErrTransportUnavailable)
	case <-ctx.Done():
		e.fail(l, fmt.Errorf("%w: no welcome from peer: %v", ErrTransportUnavailable, ctx.Err()))
		return fmt.Errorf("%w: handshake: %v", ErrTransportUnavailable, ctx.Err())
	}
}

// RequestSync asks the peer for its entries. It fails with
// ErrRequestTimedOut when no answer arrives within the request timeout; a
// response that shows up later is dropped.
func (e *Engine) RequestSync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.link == nil || e.peer == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected", ErrTransportUnavailable)
	}
	l := e.link
	peer := *e.peer
	id := uuid.NewString()
	ch := make(chan reply, 1)
	e.pending[id] = ch
	e.inflight++
	e.setStatusLocked(StatusSyncing)
	e.mu.Unlock()

	defer e.finishRequest(l, id)

	msg, err := NewMessage(TypeSyncRequest, id, struct{}{})
	if err != nil {
		return nil, err
	}
	if err := l.conn.Send(msg); err != nil {
		e.fail(l, err)
		return nil, err
	}

	timer := time.NewTimer(e.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.msg.Type == TypeError {
			var p ErrorPayload
			if err := r.msg.Decode(&p); err != nil {
				return nil, err
			}
			return nil, &PeerError{Message: p.Message}
		}
		var resp SyncResponse
		if err := r.msg.Decode(&resp); err != nil {
			return nil, err
		}
		return &SyncResult{Entries: resp.Entries, Locked: resp.Locked, Peer: peer}, nil
	case <-timer.C:
		e.log.Debug().Str("id", id).Msg("sync request timed out")
		return nil, ErrRequestTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finishRequest drops the pending entry and leaves syncing once no request
// is outstanding
func (e *Engine) finishRequest(l *link, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.pending, id)
	e.inflight--
	if e.inflight == 0 && e.link == l && e.status == StatusSyncing {
		e.setStatusLocked(StatusConnected)
	}
}

// Disconnect closes the connection. Pending requests fail.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	l := e.link
	e.mu.Unlock()
	if l != nil {
		e.teardown(l, nil)
	}
}

// Close disconnects and closes the events channel. The engine cannot be
// used afterwards.
func (e *Engine) Close() {
	e.Disconnect()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

func (e *Engine) readLoop(l *link) {
	welcomed := false
	for {
		msg, err := l.conn.Receive()
		if errors.Is(err, ErrMalformedMessage) {
			e.log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}
		if err != nil {
			e.fail(l, err)
			return
		}

		if !welcomed {
			if msg.Type != TypeWelcome {
				e.log.Debug().Str("type", string(msg.Type)).Msg("ignoring message before welcome")
				continue
			}
			var w Welcome
			if err := msg.Decode(&w); err != nil {
				e.log.Debug().Err(err).Msg("ignoring malformed welcome")
				continue
			}
			welcomed = true

			e.mu.Lock()
			e.peer = &w
			e.emitLocked(Event{Kind: EventWelcome, Peer: &w})
			e.setStatusLocked(StatusConnected)
			e.mu.Unlock()
			l.welcome <- w
			continue
		}

		switch msg.Type {
		case TypeSyncResponse, TypeError:
			if e.deliver(msg) {
				continue
			}
			if msg.Type == TypeError {
				var p ErrorPayload
				_ = msg.Decode(&p)
				e.mu.Lock()
				e.emitLocked(Event{Kind: EventError, Err: &PeerError{Message: p.Message}})
				e.mu.Unlock()
				continue
			}
			e.log.Debug().Str("id", msg.ID).Msg("dropping response with no pending request")
		case TypeSyncRequest:
			// This side only initiates; tell the host and answer with nothing
			e.mu.Lock()
			e.emitLocked(Event{Kind: EventSyncRequestReceived})
			e.mu.Unlock()
			if err := l.conn.Send(lockedResponse(msg.ID)); err != nil {
				e.fail(l, err)
				return
			}
		default:
			e.log.Debug().Str("type", string(msg.Type)).Msg("ignoring unknown message")
		}
	}
}

// deliver hands msg to the request waiting for it. Returns false when no
// request with that ID is pending.
func (e *Engine) deliver(msg Message) bool {
	e.mu.Lock()
	ch, ok := e.pending[msg.ID]
	if ok {
		delete(e.pending, msg.ID)
	}
	e.mu.Unlock()

	if ok {
		ch <- reply{msg: msg}
	}
	return ok
}

// fail reports a transport failure and tears the link down
func (e *Engine) fail(l *link, err error) {
	e.teardown(l, err)
}

// teardown closes l once. With a non-nil err the engine passes through the
// error state before settling on disconnected.
func (e *Engine) teardown(l *link, err error) {
	l.once.Do(func() {
		l.conn.Close()
		close(l.done)

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.link != l {
			return
		}
		failure := err
		if failure == nil {
			failure = fmt.Errorf("%w: disconnected", ErrTransportUnavailable)
		} else if !errors.Is(failure, ErrTransportUnavailable) {
			failure = fmt.Errorf("%w: %v", ErrTransportUnavailable, failure)
		}
		for id, ch := range e.pending {
			ch <- reply{err: failure}
			delete(e.pending, id)
		}

		if err != nil {
			e.log.Debug().Err(err).Msg("transport failure")
			e.emitLocked(Event{Kind: EventError, Err: err})
			e.setStatusLocked(StatusError)
		}
		e.link = nil
		e.peer = nil
		e.setStatusLocked(StatusDisconnected)
		e.emitLocked(Event{Kind: EventDisconnected})
	})
}

func (e *Engine) setStatusLocked(s Status) {
	if e.status == s {
		return
	}
	e.log.Debug().Str("from", string(e.status)).Str("to", string(s)).Msg("status")
	e.status = s
	e.emitLocked(Event{Kind: EventStatusChange, Status: s})
}

func (e *Engine) emitLocked(ev Event) {
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.log.Warn().Str("kind", string(ev.Kind)).Msg("event buffer full, dropping")
	}
}

func (e *Engine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
