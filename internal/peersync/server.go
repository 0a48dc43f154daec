package peersync

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/illarion/lockpass/internal/core"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultAnswerTimeout = 5 * time.Second
	subscriberBuffer     = 16
)

// ServerConfig configures the responding side
type ServerConfig struct {
	DeviceID      string
	DeviceName    string
	AnswerTimeout time.Duration // how long the subscriber may take to answer
	RateLimit     rate.Limit    // sync requests per second per connection, 0 for no limit
	RateBurst     int
	Logger        zerolog.Logger
}

// Request is an inbound sync request waiting for the vault owner's answer
type Request struct {
	ID   string
	Peer string

	reply chan SyncResponse
	once  sync.Once
}

// Respond answers with the given entries. Only the first answer counts.
func (r *Request) Respond(entries []core.SyncEntry) {
	if entries == nil {
		entries = []core.SyncEntry{}
	}
	r.answer(SyncResponse{Entries: entries})
}

// Decline answers as a locked vault with nothing to offer
func (r *Request) Decline() {
	r.answer(SyncResponse{Entries: []core.SyncEntry{}, Locked: true})
}

func (r *Request) answer(resp SyncResponse) {
	r.once.Do(func() { r.reply <- resp })
}

// Server answers sync requests from initiators. Requests are handed to the
// single subscriber; without one, every request gets the locked response.
type Server struct {
	cfg ServerConfig
	log zerolog.Logger

	mu         sync.Mutex
	subscriber chan *Request
	conns      map[Conn]struct{}
	wg         sync.WaitGroup
}

// NewServer returns a server with no subscriber
func NewServer(cfg ServerConfig) *Server {
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Server{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "sync-server").Logger(),
		conns: make(map[Conn]struct{}),
	}
}

// Subscribe returns the channel inbound requests are delivered on. There is
// one subscriber; calling it again returns the same channel.
func (s *Server) Subscribe() <-chan *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber == nil {
		s.subscriber = make(chan *Request, subscriberBuffer)
	}
	return s.subscriber
}

// Unsubscribe closes the request channel. Later requests get the locked
// response.
func (s *Server) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber != nil {
		close(s.subscriber)
		s.subscriber = nil
	}
}

// Serve accepts connections on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.closeAll()
			s.wg.Wait()
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(ctx, NewStreamConn(c)); err != nil {
				s.log.Debug().Err(err).Str("peer", c.RemoteAddr().String()).Msg("connection closed")
			}
		}()
	}
}

// ServeConn greets one initiator and answers its requests until the
// connection closes
func (s *Server) ServeConn(ctx context.Context, conn Conn) error {
	s.track(conn, true)
	defer s.track(conn, false)
	defer conn.Close()

	welcome, err := NewMessage(TypeWelcome, "", Welcome{DeviceID: s.cfg.DeviceID, DeviceName: s.cfg.DeviceName})
	if err != nil {
		return err
	}
	if err := conn.Send(welcome); err != nil {
		return err
	}
	s.log.Debug().Str("peer", conn.RemoteAddr()).Msg("peer connected")

	limiter := rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst)
	for {
		msg, err := conn.Receive()
		if errors.Is(err, ErrMalformedMessage) {
			s.log.Debug().Err(err).Str("peer", conn.RemoteAddr()).Msg("ignoring malformed frame")
			continue
		}
		if err != nil {
			return err
		}

		switch msg.Type {
		case TypeSyncRequest:
			if !limiter.Allow() {
				s.log.Warn().Str("peer", conn.RemoteAddr()).Msg("sync request rate limited")
				if err := conn.Send(errorMessage(msg.ID, "too many requests")); err != nil {
					return err
				}
				continue
			}
			if err := conn.Send(s.answer(ctx, conn, msg)); err != nil {
				return err
			}
		case TypeError:
			var p ErrorPayload
			_ = msg.Decode(&p)
			s.log.Debug().Str("peer", conn.RemoteAddr()).Str("message", p.Message).Msg("peer reported error")
		default:
			s.log.Debug().Str("type", string(msg.Type)).Msg("ignoring message")
		}
	}
}

// answer asks the subscriber for entries and falls back to the locked
// response when nobody answers in time
func (s *Server) answer(ctx context.Context, conn Conn, msg Message) Message {
	req := &Request{
		ID:    msg.ID,
		Peer:  conn.RemoteAddr(),
		reply: make(chan SyncResponse, 1),
	}

	s.mu.Lock()
	delivered := false
	if s.subscriber != nil {
		select {
		case s.subscriber <- req:
			delivered = true
		default:
		}
	}
	s.mu.Unlock()

	if !delivered {
		s.log.Debug().Str("id", msg.ID).Msg("no subscriber, answering locked")
		return lockedResponse(msg.ID)
	}

	timer := time.NewTimer(s.cfg.AnswerTimeout)
	defer timer.Stop()

	var resp SyncResponse
	select {
	case resp = <-req.reply:
	case <-timer.C:
		s.log.Warn().Str("id", msg.ID).Msg("subscriber did not answer, answering locked")
		req.Decline()
		return lockedResponse(msg.ID)
	case <-ctx.Done():
		req.Decline()
		return lockedResponse(msg.ID)
	}

	out, err := NewMessage(TypeSyncResponse, msg.ID, resp)
	if err != nil {
		return errorMessage(msg.ID, "failed to encode entries")
	}
	s.log.Debug().Str("id", msg.ID).Int("entries", len(resp.Entries)).Bool("locked", resp.Locked).Msg("answered sync request")
	return out
}

func (s *Server) track(conn Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Responder answers requests from sess until the channel closes. Once sess
// is locked every request is declined.
func Responder(ctx context.Context, requests <-chan *Request, sess *core.Session, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			entries, err := sess.ExportEntries()
			if err != nil {
				if !errors.Is(err, core.ErrVaultLocked) {
					log.Warn().Err(err).Msg("failed to export entries")
				}
				req.Decline()
				continue
			}
			req.Respond(entries)
		}
	}
}
