package peersync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// MaxFrameSize bounds a single message on the wire
const MaxFrameSize = 16 << 20

// Conn is a message-framed, connection-oriented link to a peer.
// Receive blocks until a message arrives or the link fails; Close unblocks it.
type Conn interface {
	Send(msg Message) error
	Receive() (Message, error)
	Close() error
	RemoteAddr() string
}

// Dialer opens a Conn to a peer
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// TCPDialer dials plain TCP and frames messages as JSON lines
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to address
func (d TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return NewStreamConn(c), nil
}

// streamConn frames one JSON document per line over any net.Conn
type streamConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewStreamConn wraps c with newline-delimited JSON framing
func NewStreamConn(c net.Conn) Conn {
	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &streamConn{
		conn:         c,
		scanner:      scanner,
		writeTimeout: 10 * time.Second,
	}
}

func (s *streamConn) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if len(data) >= MaxFrameSize {
		return ErrFrameTooLarge
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

func (s *streamConn) Receive() (Message, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return msg, nil
	}

	err := s.scanner.Err()
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		return Message{}, ErrFrameTooLarge
	case err == nil:
		return Message{}, fmt.Errorf("%w: connection closed", ErrTransportUnavailable)
	default:
		return Message{}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
}

func (s *streamConn) Close() error {
	return s.conn.Close()
}

func (s *streamConn) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
