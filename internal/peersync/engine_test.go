package peersync

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/illarion/lockpass/internal/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func pipePair() (Conn, Conn) {
	a, b := net.Pipe()
	return NewStreamConn(a), NewStreamConn(b)
}

func mustMessage(t *testing.T, typ MessageType, id string, payload any) Message {
	t.Helper()
	msg, err := NewMessage(typ, id, payload)
	require.NoError(t, err)
	return msg
}

// drain collects the events buffered so far
func drain(e *Engine) []Event {
	var out []Event
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func statuses(events []Event) []Status {
	var out []Status
	for _, ev := range events {
		if ev.Kind == EventStatusChange {
			out = append(out, ev.Status)
		}
	}
	return out
}

func kinds(events []Event) []EventKind {
	var out []EventKind
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func connectToServer(t *testing.T, srv *Server, cfg EngineConfig) *Engine {
	t.Helper()
	client, server := pipePair()
	go srv.ServeConn(context.Background(), server)

	e := NewEngine(cfg)
	require.NoError(t, e.Attach(context.Background(), client))
	t.Cleanup(e.Disconnect)
	return e
}

func TestHandshake(t *testing.T) {
	srv := NewServer(ServerConfig{DeviceID: "dev-1", DeviceName: "laptop"})
	e := connectToServer(t, srv, EngineConfig{})

	assert.Equal(t, StatusConnected, e.Status())
	require.NotNil(t, e.Peer())
	assert.Equal(t, "dev-1", e.Peer().DeviceID)
	assert.Equal(t, "laptop", e.Peer().DeviceName)

	events := drain(e)
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, statuses(events))
	assert.Contains(t, kinds(events), EventWelcome)
}

func TestHandshakeIgnoresMessagesBeforeWelcome(t *testing.T) {
	client, peer := pipePair()
	go func() {
		peer.Send(mustMessage(t, TypeSyncResponse, "stray", SyncResponse{}))
		peer.Send(mustMessage(t, TypeError, "", ErrorPayload{Message: "noise"}))
		peer.Send(Message{Type: TypeWelcome, Payload: []byte(`"not an object"`)})
		peer.Send(mustMessage(t, TypeWelcome, "", Welcome{DeviceID: "p", DeviceName: "phone"}))
	}()

	e := NewEngine(EngineConfig{HandshakeTimeout: 2 * time.Second})
	defer e.Disconnect()
	require.NoError(t, e.Attach(context.Background(), client))
	assert.Equal(t, "phone", e.Peer().DeviceName)
	assert.NotContains(t, kinds(drain(e)), EventError)
}

func TestHandshakeTimeout(t *testing.T) {
	client, peer := pipePair()
	defer peer.Close()
	go func() {
		// Never says welcome
		for {
			if _, err := peer.Receive(); err != nil {
				return
			}
		}
	}()

	e := NewEngine(EngineConfig{HandshakeTimeout: 50 * time.Millisecond})
	err := e.Attach(context.Background(), client)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, StatusDisconnected, e.Status())

	events := drain(e)
	assert.Equal(t, []Status{StatusConnecting, StatusError, StatusDisconnected}, statuses(events))
	assert.Contains(t, kinds(events), EventDisconnected)
}

func TestSyncRoundTrip(t *testing.T) {
	srv := NewServer(ServerConfig{DeviceID: "dev-1", DeviceName: "laptop"})
	requests := srv.Subscribe()
	go func() {
		for req := range requests {
			req.Respond([]core.SyncEntry{
				{ID: "1", Title: "GitHub", Username: "dev@example.com", Password: "p@ss", ModifiedAt: 100},
			})
		}
	}()
	defer srv.Unsubscribe()

	e := connectToServer(t, srv, EngineConfig{})
	drain(e)

	result, err := e.RequestSync(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Locked)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "p@ss", result.Entries[0].Password)
	assert.Equal(t, "laptop", result.Peer.DeviceName)

	assert.Equal(t, StatusConnected, e.Status())
	assert.Equal(t, []Status{StatusSyncing, StatusConnected}, statuses(drain(e)))
	assert.Zero(t, e.pendingCount())
}

func TestSyncWithoutSubscriberIsLocked(t *testing.T) {
	srv := NewServer(ServerConfig{DeviceID: "dev-1"})
	e := connectToServer(t, srv, EngineConfig{})

	result, err := e.RequestSync(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Locked)
	assert.Empty(t, result.Entries)
}

func TestSyncSubscriberTooSlowIsLocked(t *testing.T) {
	srv := NewServer(ServerConfig{AnswerTimeout: 30 * time.Millisecond})
	requests := srv.Subscribe()
	defer srv.Unsubscribe()
	go func() {
		for req := range requests {
			time.Sleep(100 * time.Millisecond)
			req.Respond([]core.SyncEntry{{ID: "late"}})
		}
	}()

	e := connectToServer(t, srv, EngineConfig{})
	result, err := e.RequestSync(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Locked)
	assert.Empty(t, result.Entries)
}

func TestSyncRequestTimeout(t *testing.T) {
	client, peer := pipePair()
	requestIDs := make(chan string, 1)
	go func() {
		peer.Send(mustMessage(t, TypeWelcome, "", Welcome{DeviceID: "p", DeviceName: "silent"}))
		for {
			msg, err := peer.Receive()
			if err != nil {
				return
			}
			if msg.Type == TypeSyncRequest {
				requestIDs <- msg.ID
			}
		}
	}()

	e := NewEngine(EngineConfig{RequestTimeout: 50 * time.Millisecond})
	defer e.Disconnect()
	require.NoError(t, e.Attach(context.Background(), client))

	_, err := e.RequestSync(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimedOut)
	assert.Zero(t, e.pendingCount())

	// The late answer finds nobody waiting and changes nothing
	id := <-requestIDs
	require.NoError(t, peer.Send(mustMessage(t, TypeSyncResponse, id, SyncResponse{Entries: []core.SyncEntry{{ID: "x"}}})))
	assert.Zero(t, e.pendingCount())
	assert.Equal(t, StatusConnected, e.Status())
}

func TestTransportFailureFailsPending(t *testing.T) {
	client, peer := pipePair()
	go func() {
		peer.Send(mustMessage(t, TypeWelcome, "", Welcome{DeviceID: "p"}))
		// Take the request, then drop the connection
		peer.Receive()
		peer.Close()
	}()

	e := NewEngine(EngineConfig{RequestTimeout: 5 * time.Second})
	require.NoError(t, e.Attach(context.Background(), client))
	drain(e)

	_, err := e.RequestSync(context.Background())
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Zero(t, e.pendingCount())

	assert.Eventually(t, func() bool {
		return e.Status() == StatusDisconnected
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, e.Peer())

	events := drain(e)
	assert.Contains(t, kinds(events), EventError)
	assert.Contains(t, kinds(events), EventDisconnected)
	assert.Contains(t, statuses(events), StatusError)

	_, err = e.RequestSync(context.Background())
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestRateLimitedRequest(t *testing.T) {
	srv := NewServer(ServerConfig{RateLimit: rate.Limit(0.001), RateBurst: 1})
	e := connectToServer(t, srv, EngineConfig{})

	_, err := e.RequestSync(context.Background())
	require.NoError(t, err)

	_, err = e.RequestSync(context.Background())
	var peerErr *PeerError
	require.ErrorAs(t, err, &peerErr)
	assert.Equal(t, "too many requests", peerErr.Message)
	assert.Equal(t, StatusConnected, e.Status())
}

func TestInitiatorAnswersInboundRequestAsLocked(t *testing.T) {
	client, peer := pipePair()
	go peer.Send(mustMessage(t, TypeWelcome, "", Welcome{DeviceID: "p"}))

	e := NewEngine(EngineConfig{})
	defer e.Disconnect()
	require.NoError(t, e.Attach(context.Background(), client))
	drain(e)

	go peer.Send(mustMessage(t, TypeSyncRequest, "from-peer", struct{}{}))
	msg, err := peer.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeSyncResponse, msg.Type)
	assert.Equal(t, "from-peer", msg.ID)

	var resp SyncResponse
	require.NoError(t, msg.Decode(&resp))
	assert.True(t, resp.Locked)
	assert.Contains(t, kinds(drain(e)), EventSyncRequestReceived)
}

func TestSyncBetweenVaultsOverTCP(t *testing.T) {
	newSession := func(name string) *core.Session {
		v := core.New(filepath.Join(t.TempDir(), name), core.WithIterations(1000))
		s, err := v.Create([]byte("pw-" + name))
		require.NoError(t, err)
		t.Cleanup(s.Lock)
		return s
	}
	desktop := newSession("desktop")
	phone := newSession("phone")

	_, err := desktop.AddEntry(core.EntryFields{Title: "GitHub", Username: "dev@example.com", Password: "p@ss"})
	require.NoError(t, err)
	_, err = desktop.AddEntry(core.EntryFields{Title: "Mail", Password: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ServerConfig{DeviceID: "desktop-id", DeviceName: "desktop"})
	go Responder(ctx, srv.Subscribe(), desktop, zerolog.Nop())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	info, err := PairingFromAddr(ln.Addr(), "127.0.0.1")
	require.NoError(t, err)
	parsed, err := ParsePairing(info.String())
	require.NoError(t, err)

	e := NewEngine(EngineConfig{})
	require.NoError(t, e.Connect(ctx, parsed))
	defer e.Disconnect()

	result, err := e.RequestSync(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)

	imported, err := phone.ImportEntries(result.Entries)
	require.NoError(t, err)
	assert.Equal(t, 2, imported.Imported)

	entries, err := phone.ListAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "GitHub", entries[0].Title)
	assert.Equal(t, "p@ss", entries[0].Password)

	// Once the desktop locks, it still answers, with nothing
	desktop.Lock()
	result, err = e.RequestSync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Locked)
	assert.Empty(t, result.Entries)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConnectUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	info, err := PairingFromAddr(ln.Addr(), "")
	require.NoError(t, err)
	ln.Close()

	e := NewEngine(EngineConfig{HandshakeTimeout: time.Second})
	err = e.Connect(context.Background(), info)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, StatusDisconnected, e.Status())
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	a, b := net.Pipe()
	client := NewStreamConn(a)
	peer := NewStreamConn(b)
	go func() {
		b.Write([]byte("not json\n"))
		peer.Send(mustMessage(t, TypeWelcome, "", Welcome{DeviceID: "p", DeviceName: "phone"}))
		msg, err := peer.Receive()
		if err != nil || msg.Type != TypeSyncRequest {
			return
		}
		b.Write([]byte("{broken\n"))
		peer.Send(mustMessage(t, TypeSyncResponse, msg.ID, SyncResponse{Entries: []core.SyncEntry{{ID: "1"}}}))
	}()

	e := NewEngine(EngineConfig{HandshakeTimeout: 2 * time.Second})
	defer e.Close()
	require.NoError(t, e.Attach(context.Background(), client))
	assert.Equal(t, "phone", e.Peer().DeviceName)

	result, err := e.RequestSync(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Entries, 1)
	assert.Equal(t, StatusConnected, e.Status())
}

func TestServerSkipsMalformedFrames(t *testing.T) {
	srv := NewServer(ServerConfig{DeviceID: "dev-1"})
	a, b := net.Pipe()
	go srv.ServeConn(context.Background(), NewStreamConn(b))

	client := NewStreamConn(a)
	defer client.Close()
	welcome, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeWelcome, welcome.Type)

	_, err = a.Write([]byte("not json\n"))
	require.NoError(t, err)
	require.NoError(t, client.Send(mustMessage(t, TypeSyncRequest, "r1", struct{}{})))

	msg, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeSyncResponse, msg.Type)
	assert.Equal(t, "r1", msg.ID)
}

func TestReceiveMalformedKeepsConnection(t *testing.T) {
	a, b := net.Pipe()
	conn := NewStreamConn(a)
	defer conn.Close()
	go func() {
		b.Write([]byte("[1,2\n"))
		NewStreamConn(b).Send(mustMessage(t, TypeError, "", ErrorPayload{Message: "x"}))
	}()

	_, err := conn.Receive()
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.NotErrorIs(t, err, ErrTransportUnavailable)

	msg, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, TypeError, msg.Type)
}

// blockingDialer holds every dial until release is closed
type blockingDialer struct {
	dials   chan struct{}
	release chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context, address string) (Conn, error) {
	d.dials <- struct{}{}
	select {
	case <-d.release:
	case <-ctx.Done():
	}
	return nil, ErrTransportUnavailable
}

func TestConcurrentConnectIsRejected(t *testing.T) {
	d := &blockingDialer{dials: make(chan struct{}, 2), release: make(chan struct{})}
	e := NewEngine(EngineConfig{Dialer: d, HandshakeTimeout: 2 * time.Second})
	defer e.Close()

	first := make(chan error, 1)
	go func() { first <- e.Connect(context.Background(), PairingInfo{"127.0.0.1", 1}) }()
	<-d.dials

	err := e.Connect(context.Background(), PairingInfo{"127.0.0.1", 1})
	assert.ErrorIs(t, err, errAlreadyConnected)
	assert.Len(t, d.dials, 0)

	close(d.release)
	assert.ErrorIs(t, <-first, ErrTransportUnavailable)
	assert.Equal(t, StatusDisconnected, e.Status())
}

func TestCloseEndsEvents(t *testing.T) {
	srv := NewServer(ServerConfig{DeviceID: "dev-1"})
	e := connectToServer(t, srv, EngineConfig{})

	finished := make(chan struct{})
	go func() {
		for range e.Events() {
		}
		close(finished)
	}()

	e.Close()
	e.Close()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
	assert.Equal(t, StatusDisconnected, e.Status())
	assert.ErrorIs(t, e.Connect(context.Background(), PairingInfo{"127.0.0.1", 1}), errEngineClosed)
}

func TestServeStopsOnListenerError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()

	srv := NewServer(ServerConfig{})
	err = srv.Serve(context.Background(), ln)
	assert.Error(t, err)
}
