package ucxgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ucxgo/ucxgo/provider"
	"github.com/ucxgo/ucxgo/provider/memfabric"
)

func progressUntil(t *testing.T, timeout time.Duration, cond func() bool, engines ...*Engine) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range engines {
			e.Progress()
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func newPair(t *testing.T, serverHooks, clientHooks Hooks) (server, client *Engine, addr string) {
	t.Helper()

	fab := memfabric.New(memfabric.Config{})
	server, err := NewEngine(fab, Config{ConnectTimeout: time.Second}, serverHooks)
	require.NoError(t, err)
	client, err = NewEngine(fab, Config{ConnectTimeout: time.Second}, clientHooks)
	require.NoError(t, err)

	a, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() {
		disconnectAll(t, server, client)
		require.NoError(t, server.Close())
		require.NoError(t, client.Close())
	})
	return server, client, a.String()
}

// TestHandshakeRoundTrip checks a client and server reach Established
// and learn each other's connection id.
func TestHandshakeRoundTrip(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	var serverConn *Connection
	serverHooks := Hooks{
		OnAccepted: func(e *Engine, req provider.ConnRequest) {
			c, err := e.Accept(req, func(Status) {})
			require.NoError(t, err)
			serverConn = c
		},
	}

	server, client, addr := newPair(t, serverHooks, Hooks{})

	var clientStatus Status
	var clientDone bool
	clientConn, err := client.Connect(addr, func(status Status) {
		clientStatus = status
		clientDone = true
	})
	require.NoError(t, err)

	progressUntil(t, 2*time.Second, func() bool {
		return clientDone && serverConn != nil && serverConn.IsEstablished()
	}, server, client)

	require.Equal(t, StatusOK, clientStatus)
	require.True(t, clientConn.IsEstablished())
	require.Equal(t, serverConn.ID(), clientConn.RemoteID())
	require.Equal(t, clientConn.ID(), serverConn.RemoteID())
}

// TestHandshakeTimeout checks a handshake that never gets a reply
// expires with StatusTimedOut.
func TestHandshakeTimeout(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	fab := memfabric.New(memfabric.Config{})
	server, err := NewEngine(fab, Config{ConnectTimeout: time.Second}, Hooks{})
	require.NoError(t, err)
	client, err := NewEngine(fab, Config{ConnectTimeout: 50 * time.Millisecond}, Hooks{})
	require.NoError(t, err)
	t.Cleanup(func() {
		disconnectAll(t, server, client)
		require.NoError(t, server.Close())
		require.NoError(t, client.Close())
	})

	// A listener that never accepts leaves the client handshake stuck
	// waiting for the remote id forever, so its timeout fires.
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	server.hooks.OnAccepted = func(*Engine, provider.ConnRequest) {
		// never accept: the peer endpoint exists at the TCP level but no
		// handshake reply is ever sent.
	}

	var status Status
	var done bool
	_, err = client.Connect(addr.String(), func(s Status) {
		status = s
		done = true
	})
	require.NoError(t, err)

	progressUntil(t, time.Second, func() bool { return done }, client, server)
	require.Equal(t, StatusTimedOut, status)
}

// TestSendDataSyncCompletion checks a small send completes inline,
// before SendData returns, with nothing added to outstanding.
func TestSendDataSyncCompletion(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server, client, cConn, sConn := establishedPair(t)
	defer noop(server, client)

	var status Status
	var invoked bool
	ok := client.SendData(cConn, []byte("12345678"), 1, func(s Status) {
		status = s
		invoked = true
	})
	require.True(t, ok)
	require.True(t, invoked, "small send must complete before SendData returns")
	require.Equal(t, StatusOK, status)
	require.Equal(t, 0, cConn.outstanding.Len())
	_ = sConn
}

// TestSendDataAsyncCompletion checks a large send returns in progress
// and only completes from a later Progress call.
func TestSendDataAsyncCompletion(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server, client, cConn, sConn := establishedPair(t)
	defer noop(server, client)

	big := make([]byte, memfabric.DefaultInlineThreshold*32)
	var invoked bool
	ok := client.SendData(cConn, big, 1, func(Status) { invoked = true })
	require.True(t, ok)
	require.False(t, invoked)
	require.Equal(t, 1, cConn.outstanding.Len())

	progressUntil(t, time.Second, func() bool { return invoked }, client)
	require.Equal(t, 0, cConn.outstanding.Len())
	_ = sConn
}

// TestDisconnectCancelsOutstanding checks a disconnect with in-flight
// sends cancels them, then invokes disconnect_cb once all have drained.
func TestDisconnectCancelsOutstanding(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server, client, cConn, sConn := establishedPair(t)
	defer noop(server, client)

	big := make([]byte, memfabric.DefaultInlineThreshold*32)
	var statuses []Status
	client.SendData(cConn, big, 1, func(s Status) { statuses = append(statuses, s) })
	client.SendData(cConn, big, 2, func(s Status) { statuses = append(statuses, s) })
	require.Equal(t, 2, cConn.outstanding.Len())

	var disconnected bool
	ok := client.Disconnect(cConn, func(Status) { disconnected = true })
	require.True(t, ok)

	progressUntil(t, time.Second, func() bool { return disconnected }, client)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		require.Equal(t, StatusCancelled, s)
	}
	require.Equal(t, stateReleased, cConn.state)

	// A second Disconnect is rejected.
	require.False(t, client.Disconnect(cConn, func(Status) {}))
	_ = sConn
}

// TestPeerErrorDispatchedOnce checks a peer error mid-transfer fires the
// recv callback with an error and dispatches on_error exactly once, on
// a later tick.
func TestPeerErrorDispatchedOnce(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server, client, cConn, sConn := establishedPair(t)

	var recvStatus Status
	var recvDone bool
	buf := make([]byte, 8)
	client.RecvData(cConn, buf, 1, func(s Status, _ int) {
		recvStatus = s
		recvDone = true
	})

	var onErrorCount int
	client.hooks.OnError = func(*Engine, *Connection) { onErrorCount++ }

	// Force-closing the server side's endpoint without a graceful
	// handshake is indistinguishable, from the client's perspective, from
	// the peer process crashing: the client's read loop sees a socket
	// error and reports it through the endpoint error handler.
	require.True(t, server.Disconnect(sConn, func(Status) {}))

	progressUntil(t, time.Second, func() bool { return recvDone && onErrorCount > 0 }, client, server)
	require.True(t, recvStatus.IsError())
	require.Equal(t, 1, onErrorCount)

	client.Disconnect(cConn, func(Status) {})
	progressUntil(t, time.Second, func() bool { return cConn.state == stateReleased }, client)
}

// TestSendIOMsgRoundTrip checks a basic in-band message reaches the
// peer's OnIOMsg hook with its payload intact.
func TestSendIOMsgRoundTrip(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server, client, cConn, sConn := establishedPair(t)
	defer noop(server, client)

	var received []byte
	var receivedConn *Connection
	server.hooks.OnIOMsg = func(_ *Engine, c *Connection, buf []byte) {
		receivedConn = c
		received = append([]byte(nil), buf...)
	}

	var sendStatus Status
	var sendDone bool
	ok := client.SendIOMsg(cConn, []byte("hello iomsg"), func(s Status) {
		sendStatus = s
		sendDone = true
	})
	require.True(t, ok)

	progressUntil(t, time.Second, func() bool { return sendDone && received != nil }, client, server)
	require.Equal(t, StatusOK, sendStatus)
	require.Equal(t, sConn, receivedConn)
	require.Equal(t, "hello iomsg", string(received))
}

// TestSendIOMsgDeferredUntilEstablished checks an iomsg addressed to a
// connection that exists in the registry but hasn't finished its
// handshake is held rather than dropped, and is dispatched once the
// connection reaches Established.
func TestSendIOMsgDeferredUntilEstablished(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	server, client, cConn, sConn := establishedPair(t)
	defer noop(server, client)

	var received []byte
	server.hooks.OnIOMsg = func(_ *Engine, _ *Connection, buf []byte) {
		received = append([]byte(nil), buf...)
	}

	// Simulate the race window from iomsg.go's tryDispatch: the
	// connection is registered (handshake already completed here by
	// establishedPair, but the registry lookup doesn't care when) yet
	// momentarily reports itself as not-yet-Established.
	sConn.state = stateHandshaking

	var sendDone bool
	ok := client.SendIOMsg(cConn, []byte("deferred payload"), func(Status) { sendDone = true })
	require.True(t, ok)

	// The arrival must be held, not dropped: the addressed connection
	// exists but was not Established when it arrived.
	progressUntil(t, time.Second, func() bool { return sendDone && server.iomsg.haveDeferred }, client, server)
	require.Nil(t, received, "iomsg must be deferred, not dropped or delivered early")

	sConn.state = stateEstablished
	progressUntil(t, time.Second, func() bool { return received != nil }, server)
	require.Equal(t, "deferred payload", string(received))
	require.False(t, server.iomsg.haveDeferred)
}

func noop(engines ...*Engine) {}

// disconnectAll disconnects every connection still registered on the
// given engines and drives them until each disconnect has been reaped.
// Engine.Close leaves live connections alone, so without this their
// endpoint reader goroutines would outlive the test.
func disconnectAll(t *testing.T, engines ...*Engine) {
	t.Helper()
	for _, e := range engines {
		for _, c := range e.byID {
			e.Disconnect(c, nil)
		}
	}
	progressUntil(t, time.Second, func() bool {
		for _, e := range engines {
			if len(e.disconnecting) > 0 {
				return false
			}
		}
		return true
	}, engines...)
}

// establishedPair brings up a client/server connection pair over a real
// loopback memfabric and blocks (via Progress polling) until both sides
// report Established, for every test that needs a live connection.
func establishedPair(t *testing.T) (server, client *Engine, clientConn, serverConn *Connection) {
	t.Helper()

	var sConn *Connection
	serverHooks := Hooks{
		OnAccepted: func(e *Engine, req provider.ConnRequest) {
			c, err := e.Accept(req, func(Status) {})
			require.NoError(t, err)
			sConn = c
		},
	}
	server, client, addr := newPair(t, serverHooks, Hooks{})

	var cDone bool
	cConn, err := client.Connect(addr, func(Status) { cDone = true })
	require.NoError(t, err)

	progressUntil(t, 2*time.Second, func() bool {
		return cDone && sConn != nil && sConn.IsEstablished()
	}, server, client)

	return server, client, cConn, sConn
}
