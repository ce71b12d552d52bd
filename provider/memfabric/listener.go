package memfabric

import (
	"net"

	"github.com/ucxgo/ucxgo/provider"
)

// connRequest is an opaque pending inbound connection, wrapping the
// already-accepted TCP socket. Accepting the underlying socket ahead of
// the engine's own accept decision matches UCX's model: the listener's
// new-connection callback fires with a request the application may
// accept or reject, but the transport-level three-way handshake has
// already happened by the point that callback runs.
type connRequest struct {
	conn net.Conn
	addr net.Addr
}

var _ provider.ConnRequest = (*connRequest)(nil)

func (c *connRequest) RemoteAddr() net.Addr { return c.addr }

// memListener is the TCP-backed provider.Listener.
type memListener struct {
	ln        *net.TCPListener
	w         *worker
	onConnReq provider.NewConnHandler
}

var _ provider.Listener = (*memListener)(nil)

func (l *memListener) Addr() net.Addr { return l.ln.Addr() }

func (l *memListener) Close() error { return l.ln.Close() }

func (l *memListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.w.postNewConn(&connRequest{conn: conn, addr: conn.RemoteAddr()})
	}
}
