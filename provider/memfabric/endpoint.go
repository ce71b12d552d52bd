package memfabric

import (
	"net"
	"sync"

	"github.com/ucxgo/ucxgo/provider"
)

// streamWaiter is a posted, not-yet-satisfied StreamRecvWaitAll.
type streamWaiter struct {
	buf []byte
	req *provider.Request
}

// endpoint is the TCP-backed provider.Endpoint. Writes happen inline on
// the calling goroutine (the engine is single-threaded by contract, so
// this never races against itself); only inbound data, which arrives on
// the peer's schedule, needs a background reader. The reader never
// matches tags itself — tag matching is worker-global (a receive posted
// on the worker may be satisfied by any endpoint) — it only appends
// arrival events for Progress to reconcile.
type endpoint struct {
	conn       net.Conn
	remoteAddr net.Addr
	w          *worker
	errHandler provider.ErrHandler

	writeMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	streamBuf     []byte
	streamWaiters []*streamWaiter
}

var _ provider.Endpoint = (*endpoint)(nil)

func newEndpoint(w *worker, conn net.Conn, errHandler provider.ErrHandler) *endpoint {
	ep := &endpoint{
		conn:       conn,
		remoteAddr: conn.RemoteAddr(),
		w:          w,
		errHandler: errHandler,
	}
	go ep.readLoop()
	return ep
}

func (ep *endpoint) RemoteAddr() net.Addr { return ep.remoteAddr }

func (ep *endpoint) readLoop() {
	for {
		fr, err := readFrame(ep.conn)
		if err != nil {
			ep.mu.Lock()
			closedLocally := ep.closed
			ep.mu.Unlock()
			if !closedLocally {
				ep.w.postError(ep, provider.StatusPeerClosed)
			}
			return
		}

		switch fr.channel {
		case channelStream:
			ep.handleStreamBytes(fr.payload)
		case channelTagged:
			ep.w.postTaggedArrival(fr.tag, fr.payload)
		}
	}
}

func (ep *endpoint) write(b []byte) provider.Status {
	ep.writeMu.Lock()
	defer ep.writeMu.Unlock()

	if _, err := ep.conn.Write(b); err != nil {
		return provider.StatusEndpointFailed
	}
	return provider.StatusOK
}

// handleStreamBytes appends newly arrived stream bytes and tries to
// satisfy the oldest posted stream waiter (there is normally at most
// one: the handshake's 4-byte conn_id receive).
func (ep *endpoint) handleStreamBytes(b []byte) {
	ep.mu.Lock()
	ep.streamBuf = append(ep.streamBuf, b...)
	ep.drainStreamWaitersLocked()
	ep.mu.Unlock()
}

func (ep *endpoint) drainStreamWaitersLocked() {
	for len(ep.streamWaiters) > 0 {
		w := ep.streamWaiters[0]
		if len(ep.streamBuf) < len(w.buf) {
			return
		}
		copy(w.buf, ep.streamBuf[:len(w.buf)])
		ep.streamBuf = ep.streamBuf[len(w.buf):]
		ep.streamWaiters = ep.streamWaiters[1:]
		ep.w.postCompletion(w.req, provider.StatusOK, len(w.buf), 0)
	}
}

func (ep *endpoint) postStreamRecvWaitAll(buf []byte, req *provider.Request) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.streamWaiters = append(ep.streamWaiters, &streamWaiter{buf: buf, req: req})
	ep.drainStreamWaitersLocked()
}

// cancelStreamWaiter removes a posted stream receive if it is still
// waiting, reporting whether it found (and removed) one.
func (ep *endpoint) cancelStreamWaiter(req *provider.Request) bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	for i, w := range ep.streamWaiters {
		if w.req == req {
			ep.streamWaiters = append(ep.streamWaiters[:i], ep.streamWaiters[i+1:]...)
			return true
		}
	}
	return false
}

// CloseForce implements provider.Endpoint. Closing the in-process socket
// is effectively immediate, so it always reports done.
func (ep *endpoint) CloseForce() (closeHandle any, done bool) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil, true
	}
	ep.closed = true
	ep.mu.Unlock()

	_ = ep.conn.Close()
	return nil, true
}

func (ep *endpoint) CloseStatus(closeHandle any) provider.Status {
	return provider.StatusOK
}
