package ucxgo

import (
	"container/list"
	"fmt"
	"net"
	"time"

	"github.com/ucxgo/ucxgo/provider"
)

type connState int

const (
	stateInit connState = iota
	stateHandshaking
	stateEstablished
	stateErrored
	stateDisconnecting
	stateReleased
)

func (s connState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateHandshaking:
		return "handshaking"
	case stateEstablished:
		return "established"
	case stateErrored:
		return "errored"
	case stateDisconnecting:
		return "disconnecting"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Connection is the runtime's state machine over one provider endpoint:
// Init -> Handshaking -> Established -> Disconnecting -> Released, with
// an Errored branch out of Handshaking or Established that still
// proceeds to Disconnecting on user disconnect.
type Connection struct {
	engine *Engine

	id       uint32
	remoteID uint32

	ep provider.Endpoint

	state  connState
	status Status // valid once state is Established or Errored

	establishCB  func(Status)
	disconnectCB func(Status)

	closeHandle any
	closing     bool

	outstanding list.List // of *request

	deadline    int64 // unix nanos; valid while state == stateHandshaking
	handshakeIx int    // index into engine.handshaking, maintained by the engine
	handshakeAt time.Time

	prefix string
}

// ID is this side's connection id, assigned before the endpoint exists.
func (c *Connection) ID() uint32 { return c.id }

// RemoteID is the peer's connection id, learned during handshake. It is
// zero exactly when the connection is not yet Established.
func (c *Connection) RemoteID() uint32 { return c.remoteID }

// IsEstablished reports whether the handshake has completed successfully.
func (c *Connection) IsEstablished() bool { return c.state == stateEstablished }

// Status is meaningful once the connection has left Handshaking.
func (c *Connection) Status() Status { return c.status }

func (c *Connection) String() string { return c.prefix }

func newConnection(e *Engine, id uint32, ep provider.Endpoint, remoteAddr net.Addr) *Connection {
	return &Connection{
		engine: e,
		id:     id,
		ep:     ep,
		state:  stateInit,
		prefix: fmt.Sprintf("conn[%d %s]", id, remoteAddr),
	}
}

// isTerminal reports whether no new send/recv submissions are admitted:
// a connection whose status is a terminal error, or which is already
// tearing down, admits nothing new.
func (c *Connection) isTerminal() bool {
	return c.state == stateErrored || c.state == stateDisconnecting || c.state == stateReleased
}

// fireEstablish invokes establish_cb exactly once, clearing it the
// instant invocation begins so a re-entrant call (e.g. the callback
// itself triggers a Disconnect) never observes a stale non-nil slot.
func (c *Connection) fireEstablish(status Status) {
	cb := c.establishCB
	if cb == nil {
		return
	}
	c.establishCB = nil
	cb(status)
}

// fireDisconnect invokes disconnect_cb exactly once, with the same
// clear-before-invoke discipline as fireEstablish.
func (c *Connection) fireDisconnect(status Status) {
	cb := c.disconnectCB
	if cb == nil {
		return
	}
	c.disconnectCB = nil
	cb(status)
}

// completeRequest is the runtime-side half of the request completion
// hook: unlink from outstanding, run the user callback, release the
// pooled wrapper back to requestPool.
func (c *Connection) completeRequest(r *request, status Status, recvLen int) {
	c.outstanding.Remove(r.elem)
	cb := r.cb
	if c.engine != nil {
		if c.engine.metrics != nil {
			c.engine.metrics.requestsCompleted.WithLabelValues(status.String()).Inc()
		}
		c.engine.log.WithField("conn", c.prefix).WithField("status", status).Debug("ucxgo: request completed")
	}
	requestPool.release(r)
	if cb != nil {
		cb(status, recvLen)
	}
}
