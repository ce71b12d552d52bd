package ucxgo

import (
	"fmt"
	"net"
	"time"

	"github.com/ucxgo/ucxgo/provider"
)

// connID wire size: the handshake exchanges exactly 4 bytes per side.
const connIDWireSize = 4

// Connect starts a client-side connection: creates the provider
// endpoint, enters Handshaking, and posts both halves of the conn_id
// exchange. establishCB fires exactly once, with OK once the remote id
// is learned or with an error if the endpoint fails to come up or the
// handshake times out.
func (e *Engine) Connect(addr string, establishCB func(Status)) (*Connection, error) {
	id := e.allocConnID()
	c := newConnection(e, id, nil, nil)
	c.establishCB = establishCB

	ep, err := e.w.Connect(addr, func(status Status) { e.onPeerError(c, status) })
	if err != nil {
		c.state = stateErrored
		c.status = StatusBadAddress
		c.fireEstablish(c.status)
		return nil, fmt.Errorf("ucxgo: connect %s: %w", addr, err)
	}
	c.ep = ep
	c.prefix = connPrefix(id, ep.RemoteAddr())

	e.startHandshake(c)
	return c, nil
}

// Accept finishes a server-side connection from a pending request
// surfaced through Hooks.OnAccepted's ConnRequest argument.
func (e *Engine) Accept(req provider.ConnRequest, establishCB func(Status)) (*Connection, error) {
	id := e.allocConnID()
	c := newConnection(e, id, nil, nil)
	c.establishCB = establishCB

	ep, err := e.w.Accept(req, func(status Status) { e.onPeerError(c, status) })
	if err != nil {
		c.state = stateErrored
		c.status = StatusBadAddress
		c.fireEstablish(c.status)
		return nil, fmt.Errorf("ucxgo: accept: %w", err)
	}
	c.ep = ep
	c.prefix = connPrefix(id, ep.RemoteAddr())

	e.startHandshake(c)
	return c, nil
}

// RejectConn declines a pending inbound connection request without ever
// creating a Connection for it.
func (e *Engine) RejectConn(req provider.ConnRequest) {
	e.w.RejectConn(req)
}

func connPrefix(id uint32, addr net.Addr) string {
	if addr == nil {
		return fmt.Sprintf("conn[%d ?]", id)
	}
	return fmt.Sprintf("conn[%d %s]", id, addr.String())
}

func (e *Engine) startHandshake(c *Connection) {
	c.state = stateHandshaking
	c.handshakeAt = time.Now()
	c.deadline = c.handshakeAt.Add(e.cfg.ConnectTimeout).UnixNano()
	// Registered by conn_id as soon as the endpoint exists, not only once
	// the handshake succeeds: an iomsg addressed to this connection can
	// legitimately arrive while it is still Handshaking, and tryDispatch
	// needs to find it here (and defer) rather than treat it as unknown.
	e.registerConnection(c)
	e.insertHandshaking(c)

	remoteIDBuf := make([]byte, connIDWireSize)
	outcome := e.w.StreamRecvWaitAll(c.ep, remoteIDBuf)
	submit(c, outcome, func(status Status, _ int) {
		e.completeHandshake(c, remoteIDBuf, status)
	})

	localIDBuf := appendConnID(make([]byte, 0, connIDWireSize), c.id)
	// Fire-and-forget: failure here is only observable through the
	// endpoint's peer-error callback, not through this outcome.
	_ = e.w.StreamSend(c.ep, localIDBuf)
}

// completeHandshake is the single completion path for the remote-id
// stream-recv, reached either from Progress (normal case) or from
// expireHandshakeTimeouts (deadline case, with StatusTimedOut).
func (e *Engine) completeHandshake(c *Connection, remoteIDBuf []byte, status Status) {
	if c.state != stateHandshaking {
		return
	}
	e.removeHandshaking(c)

	if status.IsError() {
		c.state = stateErrored
		c.status = status
		e.metrics.connectionsFailed.Inc()
		c.fireEstablish(status)
		return
	}

	c.remoteID = readConnID(remoteIDBuf)
	c.state = stateEstablished
	c.status = StatusOK
	e.metrics.connectionsEstablished.Inc()
	e.metrics.handshakeLatency.Observe(time.Since(c.handshakeAt).Seconds())
	c.fireEstablish(StatusOK)
}

func (e *Engine) insertHandshaking(c *Connection) {
	i := 0
	for ; i < len(e.handshaking); i++ {
		if e.handshaking[i].deadline > c.deadline {
			break
		}
	}
	e.handshaking = append(e.handshaking, nil)
	copy(e.handshaking[i+1:], e.handshaking[i:])
	e.handshaking[i] = c
	c.handshakeIx = i
	for j := i + 1; j < len(e.handshaking); j++ {
		e.handshaking[j].handshakeIx = j
	}
}

func (e *Engine) removeHandshaking(c *Connection) {
	i := c.handshakeIx
	if i < 0 || i >= len(e.handshaking) || e.handshaking[i] != c {
		return
	}
	e.handshaking = append(e.handshaking[:i], e.handshaking[i+1:]...)
	for j := i; j < len(e.handshaking); j++ {
		e.handshaking[j].handshakeIx = j
	}
}

// expireHandshakeTimeouts implements progress_timed_out_conns: the
// handshaking slice is kept sorted by deadline ascending, so expiry is
// just a prefix scan.
func (e *Engine) expireHandshakeTimeouts() bool {
	now := time.Now().UnixNano()
	did := false
	for len(e.handshaking) > 0 && e.handshaking[0].deadline <= now {
		c := e.handshaking[0]
		did = true
		e.completeHandshake(c, nil, StatusTimedOut)
	}
	return did
}

// processPendingAccepts hands every queued inbound connection request to
// OnAccepted once, and rejects, without dispatching it, any request that
// has waited longer than connect_timeout since it arrived.
func (e *Engine) processPendingAccepts() bool {
	if len(e.pendingAccept) == 0 {
		return false
	}
	batch := e.pendingAccept
	e.pendingAccept = nil

	now := time.Now()
	for _, pa := range batch {
		if now.Sub(pa.arrival) > e.cfg.ConnectTimeout {
			e.log.WithField("remote", pa.req.RemoteAddr()).Warn("ucxgo: rejecting stale pending accept")
			e.w.RejectConn(pa.req)
			continue
		}
		e.hooks.OnAccepted(e, pa.req)
	}
	return true
}
