package ucxgo

import "github.com/ucxgo/ucxgo/provider"

// iomsgLoop owns the single long-lived in-band-message receive: there
// is always exactly one outstanding iomsg recv between engine init and
// teardown. A fresh one is reposted every time the previous arrival is
// either dispatched or dropped.
type iomsgLoop struct {
	e   *Engine
	buf []byte
	sn  uint32

	pending *provider.Request // non-nil while a recv is posted

	// deferred holds an already-completed arrival whose connection
	// hasn't reached Established yet. It is re-checked every tick
	// without reposting, so if the connection is later removed without
	// ever establishing, the arrival is dropped (with a warning log) when
	// it finally resolves as absent.
	haveDeferred bool
	deferredTag  uint64
	deferredLen  int
}

func newIOMsgLoop(e *Engine, bufSize int) *iomsgLoop {
	return &iomsgLoop{e: e, buf: make([]byte, bufSize)}
}

// repost posts the next iomsg receive. Matching is worker-global with a
// wildcard sender: any conn_id, any sequence number, as long as the
// IOMSG bit is set.
func (l *iomsgLoop) repost() {
	outcome := l.e.w.TagRecv(l.buf, IOMSGTag, iomsgTagMask)
	switch {
	case outcome.IsDone():
		// An inline-done wildcard recv never happens in practice (there
		// is nothing to copy into it yet), but handle it rather than
		// asserting it away.
		l.pending = nil
		l.repost()
	case outcome.IsFailed():
		l.e.log.WithField("status", outcome.Status()).Error("ucxgo: iomsg recv failed to post")
	default:
		l.pending = outcome.Request()
	}
}

// progress checks the posted iomsg receive for completion, or retries a
// previously deferred arrival. It must be polled every tick, before the
// handshake/accept/failed stages.
func (l *iomsgLoop) progress() {
	if l.pending != nil {
		if !l.pending.Completed {
			return
		}
		status := l.pending.Status
		n := l.pending.RecvLength
		senderTag := l.pending.SenderTag
		l.pending = nil

		if status.IsError() {
			l.repost()
			return
		}
		l.tryDispatch(senderTag, n)
		return
	}

	if l.haveDeferred {
		l.tryDispatch(l.deferredTag, l.deferredLen)
	}
}

// tryDispatch looks up the sender's conn_id out of the received tag. If
// absent, log and drop, then repost. If present but not yet Established,
// defer: hold the arrival and recheck next tick instead of reposting.
// Otherwise dispatch to the user hook and repost.
func (l *iomsgLoop) tryDispatch(tag uint64, n int) {
	connID, _ := decodeTag(tag &^ IOMSGBit)
	c, ok := l.e.lookupConnection(connID)
	if !ok {
		l.e.log.WithField("connID", connID).Warn("ucxgo: dropping iomsg for unknown connection")
		l.haveDeferred = false
		l.repost()
		return
	}
	if !c.IsEstablished() {
		l.haveDeferred = true
		l.deferredTag = tag
		l.deferredLen = n
		return
	}

	l.haveDeferred = false
	l.e.hooks.OnIOMsg(l.e, c, l.buf[:n])
	l.repost()
}

// SendIOMsg sends an in-band control message to c's peer, addressed
// under c's remote conn_id so the peer can route it back by its own
// local id.
func (e *Engine) SendIOMsg(c *Connection, buf []byte, cb func(Status)) bool {
	if c.ep == nil || c.isTerminal() {
		return false
	}
	e.iomsg.sn++
	tag := iomsgTag(c.remoteID, e.iomsg.sn)
	outcome := e.w.TagSend(c.ep, buf, tag)
	submit(c, outcome, func(status Status, _ int) {
		if cb != nil {
			cb(status)
		}
	})
	return true
}
