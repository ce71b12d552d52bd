package ucxgo

// Disconnect starts tearing down an established or errored connection:
// cancel every outstanding request, force-close the endpoint, and wait
// for both to settle before invoking cb and releasing the connection.
// Calling Disconnect twice on the same connection is a programming
// error (disconnect_cb must fire exactly once); the second call is
// rejected.
func (e *Engine) Disconnect(c *Connection, cb func(Status)) bool {
	if c.state == stateDisconnecting || c.state == stateReleased {
		return false
	}

	c.disconnectCB = cb
	e.beginDisconnect(c)
	return true
}

func (e *Engine) beginDisconnect(c *Connection) {
	if c.state == stateHandshaking {
		e.removeHandshaking(c)
	}
	c.state = stateDisconnecting
	e.removeConnection(c)
	e.cancelOutstanding(c)

	if c.ep != nil {
		handle, done := c.ep.CloseForce()
		c.closeHandle = handle
		c.closing = !done
	}

	e.disconnecting = append(e.disconnecting, c)
}

// cancelOutstanding asks the provider to cancel every request still in
// flight on c. Cancellation is asynchronous: each one still receives its
// completion hook, with whatever aborted status the provider resolves
// it to.
func (e *Engine) cancelOutstanding(c *Connection) {
	if c.outstanding.Len() == 0 {
		return
	}
	// A cancel may synchronously complete a request (if the provider
	// already has its completion queued), which unlinks it from this
	// very list — so capture Next before cancelling, never after.
	el := c.outstanding.Front()
	for el != nil {
		next := el.Next()
		r := el.Value.(*request)
		e.w.Cancel(r.prov)
		el = next
	}
}

// reapDisconnecting finishes connections whose outstanding requests have
// fully drained and whose endpoint-close is no longer in progress,
// invoking disconnect_cb(OK) and releasing them.
func (e *Engine) reapDisconnecting() bool {
	if len(e.disconnecting) == 0 {
		return false
	}

	kept := e.disconnecting[:0]
	did := false
	for _, c := range e.disconnecting {
		if c.closing {
			status := c.ep.CloseStatus(c.closeHandle)
			if status == StatusInProgress {
				kept = append(kept, c)
				continue
			}
			c.closing = false
		}
		if c.outstanding.Len() > 0 {
			kept = append(kept, c)
			continue
		}

		did = true
		c.state = stateReleased
		c.fireDisconnect(StatusOK)
	}
	e.disconnecting = kept
	return did
}

// onPeerError is the provider's per-endpoint error callback, wired up in
// Connect/Accept. It never runs synchronously from within a submission
// call's caller-visible return; the provider itself only invokes it
// from Progress, and this handler only ever enqueues or fires
// establish_cb directly for the not-yet-established case — it never
// calls the user's on_error hook inline.
func (e *Engine) onPeerError(c *Connection, status Status) {
	if c.isTerminal() {
		return
	}

	if c.state == stateHandshaking {
		e.completeHandshake(c, nil, status)
		return
	}

	c.state = stateErrored
	c.status = status
	e.metrics.connectionsFailed.Inc()
	// The endpoint backing these requests is gone; every request still
	// outstanding on this connection can never complete on its own, so
	// fail it now rather than leaving it to complete (or not) at the
	// provider's discretion. A recv in-flight when the peer dies must
	// still observe a completion.
	e.cancelOutstanding(c)
	e.failed = append(e.failed, c)
}

// dispatchFailed runs Hooks.OnError for every connection whose peer
// error fired since the last tick, deferred here (rather than dispatched
// from onPeerError directly) so the provider's callback re-entrancy
// never leaks into user code.
func (e *Engine) dispatchFailed() bool {
	if len(e.failed) == 0 {
		return false
	}
	batch := e.failed
	e.failed = nil

	for _, c := range batch {
		e.log.WithField("conn", c.String()).WithField("status", c.status).Error("ucxgo: connection failed")
		e.hooks.OnError(e, c)
	}
	return true
}
