package ucxgo

// SendData issues a tagged send of buf under sequence number sn, tagged
// so the peer routes it by its own local conn_id. Returns false (instead
// of admitting the send) if the endpoint is gone or the connection is
// in a terminal state.
func (e *Engine) SendData(c *Connection, buf []byte, sn uint32, cb func(Status)) bool {
	if c.ep == nil || c.isTerminal() {
		return false
	}
	tag := dataTag(c.remoteID, sn)
	outcome := e.w.TagSend(c.ep, buf, tag)
	submit(c, outcome, func(status Status, _ int) {
		if cb != nil {
			cb(status)
		}
	})
	return true
}

// RecvData posts a tagged receive into buf matching sequence number sn
// exactly, against this connection's local id (so only the matching
// peer's send of that sn can satisfy it).
func (e *Engine) RecvData(c *Connection, buf []byte, sn uint32, cb func(Status, int)) bool {
	if c.ep == nil || c.isTerminal() {
		return false
	}
	tag := dataTag(c.id, sn)
	outcome := e.w.TagRecv(buf, tag, dataTagMask)
	submit(c, outcome, func(status Status, n int) {
		if cb != nil {
			cb(status, n)
		}
	})
	return true
}
