package ucxgo

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/ucxgo/ucxgo/provider"
)

// request is the runtime's own record for one in-flight operation,
// pulled from a sync.Pool the same way the rest of this codebase pools
// short-lived per-operation records. It is deliberately small: a
// back-reference to the owning connection, the
// user-supplied completion, the provider handle (kept only so Cancel
// can be called against it), and list linkage into the connection's
// outstanding set.
type request struct {
	conn *Connection
	cb   func(Status, int)
	prov *provider.Request
	elem *list.Element
}

var requestPool = &requestPoolT{sp: sync.Pool{}}

type requestPoolT struct {
	sp     sync.Pool
	na, nr, np uint32 // new-acquire / reuse / put-back counts, for metrics
}

func (p *requestPoolT) acquire(conn *Connection, cb func(Status, int)) *request {
	v := p.sp.Get()
	if v == nil {
		atomic.AddUint32(&p.na, 1)
		v = &request{}
	} else {
		atomic.AddUint32(&p.nr, 1)
	}
	r := v.(*request)
	r.conn = conn
	r.cb = cb
	r.prov = nil
	r.elem = nil
	return r
}

func (p *requestPoolT) release(r *request) {
	r.conn = nil
	r.cb = nil
	r.prov = nil
	r.elem = nil
	p.sp.Put(r)
	atomic.AddUint32(&p.np, 1)
}

// submit implements the submission/completion race resolution
// generically for every non-blocking call the engine issues.
// outcome is whatever the provider just returned; cb is the runtime's
// completion action, invoked with the final status and, for recv-shaped
// operations, the received length.
//
// If the operation is already finished (done, failed, or a request
// whose Completed flag the provider already set inline), cb runs before
// submit returns and no request is linked into conn.outstanding. Only a
// genuinely still-pending operation gets linked, to be completed later
// by the provider's own completion hook running from some future
// Progress call.
func submit(conn *Connection, outcome provider.Outcome, cb func(Status, int)) {
	switch {
	case outcome.IsDone():
		cb(StatusOK, 0)
	case outcome.IsFailed():
		cb(outcome.Status(), 0)
	default:
		prov := outcome.Request()
		if prov.Completed {
			cb(prov.Status, prov.RecvLength)
			return
		}
		r := requestPool.acquire(conn, cb)
		r.prov = prov
		r.elem = conn.outstanding.PushBack(r)
		if conn.engine != nil {
			conn.engine.log.WithField("conn", conn.prefix).Debug("ucxgo: request submitted, awaiting completion")
		}
		prov.Callback = func(p *provider.Request) {
			conn.completeRequest(r, p.Status, p.RecvLength)
		}
	}
}
