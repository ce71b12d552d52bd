package memfabric

import (
	"net"
	"sync"

	"github.com/ucxgo/ucxgo/provider"
)

type eventKind int

const (
	eventCompletion eventKind = iota
	eventError
	eventNewConn
	eventTaggedArrival
)

type event struct {
	kind eventKind

	// eventCompletion
	req       *provider.Request
	status    provider.Status
	recvLen   int
	senderTag uint64

	// eventError
	ep *endpoint

	// eventNewConn
	connReq *connRequest

	// eventTaggedArrival
	tag     uint64
	payload []byte
}

// tagWaiter is a posted, not-yet-satisfied worker-level TagRecv.
type tagWaiter struct {
	buf  []byte
	tag  uint64
	mask uint64
	req  *provider.Request
}

func (w *tagWaiter) matches(tag uint64) bool { return tag&w.mask == w.tag&w.mask }

type taggedArrival struct {
	tag     uint64
	payload []byte
}

// worker is the TCP-backed provider.Worker. Background goroutines (one
// reader per endpoint, one acceptor per listener) only ever append to
// events; every observable effect — completion callbacks, error
// handlers, new-connection dispatch, tag matching — happens inside
// Progress, on the caller's goroutine, preserving a single-threaded-
// per-worker model. Tag matching is worker-global (a
// receive posted on the worker may be satisfied by a frame arriving on
// any endpoint), mirroring how ucp_tag_recv_nb is posted against a
// worker rather than an endpoint.
type worker struct {
	cfg Config

	mu        sync.Mutex
	events    []event
	endpoints map[*endpoint]struct{}
	listener  *memListener

	tagWaiters []*tagWaiter
	backlog    []taggedArrival
}

var _ provider.Worker = (*worker)(nil)

func newWorker(cfg Config) *worker {
	return &worker{
		cfg:       cfg,
		endpoints: make(map[*endpoint]struct{}),
	}
}

func (w *worker) postCompletion(req *provider.Request, status provider.Status, recvLen int, senderTag uint64) {
	if req == nil {
		return
	}
	w.mu.Lock()
	w.events = append(w.events, event{kind: eventCompletion, req: req, status: status, recvLen: recvLen, senderTag: senderTag})
	w.mu.Unlock()
}

func (w *worker) postError(ep *endpoint, status provider.Status) {
	w.mu.Lock()
	w.events = append(w.events, event{kind: eventError, ep: ep, status: status})
	w.mu.Unlock()
}

func (w *worker) postNewConn(cr *connRequest) {
	w.mu.Lock()
	w.events = append(w.events, event{kind: eventNewConn, connReq: cr})
	w.mu.Unlock()
}

func (w *worker) postTaggedArrival(tag uint64, payload []byte) {
	w.mu.Lock()
	w.events = append(w.events, event{kind: eventTaggedArrival, tag: tag, payload: payload})
	w.mu.Unlock()
}

// applyCompletion performs the provider-side half of the submission/
// completion race resolution: fill in the request and, if a callback
// has already been attached, invoke it; otherwise mark the request
// completed for the submitter to discover on its own.
func applyCompletion(req *provider.Request, status provider.Status, recvLen int, senderTag uint64) {
	req.Status = status
	req.RecvLength = recvLen
	req.SenderTag = senderTag
	if req.Callback != nil {
		cb := req.Callback
		req.Callback = nil
		cb(req)
		return
	}
	req.Completed = true
}

func (w *worker) Listen(addr string, onConnReq provider.NewConnHandler) (provider.Listener, error) {
	tcpAddr, err := dialAddr(addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	l := &memListener{ln: ln, w: w, onConnReq: onConnReq}
	w.mu.Lock()
	w.listener = l
	w.mu.Unlock()

	go l.acceptLoop()
	return l, nil
}

func (w *worker) Connect(addr string, errHandler provider.ErrHandler) (provider.Endpoint, error) {
	tcpAddr, err := dialAddr(addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return nil, err
	}

	ep := newEndpoint(w, conn, errHandler)
	w.mu.Lock()
	w.endpoints[ep] = struct{}{}
	w.mu.Unlock()
	return ep, nil
}

func (w *worker) Accept(req provider.ConnRequest, errHandler provider.ErrHandler) (provider.Endpoint, error) {
	cr, ok := req.(*connRequest)
	if !ok {
		return nil, provider.StatusBadAddress
	}

	ep := newEndpoint(w, cr.conn, errHandler)
	w.mu.Lock()
	w.endpoints[ep] = struct{}{}
	w.mu.Unlock()
	return ep, nil
}

func (w *worker) RejectConn(req provider.ConnRequest) {
	if cr, ok := req.(*connRequest); ok {
		_ = cr.conn.Close()
	}
}

// sizeBand classifies a send payload into one of the three submission
// behaviors a caller must tolerate: done inline
// with no request at all, done inline but still represented by a
// request (completed already true when the caller inspects it), or
// genuinely asynchronous (completed becomes true only on some future
// Progress call).
type sizeBand int

const (
	bandInline sizeBand = iota
	bandSyncRequest
	bandAsync
)

func (w *worker) classify(n int) sizeBand {
	if n <= w.cfg.InlineThreshold {
		return bandInline
	}
	if n <= w.cfg.InlineThreshold*16 {
		return bandSyncRequest
	}
	return bandAsync
}

func (w *worker) TagSend(epIface provider.Endpoint, buf []byte, tag uint64) provider.Outcome {
	ep, ok := epIface.(*endpoint)
	if !ok {
		return provider.Failed(provider.StatusBadAddress)
	}

	bb := buildTaggedFrame(tag, buf)
	defer frameBufPool.Put(bb)

	switch w.classify(len(buf)) {
	case bandInline:
		if status := ep.write(bb.B); status.IsError() {
			return provider.Failed(status)
		}
		return provider.Done()
	case bandSyncRequest:
		status := ep.write(bb.B)
		req := &provider.Request{}
		applyCompletion(req, status, 0, 0)
		return provider.InProgress(req)
	default:
		status := ep.write(bb.B)
		req := &provider.Request{}
		w.postCompletion(req, status, 0, 0)
		return provider.InProgress(req)
	}
}

func (w *worker) TagRecv(buf []byte, tag, mask uint64) provider.Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, arr := range w.backlog {
		if arr.tag&mask == tag&mask {
			w.backlog = append(w.backlog[:i], w.backlog[i+1:]...)
			req := &provider.Request{}
			n := copy(buf, arr.payload)
			applyCompletion(req, provider.StatusOK, n, arr.tag)
			return provider.InProgress(req)
		}
	}

	req := &provider.Request{}
	w.tagWaiters = append(w.tagWaiters, &tagWaiter{buf: buf, tag: tag, mask: mask, req: req})
	return provider.InProgress(req)
}

func (w *worker) StreamSend(epIface provider.Endpoint, buf []byte) provider.Outcome {
	ep, ok := epIface.(*endpoint)
	if !ok {
		return provider.Failed(provider.StatusBadAddress)
	}
	bb := buildStreamFrame(buf)
	status := ep.write(bb.B)
	frameBufPool.Put(bb)
	if status.IsError() {
		return provider.Failed(status)
	}
	return provider.Done()
}

func (w *worker) StreamRecvWaitAll(epIface provider.Endpoint, buf []byte) provider.Outcome {
	ep, ok := epIface.(*endpoint)
	if !ok {
		return provider.Failed(provider.StatusBadAddress)
	}
	req := &provider.Request{Priv: ep}
	ep.postStreamRecvWaitAll(buf, req)
	return provider.InProgress(req)
}

// Cancel implements provider.Worker. A request whose completion event is
// still queued (including an async send whose bytes already hit the
// wire), or a tag or stream receive that is still waiting for data, is
// completed with StatusCancelled before Cancel returns, its queued
// event discarded. A request found in none of those places is left as
// it is. Either way the completion hook fires exactly once.
func (w *worker) Cancel(req *provider.Request) {
	w.mu.Lock()
	for i, ev := range w.events {
		if ev.kind == eventCompletion && ev.req == req {
			w.events = append(w.events[:i], w.events[i+1:]...)
			w.mu.Unlock()
			applyCompletion(req, provider.StatusCancelled, 0, 0)
			return
		}
	}
	w.mu.Unlock()

	for i, tw := range w.tagWaiters {
		if tw.req == req {
			w.tagWaiters = append(w.tagWaiters[:i], w.tagWaiters[i+1:]...)
			applyCompletion(req, provider.StatusCancelled, 0, 0)
			return
		}
	}

	if ep, ok := req.Priv.(*endpoint); ok && ep != nil {
		if ep.cancelStreamWaiter(req) {
			applyCompletion(req, provider.StatusCancelled, 0, 0)
		}
	}
}

func (w *worker) Progress() bool {
	w.mu.Lock()
	pending := w.events
	w.events = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return false
	}

	for _, ev := range pending {
		switch ev.kind {
		case eventCompletion:
			applyCompletion(ev.req, ev.status, ev.recvLen, ev.senderTag)
		case eventError:
			if ev.ep != nil && ev.ep.errHandler != nil {
				ev.ep.errHandler(ev.status)
			}
		case eventNewConn:
			w.mu.Lock()
			l := w.listener
			w.mu.Unlock()
			if l != nil && l.onConnReq != nil {
				l.onConnReq(ev.connReq)
			}
		case eventTaggedArrival:
			w.reconcileTagged(ev.tag, ev.payload)
		}
	}
	return true
}

func (w *worker) reconcileTagged(tag uint64, payload []byte) {
	for i, tw := range w.tagWaiters {
		if tw.matches(tag) {
			w.tagWaiters = append(w.tagWaiters[:i], w.tagWaiters[i+1:]...)
			n := copy(tw.buf, payload)
			applyCompletion(tw.req, provider.StatusOK, n, tag)
			return
		}
	}
	w.backlog = append(w.backlog, taggedArrival{tag: tag, payload: payload})
}
