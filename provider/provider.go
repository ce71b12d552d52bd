package provider

import "net"

// ConnRequest is an opaque, provider-owned handle for an inbound
// connection attempt that has not yet been accepted or rejected.
type ConnRequest interface {
	// RemoteAddr is the client's socket address, known before accept.
	RemoteAddr() net.Addr
}

// Endpoint is a provider-level handle for a directed communication path
// to one peer, created either by Worker.Connect or Worker.Accept.
type Endpoint interface {
	// RemoteAddr is the peer socket address this endpoint talks to.
	RemoteAddr() net.Addr

	// CloseForce starts an asynchronous, non-graceful close. It returns
	// (nil, true) if the close finished immediately, or a handle plus
	// false if it is still in progress; poll CloseStatus with the
	// handle until it reports something other than StatusInProgress.
	CloseForce() (closeHandle any, done bool)

	// CloseStatus polls an in-progress close started by CloseForce.
	CloseStatus(closeHandle any) Status
}

// Listener is a provider-level acceptor bound to a socket address.
type Listener interface {
	Addr() net.Addr
	Close() error
}

// NewConnHandler is invoked by the provider when an inbound connection
// request arrives. Implementations must not block.
type NewConnHandler func(ConnRequest)

// ErrHandler is the provider's per-endpoint peer-error notification. It
// fires asynchronously, never synchronously from within a submission
// call on the same endpoint, though it may fire re-entrantly from within
// submission calls on a *different* endpoint being progressed.
type ErrHandler func(Status)

// Worker is a provider-level single-threaded progress context; it owns a
// listener and a set of endpoints and drives all of them forward via
// Progress.
type Worker interface {
	Listen(addr string, onConnReq NewConnHandler) (Listener, error)

	// Connect creates a client-side endpoint. errHandler is registered
	// for the lifetime of the endpoint before this call returns.
	Connect(addr string, errHandler ErrHandler) (Endpoint, error)

	// Accept creates a server-side endpoint from a pending ConnRequest.
	Accept(req ConnRequest, errHandler ErrHandler) (Endpoint, error)

	// RejectConn declines a pending ConnRequest without creating an
	// endpoint for it.
	RejectConn(req ConnRequest)

	TagSend(ep Endpoint, buf []byte, tag uint64) Outcome
	TagRecv(buf []byte, tag, mask uint64) Outcome
	StreamSend(ep Endpoint, buf []byte) Outcome
	// StreamRecvWaitAll receives exactly len(buf) bytes off the
	// endpoint's in-order stream channel before completing.
	StreamRecvWaitAll(ep Endpoint, buf []byte) Outcome

	// Cancel requests cancellation of an in-flight Request. Completion
	// is still observed via Request.Callback, which may run before
	// Cancel returns or from a later Progress call, with
	// Status == StatusCancelled (or whatever status the race resolves
	// to, if the operation had already finished).
	Cancel(req *Request)

	// Progress drives the worker forward by one tick, invoking any
	// completion callbacks and error handlers that are now ready to
	// fire. It reports whether any work was done.
	Progress() bool
}

// Context is a provider-level communication context initialized with a
// feature mask.
type Context interface {
	NewWorker() (Worker, error)
	Close()
}

// Provider is the root capability factory (C1). A concrete
// implementation (e.g. provider/memfabric) wraps whatever real or
// simulated transport backs it.
type Provider interface {
	Init(features FeatureMask) (Context, error)
}
