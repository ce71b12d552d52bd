package ucxgo

import "github.com/ucxgo/ucxgo/provider"

// Hooks are the user-overridable callbacks C5 names: OnAccepted for
// inbound connection requests, OnError for a connection's first
// post-establishment peer failure, OnIOMsg for in-band control
// messages. Any left nil falls back to a no-op.
type Hooks struct {
	// OnAccepted is invoked once per fresh pending connection request,
	// from Progress, never synchronously from the provider's listener
	// callback. The handler decides whether to call Engine.Accept or
	// Engine.RejectConn; ignoring the request entirely leaks it (it will
	// not be retried).
	OnAccepted func(e *Engine, req provider.ConnRequest)

	// OnError fires at most once per connection, only for connections
	// that reached Established, from the failed-connection step of
	// Progress after the provider's peer-error callback has returned
	// (never from inside that callback).
	OnError func(e *Engine, c *Connection)

	// OnIOMsg fires for every in-band message addressed to an
	// Established connection. buf is valid only for the duration of the
	// call; copy it if retaining past return.
	OnIOMsg func(e *Engine, c *Connection, buf []byte)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnAccepted == nil {
		h.OnAccepted = func(e *Engine, req provider.ConnRequest) { e.RejectConn(req) }
	}
	if h.OnError == nil {
		h.OnError = func(*Engine, *Connection) {}
	}
	if h.OnIOMsg == nil {
		h.OnIOMsg = func(*Engine, *Connection, []byte) {}
	}
	return h
}
