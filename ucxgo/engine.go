package ucxgo

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ucxgo/ucxgo/provider"
)

// DefaultConnectTimeout is applied to both client-side handshake
// completion and server-side pending-accept staleness.
const DefaultConnectTimeout = 5 * time.Second

// DefaultIOMsgBufferSize bounds one in-band control message.
const DefaultIOMsgBufferSize = 4096

// Config configures an Engine. Zero-value fields fall back to their
// Default* constants; it is taken only as constructor arguments, never
// as persisted state.
type Config struct {
	ConnectTimeout  time.Duration
	IOMsgBufferSize int
	Logger          logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IOMsgBufferSize <= 0 {
		c.IOMsgBufferSize = DefaultIOMsgBufferSize
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

type pendingAccept struct {
	req     provider.ConnRequest
	arrival time.Time
}

// Engine is the worker/context engine: it owns the provider worker, the
// connection registry, every timed/FIFO queue the runtime tracks, and
// the single long-lived iomsg receive. One Engine drives one provider
// Worker, cooperatively, from whichever goroutine calls Progress.
type Engine struct {
	cfg    Config
	hooks  Hooks
	log    logrus.FieldLogger
	metrics *metricsSet

	prov provider.Provider
	pctx provider.Context
	w    provider.Worker
	ln   provider.Listener

	nextConnID uint32

	byID          map[uint32]*Connection
	handshaking   []*Connection
	pendingAccept []*pendingAccept
	failed        []*Connection
	disconnecting []*Connection

	iomsg *iomsgLoop

	inProgress bool // guards against Progress being re-entered from its own callbacks
}

// NewEngine initializes a provider context and worker and wires up the
// iomsg loop. The returned Engine is ready to Listen and/or Connect, but
// nothing happens on the wire until Progress is called.
func NewEngine(prov provider.Provider, cfg Config, hooks Hooks) (*Engine, error) {
	cfg = cfg.withDefaults()
	hooks = hooks.withDefaults()

	pctx, err := prov.Init(provider.RequiredFeatures)
	if err != nil {
		return nil, fmt.Errorf("ucxgo: context init: %w", err)
	}
	w, err := pctx.NewWorker()
	if err != nil {
		pctx.Close()
		return nil, fmt.Errorf("ucxgo: worker create: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		hooks:   hooks,
		log:     cfg.Logger,
		metrics: newMetricsSet(),
		prov:    prov,
		pctx:    pctx,
		w:       w,
		byID:    make(map[uint32]*Connection),
	}
	e.iomsg = newIOMsgLoop(e, cfg.IOMsgBufferSize)
	e.iomsg.repost()
	return e, nil
}

// Listen starts accepting inbound connection requests at addr. Accepted
// requests surface through Progress -> Hooks.OnAccepted, same as every
// other completion in this runtime.
func (e *Engine) Listen(addr string) (net.Addr, error) {
	ln, err := e.w.Listen(addr, e.onNewConn)
	if err != nil {
		return nil, err
	}
	e.ln = ln
	return ln.Addr(), nil
}

// Close tears down the worker's listener and releases the provider
// context. It does not touch live connections; callers should Disconnect
// them first if a graceful shutdown is wanted.
func (e *Engine) Close() error {
	var errs error
	if e.ln != nil {
		if err := e.ln.Close(); err != nil {
			errs = appendErr(errs, err)
		}
	}
	e.pctx.Close()
	return errs
}

func (e *Engine) allocConnID() uint32 {
	e.nextConnID++
	return e.nextConnID
}

func (e *Engine) onNewConn(req provider.ConnRequest) {
	e.pendingAccept = append(e.pendingAccept, &pendingAccept{req: req, arrival: time.Now()})
}

// Progress drives the engine forward by one tick, in a fixed order:
// provider poll, drain iomsg completions, expire handshake timeouts,
// process inbound connection requests, dispatch failed-connection
// notifications, reap finished disconnects.
//
// Every hook it invokes (OnAccepted, OnError, OnIOMsg, completion
// callbacks) runs synchronously from within this call; none of them may
// call back into Progress itself. inProgress catches that re-entrancy
// instead of silently corrupting the queues above.
func (e *Engine) Progress() bool {
	if e.inProgress {
		panic("ucxgo: Progress called re-entrantly from one of its own callbacks")
	}
	e.inProgress = true
	defer func() { e.inProgress = false }()

	did := e.w.Progress()

	e.iomsg.progress()
	did = e.expireHandshakeTimeouts() || did
	did = e.processPendingAccepts() || did
	did = e.dispatchFailed() || did
	did = e.reapDisconnecting() || did

	return did
}

func (e *Engine) registerConnection(c *Connection) {
	e.byID[c.id] = c
}

func (e *Engine) removeConnection(c *Connection) {
	delete(e.byID, c.id)
}

func (e *Engine) lookupConnection(id uint32) (*Connection, bool) {
	c, ok := e.byID[id]
	return c, ok
}
