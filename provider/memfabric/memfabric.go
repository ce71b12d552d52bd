// Package memfabric is a reference Provider implementation backed by
// real TCP sockets. It exists so the ucxgo engine — and its test suite —
// has something to drive without a real RDMA/libfabric/UCX binding
// available in this module's dependency graph.
//
// It reproduces the shape of the provider contract faithfully:
// small sends complete inline (simulating UCX's eager protocol
// completing during ucp_tag_send_nb itself), mid-sized sends complete
// during submission but still hand back a Request already marked
// Completed, and the largest sends complete asynchronously. Receives
// complete from Progress, except a tag receive whose message already
// arrived, which completes during submission. Background goroutines
// only ever enqueue events, never invoke callbacks directly, preserving
// the engine's single-threaded-per-worker concurrency model.
package memfabric

import (
	"fmt"
	"net"

	"github.com/ucxgo/ucxgo/provider"
)

// DefaultInlineThreshold is the largest send payload that completes
// synchronously during submission. An 8-byte send, the smallest a
// caller would realistically post, always lands under this and so
// always completes inline.
const DefaultInlineThreshold = 64

// Config controls a Fabric's behavior.
type Config struct {
	// InlineThreshold is the largest tag-send payload, in bytes, that
	// completes synchronously (returned as provider.Done()) rather than
	// going through the async completion path. Zero selects
	// DefaultInlineThreshold.
	InlineThreshold int

	// EventQueueCapacity is stored on the Fabric, with zero selecting a
	// default of 4096. The worker's event queue is an unbounded slice
	// and does not consult it, so it places no limit on queued events.
	EventQueueCapacity int
}

// Fabric is a provider.Provider backed by TCP.
type Fabric struct {
	cfg Config
}

// New builds a Fabric with the given configuration.
func New(cfg Config) *Fabric {
	if cfg.InlineThreshold <= 0 {
		cfg.InlineThreshold = DefaultInlineThreshold
	}
	if cfg.EventQueueCapacity <= 0 {
		cfg.EventQueueCapacity = 4096
	}
	return &Fabric{cfg: cfg}
}

var _ provider.Provider = (*Fabric)(nil)

// Init implements provider.Provider.
func (f *Fabric) Init(features provider.FeatureMask) (provider.Context, error) {
	if !features.Has(provider.RequiredFeatures) {
		return nil, fmt.Errorf("memfabric: missing required features: %w", provider.StatusUnsupported)
	}
	return &fabricContext{fab: f}, nil
}

type fabricContext struct {
	fab *Fabric
}

var _ provider.Context = (*fabricContext)(nil)

func (c *fabricContext) NewWorker() (provider.Worker, error) {
	return newWorker(c.fab.cfg), nil
}

func (c *fabricContext) Close() {}

// dialAddr resolves a textual address the same way both Connect and
// Listen do, kept in one place so their error messages agree.
func dialAddr(addr string) (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", addr)
}
