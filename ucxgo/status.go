package ucxgo

import "github.com/ucxgo/ucxgo/provider"

// Status mirrors provider.Status one-for-one; the engine never needs a
// richer error type of its own, since every failure the runtime surfaces
// ultimately comes from (or is synthesized to look like) a provider
// completion.
type Status = provider.Status

const (
	StatusOK             = provider.StatusOK
	StatusInProgress     = provider.StatusInProgress
	StatusTimedOut       = provider.StatusTimedOut
	StatusCancelled      = provider.StatusCancelled
	StatusPeerClosed     = provider.StatusPeerClosed
	StatusEndpointFailed = provider.StatusEndpointFailed
	StatusBadAddress     = provider.StatusBadAddress
	StatusOutOfResources = provider.StatusOutOfResources
	StatusUnsupported    = provider.StatusUnsupported
)
