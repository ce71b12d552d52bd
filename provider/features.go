package provider

// FeatureMask is the set of capability bits a caller asks a Provider to
// initialize. TAG and STREAM are required by the engine; the rest are
// accepted so callers can pass them through to a real transport without
// the engine caring.
type FeatureMask uint32

const (
	FeatureTag FeatureMask = 1 << iota
	FeatureStream
	FeatureWakeup
	FeatureRMA
	FeatureAMO32
	FeatureAMO64
)

// Has reports whether all bits in want are set in m.
func (m FeatureMask) Has(want FeatureMask) bool { return m&want == want }

// RequiredFeatures is the minimum feature set the engine needs from a
// Provider in order to function.
const RequiredFeatures = FeatureTag | FeatureStream
