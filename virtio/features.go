package virtio

import "errors"

// Balloon feature bits, in their virtio bit positions.
const (
	FeatureStatsVQ      uint64 = 1 << 1
	FeatureDeflateOnOOM uint64 = 1 << 2
	FeatureSG           uint64 = 1 << 3
	FeatureFreePageVQ   uint64 = 1 << 4
)

var ErrNegotiated = errors.New("feature negotiation already finalized")

// FeatureSet tracks the capability bits negotiated with the guest
// driver. Negotiation is an explicit two-step exchange: Offer returns
// the host-advertised bits, Negotiate finalizes the guest-acked subset
// exactly once. The set is immutable after that.
type FeatureSet struct {
	host      uint64
	acked     uint64
	finalized bool
}

func NewFeatureSet(host uint64) *FeatureSet {
	return &FeatureSet{host: host}
}

// Offer returns the advertised feature bits. The stats queue feature
// is always offered on top of the host-configured bits.
func (f *FeatureSet) Offer() uint64 {
	return f.host | FeatureStatsVQ
}

// HostHas reports whether bit is offered by the host, regardless of
// negotiation state.
func (f *FeatureSet) HostHas(bit uint64) bool {
	return f.Offer()&bit != 0
}

// Negotiate finalizes negotiation with the bits acknowledged by the
// guest and returns the resulting set. Bits the host never offered are
// discarded.
func (f *FeatureSet) Negotiate(guest uint64) (uint64, error) {
	if f.finalized {
		return 0, ErrNegotiated
	}

	f.acked = guest & f.Offer()
	f.finalized = true

	return f.acked, nil
}

// Has reports whether bit was acknowledged by both sides.
func (f *FeatureSet) Has(bit uint64) bool {
	return f.finalized && f.acked&bit != 0
}

// Finalized reports whether negotiation has completed.
func (f *FeatureSet) Finalized() bool {
	return f.finalized
}
