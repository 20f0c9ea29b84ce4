// Package virtio implements the memory balloon device backend: the
// queue protocol that lets a guest surrender and reclaim memory pages
// on request from the host, report memory statistics, and hint free
// pages to live migration.
package virtio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nanovmm/balloond/memory"
	"github.com/nanovmm/balloond/migration"
	"github.com/nanovmm/balloond/policy"
)

const (
	// PageShift is the balloon page granularity. Balloon PFNs always
	// name 4 KiB pages, independent of host and guest page size.
	PageShift = 12
	PageSize  = 1 << PageShift

	// ConfigSize is the size of the guest-visible config space.
	ConfigSize = 8

	legacyPFNSize   = 4
	statRecordSize  = 10
	freePageAckSize = 4
)

// Guest statistics tags, in wire order.
const (
	StatSwapIn = iota
	StatSwapOut
	StatMajorFaults
	StatMinorFaults
	StatFreeMemory
	StatTotalMemory
	StatAvailableMemory
	StatCount
)

// StatUnset marks a stat slot the guest has not reported in the
// current buffer.
const StatUnset int64 = -1

// StatNames maps stat tags to their canonical names.
var StatNames = [StatCount]string{
	StatSwapIn:          "stat-swap-in",
	StatSwapOut:         "stat-swap-out",
	StatMajorFaults:     "stat-major-faults",
	StatMinorFaults:     "stat-minor-faults",
	StatFreeMemory:      "stat-free-memory",
	StatTotalMemory:     "stat-total-memory",
	StatAvailableMemory: "stat-available-memory",
}

var (
	ErrPollIntervalNegative = errors.New("polling interval must not be negative")
	ErrPollIntervalTooBig   = errors.New("polling interval is too big")
	ErrNoFreePageRequest    = errors.New("no free page command buffer available")
	ErrFreePageNotSupported = errors.New("free page reporting not negotiated")

	errMissingCollaborator = errors.New("balloon environment is incomplete")
	errConfigTooShort      = errors.New("config write shorter than the config space")
)

var log = logrus.WithField("component", "virtio-balloon")

// DirtySkipper excludes a guest-physical range from the next live
// migration transfer. It is supplied by the migration engine.
type DirtySkipper interface {
	Skip(addr, size uint64)
}

// Env supplies the host-side collaborators the balloon core consumes.
type Env struct {
	Space    *memory.AddressSpace
	Advisor  memory.Advisor
	Registry *policy.Registry
	Skipper  DirtySkipper

	// RAMSize is the total configured guest RAM in bytes.
	RAMSize uint64

	// NewQueue creates one transport queue per device queue name
	// (inflate, deflate, stats, free-page).
	NewQueue func(name string) Queue

	// NotifyConfig raises a guest-visible configuration change
	// interrupt. May be nil.
	NotifyConfig func()

	// OnBalloonChange reports the new guest-visible balloon size in
	// bytes after the guest acknowledged a change. May be nil.
	OnBalloonChange func(bytes uint64)
}

// Config is the guest-visible device configuration, 8 bytes
// little-endian on the wire.
type Config struct {
	NumPages uint32
	Actual   uint32
}

// Bytes returns the wire encoding of the config space.
func (c Config) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, c); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

// deviceTimer is the slice of *time.Timer the device needs. Tests
// substitute it to drive the polling protocol deterministically.
type deviceTimer interface {
	Reset(d time.Duration)
	Stop()
}

type sysTimer struct {
	t *time.Timer
}

func (s sysTimer) Reset(d time.Duration) { s.t.Reset(d) }
func (s sysTimer) Stop()                 { s.t.Stop() }

// newSysTimer returns a timer that runs cb when it fires. It is
// created parked far in the future; callers arm it with Reset.
func newSysTimer(cb func()) deviceTimer {
	return sysTimer{t: time.AfterFunc(time.Duration(math.MaxInt64), cb)}
}

// Balloon is the memory balloon device. All queue handlers, timer
// callbacks and policy calls serialize on one mutex; no two handlers
// ever interleave and no handler blocks on I/O.
type Balloon struct {
	mu sync.Mutex

	features *FeatureSet
	env      Env

	numPages uint32 // host-desired balloon target, in pages
	actual   uint32 // guest-acknowledged balloon size, in pages

	stats             [StatCount]int64
	statsLastUpdate   int64
	statsPollInterval int64 // seconds; 0 means polling disabled
	statsTimer        deviceTimer
	statsReq          *Request // held stats buffer, at most one

	freePageReq   *Request // held free page command buffer, at most one
	freePageReady bool

	ivq, dvq, svq, fvq Queue

	policyDev policy.Device
	running   bool

	newTimer func(cb func()) deviceTimer
	now      func() time.Time
}

// NewBalloon realizes a balloon device: queues are created and the
// stats array is reset. Feature negotiation and policy registration
// happen afterwards through Negotiate.
func NewBalloon(hostFeatures uint64, env Env) (*Balloon, error) {
	if env.Space == nil || env.Advisor == nil || env.Registry == nil || env.NewQueue == nil {
		return nil, errMissingCollaborator
	}

	b := &Balloon{
		features: NewFeatureSet(hostFeatures),
		env:      env,
		newTimer: newSysTimer,
		now:      time.Now,
	}

	b.ivq = env.NewQueue("inflate")
	b.dvq = env.NewQueue("deflate")
	b.svq = env.NewQueue("stats")

	if b.features.HostHas(FeatureFreePageVQ) {
		b.fvq = env.NewQueue("free-page")
	}

	b.resetStatsLocked()

	return b, nil
}

// OfferFeatures returns the feature bits advertised to the guest.
func (b *Balloon) OfferFeatures() uint64 {
	return b.features.Offer()
}

// Negotiate finalizes feature negotiation with the guest-acked bits
// and registers the device with the policy registry, exposing the free
// page hooks only when the guest acknowledged the feature. On a
// registration conflict all queues are released and the device is
// unusable; the error is fatal to activation.
func (b *Balloon) Negotiate(guest uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	negotiated, err := b.features.Negotiate(guest)
	if err != nil {
		return err
	}

	var dev policy.Device = b
	if negotiated&FeatureFreePageVQ == 0 {
		dev = statsOnly{b}
	}

	if err := b.env.Registry.Register(dev); err != nil {
		b.releaseQueuesLocked()

		return pkgerrors.Wrap(err, "balloon activation")
	}

	b.policyDev = dev

	return nil
}

// statsOnly hides the free page hooks from the policy registry when
// the feature was not negotiated.
type statsOnly struct {
	b *Balloon
}

func (s statsOnly) SetTarget(bytes uint64) { s.b.SetTarget(bytes) }
func (s statsOnly) Info() policy.Info      { return s.b.Info() }

// Close unrealizes the device: the polling timer is torn down, the
// policy registration is removed, held requests go back to their
// queues and all queues are released.
func (b *Balloon) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.destroyStatsTimerLocked()

	if b.statsReq != nil {
		b.svq.Requeue(b.statsReq)
		b.statsReq = nil
	}

	if b.freePageReq != nil {
		b.fvq.Requeue(b.freePageReq)
		b.freePageReq = nil
	}

	if b.policyDev != nil {
		b.env.Registry.Remove(b.policyDev)
		b.policyDev = nil
	}

	b.releaseQueuesLocked()

	return nil
}

func (b *Balloon) releaseQueuesLocked() {
	for _, q := range []Queue{b.ivq, b.dvq, b.svq, b.fvq} {
		if q != nil {
			q.Close()
		}
	}

	b.ivq, b.dvq, b.svq, b.fvq = nil, nil, nil, nil
}

// ConfigBytes returns the current config space contents.
func (b *Balloon) ConfigBytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Config{NumPages: b.numPages, Actual: b.actual}.Bytes()
}

// WriteConfig applies a guest config space write. Only the actual
// field is guest-writable. When the written value differs from the
// previous one, the balloon change event fires with the new
// guest-visible size; a repeated identical write fires nothing.
func (b *Balloon) WriteConfig(data []byte) error {
	if len(data) < ConfigSize {
		return errConfigTooShort
	}

	var cfg Config
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &cfg); err != nil {
		return err
	}

	b.mu.Lock()

	old := b.actual
	b.actual = cfg.Actual
	changed := b.actual != old
	size := b.env.RAMSize - uint64(b.actual)<<PageShift
	cb := b.env.OnBalloonChange

	b.mu.Unlock()

	if changed && cb != nil {
		cb(size)
	}

	return nil
}

// NumPages returns the host-desired balloon target in pages.
func (b *Balloon) NumPages() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.numPages
}

// Actual returns the guest-acknowledged balloon size in pages.
func (b *Balloon) Actual() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.actual
}

// SetTarget recomputes the balloon target from the desired guest size
// in bytes and raises a config change interrupt. Targets above the
// configured RAM size are clamped to it.
func (b *Balloon) SetTarget(target uint64) {
	b.mu.Lock()

	if target > b.env.RAMSize {
		target = b.env.RAMSize
	}

	var notify func()

	if target > 0 {
		b.numPages = uint32((b.env.RAMSize - target) >> PageShift)
		notify = b.env.NotifyConfig
	}

	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Info reports the guest-acknowledged balloon size in bytes.
func (b *Balloon) Info() policy.Info {
	b.mu.Lock()
	defer b.mu.Unlock()

	return policy.Info{Actual: b.env.RAMSize - uint64(b.actual)<<PageShift}
}

// Reset returns any held request to the front of its queue so the
// guest sees it redelivered intact after the device reset.
func (b *Balloon) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.statsReq != nil && b.svq != nil {
		b.svq.Requeue(b.statsReq)
		b.statsReq = nil
	}

	if b.freePageReq != nil && b.fvq != nil {
		b.fvq.Requeue(b.freePageReq)
		b.freePageReq = nil
	}
}

// SetRunning tracks the VM run state. On the stopped to running
// transition the device re-pops at most one request per queue that
// Reset returned, so an in-flight stats or free page buffer survives a
// stop/resume cycle without loss.
func (b *Balloon) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	was := b.running
	b.running = running

	if !running || was {
		return
	}

	if b.statsReq == nil {
		b.receiveStatsLocked()
	}

	if b.features.Has(FeatureFreePageVQ) && b.freePageReq == nil {
		b.handleFreePagesLocked()
	}
}

// State captures the persisted device fields, snapshot version 1.
func (b *Balloon) State() migration.BalloonState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return migration.BalloonState{
		Version:  migration.BalloonStateVersion,
		NumPages: b.numPages,
		Actual:   b.actual,
	}
}

// Restore applies a persisted snapshot. If stats polling is enabled
// the timer is rearmed to fire immediately, so the host regains fresh
// statistics right after migration.
func (b *Balloon) Restore(st migration.BalloonState) error {
	if err := st.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.numPages = st.NumPages
	b.actual = st.Actual

	if b.statsPollInterval > 0 {
		b.armStatsTimerLocked(0)
	}

	return nil
}
