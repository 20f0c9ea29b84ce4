// Package policy holds the host-side balloon policy contract: the
// process-wide registry a balloon device registers with, and the front
// doors the policy layer uses to drive the registered device.
package policy

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrRegistered is returned for a second registration attempt;
	// only one balloon device is supported per machine.
	ErrRegistered = errors.New("a balloon device is already registered")

	// ErrNoDevice is returned when a front door is called with no
	// device registered.
	ErrNoDevice = errors.New("no balloon device registered")

	// ErrFreePageUnsupported is returned when the registered device
	// did not negotiate free page reporting.
	ErrFreePageUnsupported = errors.New("balloon device does not support free page reporting")
)

// Info describes the guest-visible memory size after ballooning.
type Info struct {
	// Actual is the number of bytes currently available to the guest.
	Actual uint64
}

// Device is the callback tuple a balloon device registers.
type Device interface {
	// SetTarget steers the guest toward a balloon target, given as the
	// desired guest memory size in bytes.
	SetTarget(bytes uint64)

	// Info reports the guest-acknowledged balloon size.
	Info() Info
}

// FreePageDevice is registered instead of Device when the device
// negotiated free page reporting with its guest.
type FreePageDevice interface {
	Device

	FreePageSupport() bool
	FreePageReport() error
	FreePageReady() bool
}

// Registry is the process-wide balloon policy slot. It also carries
// the global balloon inhibit: while inhibited, devices consume guest
// requests but issue no memory advice.
type Registry struct {
	mu        sync.Mutex
	dev       Device
	inhibited atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register claims the policy slot for d. The slot is exclusive.
func (r *Registry) Register(d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		return ErrRegistered
	}

	r.dev = d

	return nil
}

// Remove releases the slot if it is held by d. Removing a device that
// is not registered is a no-op.
func (r *Registry) Remove(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev == d {
		r.dev = nil
	}
}

func (r *Registry) device() Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dev
}

// SetTarget forwards the desired guest size in bytes to the device.
func (r *Registry) SetTarget(bytes uint64) error {
	d := r.device()
	if d == nil {
		return ErrNoDevice
	}

	d.SetTarget(bytes)

	return nil
}

// Info queries the guest-acknowledged balloon size.
func (r *Registry) Info() (Info, error) {
	d := r.device()
	if d == nil {
		return Info{}, ErrNoDevice
	}

	return d.Info(), nil
}

// FreePageSupport reports whether a free page reporting round can be
// started right now.
func (r *Registry) FreePageSupport() bool {
	fd, ok := r.device().(FreePageDevice)

	return ok && fd.FreePageSupport()
}

// FreePageReport asks the device to start a free page reporting round.
func (r *Registry) FreePageReport() error {
	d := r.device()
	if d == nil {
		return ErrNoDevice
	}

	fd, ok := d.(FreePageDevice)
	if !ok {
		return ErrFreePageUnsupported
	}

	return fd.FreePageReport()
}

// FreePageReady reports whether the guest awaits a free page report.
func (r *Registry) FreePageReady() bool {
	fd, ok := r.device().(FreePageDevice)

	return ok && fd.FreePageReady()
}

// Inhibit sets or clears the global balloon inhibit.
func (r *Registry) Inhibit(on bool) {
	r.inhibited.Store(on)
}

// Inhibited reports whether ballooning is currently inhibited.
func (r *Registry) Inhibited() bool {
	return r.inhibited.Load()
}
