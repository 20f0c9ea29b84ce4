package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanovmm/balloond/policy"
)

type fakeDevice struct {
	target uint64
	info   policy.Info
}

func (d *fakeDevice) SetTarget(bytes uint64) { d.target = bytes }
func (d *fakeDevice) Info() policy.Info      { return d.info }

type fakeFreePageDevice struct {
	fakeDevice
	support  bool
	ready    bool
	reports  int
	errOnRep error
}

func (d *fakeFreePageDevice) FreePageSupport() bool { return d.support }
func (d *fakeFreePageDevice) FreePageReady() bool   { return d.ready }

func (d *fakeFreePageDevice) FreePageReport() error {
	d.reports++

	return d.errOnRep
}

func TestRegisterExclusive(t *testing.T) {
	t.Parallel()

	r := policy.NewRegistry()
	d1 := &fakeDevice{}
	d2 := &fakeDevice{}

	require.NoError(t, r.Register(d1))
	require.ErrorIs(t, r.Register(d2), policy.ErrRegistered)

	// Removing a non-registered device changes nothing.
	r.Remove(d2)
	require.ErrorIs(t, r.Register(d2), policy.ErrRegistered)

	r.Remove(d1)
	require.NoError(t, r.Register(d2))
}

func TestFrontDoorsWithoutDevice(t *testing.T) {
	t.Parallel()

	r := policy.NewRegistry()

	require.ErrorIs(t, r.SetTarget(1<<30), policy.ErrNoDevice)

	_, err := r.Info()
	require.ErrorIs(t, err, policy.ErrNoDevice)

	require.False(t, r.FreePageSupport())
	require.False(t, r.FreePageReady())
	require.ErrorIs(t, r.FreePageReport(), policy.ErrNoDevice)
}

func TestFrontDoorsForward(t *testing.T) {
	t.Parallel()

	r := policy.NewRegistry()
	d := &fakeFreePageDevice{
		fakeDevice: fakeDevice{info: policy.Info{Actual: 512 << 20}},
		support:    true,
		ready:      true,
	}

	require.NoError(t, r.Register(d))

	require.NoError(t, r.SetTarget(768<<20))
	require.Equal(t, uint64(768<<20), d.target)

	info, err := r.Info()
	require.NoError(t, err)
	require.Equal(t, uint64(512<<20), info.Actual)

	require.True(t, r.FreePageSupport())
	require.True(t, r.FreePageReady())
	require.NoError(t, r.FreePageReport())
	require.Equal(t, 1, d.reports)
}

func TestFreePageUnsupportedDevice(t *testing.T) {
	t.Parallel()

	r := policy.NewRegistry()
	require.NoError(t, r.Register(&fakeDevice{}))

	require.False(t, r.FreePageSupport())
	require.False(t, r.FreePageReady())
	require.ErrorIs(t, r.FreePageReport(), policy.ErrFreePageUnsupported)
}

func TestInhibit(t *testing.T) {
	t.Parallel()

	r := policy.NewRegistry()

	require.False(t, r.Inhibited())

	r.Inhibit(true)
	require.True(t, r.Inhibited())

	r.Inhibit(false)
	require.False(t, r.Inhibited())
}
