package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nanovmm/balloond/metrics"
	"github.com/nanovmm/balloond/virtio"
)

type fakeSource struct {
	snap     virtio.StatsSnapshot
	numPages uint32
	actual   uint32
}

func (s *fakeSource) Stats() virtio.StatsSnapshot { return s.snap }
func (s *fakeSource) NumPages() uint32            { return s.numPages }
func (s *fakeSource) Actual() uint32              { return s.actual }

func newFakeSource() *fakeSource {
	s := &fakeSource{numPages: 65536, actual: 1024}
	s.snap.LastUpdate = 12345

	for i := range s.snap.Stats {
		s.snap.Stats[i] = virtio.StatUnset
	}

	s.snap.Stats[virtio.StatFreeMemory] = 1 << 30

	return s
}

func gather(t *testing.T, src metrics.Source) map[string]float64 {
	t.Helper()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics.NewCollector(src)))

	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}

	for _, mf := range families {
		require.Len(t, mf.Metric, 1)
		out[mf.GetName()] = mf.Metric[0].GetGauge().GetValue()
	}

	return out
}

func TestCollect(t *testing.T) {
	t.Parallel()

	got := gather(t, newFakeSource())

	require.Equal(t, float64(1<<30), got["balloon_guest_free_memory"])
	require.Equal(t, float64(12345), got["balloon_stats_last_update_seconds"])
	require.Equal(t, float64(65536), got["balloon_target_pages"])
	require.Equal(t, float64(1024), got["balloon_actual_pages"])
}

func TestCollectSkipsUnsetStats(t *testing.T) {
	t.Parallel()

	got := gather(t, newFakeSource())

	_, ok := got["balloon_guest_swap_in"]
	require.False(t, ok, "unset stat slot exported")
}
