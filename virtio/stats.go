package virtio

// Stats queue handling: the pull protocol and its polling timer. The
// device holds at most one request from the stats queue, representing
// the buffer the guest will fill next. Completing it empty is the
// signal that prompts the guest to submit a fresh report.

import (
	"encoding/binary"
	"math"
	"time"
)

// StatsSnapshot is the read-only view of the guest statistics.
// Slots the guest did not report read as StatUnset.
type StatsSnapshot struct {
	LastUpdate int64
	Stats      [StatCount]int64
}

// Stats returns the most recent statistics snapshot.
func (b *Balloon) Stats() StatsSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return StatsSnapshot{LastUpdate: b.statsLastUpdate, Stats: b.stats}
}

// StatsPollInterval returns the polling interval in seconds, 0 when
// polling is disabled.
func (b *Balloon) StatsPollInterval() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.statsPollInterval
}

// NotifyStats handles a stats queue notification from the guest.
func (b *Balloon) NotifyStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receiveStatsLocked()
}

func (b *Balloon) receiveStatsLocked() {
	if b.svq == nil {
		return
	}

	if req, ok := b.svq.Pop(); ok {
		if b.statsReq != nil {
			// The driver never submits a second buffer while one is
			// outstanding if it follows the spec. Tolerated: the
			// stale buffer is completed empty.
			log.Warn("stats buffer posted while one was outstanding")
			b.svq.Complete(b.statsReq, 0)
			b.svq.Notify()
		}

		b.statsReq = req

		// Clear stale values first: the guest may report fewer stats
		// than it used to, e.g. after rebooting into an older kernel.
		b.resetStatsLocked()

		out := req.Out
		for len(out) >= statRecordSize {
			tag := binary.LittleEndian.Uint16(out)
			val := binary.LittleEndian.Uint64(out[2:])
			out = out[statRecordSize:]

			if int(tag) < StatCount {
				b.stats[tag] = int64(val)
			}
		}

		b.statsLastUpdate = b.now().Unix()
	}

	if b.statsPollInterval > 0 {
		b.armStatsTimerLocked(time.Duration(b.statsPollInterval) * time.Second)
	}
}

func (b *Balloon) resetStatsLocked() {
	for i := range b.stats {
		b.stats[i] = StatUnset
	}
}

// onStatsTimer runs when the host is due for fresh statistics. With a
// buffer held it is completed empty to prompt the guest; otherwise the
// guest has not replenished the queue yet and the timer is rearmed.
// The next rearm after a completion happens when the guest's report
// arrives in receiveStatsLocked.
func (b *Balloon) onStatsTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.statsReq == nil || !b.features.Has(FeatureStatsVQ) {
		if b.statsPollInterval > 0 {
			b.armStatsTimerLocked(time.Duration(b.statsPollInterval) * time.Second)
		}

		return
	}

	b.svq.Complete(b.statsReq, 0)
	b.svq.Notify()
	b.statsReq = nil
}

// SetStatsPollInterval sets the automatic stats polling interval in
// seconds. 0 disables polling and destroys the timer. Enabling from
// the disabled state polls once immediately, then every interval.
// Setting the current value again is a no-op.
func (b *Balloon) SetStatsPollInterval(secs int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if secs < 0 {
		return ErrPollIntervalNegative
	}

	if secs > math.MaxUint32 {
		return ErrPollIntervalTooBig
	}

	if secs == b.statsPollInterval {
		return nil
	}

	if secs == 0 {
		b.destroyStatsTimerLocked()

		return nil
	}

	if b.statsPollInterval > 0 {
		// Interval change: reschedule from now.
		b.statsPollInterval = secs
		b.armStatsTimerLocked(time.Duration(secs) * time.Second)

		return nil
	}

	b.statsPollInterval = secs
	b.armStatsTimerLocked(0)

	return nil
}

func (b *Balloon) armStatsTimerLocked(d time.Duration) {
	if b.statsTimer == nil {
		b.statsTimer = b.newTimer(b.onStatsTimer)
	}

	b.statsTimer.Reset(d)
}

func (b *Balloon) destroyStatsTimerLocked() {
	if b.statsTimer == nil {
		return
	}

	b.statsTimer.Stop()
	b.statsTimer = nil
	b.statsPollInterval = 0
}
