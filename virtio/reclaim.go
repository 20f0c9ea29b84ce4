package virtio

// Inflate and deflate queue handling: guest page descriptors are
// translated into host memory reclaim advice.

import (
	"encoding/binary"

	"github.com/nanovmm/balloond/memory"
)

// NotifyInflate drains the inflate queue. Pages named there are being
// surrendered by the guest; the host may reclaim their backing.
func (b *Balloon) NotifyInflate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reclaimLocked(b.ivq, memory.DontNeed)
}

// NotifyDeflate drains the deflate queue. Pages named there are being
// taken back by the guest; the host should restore their backing.
func (b *Balloon) NotifyDeflate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reclaimLocked(b.dvq, memory.WillNeed)
}

func (b *Balloon) reclaimLocked(q Queue, advice memory.Advice) {
	if q == nil {
		return
	}

	for {
		req, ok := q.Pop()
		if !ok {
			return
		}

		if b.features.Has(FeatureSG) {
			// Each device-writable descriptor directly names a range;
			// no page size assumption.
			for _, seg := range req.In {
				if !b.adviseRangeLocked(seg.Addr, uint64(seg.Len), advice) {
					break
				}
			}
		} else {
			// Legacy format: the payload is a run of 4-byte
			// little-endian page frame numbers. A trailing fragment is
			// ignored.
			out := req.Out
			for len(out) >= legacyPFNSize {
				pfn := binary.LittleEndian.Uint32(out)
				out = out[legacyPFNSize:]

				if !b.adviseRangeLocked(uint64(pfn)<<PageShift, PageSize, advice) {
					break
				}
			}
		}

		q.Complete(req, 0)
		q.Notify()
	}
}

// adviseRangeLocked applies advice to every host-backed subrange of
// [addr, addr+size). A range that leaves plain RAM is logged and
// reported as false, which aborts the remaining descriptors of the
// request; it is never fatal to the device. While ballooning is
// inhibited the range is consumed without issuing advice.
func (b *Balloon) adviseRangeLocked(addr, size uint64, advice memory.Advice) bool {
	if b.env.Registry.Inhibited() {
		return true
	}

	for size > 0 {
		sec, ok := b.env.Space.FindSection(addr, size)
		if !ok || sec.Region.Type != memory.RAM {
			log.Warnf("invalid ram range [%#x, %#x)", addr, addr+size)

			return false
		}

		if err := b.env.Advisor.Advise(sec.Buf, advice); err != nil {
			log.WithError(err).Warnf("memory advice for [%#x, %#x)", addr, addr+sec.Size)
		}

		addr += sec.Size
		size -= sec.Size
	}

	return true
}
