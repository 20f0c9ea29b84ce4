package virtio

// Free page queue handling: the command/report handshake between the
// guest driver and the host migration policy. Two buffer kinds share
// the one queue. A buffer carrying guest payload is a command buffer;
// the device holds it until the policy layer asks for a report. A
// device-writable buffer is a report: the guest asserts the named
// range is already free, so migration can skip transmitting it.

// NotifyFreePage handles a free page queue notification.
func (b *Balloon) NotifyFreePage() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handleFreePagesLocked()
}

func (b *Balloon) handleFreePagesLocked() {
	if b.fvq == nil {
		return
	}

	for {
		req, ok := b.fvq.Pop()
		if !ok {
			return
		}

		if len(req.Out) > 0 {
			if b.freePageReq == nil {
				b.freePageReq = req
			} else {
				// Duplicate command buffer; tolerated like a stale
				// stats buffer.
				log.Warn("free page command buffer posted while one was outstanding")
				b.fvq.Complete(req, 0)
				b.fvq.Notify()
			}

			b.freePageReady = true

			continue
		}

		if len(req.In) > 0 {
			seg := req.In[0]

			if b.env.Skipper != nil {
				b.env.Skipper.Skip(seg.Addr, uint64(seg.Len))
			}

			b.fvq.Complete(req, freePageAckSize)
			b.fvq.Notify()
		}
	}
}

// FreePageSupport reports whether a free page reporting round can be
// started: the feature is negotiated and a command buffer is held or
// available on the queue.
func (b *Balloon) FreePageSupport() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.features.Has(FeatureFreePageVQ) {
		return false
	}

	return b.popFreePageCommandLocked()
}

// popFreePageCommandLocked ensures a command buffer is held, popping
// at most one request. A popped request carrying no guest payload is
// requeued, leaving the device state unchanged.
func (b *Balloon) popFreePageCommandLocked() bool {
	if b.freePageReq != nil {
		return true
	}

	if b.fvq == nil {
		return false
	}

	req, ok := b.fvq.Pop()
	if !ok {
		return false
	}

	if len(req.Out) == 0 {
		b.fvq.Requeue(req)

		return false
	}

	b.freePageReq = req

	return true
}

// FreePageReport starts a reporting round: the held command buffer is
// completed with a 4-byte acknowledgement that tells the guest to
// begin reporting. With nothing held and nothing poppable it fails
// without side effects.
func (b *Balloon) FreePageReport() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.features.Has(FeatureFreePageVQ) {
		return ErrFreePageNotSupported
	}

	if !b.popFreePageCommandLocked() {
		return ErrNoFreePageRequest
	}

	b.fvq.Complete(b.freePageReq, freePageAckSize)
	b.fvq.Notify()
	b.freePageReq = nil
	b.freePageReady = false

	return nil
}

// FreePageReady reports whether the guest has supplied a command
// buffer and awaits a report.
func (b *Balloon) FreePageReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.freePageReady
}
