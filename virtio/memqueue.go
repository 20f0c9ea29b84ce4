package virtio

import "sync"

// MemQueue is an in-process Queue backed by slices: the loopback
// transport used by the harness binary and by tests. The guest side
// pushes requests with Push and observes completions with
// Completions.
type MemQueue struct {
	mu      sync.Mutex
	name    string
	pending *Request // redelivery slot, served before the ring
	ring    []*Request
	done    []Completion
	notify  func()
	closed  bool
}

// Completion records one completed request and the number of bytes
// the device wrote.
type Completion struct {
	Req     *Request
	Written uint32
}

func NewMemQueue(name string) *MemQueue {
	return &MemQueue{name: name}
}

// Name returns the queue name given at creation.
func (q *MemQueue) Name() string {
	return q.name
}

// OnNotify registers the guest-side callback invoked by Notify. The
// callback runs outside the queue lock but must not call back into
// the device synchronously.
func (q *MemQueue) OnNotify(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.notify = fn
}

// Push appends a request to the back of the queue.
func (q *MemQueue) Push(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.ring = append(q.ring, req)
}

func (q *MemQueue) Pop() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}

	if q.pending != nil {
		req := q.pending
		q.pending = nil

		return req, true
	}

	if len(q.ring) == 0 {
		return nil, false
	}

	req := q.ring[0]
	q.ring = q.ring[1:]

	return req, true
}

func (q *MemQueue) Complete(req *Request, written uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.done = append(q.done, Completion{Req: req, Written: written})
}

// Requeue places req in the redelivery slot. The device holds at most
// one outstanding request per queue, so the slot never needs depth.
func (q *MemQueue) Requeue(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = req
}

func (q *MemQueue) Notify() {
	q.mu.Lock()
	fn := q.notify
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (q *MemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.pending = nil
	q.ring = nil
}

// Len returns the number of requests awaiting Pop.
func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.ring)
	if q.pending != nil {
		n++
	}

	return n
}

// Completions returns a copy of all completions so far, in order.
func (q *MemQueue) Completions() []Completion {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Completion, len(q.done))
	copy(out, q.done)

	return out
}
