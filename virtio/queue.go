package virtio

// Segment names a guest-physical range backing one device-writable
// descriptor of a request.
type Segment struct {
	Addr uint64
	Len  uint32
}

// Request is one guest-posted buffer chain popped from a queue. Out
// holds the concatenated driver-to-device payload. In names the
// device-writable ranges by guest-physical address, in descriptor
// order.
type Request struct {
	Out []byte
	In  []Segment
}

// Queue is the transport contract the balloon core consumes. The
// transport owns descriptor mechanics; the device only pops available
// requests, completes them with the number of bytes it wrote, and
// signals the guest.
//
// Requeue returns an uncompleted request to the front of the queue so
// that the next Pop redelivers it. It is the undo of Pop, used when
// the device resets with a request still held.
//
// Within one queue, Pop must deliver requests in transport order.
// Implementations must not call back into the device from any of
// these methods.
type Queue interface {
	Pop() (*Request, bool)
	Complete(req *Request, written uint32)
	Requeue(req *Request)
	Notify()
	Close()
}
