package virtio_test

import (
	"testing"

	"github.com/nanovmm/balloond/virtio"
)

func TestMemQueueFIFO(t *testing.T) {
	t.Parallel()

	q := virtio.NewMemQueue("test")

	a := &virtio.Request{Out: []byte{1}}
	b := &virtio.Request{Out: []byte{2}}
	q.Push(a)
	q.Push(b)

	if got, ok := q.Pop(); !ok || got != a {
		t.Fatal("first pop out of order")
	}

	if got, ok := q.Pop(); !ok || got != b {
		t.Fatal("second pop out of order")
	}

	if _, ok := q.Pop(); ok {
		t.Fatal("pop from empty queue succeeded")
	}
}

func TestMemQueueRequeueServedFirst(t *testing.T) {
	t.Parallel()

	q := virtio.NewMemQueue("test")

	a := &virtio.Request{Out: []byte{1}}
	b := &virtio.Request{Out: []byte{2}}
	q.Push(a)
	q.Push(b)

	got, _ := q.Pop()
	q.Requeue(got)

	if q.Len() != 2 {
		t.Fatalf("len: expected 2, actual %d", q.Len())
	}

	if again, ok := q.Pop(); !ok || again != a {
		t.Fatal("requeued request not redelivered first")
	}
}

func TestMemQueueNotify(t *testing.T) {
	t.Parallel()

	q := virtio.NewMemQueue("test")

	var fired int

	q.OnNotify(func() { fired++ })
	q.Notify()
	q.Notify()

	if fired != 2 {
		t.Fatalf("notify callbacks: expected 2, actual %d", fired)
	}
}

func TestMemQueueClose(t *testing.T) {
	t.Parallel()

	q := virtio.NewMemQueue("test")
	q.Push(&virtio.Request{})
	q.Close()

	if _, ok := q.Pop(); ok {
		t.Fatal("pop succeeded after close")
	}

	q.Push(&virtio.Request{})

	if q.Len() != 0 {
		t.Fatal("push succeeded after close")
	}
}
