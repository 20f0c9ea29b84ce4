package memory_test

import (
	"testing"

	"github.com/nanovmm/balloond/memory"
)

func newSpace(t *testing.T) (*memory.AddressSpace, []byte) {
	t.Helper()

	ram := make([]byte, 0x4000)
	a := memory.NewAddressSpace("test")

	if err := a.AddRegion(&memory.Region{
		Name: "ram", Type: memory.RAM, Addr: 0x1000, Size: 0x4000, Buf: ram,
	}); err != nil {
		t.Fatal(err)
	}

	if err := a.AddRegion(&memory.Region{
		Name: "mmio", Type: memory.IO, Addr: 0x10000, Size: 0x1000,
	}); err != nil {
		t.Fatal(err)
	}

	return a, ram
}

func TestAddRegionOverlap(t *testing.T) {
	t.Parallel()

	a, _ := newSpace(t)

	err := a.AddRegion(&memory.Region{
		Name: "clash", Type: memory.RAM, Addr: 0x2000, Size: 0x1000,
		Buf: make([]byte, 0x1000),
	})
	if err == nil {
		t.Fatal("overlapping region accepted")
	}
}

func TestAddRegionBackingMismatch(t *testing.T) {
	t.Parallel()

	a := memory.NewAddressSpace("test")

	err := a.AddRegion(&memory.Region{
		Name: "short", Type: memory.RAM, Addr: 0, Size: 0x2000,
		Buf: make([]byte, 0x1000),
	})
	if err == nil {
		t.Fatal("region with short backing accepted")
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	a, _ := newSpace(t)

	if r := a.Find(0x1000); r == nil || r.Name != "ram" {
		t.Fatalf("expected ram region, actual %+v", r)
	}

	if r := a.Find(0x4fff); r == nil || r.Name != "ram" {
		t.Fatalf("expected ram region at last byte, actual %+v", r)
	}

	if r := a.Find(0x5000); r != nil {
		t.Fatalf("expected no region past the end, actual %+v", r)
	}

	if r := a.Find(0x10010); r == nil || r.Name != "mmio" {
		t.Fatalf("expected mmio region, actual %+v", r)
	}
}

func TestFindSection(t *testing.T) {
	t.Parallel()

	a, ram := newSpace(t)

	// Fully inside one region.
	s, ok := a.FindSection(0x2000, 0x800)
	if !ok || s.Size != 0x800 || len(s.Buf) != 0x800 {
		t.Fatalf("unexpected section: %+v", s)
	}

	ram[0x1000] = 0xAB // guest 0x2000 maps to ram offset 0x1000
	if s.Buf[0] != 0xAB {
		t.Fatal("section backing does not alias region backing")
	}

	// Crossing the region end resolves only the prefix.
	s, ok = a.FindSection(0x4000, 0x2000)
	if !ok || s.Size != 0x1000 {
		t.Fatalf("expected 0x1000 prefix, actual %+v", s)
	}

	// IO regions resolve without backing.
	s, ok = a.FindSection(0x10000, 0x10)
	if !ok || s.Buf != nil || s.Region.Type != memory.IO {
		t.Fatalf("unexpected io section: %+v", s)
	}

	// Unmapped addresses do not resolve.
	if _, ok := a.FindSection(0x20000, 1); ok {
		t.Fatal("unmapped address resolved")
	}

	if _, ok := a.FindSection(0x2000, 0); ok {
		t.Fatal("empty range resolved")
	}
}
