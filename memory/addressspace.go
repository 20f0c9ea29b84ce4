// Package memory models the guest-physical address space of a machine
// and the residency advice applied to the host memory backing it.
package memory

import (
	"errors"
	"fmt"
	"sort"
)

var (
	errRegionOverlap = errors.New("region overlaps an existing region")
	errRegionBacking = errors.New("region backing does not match its size")
)

type RegionType uint8

const (
	RAM RegionType = iota
	ROM
	IO
)

// Region is a contiguous guest-physical range. Buf is the host memory
// backing the range; it is nil for IO regions, which have no backing.
type Region struct {
	Name string
	Type RegionType
	Addr uint64
	Size uint64
	Buf  []byte
}

func (r *Region) end() uint64 {
	return r.Addr + r.Size
}

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.end()
}

// AddressSpace maps guest-physical addresses to registered regions.
type AddressSpace struct {
	Name    string
	regions []*Region // sorted by Addr, non-overlapping
}

func NewAddressSpace(name string) *AddressSpace {
	return &AddressSpace{Name: name}
}

// AddRegion registers a region. RAM and ROM regions must carry backing
// of exactly Size bytes.
func (a *AddressSpace) AddRegion(r *Region) error {
	if r.Type != IO && uint64(len(r.Buf)) != r.Size {
		return fmt.Errorf("%q: %w", r.Name, errRegionBacking)
	}

	for _, x := range a.regions {
		if r.Addr < x.end() && x.Addr < r.end() {
			return fmt.Errorf("%q vs %q: %w", r.Name, x.Name, errRegionOverlap)
		}
	}

	a.regions = append(a.regions, r)
	sort.Slice(a.regions, func(i, j int) bool {
		return a.regions[i].Addr < a.regions[j].Addr
	})

	return nil
}

// Find returns the region containing addr, or nil.
func (a *AddressSpace) Find(addr uint64) *Region {
	i := sort.Search(len(a.regions), func(i int) bool {
		return a.regions[i].end() > addr
	})

	if i < len(a.regions) && a.regions[i].contains(addr) {
		return a.regions[i]
	}

	return nil
}

// Section is the resolved prefix of a guest-physical range within a
// single region. Buf is the host memory backing the prefix, nil for IO
// regions.
type Section struct {
	Region *Region
	Buf    []byte
	Size   uint64
}

// FindSection resolves the longest prefix of [addr, addr+size) that
// lies within a single region. It reports false when addr is unmapped.
func (a *AddressSpace) FindSection(addr, size uint64) (Section, bool) {
	r := a.Find(addr)
	if r == nil || size == 0 {
		return Section{}, false
	}

	off := addr - r.Addr

	n := r.Size - off
	if n > size {
		n = size
	}

	s := Section{Region: r, Size: n}
	if r.Buf != nil {
		s.Buf = r.Buf[off : off+n]
	}

	return s, true
}
