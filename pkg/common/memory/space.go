/** Copyright 2020-2023 Alibaba Group Holding Limited.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package memory provides the device address space every buffer, parameter
// block and pointer slot lives in, and the bounds-checked View used to read
// and write the binary layouts stored there.
package memory

import (
	"cmp"
	"slices"
	"sync"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

const (
	spaceBase = 0x10000
	pageSize  = 0x1000
)

type region struct {
	base types.Addr
	data []byte
}

// Space maps byte slices to 64-bit device addresses. Regions never overlap
// and are separated by at least one unmapped page, so a range can never
// silently run from one region into the next. Address 0 is never mapped.
type Space struct {
	mu      sync.RWMutex
	regions []region
	next    types.Addr
}

func NewSpace() *Space {
	return &Space{next: spaceBase}
}

// Map places b at a fresh address. The bytes are shared with the caller.
func (s *Space) Map(b []byte) types.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.next
	s.next += alignUp(uint64(len(b)), pageSize) + pageSize
	// bases are handed out in increasing order, the slice stays sorted
	s.regions = append(s.regions, region{base: base, data: b})
	return base
}

// Alloc maps a zeroed region of size bytes and returns a view over it.
func (s *Space) Alloc(size uint64) View {
	b := make([]byte, size)
	return View{addr: s.Map(b), b: b}
}

func (s *Space) Unmap(addr types.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, found := s.search(addr)
	if !found {
		return common.Errorf(common.KParameterInvalid, "address %#x is not the base of a mapped region", addr)
	}
	s.regions = slices.Delete(s.regions, i, i+1)
	return nil
}

// View returns the bounded range [addr, addr+length).
func (s *Space) View(addr types.Addr, length uint64) (View, error) {
	if addr == types.NullAddr() {
		return View{}, common.NullParam("address")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.find(addr)
	if !ok {
		return View{}, common.Errorf(common.KParameterInvalid, "address %#x is not mapped", addr)
	}
	off := addr - r.base
	if length > uint64(len(r.data))-off {
		return View{}, common.Errorf(common.KParameterInvalid,
			"range [%#x, +%d) exceeds the mapped region [%#x, +%d)", addr, length, r.base, len(r.data))
	}
	return View{addr: addr, b: r.data[off : off+length : off+length]}, nil
}

// ViewToEnd returns the range from addr to the end of its region.
func (s *Space) ViewToEnd(addr types.Addr) (View, error) {
	if addr == types.NullAddr() {
		return View{}, common.NullParam("address")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.find(addr)
	if !ok {
		return View{}, common.Errorf(common.KParameterInvalid, "address %#x is not mapped", addr)
	}
	off := addr - r.base
	return View{addr: addr, b: r.data[off:len(r.data):len(r.data)]}, nil
}

// Copy moves n bytes from src into the destination range [dst, dst+dstLen).
// The copy fails with SafeFunctionError when n does not fit the destination.
func (s *Space) Copy(dst types.Addr, dstLen uint64, src types.Addr, n uint64) error {
	if n > dstLen {
		return common.Errorf(common.KSafeFunctionError, "copy of %d bytes into a %d bytes destination", n, dstLen)
	}
	to, err := s.View(dst, dstLen)
	if err != nil {
		return common.Errorf(common.KSafeFunctionError, "invalid copy destination: %v", err)
	}
	from, err := s.View(src, n)
	if err != nil {
		return common.Errorf(common.KSafeFunctionError, "invalid copy source: %v", err)
	}
	copy(to.b, from.b)
	return nil
}

// Regions is the number of mapped regions.
func (s *Space) Regions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

func (s *Space) search(addr types.Addr) (int, bool) {
	return slices.BinarySearchFunc(s.regions, addr, func(r region, a types.Addr) int {
		return cmp.Compare(r.base, a)
	})
}

func (s *Space) find(addr types.Addr) (region, bool) {
	i, found := s.search(addr)
	if found {
		return s.regions[i], true
	}
	if i == 0 {
		return region{}, false
	}
	r := s.regions[i-1]
	if addr-r.base > uint64(len(r.data)) {
		return region{}, false
	}
	return r, true
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
