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

// Package bufaccess wraps the buffer-management driver with the checked
// lookups kernels use to reach buffer data, private regions and fused
// records.
package bufaccess

import (
	"go.uber.org/multierr"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/driver"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

// Access bundles the driver with the address space its buffers live in.
type Access struct {
	Driver driver.Driver
	Space  *memory.Space
	// HardwareCopy allows CopyData to try the driver's accelerated path.
	HardwareCopy bool
}

func New(drv driver.Driver, space *memory.Space, hardwareCopy bool) *Access {
	return &Access{Driver: drv, Space: space, HardwareCopy: hardwareCopy}
}

// GetBufferAddrAndSize returns the data region of h. The region must hold
// at least one descriptor, plus one payload byte unless allowHeaderOnly.
func (a *Access) GetBufferAddrAndSize(h types.Handle, allowHeaderOnly bool) (memory.View, error) {
	if h == types.InvalidHandle() {
		return memory.View{}, common.Error(common.KDriverError, "buffer handle is null")
	}
	addr, err := a.Driver.Addr(h)
	if err != nil {
		return memory.View{}, common.Errorf(common.KDriverError,
			"get address of buffer %s failed: %v", types.HandleToString(h), err)
	}
	size, err := a.Driver.Size(h)
	if err != nil {
		return memory.View{}, common.Errorf(common.KDriverError,
			"get size of buffer %s failed: %v", types.HandleToString(h), err)
	}
	minSize := uint64(tensor.DescriptorSize)
	if !allowHeaderOnly {
		minSize++
	}
	if addr == types.NullAddr() || size < minSize {
		return memory.View{}, common.Errorf(common.KDriverError,
			"buffer %s is invalid, addr %#x size %d, expect at least %d bytes",
			types.HandleToString(h), addr, size, minSize)
	}
	v, err := a.Space.View(addr, size)
	if err != nil {
		return memory.View{}, common.Errorf(common.KDriverError,
			"buffer %s is not mapped: %v", types.HandleToString(h), err)
	}
	return v, nil
}

// ReadHandleSlot returns the handle stored in a slot, which may be null.
func (a *Access) ReadHandleSlot(slot types.Addr) (types.Handle, error) {
	if slot == types.NullAddr() {
		return types.InvalidHandle(), common.NullParam("buffer slot")
	}
	v, err := a.Space.View(slot, 8)
	if err != nil {
		return types.InvalidHandle(), err
	}
	return v.Uint64(0)
}

func (a *Access) WriteHandleSlot(slot types.Addr, h types.Handle) error {
	if slot == types.NullAddr() {
		return common.NullParam("buffer slot")
	}
	v, err := a.Space.View(slot, 8)
	if err != nil {
		return err
	}
	return v.PutUint64(0, h)
}

// GetBufferDataPointer follows slot -> handle -> data address.
func (a *Access) GetBufferDataPointer(slot types.Addr) (types.Handle, types.Addr, error) {
	h, err := a.ReadHandleSlot(slot)
	if err != nil {
		return types.InvalidHandle(), types.NullAddr(), err
	}
	if h == types.InvalidHandle() {
		return types.InvalidHandle(), types.NullAddr(), common.Errorf(common.KParameterInvalid,
			"buffer slot %#x holds a null handle", slot)
	}
	addr, err := a.Driver.Addr(h)
	if err != nil || addr == types.NullAddr() {
		return types.InvalidHandle(), types.NullAddr(), common.Errorf(common.KParameterInvalid,
			"data address of buffer %s is null: %v", types.HandleToString(h), err)
	}
	return h, addr, nil
}

// PrivateInfo returns the private region of h.
func (a *Access) PrivateInfo(h types.Handle) (memory.View, error) {
	addr, size, err := a.Driver.PrivateInfo(h)
	if err != nil {
		return memory.View{}, common.Errorf(common.KDriverError,
			"get private info of buffer %s failed: %v", types.HandleToString(h), err)
	}
	if addr == types.NullAddr() || size == 0 {
		return memory.View{}, common.Errorf(common.KDriverError,
			"buffer %s has no private info", types.HandleToString(h))
	}
	v, err := a.Space.View(addr, size)
	if err != nil {
		return memory.View{}, common.Errorf(common.KDriverError,
			"private info of buffer %s is not mapped: %v", types.HandleToString(h), err)
	}
	return v, nil
}

// Header decodes the header message of h.
func (a *Access) Header(h types.Handle) (*tensor.Header, error) {
	priv, err := a.PrivateInfo(h)
	if err != nil {
		return nil, err
	}
	hv, err := tensor.HeaderView(priv)
	if err != nil {
		return nil, err
	}
	return tensor.DecodeHeader(hv)
}

// CopyHeaderMetadata copies a source private region verbatim onto the
// private region of dst.
func (a *Access) CopyHeaderMetadata(srcHeader types.Addr, srcHeaderSize uint64, dst types.Handle) error {
	if srcHeader == types.NullAddr() || srcHeaderSize == 0 {
		return common.Errorf(common.KParameterInvalid, "source header is empty, addr %#x size %d",
			srcHeader, srcHeaderSize)
	}
	dstAddr, dstSize, err := a.Driver.PrivateInfo(dst)
	if err != nil {
		return common.Errorf(common.KDriverError,
			"get private info of buffer %s failed: %v", types.HandleToString(dst), err)
	}
	if dstAddr == types.NullAddr() || dstSize == 0 {
		return common.Errorf(common.KParameterInvalid, "buffer %s has no private info", types.HandleToString(dst))
	}
	if dstSize != srcHeaderSize {
		return common.Errorf(common.KParameterInvalid, "header size mismatch, source %d destination %d",
			srcHeaderSize, dstSize)
	}
	return a.Space.Copy(dstAddr, dstSize, srcHeader, srcHeaderSize)
}

// ResolveFusionOffset returns the record at fusionIndex inside buf. A
// cursor that already moved past the index is rewound to the first record.
func ResolveFusionOffset(buf memory.View, fusionIndex uint32, cursor *tensor.FusionCursor) (memory.View, error) {
	if fusionIndex < cursor.LastIndex {
		cursor.Reset()
	}
	return tensor.AdvanceFusionCursor(cursor, fusionIndex, buf)
}

// CopyData copies n bytes from src into [dst, dst+dstLen), preferring the
// driver's hardware path and falling back to a bounded copy.
func (a *Access) CopyData(dst types.Addr, dstLen uint64, src types.Addr, n uint64) error {
	if a.HardwareCopy {
		if copier, ok := a.Driver.(driver.HardwareCopier); ok {
			if err := copier.HardwareCopy(dst, dstLen, src, n); err == nil {
				return nil
			}
		}
	}
	return a.Space.Copy(dst, dstLen, src, n)
}

// Freer releases one reference of a buffer. Both driver.Driver and
// driver.Pool satisfy it.
type Freer interface {
	Free(h types.Handle) error
}

// ReleaseBuffers frees each distinct non-null handle once and reports every
// failure.
func ReleaseBuffers(f Freer, handles ...types.Handle) error {
	seen := make(map[types.Handle]struct{}, len(handles))
	var errs []error
	for _, h := range handles {
		if h == types.InvalidHandle() {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if err := f.Free(h); err != nil {
			errs = append(errs, common.Errorf(common.KDriverError,
				"free buffer %s failed: %v", types.HandleToString(h), err))
		}
	}
	return multierr.Combine(errs...)
}
