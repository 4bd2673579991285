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

package driver

import (
	"sync"

	arrow "github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/pkg/errors"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

type buffer struct {
	data *arrow.Buffer
	priv *arrow.Buffer

	dataAddr types.Addr
	privAddr types.Addr
	capacity uint64
	length   uint64
	refs     int32
}

// MemDriver backs every buffer with arrow buffers mapped into a device
// address space.
type MemDriver struct {
	mu sync.Mutex

	space     *memory.Space
	allocator arrow.Allocator
	privSize  uint64
	hwCopy    bool
	// limit bounds the bytes held by live data regions, zero means no limit
	limit uint64
	inUse uint64

	next    types.Handle
	buffers map[types.Handle]*buffer
}

type Option func(*MemDriver)

func WithAllocator(allocator arrow.Allocator) Option {
	return func(d *MemDriver) {
		d.allocator = allocator
	}
}

func WithLimit(limit uint64) Option {
	return func(d *MemDriver) {
		d.limit = limit
	}
}

func NewMemDriver(space *memory.Space, config common.Config, opts ...Option) *MemDriver {
	d := &MemDriver{
		space:     space,
		allocator: arrow.NewGoAllocator(),
		privSize:  uint64(config.PrivInfoSize),
		hwCopy:    config.HardwareCopy,
		next:      1,
		buffers:   make(map[types.Handle]*buffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *MemDriver) Space() *memory.Space {
	return d.space
}

func (d *MemDriver) lookup(h types.Handle) (*buffer, error) {
	b, ok := d.buffers[h]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "handle %s", types.HandleToString(h))
	}
	return b, nil
}

func (d *MemDriver) Addr(h types.Handle) (types.Addr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return 0, err
	}
	return b.dataAddr, nil
}

func (d *MemDriver) Size(h types.Handle) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return 0, err
	}
	return b.capacity, nil
}

func (d *MemDriver) PrivateInfo(h types.Handle) (types.Addr, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	return b.privAddr, d.privSize, nil
}

func (d *MemDriver) DataLength(h types.Handle) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return 0, err
	}
	return b.length, nil
}

func (d *MemDriver) SetDataLength(h types.Handle, length uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return err
	}
	if length > b.capacity {
		return errors.Wrapf(ErrInvalidSize, "data length %d exceeds capacity %d", length, b.capacity)
	}
	b.length = length
	return nil
}

func (d *MemDriver) Allocate(size uint64) (types.Handle, error) {
	if size == 0 {
		return types.InvalidHandle(), errors.Wrap(ErrInvalidSize, "zero sized buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.limit != 0 && size > d.limit-d.inUse {
		return types.InvalidHandle(), errors.Wrapf(ErrOutOfMemory,
			"request %d bytes with %d of %d bytes in use", size, d.inUse, d.limit)
	}

	data := arrow.NewResizableBuffer(d.allocator)
	data.Resize(int(size))
	priv := arrow.NewResizableBuffer(d.allocator)
	priv.Resize(int(d.privSize))

	h := d.next
	d.next++
	d.buffers[h] = &buffer{
		data:     data,
		priv:     priv,
		dataAddr: d.space.Map(data.Bytes()),
		privAddr: d.space.Map(priv.Bytes()),
		capacity: size,
		length:   size,
		refs:     1,
	}
	d.inUse += size
	return h, nil
}

func (d *MemDriver) Guard(h types.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return err
	}
	b.refs++
	return nil
}

func (d *MemDriver) Free(h types.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return err
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}
	delete(d.buffers, h)
	d.inUse -= b.capacity
	var unmapErr error
	if err := d.space.Unmap(b.dataAddr); err != nil {
		unmapErr = err
	}
	if err := d.space.Unmap(b.privAddr); err != nil && unmapErr == nil {
		unmapErr = err
	}
	b.data.Release()
	b.priv.Release()
	return unmapErr
}

// HardwareCopy is available when the driver was configured with
// HardwareCopy enabled.
func (d *MemDriver) HardwareCopy(dst types.Addr, dstLen uint64, src types.Addr, srcLen uint64) error {
	if !d.hwCopy {
		return ErrNotSupported
	}
	if srcLen > dstLen {
		return errors.Wrapf(ErrInvalidSize, "copy %d bytes into %d bytes", srcLen, dstLen)
	}
	return d.space.Copy(dst, dstLen, src, srcLen)
}

// Live is the number of buffers still referenced.
func (d *MemDriver) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Refs returns the reference count of a live buffer.
func (d *MemDriver) Refs(h types.Handle) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.lookup(h)
	if err != nil {
		return 0, err
	}
	return b.refs, nil
}

var (
	_ Driver         = &MemDriver{}
	_ HardwareCopier = &MemDriver{}
)
