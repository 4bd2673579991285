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

// Package kerneltest provides a runtime wired to in-memory collaborators
// and helpers to lay out buffers and parameter blocks in kernel tests.
package kerneltest

import (
	"testing"

	arrow "github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/driver"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/model"
	"github.com/hicann/runtime-sub009/pkg/monitor"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const ModelID types.ModelID = 1

type Env struct {
	t testing.TB

	Allocator *arrow.CheckedAllocator
	Space     *memory.Space
	Driver    *driver.MemDriver
	Comm      *hccl.Loopback
	Monitor   *monitor.Monitor
	Runtime   *kernel.Runtime
	Model     *model.Model
}

// NewEnv builds a runtime with model ModelID loaded. Wrap lets a test
// replace the driver seen by kernels.
func NewEnv(t testing.TB, wrap func(*driver.MemDriver) driver.Driver, opts ...driver.Option) *Env {
	checked := arrow.NewCheckedAllocator(arrow.NewGoAllocator())
	space := memory.NewSpace()
	config := common.DefaultConfig()
	drv := driver.NewMemDriver(space, config, append([]driver.Option{driver.WithAllocator(checked)}, opts...)...)
	var kernelDriver driver.Driver = drv
	if wrap != nil {
		kernelDriver = wrap(drv)
	}
	comm := hccl.NewLoopback(space)
	mon := monitor.New()
	rt := kernel.NewRuntime(kernelDriver, space, comm, mon, config)
	m, err := rt.Models.Create(ModelID)
	require.NoError(t, err)
	return &Env{
		t:         t,
		Allocator: checked,
		Space:     space,
		Driver:    drv,
		Comm:      comm,
		Monitor:   mon,
		Runtime:   rt,
		Model:     m,
	}
}

// AssertNoLeaks checks that every buffer was returned to the driver.
func (e *Env) AssertNoLeaks() {
	e.t.Helper()
	require.Equal(e.t, 0, e.Driver.Live(), "live buffers")
	e.Allocator.AssertSize(e.t, 0)
}

func (e *Env) RunContext() kernel.RunContext {
	return kernel.RunContext{ModelID: ModelID, StreamID: 1, TaskID: 1}
}

// Record is one (descriptor, payload) pair.
type Record struct {
	DType   tensor.DataType
	Shape   []int64
	Payload []byte
	// Capacity pads the payload area, zero means len(Payload)
	Capacity uint64
}

// NewTensor allocates a buffer holding one record.
func (e *Env) NewTensor(r Record) types.Handle {
	return e.NewFused(r)
}

// NewFused allocates a buffer holding the records back to back.
func (e *Env) NewFused(records ...Record) types.Handle {
	e.t.Helper()
	total := uint64(0)
	for _, r := range records {
		total += tensor.DescriptorSize + max(r.Capacity, uint64(len(r.Payload)))
	}
	h, err := e.Driver.Allocate(total)
	require.NoError(e.t, err)
	buf := e.Data(h)
	offset := uint64(0)
	for _, r := range records {
		rec, err := buf.Tail(offset)
		require.NoError(e.t, err)
		desc := &tensor.Descriptor{
			DataAddr:      rec.Addr() + tensor.DescriptorSize,
			DType:         r.DType,
			Shape:         r.Shape,
			OriginalShape: r.Shape,
			DataSize:      uint64(len(r.Payload)),
		}
		require.NoError(e.t, desc.Encode(rec))
		copy(rec.Bytes()[tensor.DescriptorSize:], r.Payload)
		offset += tensor.DescriptorSize + max(r.Capacity, uint64(len(r.Payload)))
	}
	return h
}

// Data returns the whole data region of h.
func (e *Env) Data(h types.Handle) memory.View {
	e.t.Helper()
	addr, err := e.Driver.Addr(h)
	require.NoError(e.t, err)
	size, err := e.Driver.Size(h)
	require.NoError(e.t, err)
	v, err := e.Space.View(addr, size)
	require.NoError(e.t, err)
	return v
}

func (e *Env) Descriptor(h types.Handle) *tensor.Descriptor {
	e.t.Helper()
	desc, err := tensor.DecodeDescriptor(e.Data(h))
	require.NoError(e.t, err)
	return desc
}

// Payload returns the DataSize bytes following the first descriptor.
func (e *Env) Payload(h types.Handle) []byte {
	e.t.Helper()
	desc := e.Descriptor(h)
	v, err := e.Data(h).Slice(tensor.DescriptorSize, desc.DataSize)
	require.NoError(e.t, err)
	return v.Bytes()
}

func (e *Env) Private(h types.Handle) memory.View {
	e.t.Helper()
	v, err := e.Runtime.Access.PrivateInfo(h)
	require.NoError(e.t, err)
	return v
}

func (e *Env) SetHeader(h types.Handle, header *tensor.Header) {
	e.t.Helper()
	hv, err := tensor.HeaderView(e.Private(h))
	require.NoError(e.t, err)
	require.NoError(e.t, header.Encode(hv))
}

func (e *Env) Header(h types.Handle) *tensor.Header {
	e.t.Helper()
	header, err := e.Runtime.Access.Header(h)
	require.NoError(e.t, err)
	return header
}

// Slot allocates a pointer slot holding value.
func (e *Env) Slot(value uint64) types.Addr {
	e.t.Helper()
	v := e.Space.Alloc(8)
	require.NoError(e.t, v.PutUint64(0, value))
	return v.Addr()
}

func (e *Env) Slots(values ...uint64) []types.Addr {
	slots := make([]types.Addr, len(values))
	for i, value := range values {
		slots[i] = e.Slot(value)
	}
	return slots
}

func (e *Env) ReadSlot(slot types.Addr) uint64 {
	e.t.Helper()
	value, err := e.Runtime.Access.ReadHandleSlot(slot)
	require.NoError(e.t, err)
	return value
}

// List stores addrs as an address array.
func (e *Env) List(addrs ...types.Addr) types.Addr {
	return e.Space.WriteAddrList(addrs)
}

// Params allocates a zeroed parameter block.
func (e *Env) Params(size uint64) memory.View {
	return e.Space.Alloc(size)
}

func (e *Env) Task(params memory.View) kernel.TaskInfo {
	return kernel.TaskInfo{ID: 1, ParamBase: params.Addr(), ParamLen: params.Len()}
}

// Snapshot returns the bytes of every listed buffer, data and private.
func (e *Env) Snapshot(handles ...types.Handle) [][]byte {
	var out [][]byte
	for _, h := range handles {
		out = append(out, append([]byte(nil), e.Data(h).Bytes()...))
		out = append(out, append([]byte(nil), e.Private(h).Bytes()...))
	}
	return out
}
