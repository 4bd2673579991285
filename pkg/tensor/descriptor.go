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

package tensor

import (
	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

const (
	// DescriptorSize is the fixed size of a tensor descriptor record.
	DescriptorSize = 1024
	MaxDimSize     = 32
)

// byte offsets inside a tensor descriptor
const (
	offDataAddr       = 0
	offDataOffsetSize = 8
	offDType          = 16
	offShape          = 24
	offOriginalShape  = offShape + (MaxDimSize+1)*8
	offFormat         = offOriginalShape + (MaxDimSize+1)*8
	offSubFormat      = offFormat + 8
	offDataSize       = offSubFormat + 8
	offReserved       = offDataSize + 8
)

// Descriptor is the decoded form of the tensor descriptor placed at the
// head of a buffer's data region. Shape and OriginalShape hold the dims
// only, the dim count is their length.
type Descriptor struct {
	DataAddr       types.Addr
	DataOffsetSize int64
	DType          DataType
	Shape          []int64
	OriginalShape  []int64
	Format         int64
	SubFormat      int64
	DataSize       uint64
}

func readShape(v memory.View, offset uint64, field string) ([]int64, error) {
	n, err := v.Int64(offset)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > MaxDimSize {
		return nil, common.Errorf(common.KParameterInvalid, "%s dim count %d out of range [0, %d]", field, n, MaxDimSize)
	}
	dimsView, err := v.Slice(offset+8, uint64(n)*8)
	if err != nil {
		return nil, err
	}
	return memory.Elements[int64](dimsView, uint64(n))
}

func writeShape(v memory.View, offset uint64, dims []int64) error {
	if len(dims) > MaxDimSize {
		return common.Errorf(common.KParameterInvalid, "dim count %d exceeds %d", len(dims), MaxDimSize)
	}
	slots, err := v.Slice(offset, (MaxDimSize+1)*8)
	if err != nil {
		return err
	}
	slots.Zero()
	if err := slots.PutInt64(0, int64(len(dims))); err != nil {
		return err
	}
	dimsView, err := slots.Tail(8)
	if err != nil {
		return err
	}
	return memory.PutElements(dimsView, dims)
}

// DecodeDescriptor reads the descriptor at the head of v.
func DecodeDescriptor(v memory.View) (*Descriptor, error) {
	if v.Len() < DescriptorSize {
		return nil, common.Errorf(common.KParameterInvalid,
			"descriptor needs %d bytes, got %d", DescriptorSize, v.Len())
	}
	d := &Descriptor{}
	var err error
	if d.DataAddr, err = v.Uint64(offDataAddr); err != nil {
		return nil, err
	}
	if d.DataOffsetSize, err = v.Int64(offDataOffsetSize); err != nil {
		return nil, err
	}
	dtype, err := v.Int64(offDType)
	if err != nil {
		return nil, err
	}
	d.DType = DataType(dtype)
	if d.Shape, err = readShape(v, offShape, "shape"); err != nil {
		return nil, err
	}
	if d.OriginalShape, err = readShape(v, offOriginalShape, "original shape"); err != nil {
		return nil, err
	}
	if d.Format, err = v.Int64(offFormat); err != nil {
		return nil, err
	}
	if d.SubFormat, err = v.Int64(offSubFormat); err != nil {
		return nil, err
	}
	if d.DataSize, err = v.Uint64(offDataSize); err != nil {
		return nil, err
	}
	return d, nil
}

// Encode writes d at the head of v. The reserved tail of the record is left
// untouched.
func (d *Descriptor) Encode(v memory.View) error {
	if v.Len() < DescriptorSize {
		return common.Errorf(common.KParameterInvalid,
			"descriptor needs %d bytes, got %d", DescriptorSize, v.Len())
	}
	if err := v.PutUint64(offDataAddr, d.DataAddr); err != nil {
		return err
	}
	if err := v.PutInt64(offDataOffsetSize, d.DataOffsetSize); err != nil {
		return err
	}
	if err := v.PutInt64(offDType, int64(d.DType)); err != nil {
		return err
	}
	if err := writeShape(v, offShape, d.Shape); err != nil {
		return err
	}
	if err := writeShape(v, offOriginalShape, d.OriginalShape); err != nil {
		return err
	}
	if err := v.PutInt64(offFormat, d.Format); err != nil {
		return err
	}
	if err := v.PutInt64(offSubFormat, d.SubFormat); err != nil {
		return err
	}
	return v.PutUint64(offDataSize, d.DataSize)
}

// ElementCount is the product of the dims, 1 for a scalar.
func (d *Descriptor) ElementCount() uint64 {
	count := uint64(1)
	for _, dim := range d.Shape {
		if dim <= 0 {
			return 0
		}
		count *= uint64(dim)
	}
	return count
}

// ReadDataSize reads only the dataSize field of the descriptor at the head of v.
func ReadDataSize(v memory.View) (uint64, error) {
	return v.Uint64(offDataSize)
}

// SetDataAddr patches the dataAddr field of the descriptor at the head of v.
func SetDataAddr(v memory.View, addr types.Addr) error {
	return v.PutUint64(offDataAddr, addr)
}
