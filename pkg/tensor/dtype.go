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
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/hicann/runtime-sub009/pkg/common"
)

// DataType is the on-device numbering of tensor element types, as stored in
// the dtype field of a tensor descriptor.
type DataType int64

const (
	DTFloat        DataType = 0
	DTFloat16      DataType = 1
	DTInt8         DataType = 2
	DTInt32        DataType = 3
	DTUint8        DataType = 4
	DTInt16        DataType = 6
	DTUint16       DataType = 7
	DTUint32       DataType = 8
	DTInt64        DataType = 9
	DTUint64       DataType = 10
	DTDouble       DataType = 11
	DTBool         DataType = 12
	DTDualSubInt8  DataType = 14
	DTDualSubUint8 DataType = 15
	DTComplex64    DataType = 16
	DTComplex128   DataType = 17
	DTQint8        DataType = 18
	DTQint16       DataType = 19
	DTQint32       DataType = 20
	DTQuint8       DataType = 21
	DTQuint16      DataType = 22
	DTBFloat16     DataType = 27
)

type dataTypeInfo struct {
	name string
	// storage is the host type with the same element layout
	storage dtypes.DType
}

var dataTypes = map[DataType]dataTypeInfo{
	DTFloat:        {"DT_FLOAT", dtypes.Float32},
	DTFloat16:      {"DT_FLOAT16", dtypes.Float16},
	DTInt8:         {"DT_INT8", dtypes.Int8},
	DTInt32:        {"DT_INT32", dtypes.Int32},
	DTUint8:        {"DT_UINT8", dtypes.Uint8},
	DTInt16:        {"DT_INT16", dtypes.Int16},
	DTUint16:       {"DT_UINT16", dtypes.Uint16},
	DTUint32:       {"DT_UINT32", dtypes.Uint32},
	DTInt64:        {"DT_INT64", dtypes.Int64},
	DTUint64:       {"DT_UINT64", dtypes.Uint64},
	DTDouble:       {"DT_DOUBLE", dtypes.Float64},
	DTBool:         {"DT_BOOL", dtypes.Bool},
	DTDualSubInt8:  {"DT_DUAL_SUB_INT8", dtypes.Int8},
	DTDualSubUint8: {"DT_DUAL_SUB_UINT8", dtypes.Uint8},
	DTComplex64:    {"DT_COMPLEX64", dtypes.Complex64},
	DTComplex128:   {"DT_COMPLEX128", dtypes.Complex128},
	DTQint8:        {"DT_QINT8", dtypes.Int8},
	DTQint16:       {"DT_QINT16", dtypes.Int16},
	DTQint32:       {"DT_QINT32", dtypes.Int32},
	DTQuint8:       {"DT_QUINT8", dtypes.Uint8},
	DTQuint16:      {"DT_QUINT16", dtypes.Uint16},
	DTBFloat16:     {"DT_BF16", dtypes.BFloat16},
}

func (dt DataType) String() string {
	if info, ok := dataTypes[dt]; ok {
		return info.name
	}
	return fmt.Sprintf("DT_UNDEFINED(%d)", int64(dt))
}

// Storage returns the host dtype sharing the element layout of dt.
func (dt DataType) Storage() (dtypes.DType, bool) {
	info, ok := dataTypes[dt]
	return info.storage, ok
}

// ElementSize is the width in bytes of one element of dt.
func (dt DataType) ElementSize() (uint64, error) {
	info, ok := dataTypes[dt]
	if !ok {
		return 0, common.Errorf(common.KParameterInvalid, "unsupported data type %d", int64(dt))
	}
	return uint64(info.storage.Memory()), nil
}

// ComputeDataSize returns the payload size of a tensor with the given dims.
// An empty shape is a scalar. The result is bounded by math.MaxUint32.
func ComputeDataSize(shape []int64, dt DataType) (uint64, error) {
	if len(shape) > MaxDimSize {
		return 0, common.Errorf(common.KParameterInvalid, "dim count %d exceeds %d", len(shape), MaxDimSize)
	}
	size, err := dt.ElementSize()
	if err != nil {
		return 0, err
	}
	for i, dim := range shape {
		if dim < 0 {
			return 0, common.Errorf(common.KParameterInvalid, "dim[%d] = %d is negative", i, dim)
		}
		if dim != 0 && size > math.MaxUint32/uint64(dim) {
			return 0, common.Errorf(common.KParameterInvalid,
				"data size of shape %v with %s overflows", shape, dt)
		}
		size *= uint64(dim)
	}
	return size, nil
}
