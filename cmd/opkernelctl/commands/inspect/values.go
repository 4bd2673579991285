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
package inspect

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

func decode[T types.Number](v memory.View, n uint64) ([]any, error) {
	elements, err := memory.Elements[T](v, n)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(elements))
	for i, e := range elements {
		out[i] = e
	}
	return out, nil
}

func decodeHalf(v memory.View, n uint64, widen func(uint16) float32) ([]any, error) {
	bits, err := memory.Elements[uint16](v, n)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(bits))
	for i, b := range bits {
		out[i] = widen(b)
	}
	return out, nil
}

// decodeValues decodes the first n elements of payload as dt.
func decodeValues(payload memory.View, dt tensor.DataType, n uint64) ([]any, error) {
	storage, ok := dt.Storage()
	if !ok {
		return nil, errors.Errorf("unsupported data type %s", dt)
	}
	switch storage {
	case dtypes.Float16:
		return decodeHalf(payload, n, func(b uint16) float32 { return float16.Frombits(b).Float32() })
	case dtypes.BFloat16:
		return decodeHalf(payload, n, func(b uint16) float32 { return math.Float32frombits(uint32(b) << 16) })
	case dtypes.Float32:
		return decode[float32](payload, n)
	case dtypes.Float64:
		return decode[float64](payload, n)
	case dtypes.Int8:
		return decode[int8](payload, n)
	case dtypes.Int16:
		return decode[int16](payload, n)
	case dtypes.Int32:
		return decode[int32](payload, n)
	case dtypes.Int64:
		return decode[int64](payload, n)
	case dtypes.Uint8, dtypes.Bool:
		return decode[uint8](payload, n)
	case dtypes.Uint16:
		return decode[uint16](payload, n)
	case dtypes.Uint32:
		return decode[uint32](payload, n)
	case dtypes.Uint64:
		return decode[uint64](payload, n)
	}
	return nil, errors.Errorf("cannot decode %s values", dt)
}
