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

package memory

import (
	"encoding/binary"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

func Slice(s []byte, offset, length uint64) ([]byte, error) {
	if offset > uint64(len(s)) || length > uint64(len(s))-offset {
		return nil, common.Errorf(common.KParameterInvalid,
			"slice [%d, +%d) out of bounds of %d bytes", offset, length, len(s))
	}
	return s[offset : offset+length], nil
}

// Elements decodes n little-endian values of T from the head of v.
func Elements[T types.Number](v View, n uint64) ([]T, error) {
	var zero T
	width := binary.Size(zero)
	if width <= 0 {
		return nil, common.Errorf(common.KParameterInvalid, "%T has no fixed width", zero)
	}
	if n > v.Len()/uint64(width) {
		return nil, common.Errorf(common.KParameterInvalid,
			"%d elements of %d bytes exceed the %d bytes view at %#x", n, width, v.Len(), v.addr)
	}
	out := make([]T, n)
	if n == 0 {
		return out, nil
	}
	if _, err := binary.Decode(v.b[:n*uint64(width)], binary.LittleEndian, out); err != nil {
		return nil, common.Errorf(common.KParameterInvalid, "failed to decode elements: %v", err)
	}
	return out, nil
}

// PutElements encodes values little-endian at the head of v.
func PutElements[T types.Number](v View, values []T) error {
	var zero T
	width := binary.Size(zero)
	if width <= 0 {
		return common.Errorf(common.KParameterInvalid, "%T has no fixed width", zero)
	}
	if uint64(len(values)) > v.Len()/uint64(width) {
		return common.Errorf(common.KParameterInvalid,
			"%d elements of %d bytes exceed the %d bytes view at %#x", len(values), width, v.Len(), v.addr)
	}
	if len(values) == 0 {
		return nil
	}
	if _, err := binary.Encode(v.b, binary.LittleEndian, values); err != nil {
		return common.Errorf(common.KParameterInvalid, "failed to encode elements: %v", err)
	}
	return nil
}

// ReadAddrList reads an array of n device addresses stored at listAddr.
func (s *Space) ReadAddrList(listAddr types.Addr, n uint64) ([]types.Addr, error) {
	if n > (1<<61)-1 {
		return nil, common.Errorf(common.KParameterInvalid, "address list length %d overflows", n)
	}
	v, err := s.View(listAddr, n*8)
	if err != nil {
		return nil, err
	}
	return Elements[uint64](v, n)
}

// WriteAddrList allocates and fills an address array, returning its address.
func (s *Space) WriteAddrList(addrs []types.Addr) types.Addr {
	v := s.Alloc(uint64(len(addrs)) * 8)
	for i, a := range addrs {
		binary.LittleEndian.PutUint64(v.b[i*8:], a)
	}
	return v.addr
}
