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

// View is an (address, length) window into the device address space. Every
// accessor checks its range against the window and fails with
// ParameterInvalid instead of reading past it.
type View struct {
	addr types.Addr
	b    []byte
}

func NewView(addr types.Addr, b []byte) View {
	return View{addr: addr, b: b}
}

func (v View) Addr() types.Addr {
	return v.addr
}

func (v View) Len() uint64 {
	return uint64(len(v.b))
}

func (v View) Bytes() []byte {
	return v.b
}

func (v View) IsNull() bool {
	return v.addr == types.NullAddr()
}

// Slice returns the sub-window [offset, offset+length).
func (v View) Slice(offset, length uint64) (View, error) {
	if err := v.check(offset, length); err != nil {
		return View{}, err
	}
	return View{addr: v.addr + offset, b: v.b[offset : offset+length : offset+length]}, nil
}

// Tail returns the sub-window starting at offset.
func (v View) Tail(offset uint64) (View, error) {
	return v.Slice(offset, v.Len()-min(offset, v.Len()))
}

func (v View) Zero() {
	clear(v.b)
}

func (v View) check(offset, length uint64) error {
	if offset > v.Len() || length > v.Len()-offset {
		return common.Errorf(common.KParameterInvalid,
			"access [%d, +%d) out of bounds of the %d bytes view at %#x", offset, length, v.Len(), v.addr)
	}
	return nil
}

func (v View) Uint8(offset uint64) (uint8, error) {
	if err := v.check(offset, 1); err != nil {
		return 0, err
	}
	return v.b[offset], nil
}

func (v View) Uint16(offset uint64) (uint16, error) {
	if err := v.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(v.b[offset:]), nil
}

func (v View) Uint32(offset uint64) (uint32, error) {
	if err := v.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v.b[offset:]), nil
}

func (v View) Int32(offset uint64) (int32, error) {
	u, err := v.Uint32(offset)
	return int32(u), err
}

func (v View) Uint64(offset uint64) (uint64, error) {
	if err := v.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v.b[offset:]), nil
}

func (v View) Int64(offset uint64) (int64, error) {
	u, err := v.Uint64(offset)
	return int64(u), err
}

func (v View) PutUint8(offset uint64, value uint8) error {
	if err := v.check(offset, 1); err != nil {
		return err
	}
	v.b[offset] = value
	return nil
}

func (v View) PutUint32(offset uint64, value uint32) error {
	if err := v.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(v.b[offset:], value)
	return nil
}

func (v View) PutUint64(offset uint64, value uint64) error {
	if err := v.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(v.b[offset:], value)
	return nil
}

func (v View) PutInt64(offset uint64, value int64) error {
	return v.PutUint64(offset, uint64(value))
}
