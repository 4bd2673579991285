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
	"encoding/binary"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

var byteOrder = binary.LittleEndian

const (
	// StashSize is the size of the correlation stash at the head of a
	// private region.
	StashSize = 24
	// StashMagic is "HDSS" read as a little-endian word.
	StashMagic uint32 = 0x53534448
)

// Stash persists a posted collective request across kernel invocations.
// State is owned by the communication kernels.
type Stash struct {
	State         uint32
	ServiceHandle types.ServiceHandle
	Tag           int32
	WorkerID      uint32
}

func StashView(priv memory.View) (memory.View, error) {
	return priv.Slice(0, StashSize)
}

// DecodeStash fails with ParameterInvalid when no stash was ever written.
func DecodeStash(v memory.View) (*Stash, error) {
	if v.Len() < StashSize {
		return nil, common.Errorf(common.KParameterInvalid, "stash needs %d bytes, got %d", StashSize, v.Len())
	}
	b := v.Bytes()
	if magic := byteOrder.Uint32(b[0:]); magic != StashMagic {
		return nil, common.Errorf(common.KParameterInvalid, "no stash found, magic is %#x", magic)
	}
	return &Stash{
		State:         byteOrder.Uint32(b[4:]),
		ServiceHandle: byteOrder.Uint64(b[8:]),
		Tag:           int32(byteOrder.Uint32(b[16:])),
		WorkerID:      byteOrder.Uint32(b[20:]),
	}, nil
}

func (s *Stash) Encode(v memory.View) error {
	if v.Len() < StashSize {
		return common.Errorf(common.KParameterInvalid, "stash needs %d bytes, got %d", StashSize, v.Len())
	}
	b := v.Bytes()
	byteOrder.PutUint32(b[0:], StashMagic)
	byteOrder.PutUint32(b[4:], s.State)
	byteOrder.PutUint64(b[8:], s.ServiceHandle)
	byteOrder.PutUint32(b[16:], uint32(s.Tag))
	byteOrder.PutUint32(b[20:], s.WorkerID)
	return nil
}
