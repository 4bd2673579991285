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
)

// FusionCursor caches how far a walk over the (descriptor, payload) records
// packed in one buffer has progressed.
type FusionCursor struct {
	LastIndex uint32
	Offset    uint64
	Capacity  uint64
}

func NewFusionCursor(capacity uint64) *FusionCursor {
	return &FusionCursor{Capacity: capacity}
}

func (c *FusionCursor) Reset() {
	c.LastIndex = 0
	c.Offset = 0
}

// AdvanceFusionCursor walks forward from the cached record to target and
// returns the window starting at the target record's descriptor. Every hop
// is checked against the capacity; on failure the cursor must be reset
// before it is used again.
func AdvanceFusionCursor(c *FusionCursor, target uint32, base memory.View) (memory.View, error) {
	if target < c.LastIndex {
		return memory.View{}, common.Errorf(common.KParameterInvalid,
			"fusion index %d is behind the cursor at %d", target, c.LastIndex)
	}
	if c.Capacity < DescriptorSize || c.Capacity > base.Len() {
		return memory.View{}, common.Errorf(common.KParameterInvalid,
			"fusion capacity %d is invalid for a %d bytes buffer", c.Capacity, base.Len())
	}
	limit := c.Capacity - DescriptorSize
	for i := c.LastIndex; i < target; i++ {
		if c.Offset > limit {
			return memory.View{}, common.Errorf(common.KParameterInvalid,
				"record %d at offset %d leaves no room for a descriptor, capacity %d", i, c.Offset, c.Capacity)
		}
		dataSize, err := base.Uint64(c.Offset + offDataSize)
		if err != nil {
			return memory.View{}, err
		}
		if dataSize > limit-c.Offset {
			return memory.View{}, common.Errorf(common.KParameterInvalid,
				"record %d at offset %d declares %d bytes, capacity %d", i, c.Offset, dataSize, c.Capacity)
		}
		c.Offset += DescriptorSize + dataSize
	}
	if c.Offset > limit {
		return memory.View{}, common.Errorf(common.KParameterInvalid,
			"fusion index %d at offset %d leaves no room for a descriptor, capacity %d", target, c.Offset, c.Capacity)
	}
	c.LastIndex = target
	return base.Slice(c.Offset, c.Capacity-c.Offset)
}
