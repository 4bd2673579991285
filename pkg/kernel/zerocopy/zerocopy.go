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

// Package zerocopy implements the kernels that alias destination pointer
// slots to data already resident in source buffers.
package zerocopy

import (
	"context"
	"math"

	"github.com/hicann/runtime-sub009/pkg/bufaccess"
	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const (
	Name    = "modelZeroCopy"
	NameV2  = "modelZeroCopyV2"
	NameRaw = "modelZeroCopyRaw"
)

// AddrMapInfoSize is the size of the parameter block of the plain and the
// raw pointer variants.
const AddrMapInfoSize = 24

// addrMap is the decoded (source slot, destination slot) pair list.
type addrMap struct {
	num uint32
	src []types.Addr
	dst []types.Addr
}

func readAddrMap(rt *kernel.Runtime, params memory.View) (*addrMap, error) {
	num, err := params.Uint32(0)
	if err != nil {
		return nil, err
	}
	srcList, err := params.Uint64(8)
	if err != nil {
		return nil, err
	}
	dstList, err := params.Uint64(16)
	if err != nil {
		return nil, err
	}
	if srcList == types.NullAddr() || dstList == types.NullAddr() {
		return nil, common.Errorf(common.KInnerError, "address list is null, src %#x dst %#x", srcList, dstList)
	}
	if err := rt.CheckCount("addrNum", num); err != nil {
		return nil, err
	}
	m := &addrMap{num: num}
	if m.src, err = rt.Space.ReadAddrList(srcList, uint64(num)); err != nil {
		return nil, err
	}
	if m.dst, err = rt.Space.ReadAddrList(dstList, uint64(num)); err != nil {
		return nil, err
	}
	return m, nil
}

// ZeroCopy stores the data address of every source buffer into its
// destination slot.
type ZeroCopy struct{}

func (ZeroCopy) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, Name, rc)
	params, err := rt.Params(task, AddrMapInfoSize)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	m, err := readAddrMap(rt, params)
	if err != nil {
		logger.Error(err, "invalid address map")
		return false, err
	}
	for i := uint32(0); i < m.num; i++ {
		_, dataAddr, err := rt.Access.GetBufferDataPointer(m.src[i])
		if err != nil {
			logger.Error(err, "failed to resolve source buffer", "index", i)
			return false, err
		}
		if err := rt.Access.WriteHandleSlot(m.dst[i], dataAddr); err != nil {
			logger.Error(err, "failed to write destination slot", "index", i)
			return false, err
		}
	}
	logger.V(1).Info("zero copy done", "addrNum", m.num)
	return false, nil
}

// Raw propagates pointer values that upstream already resolved.
type Raw struct{}

func (Raw) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, NameRaw, rc)
	params, err := rt.Params(task, AddrMapInfoSize)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	m, err := readAddrMap(rt, params)
	if err != nil {
		logger.Error(err, "invalid address map")
		return false, err
	}
	for i := uint32(0); i < m.num; i++ {
		ptr, err := rt.Access.ReadHandleSlot(m.src[i])
		if err != nil {
			logger.Error(err, "failed to read source slot", "index", i)
			return false, err
		}
		if err := rt.Access.WriteHandleSlot(m.dst[i], ptr); err != nil {
			logger.Error(err, "failed to write destination slot", "index", i)
			return false, err
		}
	}
	return false, nil
}

const (
	// AddrMapInfoV2Size is the fixed part of the V2 parameter block, the
	// extension blob follows it.
	AddrMapInfoV2Size = 40
	extHeaderSize     = 16
)

// extension is the decoded V2 extension blob.
type extension struct {
	skipSize    uint64
	fusionIndex []uint32
	tilingSkip  []uint64
}

func readExtension(params memory.View, num uint32) (*extension, error) {
	extLen, err := params.Uint32(32)
	if err != nil {
		return nil, err
	}
	ext := &extension{}
	if extLen == 0 {
		return ext, nil
	}
	blob, err := params.Slice(AddrMapInfoV2Size, uint64(extLen))
	if err != nil {
		return nil, err
	}
	if ext.skipSize, err = blob.Uint64(0); err != nil {
		return nil, err
	}
	fusionNum, err := blob.Uint32(8)
	if err != nil {
		return nil, err
	}
	tilingNum, err := blob.Uint32(12)
	if err != nil {
		return nil, err
	}
	if (fusionNum != 0 && fusionNum != num) || (tilingNum != 0 && tilingNum != num) {
		return nil, common.Errorf(common.KParameterInvalid,
			"fusionNum %d and tilingNum %d must be 0 or addrNum %d", fusionNum, tilingNum, num)
	}
	fusionView, err := blob.Slice(extHeaderSize, uint64(fusionNum)*4)
	if err != nil {
		return nil, err
	}
	if ext.fusionIndex, err = memory.Elements[uint32](fusionView, uint64(fusionNum)); err != nil {
		return nil, err
	}
	tilingView, err := blob.Slice(extHeaderSize+uint64(fusionNum)*4, uint64(tilingNum)*8)
	if err != nil {
		return nil, err
	}
	if ext.tilingSkip, err = memory.Elements[uint64](tilingView, uint64(tilingNum)); err != nil {
		return nil, err
	}
	return ext, nil
}

// V2 extends ZeroCopy with fused source buffers and per-element skips.
type V2 struct{}

func (V2) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, NameV2, rc)
	params, err := rt.Params(task, AddrMapInfoV2Size)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	if task.ParamLen == 0 {
		// the extension length is only known after the fixed part is read
		extLen, err := params.Uint32(32)
		if err != nil {
			logger.Error(err, "invalid param block")
			return false, err
		}
		task.ParamLen = AddrMapInfoV2Size + uint64(extLen)
	}
	if params, err = rt.Params(task, task.ParamLen); err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	m, err := readAddrMap(rt, params)
	if err != nil {
		logger.Error(err, "invalid address map")
		return false, err
	}
	ext, err := readExtension(params, m.num)
	if err != nil {
		logger.Error(err, "invalid extension blob")
		return false, err
	}
	var noTiling []uint8
	noTilingList, err := params.Uint64(24)
	if err != nil {
		return false, err
	}
	if noTilingList != types.NullAddr() {
		v, err := rt.Space.View(noTilingList, uint64(m.num))
		if err != nil {
			logger.Error(err, "invalid no-tiling list")
			return false, err
		}
		noTiling = v.Bytes()
	}

	// one cursor per fused source buffer, for this task only
	cursors := make(map[types.Addr]*tensor.FusionCursor)
	for i := uint32(0); i < m.num; i++ {
		h, dataAddr, err := rt.Access.GetBufferDataPointer(m.src[i])
		if err != nil {
			logger.Error(err, "failed to resolve source buffer", "index", i)
			return false, err
		}
		base := dataAddr
		if len(ext.fusionIndex) != 0 {
			buf, err := rt.Access.GetBufferAddrAndSize(h, true)
			if err != nil {
				logger.Error(err, "failed to get fused buffer", "index", i)
				return false, err
			}
			cursor, ok := cursors[dataAddr]
			if !ok {
				cursor = tensor.NewFusionCursor(buf.Len())
				cursors[dataAddr] = cursor
			}
			rec, err := bufaccess.ResolveFusionOffset(buf, ext.fusionIndex[i], cursor)
			if err != nil {
				logger.Error(err, "failed to resolve fusion offset", "index", i, "fusionIndex", ext.fusionIndex[i])
				return false, err
			}
			base = rec.Addr()
		}

		skip := ext.skipSize
		if noTiling != nil && noTiling[i] != 0 {
			skip = tensor.DescriptorSize
			if len(ext.tilingSkip) != 0 {
				if ext.tilingSkip[i] > math.MaxUint64-skip {
					return false, common.Errorf(common.KParameterInvalid, "tiling skip %d overflows", ext.tilingSkip[i])
				}
				skip += ext.tilingSkip[i]
			}
		}
		if base > math.MaxUint64-skip {
			err := common.Errorf(common.KParameterInvalid, "address %#x with skip %d overflows", base, skip)
			logger.Error(err, "invalid skip size", "index", i)
			return false, err
		}
		if err := rt.Access.WriteHandleSlot(m.dst[i], base+skip); err != nil {
			logger.Error(err, "failed to write destination slot", "index", i)
			return false, err
		}
	}
	logger.V(1).Info("zero copy done", "addrNum", m.num, "fusedBuffers", len(cursors))
	return false, nil
}
