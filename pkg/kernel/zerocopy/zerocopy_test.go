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

package zerocopy

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/kernel/kerneltest"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

func addrMapParams(env *kerneltest.Env, num uint32, src, dst types.Addr) memory.View {
	params := env.Params(AddrMapInfoSize)
	_ = params.PutUint32(0, num)
	_ = params.PutUint64(8, src)
	_ = params.PutUint64(16, dst)
	return params
}

func TestZeroCopyAliasesSources(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()

	handles := []types.Handle{
		env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{2}, Payload: make([]byte, 8)}),
		env.NewTensor(kerneltest.Record{DType: tensor.DTInt8, Shape: []int64{3}, Payload: []byte{1, 2, 3}}),
		env.NewTensor(kerneltest.Record{DType: tensor.DTInt64, Shape: []int64{1}, Payload: make([]byte, 8)}),
	}
	src := env.Slots(handles...)
	dst := env.Slots(0, 0, 0)
	params := addrMapParams(env, 3, env.List(src...), env.List(dst...))

	pending, err := ZeroCopy{}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	assert.False(t, pending)
	for i, h := range handles {
		addr, err := env.Driver.Addr(h)
		require.NoError(t, err)
		assert.Equal(t, addr, env.ReadSlot(dst[i]), "element %d", i)
	}
}

func TestZeroCopyInvalidParams(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	h := env.NewTensor(kerneltest.Record{DType: tensor.DTUint8, Shape: []int64{1}, Payload: []byte{1}})
	src := env.List(env.Slot(h))
	dst := env.List(env.Slot(0))

	_, err := ZeroCopy{}.Compute(ctx, env.Runtime, env.Task(addrMapParams(env, 1, types.NullAddr(), dst)), env.RunContext())
	assert.True(t, common.IsCode(err, common.KInnerError))

	_, err = ZeroCopy{}.Compute(ctx, env.Runtime, env.Task(addrMapParams(env, 0, src, dst)), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))

	_, err = ZeroCopy{}.Compute(ctx, env.Runtime, env.Task(addrMapParams(env, 2, src, dst)), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid), "lists hold one element")

	nullHandle := env.List(env.Slot(0))
	_, err = ZeroCopy{}.Compute(ctx, env.Runtime, env.Task(addrMapParams(env, 1, nullHandle, dst)), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))

	_, err = ZeroCopy{}.Compute(ctx, env.Runtime, kernel.TaskInfo{}, env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))
}

func TestRawCopiesPointerValues(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	src := env.Slots(0x1111, 0x2222)
	dst := env.Slots(0, 0)
	params := addrMapParams(env, 2, env.List(src...), env.List(dst...))

	pending, err := Raw{}.Compute(context.Background(), env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, uint64(0x1111), env.ReadSlot(dst[0]))
	assert.Equal(t, uint64(0x2222), env.ReadSlot(dst[1]))
}

type v2Ext struct {
	skipSize    uint64
	fusionIndex []uint32
	tilingSkip  []uint64
}

func v2Params(env *kerneltest.Env, num uint32, src, dst, noTiling types.Addr, ext *v2Ext) memory.View {
	extLen := uint64(0)
	if ext != nil {
		extLen = extHeaderSize + uint64(len(ext.fusionIndex))*4 + uint64(len(ext.tilingSkip))*8
	}
	params := env.Params(AddrMapInfoV2Size + extLen)
	_ = params.PutUint32(0, num)
	_ = params.PutUint64(8, src)
	_ = params.PutUint64(16, dst)
	_ = params.PutUint64(24, noTiling)
	_ = params.PutUint32(32, uint32(extLen))
	if ext == nil {
		return params
	}
	blob, _ := params.Tail(AddrMapInfoV2Size)
	_ = blob.PutUint64(0, ext.skipSize)
	_ = blob.PutUint32(8, uint32(len(ext.fusionIndex)))
	_ = blob.PutUint32(12, uint32(len(ext.tilingSkip)))
	fusion, _ := blob.Tail(extHeaderSize)
	_ = memory.PutElements(fusion, ext.fusionIndex)
	tiling, _ := fusion.Tail(uint64(len(ext.fusionIndex)) * 4)
	_ = memory.PutElements(tiling, ext.tilingSkip)
	return params
}

func TestV2FusionAndSkips(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	fused := env.NewFused(
		kerneltest.Record{DType: tensor.DTUint8, Shape: []int64{64}, Payload: make([]byte, 64)},
		kerneltest.Record{DType: tensor.DTUint8, Shape: []int64{96}, Payload: make([]byte, 96)},
	)
	single := env.NewTensor(kerneltest.Record{DType: tensor.DTUint8, Shape: []int64{4}, Payload: make([]byte, 4)})
	fusedAddr, _ := env.Driver.Addr(fused)
	singleAddr, _ := env.Driver.Addr(single)

	fusedSlot := env.Slot(fused)
	src := []types.Addr{fusedSlot, fusedSlot, env.Slot(single)}
	dst := env.Slots(0, 0, 0)
	noTiling := env.Params(3)
	copy(noTiling.Bytes(), []byte{1, 0, 1})
	params := v2Params(env, 3, env.List(src...), env.List(dst...), noTiling.Addr(), &v2Ext{
		skipSize:    8,
		fusionIndex: []uint32{1, 0, 0},
		tilingSkip:  []uint64{0, 0, 16},
	})

	pending, err := V2{}.Compute(context.Background(), env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, fusedAddr+tensor.DescriptorSize+64+tensor.DescriptorSize, env.ReadSlot(dst[0]))
	assert.Equal(t, fusedAddr+8, env.ReadSlot(dst[1]), "cursor rewinds for a smaller index")
	assert.Equal(t, singleAddr+tensor.DescriptorSize+16, env.ReadSlot(dst[2]))

	// without a declared length the block is sized from its extension
	task := env.Task(params)
	task.ParamLen = 0
	_, err = V2{}.Compute(context.Background(), env.Runtime, task, env.RunContext())
	require.NoError(t, err)
	assert.Equal(t, fusedAddr+8, env.ReadSlot(dst[1]))
	assert.Equal(t, singleAddr+tensor.DescriptorSize+16, env.ReadSlot(dst[2]))
}

func TestV2WithoutExtension(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	h := env.NewTensor(kerneltest.Record{DType: tensor.DTUint8, Shape: []int64{4}, Payload: make([]byte, 4)})
	addr, _ := env.Driver.Addr(h)
	dst := env.Slots(0)
	params := v2Params(env, 1, env.List(env.Slot(h)), env.List(dst...), types.NullAddr(), nil)

	_, err := V2{}.Compute(context.Background(), env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	assert.Equal(t, addr, env.ReadSlot(dst[0]))
}

func TestV2Rejects(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	h := env.NewTensor(kerneltest.Record{DType: tensor.DTUint8, Shape: []int64{4}, Payload: make([]byte, 4)})
	src := env.List(env.Slot(h))
	dst := env.List(env.Slot(0))

	params := v2Params(env, 1, src, dst, types.NullAddr(), &v2Ext{skipSize: math.MaxUint64})
	_, err := V2{}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid), "skip overflows the address")

	params = v2Params(env, 1, src, dst, types.NullAddr(), &v2Ext{fusionIndex: []uint32{0, 1}})
	_, err = V2{}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid), "fusionNum differs from addrNum")

	params = v2Params(env, 1, src, dst, types.NullAddr(), &v2Ext{fusionIndex: []uint32{1}})
	_, err = V2{}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid), "record 1 does not exist")
}
