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

package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/kernel/builtin"
	"github.com/hicann/runtime-sub009/pkg/kernel/comm"
	"github.com/hicann/runtime-sub009/pkg/kernel/kerneltest"
	"github.com/hicann/runtime-sub009/pkg/model"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

// pendingKernel reports pending for the first n invocations.
type pendingKernel struct {
	n     int
	calls int
	rc    kernel.RunContext
}

func (k *pendingKernel) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	k.calls++
	k.rc = rc
	return k.calls <= k.n, nil
}

func newDispatcher(t *testing.T, env *kerneltest.Env, kernels map[string]kernel.Kernel) *Dispatcher {
	r := kernel.NewRegistry()
	for name, k := range kernels {
		require.NoError(t, r.Register(name, k))
	}
	return New(r, env.Runtime)
}

func TestDispatchResumesPendingKernel(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	k := &pendingKernel{n: 2}
	d := newDispatcher(t, env, map[string]kernel.Kernel{"waiter": k})

	err := d.Dispatch(context.Background(), "waiter", kernel.TaskInfo{ID: 4}, env.RunContext())
	require.NoError(t, err)
	assert.Equal(t, 3, k.calls)
	assert.Equal(t, types.TaskID(4), k.rc.TaskID)
	assert.False(t, k.rc.ExecuteInline)
}

func TestDispatchRetryBudget(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	env.Runtime.Config.DispatchRetryBudget = 2
	k := &pendingKernel{n: 10}
	d := newDispatcher(t, env, map[string]kernel.Kernel{"waiter": k})

	err := d.Dispatch(context.Background(), "waiter", kernel.TaskInfo{}, env.RunContext())
	assert.True(t, common.IsCode(err, common.KInnerError))
	assert.Equal(t, 3, k.calls)
}

func TestDispatchReturnsKernelError(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	want := common.Error(common.KDriverError, "set data length failed")
	calls := 0
	failing := kernel.Func(func(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
		calls++
		return false, want
	})
	d := newDispatcher(t, env, map[string]kernel.Kernel{"failing": failing})

	err := d.Dispatch(context.Background(), "failing", kernel.TaskInfo{}, env.RunContext())
	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls)

	err = d.Dispatch(context.Background(), "missing", kernel.TaskInfo{}, env.RunContext())
	assert.True(t, common.IsCode(err, common.KInnerError))
}

func TestDispatchInlineStream(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	env.Runtime.Models.SetStreamFlag(7, model.StreamFlagInline)
	k := &pendingKernel{}
	d := newDispatcher(t, env, map[string]kernel.Kernel{"k": k})

	rc := env.RunContext()
	rc.StreamID = 7
	require.NoError(t, d.Dispatch(context.Background(), "k", kernel.TaskInfo{}, rc))
	assert.True(t, k.rc.ExecuteInline)
}

func TestDispatchCancelled(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	k := &pendingKernel{n: 1}
	d := newDispatcher(t, env, map[string]kernel.Kernel{"k": k})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Dispatch(ctx, "k", kernel.TaskInfo{}, env.RunContext())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, k.calls)
}

func TestDispatchLookupRequest(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	d := New(builtin.NewRegistry(), env.Runtime)

	keys := env.NewTensor(kerneltest.Record{DType: tensor.DTInt64, Capacity: 64})
	tag := env.NewTensor(kerneltest.Record{DType: tensor.DTInt32, Capacity: 4})
	params := env.Params(comm.CommRequestInfoSize)
	_ = params.PutUint32(0, 2)
	_ = params.PutUint32(4, 5)
	_ = params.PutUint64(8, env.List(env.Slots(keys, tag)...))
	_ = params.PutUint64(16, 1)
	_ = params.PutUint32(24, uint32(tensor.DTInt64))

	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: 1, Tag: 5, KeyCount: 1, Keys: make([]byte, 8)})
	env.Comm.BlockPosts(2)

	err := d.Dispatch(context.Background(), comm.NameLookupRequest, env.Task(params), env.RunContext())
	require.NoError(t, err)
	stats := env.Comm.Stats()
	assert.Equal(t, 3, stats.Posts)
	assert.Equal(t, 2, stats.WouldBlocks)
	assert.Len(t, env.Model.Services(), 1)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	first := &pendingKernel{}
	last := &pendingKernel{}
	failing := kernel.Func(func(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
		return false, common.Error(common.KModelExitError, "upstream exited")
	})
	d := newDispatcher(t, env, map[string]kernel.Kernel{"first": first, "failing": failing, "last": last})

	err := d.Run(context.Background(), kerneltest.ModelID, 1, []Task{
		{Kernel: "first"}, {Kernel: "failing"}, {Kernel: "last"},
	})
	assert.True(t, common.IsCode(err, common.KModelExitError))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, last.calls)
	assert.True(t, env.Model.Abnormal())
	assert.Equal(t, int32(0), env.Model.ActiveStreams())

	stats := env.Monitor.Snapshot().Models[kerneltest.ModelID]
	assert.Equal(t, uint64(1), stats.Runs)
	assert.False(t, stats.Running)
	assert.NotEmpty(t, stats.RunID)

	err = d.Run(context.Background(), 9, 1, nil)
	assert.True(t, common.IsCode(err, common.KInnerError))
}
