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

package comm

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/kernel/kerneltest"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const (
	testComm uint64 = 11
	testTag  int32  = 9
)

type request struct {
	inputs     []types.Handle
	keyDType   tensor.DataType
	valueDType tensor.DataType
	valueDim   uint32
	stashIndex uint32
}

func requestParams(env *kerneltest.Env, r request) memory.View {
	params := env.Params(CommRequestInfoSize)
	slots := make([]types.Addr, len(r.inputs))
	for i, h := range r.inputs {
		slots[i] = env.Slot(h)
	}
	_ = params.PutUint32(0, uint32(len(r.inputs)))
	_ = params.PutUint32(4, uint32(testTag))
	_ = params.PutUint64(8, env.List(slots...))
	_ = params.PutUint64(16, testComm)
	_ = params.PutUint32(24, uint32(r.keyDType))
	_ = params.PutUint32(28, uint32(r.valueDType))
	_ = params.PutUint32(32, r.valueDim)
	_ = params.PutUint32(36, r.stashIndex)
	return params
}

func responseParams(env *kerneltest.Env, out types.Handle, inputs ...types.Handle) memory.View {
	params := env.Params(CommResponseInfoSize)
	slots := make([]types.Addr, len(inputs))
	for i, h := range inputs {
		slots[i] = env.Slot(h)
	}
	_ = params.PutUint32(0, uint32(len(inputs)))
	_ = params.PutUint64(8, env.List(slots...))
	_ = params.PutUint64(16, env.Slot(out))
	_ = params.PutUint64(24, testComm)
	return params
}

func stashOf(t *testing.T, env *kerneltest.Env, h types.Handle) *tensor.Stash {
	sv, err := tensor.StashView(env.Private(h))
	require.NoError(t, err)
	stash, err := tensor.DecodeStash(sv)
	require.NoError(t, err)
	return stash
}

func lookupInputs(env *kerneltest.Env) (keys, tag types.Handle) {
	keys = env.NewTensor(kerneltest.Record{DType: tensor.DTInt64, Capacity: 64})
	tag = env.NewTensor(kerneltest.Record{DType: tensor.DTInt32, Capacity: 4})
	return keys, tag
}

func TestStateMachine(t *testing.T) {
	s, err := Idle.On(EventPost)
	require.NoError(t, err)
	assert.Equal(t, AwaitingPost, s)

	s, err = s.On(EventWouldBlock)
	require.NoError(t, err)
	assert.Equal(t, AwaitingPost, s)

	for _, e := range []Event{EventPosted, EventSend, EventCompleted} {
		s, err = s.On(e)
		require.NoError(t, err)
	}
	assert.Equal(t, Done, s)
	assert.True(t, s.Terminal())

	_, err = Idle.On(EventSend)
	assert.True(t, common.IsCode(err, common.KInnerError))

	back, err := AwaitingSend.On(EventWouldBlock)
	require.NoError(t, err)
	assert.Equal(t, Posted, back)

	for _, from := range []State{Idle, AwaitingPost, Posted, AwaitingSend} {
		failed, err := from.On(EventFail)
		require.NoError(t, err)
		assert.Equal(t, Failed, failed)
	}
	assert.False(t, Posted.Terminal())
	assert.Equal(t, "AwaitingSend", AwaitingSend.String())
}

func TestLookupRequestPendsUntilAvailable(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})

	keyBytes := bytes.Repeat([]byte{7}, 16)
	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: testComm, Tag: testTag, WorkerID: 3, KeyCount: 2, Keys: keyBytes})
	env.Comm.BlockPosts(2)

	kern := RequestPoster{Kind: hccl.KindLookup}
	before := env.Snapshot(keys, tag)
	for i := 0; i < 2; i++ {
		pending, err := kern.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
		require.NoError(t, err)
		assert.True(t, pending)
		assert.Equal(t, before, env.Snapshot(keys, tag), "a pending request must not touch its buffers")
	}

	pending, err := kern.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, 3, env.Comm.Stats().Posts)

	desc := env.Descriptor(keys)
	assert.Equal(t, []int64{2}, desc.Shape)
	assert.Equal(t, tensor.DTInt64, desc.DType)
	assert.Equal(t, uint64(16), desc.DataSize)
	assert.Equal(t, keyBytes, env.Payload(keys))

	assert.Equal(t, []int64{1}, env.Descriptor(tag).Shape)
	assert.Equal(t, []byte{9, 0, 0, 0}, env.Payload(tag))

	stash := stashOf(t, env, keys)
	assert.Equal(t, uint32(Posted), stash.State)
	assert.Equal(t, testTag, stash.Tag)
	assert.Equal(t, uint32(3), stash.WorkerID)
	assert.Equal(t, int32(0), env.Header(keys).RetCode)
	assert.Equal(t, []types.ServiceHandle{stash.ServiceHandle}, env.Model.Services())
}

func TestRequestHardFailure(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	keys, tag := lookupInputs(env)
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})
	env.Comm.FailPosts(errors.New("link down"))

	pending, err := RequestPoster{Kind: hccl.KindLookup}.Compute(context.Background(), env.Runtime, env.Task(params), env.RunContext())
	assert.False(t, pending)
	assert.True(t, common.IsCode(err, common.KCommunicationError))
	assert.Empty(t, env.Model.Services())
}

func TestRequestRejectsBadParams(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)

	// lookup takes two inputs
	params := requestParams(env, request{inputs: []types.Handle{keys}, keyDType: tensor.DTInt64})
	_, err := RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))

	params = requestParams(env, request{inputs: []types.Handle{keys, tag}, stashIndex: 2})
	_, err = RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))

	params = requestParams(env, request{inputs: []types.Handle{keys, types.InvalidHandle()}})
	_, err = RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))
	assert.Equal(t, 0, env.Comm.Stats().Posts)
}

func TestRequestResultTooLarge(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	keys := env.NewTensor(kerneltest.Record{DType: tensor.DTInt64, Capacity: 16})
	tag := env.NewTensor(kerneltest.Record{DType: tensor.DTInt32, Capacity: 4})
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})
	// the delivered bytes fit but four int64 keys do not
	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: testComm, Tag: testTag, KeyCount: 4, Keys: make([]byte, 16)})

	_, err := RequestPoster{Kind: hccl.KindLookup}.Compute(context.Background(), env.Runtime, env.Task(params), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))
	assert.Len(t, env.Comm.Cancelled(), 1)
	assert.Empty(t, env.Model.Services())
}

func TestLookupRoundTrip(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})
	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: testComm, Tag: testTag, KeyCount: 2, Keys: make([]byte, 16)})

	_, err := RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	service := stashOf(t, env, keys).ServiceHandle

	answer := bytes.Repeat([]byte{0x40}, 16)
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{2, 2}, Payload: answer})
	resp := responseParams(env, keys, values, tag)
	pending, err := ResponseSender{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	require.NoError(t, err)
	assert.False(t, pending)

	delivered := env.Comm.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, service, delivered[0].ServiceHandle)
	assert.Equal(t, uint64(4), delivered[0].Count)
	assert.Equal(t, answer, delivered[0].Payload)

	assert.Equal(t, uint32(Done), stashOf(t, env, keys).State)
	assert.Empty(t, env.Model.Services())
	assert.Equal(t, uint64(0), env.Monitor.Snapshot().Models[kerneltest.ModelID].Reclaims)

	require.NoError(t, env.Driver.Free(keys))
	env.AssertNoLeaks()
}

func TestUpdateRoundTrip(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Capacity: 64})
	params := requestParams(env, request{
		inputs:     []types.Handle{keys, values, tag},
		keyDType:   tensor.DTInt64,
		valueDType: tensor.DTFloat16,
		valueDim:   4,
		stashIndex: 2,
	})
	env.Comm.Inject(hccl.Message{
		Kind: hccl.KindUpdate, Comm: testComm, Tag: testTag, KeyCount: 2,
		Keys: make([]byte, 16), Values: bytes.Repeat([]byte{1}, 16),
	})

	_, err := RequestPoster{Kind: hccl.KindUpdate}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	desc := env.Descriptor(values)
	assert.Equal(t, []int64{2, 4}, desc.Shape)
	assert.Equal(t, tensor.DTFloat16, desc.DType)
	assert.Equal(t, uint64(16), desc.DataSize)
	assert.Equal(t, uint32(Posted), stashOf(t, env, tag).State)

	env.Comm.BlockWaits(3)
	status := env.NewTensor(kerneltest.Record{DType: tensor.DTInt32, Shape: []int64{1}, Payload: []byte{0, 0, 0, 0}})
	resp := responseParams(env, tag, status, keys, values)
	pending, err := ResponseSender{Kind: hccl.KindUpdate}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	require.NoError(t, err)
	assert.False(t, pending)

	assert.Equal(t, 4, env.Comm.Stats().Waits)
	assert.Equal(t, uint64(1), env.Monitor.Snapshot().Models[kerneltest.ModelID].Reclaims)
	assert.Equal(t, uint32(Done), stashOf(t, env, tag).State)

	require.NoError(t, env.Driver.Free(tag))
	env.AssertNoLeaks()
}

func TestUpdateWaitExhausted(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	env.Runtime.Config.SendWaitSpinLimit = 2
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Capacity: 64})
	params := requestParams(env, request{inputs: []types.Handle{keys, values, tag}, keyDType: tensor.DTInt64, valueDType: tensor.DTFloat, valueDim: 1})
	env.Comm.Inject(hccl.Message{Kind: hccl.KindUpdate, Comm: testComm, Tag: testTag, KeyCount: 1, Keys: make([]byte, 8), Values: make([]byte, 4)})
	_, err := RequestPoster{Kind: hccl.KindUpdate}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)

	env.Comm.BlockWaits(5)
	resp := responseParams(env, keys, values)
	_, err = ResponseSender{Kind: hccl.KindUpdate}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	assert.True(t, common.IsCode(err, common.KCommunicationError))
	assert.Equal(t, 2, env.Comm.Stats().Waits)
	assert.Equal(t, uint32(Failed), stashOf(t, env, keys).State)
	assert.Empty(t, env.Model.Services())
	refs, err := env.Driver.Refs(values)
	require.NoError(t, err)
	assert.Equal(t, int32(1), refs, "inputs are kept when the send never completed")
}

func TestResponseCancelsOnAbnormalUpstream(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})
	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: testComm, Tag: testTag, KeyCount: 1, Keys: make([]byte, 8)})
	_, err := RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)
	service := stashOf(t, env, keys).ServiceHandle

	env.SetHeader(keys, &tensor.Header{RetCode: 1})
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{1}, Payload: make([]byte, 4)})
	resp := responseParams(env, keys, values)
	pending, err := ResponseSender{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	assert.False(t, pending)
	assert.True(t, common.IsCode(err, common.KModelExitError))

	assert.Equal(t, []types.ServiceHandle{service}, env.Comm.Cancelled())
	assert.Equal(t, 0, env.Comm.Stats().Responses)
	assert.Equal(t, uint32(Failed), stashOf(t, env, keys).State)
	assert.Empty(t, env.Model.Services())

	// a second invocation finds no posted request and cancels nothing
	_, err = ResponseSender{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	assert.True(t, common.IsCode(err, common.KModelExitError))
	assert.Len(t, env.Comm.Cancelled(), 1)
}

func TestResponseAbnormalUpstreamWithoutRequest(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	out := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Capacity: 4})
	env.SetHeader(out, &tensor.Header{RetCode: 3})
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{1}, Payload: make([]byte, 4)})
	resp := responseParams(env, out, values)

	_, err := ResponseSender{Kind: hccl.KindLookup}.Compute(context.Background(), env.Runtime, env.Task(resp), env.RunContext())
	assert.True(t, common.IsCode(err, common.KModelExitError))
	assert.Empty(t, env.Comm.Cancelled())
	assert.Equal(t, 0, env.Comm.Stats().Responses)
}

func TestResponseRejectsInconsistentDataSize(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})
	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: testComm, Tag: testTag, KeyCount: 2, Keys: make([]byte, 16)})
	_, err := RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)

	// 1000 floats described by 16 bytes of data
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{1000}, Payload: make([]byte, 16)})
	resp := responseParams(env, keys, values, tag)
	pending, err := ResponseSender{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	assert.False(t, pending)
	assert.True(t, common.IsCode(err, common.KParameterInvalid))
	assert.Empty(t, env.Comm.Delivered())
	assert.Equal(t, uint32(Posted), stashOf(t, env, keys).State)
}

func TestResponseNullData(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	ctx := context.Background()
	keys, tag := lookupInputs(env)
	params := requestParams(env, request{inputs: []types.Handle{keys, tag}, keyDType: tensor.DTInt64})
	env.Comm.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: testComm, Tag: testTag, KeyCount: 1, Keys: make([]byte, 8)})
	_, err := RequestPoster{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(params), env.RunContext())
	require.NoError(t, err)

	env.SetHeader(keys, &tensor.Header{DataFlag: tensor.DataFlagNullData})
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{1}, Payload: make([]byte, 4)})
	resp := responseParams(env, keys, values)
	_, err = ResponseSender{Kind: hccl.KindLookup}.Compute(ctx, env.Runtime, env.Task(resp), env.RunContext())
	require.NoError(t, err)

	delivered := env.Comm.Delivered()
	require.Len(t, delivered, 1)
	assert.Zero(t, delivered[0].Count)
	assert.Empty(t, delivered[0].Payload)
}

func TestResponseWithoutStash(t *testing.T) {
	env := kerneltest.NewEnv(t, nil)
	out := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Capacity: 4})
	values := env.NewTensor(kerneltest.Record{DType: tensor.DTFloat, Shape: []int64{1}, Payload: make([]byte, 4)})
	resp := responseParams(env, out, values)

	_, err := ResponseSender{Kind: hccl.KindLookup}.Compute(context.Background(), env.Runtime, env.Task(resp), env.RunContext())
	assert.True(t, common.IsCode(err, common.KParameterInvalid))
	assert.Equal(t, 0, env.Comm.Stats().Responses)
}
