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

// Package comm implements the kernels that drive the non-blocking
// lookup/update handshake with the collective-communication library.
package comm

import (
	"context"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const (
	NameLookupRequest = "getLookupRequest"
	NameUpdateRequest = "getUpdateRequest"
)

// CommRequestInfoSize is the size of the request poster parameter block.
const CommRequestInfoSize = 40

// positional inputs
const (
	inputKeys   = 0
	inputValues = 1

	lookupInputNum = 2
	updateInputNum = 3
)

type requestInfo struct {
	inputSlots []types.Addr
	tag        int32
	comm       uint64
	keyDType   tensor.DataType
	valueDType tensor.DataType
	valueDim   uint32
	stashIndex uint32
}

func readRequestInfo(rt *kernel.Runtime, params memory.View, want uint32) (*requestInfo, error) {
	inputNum, _ := params.Uint32(0)
	tag, _ := params.Int32(4)
	inputList, _ := params.Uint64(8)
	commID, _ := params.Uint64(16)
	keyDType, _ := params.Int32(24)
	valueDType, _ := params.Int32(28)
	valueDim, _ := params.Uint32(32)
	stashIndex, _ := params.Uint32(36)

	if inputNum != want {
		return nil, common.Errorf(common.KParameterInvalid, "expect %d inputs, got %d", want, inputNum)
	}
	if inputList == types.NullAddr() {
		return nil, common.NullParam("input list")
	}
	if stashIndex >= inputNum {
		return nil, common.Errorf(common.KParameterInvalid, "stash index %d out of %d inputs", stashIndex, inputNum)
	}
	slots, err := rt.Space.ReadAddrList(inputList, uint64(inputNum))
	if err != nil {
		return nil, err
	}
	return &requestInfo{
		inputSlots: slots,
		tag:        tag,
		comm:       commID,
		keyDType:   tensor.DataType(keyDType),
		valueDType: tensor.DataType(valueDType),
		valueDim:   valueDim,
		stashIndex: stashIndex,
	}, nil
}

// RequestPoster receives one remote lookup or update request into
// preallocated input buffers. While nothing is available it reports
// pending without touching any buffer.
type RequestPoster struct {
	Kind hccl.Kind
}

func (p RequestPoster) name() string {
	if p.Kind == hccl.KindUpdate {
		return NameUpdateRequest
	}
	return NameLookupRequest
}

func (p RequestPoster) inputNum() uint32 {
	if p.Kind == hccl.KindUpdate {
		return updateInputNum
	}
	return lookupInputNum
}

type input struct {
	handle types.Handle
	buf    memory.View
}

func (in input) payload() hccl.Region {
	return hccl.Region{Addr: in.buf.Addr() + tensor.DescriptorSize, Capacity: in.buf.Len() - tensor.DescriptorSize}
}

func (p RequestPoster) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, p.name(), rc)
	params, err := rt.Params(task, CommRequestInfoSize)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	info, err := readRequestInfo(rt, params, p.inputNum())
	if err != nil {
		logger.Error(err, "invalid request info")
		return false, err
	}
	m, err := rt.Models.Get(rc.ModelID)
	if err != nil {
		logger.Error(err, "model not found")
		return false, err
	}
	inputs := make([]input, len(info.inputSlots))
	for i, slot := range info.inputSlots {
		h, _, err := rt.Access.GetBufferDataPointer(slot)
		if err != nil {
			logger.Error(err, "failed to resolve input", "input", i)
			return false, err
		}
		buf, err := rt.Access.GetBufferAddrAndSize(h, false)
		if err != nil {
			logger.Error(err, "invalid input buffer", "input", i)
			return false, err
		}
		inputs[i] = input{handle: h, buf: buf}
	}
	stashPriv, err := rt.Access.PrivateInfo(inputs[info.stashIndex].handle)
	if err != nil {
		logger.Error(err, "invalid stash buffer")
		return false, err
	}
	if stashPriv.Len() < tensor.StashSize+tensor.HeadMsgSize {
		err := common.Errorf(common.KParameterInvalid, "private info of %d bytes cannot hold the stash", stashPriv.Len())
		logger.Error(err, "invalid stash buffer")
		return false, err
	}

	state, _ := Idle.On(EventPost)
	req := hccl.Request{
		Kind:     p.Kind,
		Comm:     info.comm,
		Tag:      info.tag,
		Keys:     inputs[inputKeys].payload(),
		ValueDim: info.valueDim,
	}
	req.Keys.DType = info.keyDType
	if p.Kind == hccl.KindUpdate {
		req.Values = inputs[inputValues].payload()
		req.Values.DType = info.valueDType
	}
	res, err := rt.Comm.PostRequest(ctx, req)
	if hccl.IsWouldBlock(err) {
		state, _ = state.On(EventWouldBlock)
		logger.V(1).Info("request not available yet", "state", state, "tag", info.tag)
		return true, nil
	}
	if err != nil {
		err = common.Errorf(common.KCommunicationError, "post %s request, tag %d: %v", p.Kind, info.tag, err)
		logger.Error(err, "failed to post request")
		return false, err
	}

	if err := p.publish(rt, info, inputs, res); err != nil {
		logger.Error(err, "failed to publish request result", "service", types.ServiceHandleToString(res.ServiceHandle))
		if cancelErr := rt.Comm.Cancel(ctx, res.ServiceHandle); cancelErr != nil {
			logger.Error(cancelErr, "failed to cancel service")
		}
		return false, err
	}
	state, _ = state.On(EventPosted)
	stash := &tensor.Stash{State: uint32(state), ServiceHandle: res.ServiceHandle, Tag: res.Tag, WorkerID: res.WorkerID}
	if err := writeStash(stashPriv, stash); err != nil {
		logger.Error(err, "failed to write stash")
		if cancelErr := rt.Comm.Cancel(ctx, res.ServiceHandle); cancelErr != nil {
			logger.Error(cancelErr, "failed to cancel service")
		}
		return false, err
	}
	m.TrackService(res.ServiceHandle)
	logger.V(1).Info("request posted", "state", state, "keys", res.KeyCount,
		"service", types.ServiceHandleToString(res.ServiceHandle))
	return false, nil
}

// publish rewrites the input descriptors to describe the received request.
func (p RequestPoster) publish(rt *kernel.Runtime, info *requestInfo, inputs []input, res hccl.Result) error {
	if err := describe(inputs[inputKeys], info.keyDType, []int64{int64(res.KeyCount)}); err != nil {
		return err
	}
	tagInput := inputs[len(inputs)-1]
	if p.Kind == hccl.KindUpdate {
		shape := []int64{int64(res.KeyCount), int64(info.valueDim)}
		if err := describe(inputs[inputValues], info.valueDType, shape); err != nil {
			return err
		}
	}
	if err := describe(tagInput, tensor.DTInt32, []int64{1}); err != nil {
		return err
	}
	payload, err := tagInput.buf.Slice(tensor.DescriptorSize, 4)
	if err != nil {
		return err
	}
	return payload.PutUint32(0, uint32(res.Tag))
}

func describe(in input, dtype tensor.DataType, shape []int64) error {
	size, err := tensor.ComputeDataSize(shape, dtype)
	if err != nil {
		return err
	}
	if size > in.buf.Len()-tensor.DescriptorSize {
		return common.Errorf(common.KParameterInvalid, "result of %d bytes exceeds buffer %s with %d payload bytes",
			size, types.HandleToString(in.handle), in.buf.Len()-tensor.DescriptorSize)
	}
	desc, err := tensor.DecodeDescriptor(in.buf)
	if err != nil {
		desc = &tensor.Descriptor{}
	}
	desc.DataAddr = in.buf.Addr() + tensor.DescriptorSize
	desc.DType = dtype
	desc.Shape = shape
	desc.OriginalShape = shape
	desc.DataSize = size
	return desc.Encode(in.buf)
}

// writeStash stores the stash at the head of the private region and a
// zeroed header message at its tail.
func writeStash(priv memory.View, stash *tensor.Stash) error {
	sv, err := tensor.StashView(priv)
	if err != nil {
		return err
	}
	hv, err := tensor.HeaderView(priv)
	if err != nil {
		return err
	}
	if err := (&tensor.Header{}).Encode(hv); err != nil {
		return err
	}
	return stash.Encode(sv)
}

func updateStash(priv memory.View, stash *tensor.Stash, state State, logger log.Logger) {
	stash.State = uint32(state)
	sv, err := tensor.StashView(priv)
	if err == nil {
		err = stash.Encode(sv)
	}
	if err != nil {
		logger.Error(err, "failed to persist state", "state", state)
	}
}
