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
	"context"

	"github.com/avast/retry-go"

	"github.com/hicann/runtime-sub009/pkg/bufaccess"
	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/model"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const (
	NameLookupResponse = "sendLookupResponse"
	NameUpdateResponse = "sendUpdateResponse"
)

// CommResponseInfoSize is the size of the response sender parameter block.
const CommResponseInfoSize = 32

type responseInfo struct {
	inputSlots []types.Addr
	outSlot    types.Addr
	comm       uint64
}

func readResponseInfo(rt *kernel.Runtime, params memory.View) (*responseInfo, error) {
	inputNum, _ := params.Uint32(0)
	inputList, _ := params.Uint64(8)
	outSlot, _ := params.Uint64(16)
	commID, _ := params.Uint64(24)

	if err := rt.CheckCount("inputNum", inputNum); err != nil {
		return nil, err
	}
	if inputList == types.NullAddr() {
		return nil, common.NullParam("input list")
	}
	if outSlot == types.NullAddr() {
		return nil, common.NullParam("output mbuf")
	}
	slots, err := rt.Space.ReadAddrList(inputList, uint64(inputNum))
	if err != nil {
		return nil, err
	}
	return &responseInfo{inputSlots: slots, outSlot: outSlot, comm: commID}, nil
}

// ResponseSender answers the request stashed on the output buffer by a
// RequestPoster. The update variant waits for the send to complete before
// releasing anything.
type ResponseSender struct {
	Kind hccl.Kind
}

func (s ResponseSender) name() string {
	if s.Kind == hccl.KindUpdate {
		return NameUpdateResponse
	}
	return NameLookupResponse
}

func (s ResponseSender) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, s.name(), rc)
	params, err := rt.Params(task, CommResponseInfoSize)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	info, err := readResponseInfo(rt, params)
	if err != nil {
		logger.Error(err, "invalid response info")
		return false, err
	}
	m, err := rt.Models.Get(rc.ModelID)
	if err != nil {
		logger.Error(err, "model not found")
		return false, err
	}

	out, _, err := rt.Access.GetBufferDataPointer(info.outSlot)
	if err != nil {
		logger.Error(err, "failed to resolve output mbuf")
		return false, err
	}
	priv, err := rt.Access.PrivateInfo(out)
	if err != nil {
		logger.Error(err, "invalid output mbuf")
		return false, err
	}
	hv, err := tensor.HeaderView(priv)
	if err != nil {
		logger.Error(err, "invalid output mbuf")
		return false, err
	}
	header, err := tensor.DecodeHeader(hv)
	if err != nil {
		logger.Error(err, "invalid header message")
		return false, err
	}
	sv, err := tensor.StashView(priv)
	if err != nil {
		logger.Error(err, "invalid output mbuf")
		return false, err
	}
	stash, stashErr := tensor.DecodeStash(sv)
	if header.RetCode != 0 {
		// only a posted request owns a service to cancel
		if stashErr == nil && State(stash.State) == Posted {
			logger = logger.WithValues("service", types.ServiceHandleToString(stash.ServiceHandle))
			return false, s.abort(ctx, rt, m, priv, stash, header, logger)
		}
		err := common.Errorf(common.KModelExitError, "upstream returned %d, trans %d", header.RetCode, header.TransID)
		logger.Error(err, "model exited abnormally, no posted request")
		return false, err
	}
	if stashErr != nil {
		logger.Error(stashErr, "no request stashed on output mbuf", "mbuf", types.HandleToString(out))
		return false, stashErr
	}
	logger = logger.WithValues("service", types.ServiceHandleToString(stash.ServiceHandle))
	if State(stash.State) != Posted {
		err := common.Errorf(common.KInnerError, "stashed request is %s, expect %s", State(stash.State), Posted)
		logger.Error(err, "invalid request state")
		return false, err
	}

	inputs := make([]types.Handle, len(info.inputSlots))
	for i, slot := range info.inputSlots {
		h, _, err := rt.Access.GetBufferDataPointer(slot)
		if err != nil {
			logger.Error(err, "failed to resolve input", "input", i)
			return false, err
		}
		inputs[i] = h
	}
	resp := hccl.Response{Kind: s.Kind, Comm: info.comm, ServiceHandle: stash.ServiceHandle}
	if !header.IsNullData() && !m.NullData() {
		if err := s.payload(rt, inputs[0], &resp); err != nil {
			logger.Error(err, "invalid response payload")
			return false, err
		}
	}

	state, _ := State(stash.State).On(EventSend)
	updateStash(priv, stash, state, logger)
	req, err := rt.Comm.PostResponse(ctx, resp)
	if hccl.IsWouldBlock(err) {
		state, _ = state.On(EventWouldBlock)
		updateStash(priv, stash, state, logger)
		logger.V(1).Info("response not accepted yet", "state", state)
		return true, nil
	}
	if err != nil {
		err = common.Errorf(common.KCommunicationError, "post %s response: %v", s.Kind, err)
		logger.Error(err, "failed to post response")
		s.fail(m, priv, stash, logger)
		return false, err
	}

	if s.Kind == hccl.KindUpdate {
		if err := s.wait(ctx, rt, req); err != nil {
			logger.Error(err, "failed to wait for response", "request", req)
			s.fail(m, priv, stash, logger)
			return false, err
		}
	}
	// the stash may live on one of the inputs, persist before releasing
	state, _ = state.On(EventCompleted)
	updateStash(priv, stash, state, logger)
	m.UntrackService(stash.ServiceHandle)
	if err := bufaccess.ReleaseBuffers(m.Pool(), inputs...); err != nil {
		logger.Error(err, "failed to release inputs")
		return false, err
	}
	if s.Kind == hccl.KindUpdate {
		rt.Monitor.ReclaimMemory(rc.ModelID)
	}
	logger.V(1).Info("response sent", "state", state, "count", resp.Count)
	return false, nil
}

func (s ResponseSender) payload(rt *kernel.Runtime, h types.Handle, resp *hccl.Response) error {
	buf, err := rt.Access.GetBufferAddrAndSize(h, true)
	if err != nil {
		return err
	}
	desc, err := tensor.DecodeDescriptor(buf)
	if err != nil {
		return err
	}
	if desc.DataSize > buf.Len()-tensor.DescriptorSize {
		return common.Errorf(common.KParameterInvalid, "data size %d exceeds buffer %s with %d payload bytes",
			desc.DataSize, types.HandleToString(h), buf.Len()-tensor.DescriptorSize)
	}
	size, err := tensor.ComputeDataSize(desc.Shape, desc.DType)
	if err != nil {
		return err
	}
	if size != desc.DataSize {
		return common.Errorf(common.KParameterInvalid, "data size %d does not match shape %v of %s (%d bytes)",
			desc.DataSize, desc.Shape, desc.DType, size)
	}
	resp.Count = desc.ElementCount()
	if resp.Count == 0 {
		return nil
	}
	resp.Data = hccl.Region{Addr: buf.Addr() + tensor.DescriptorSize, Capacity: desc.DataSize, DType: desc.DType}
	return nil
}

// wait spins on the send until it completes or the spin limit is spent.
func (s ResponseSender) wait(ctx context.Context, rt *kernel.Runtime, req types.RequestHandle) error {
	err := retry.Do(
		func() error { return rt.Comm.Wait(ctx, req) },
		retry.Context(ctx),
		retry.Attempts(rt.Config.SendWaitSpinLimit),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(hccl.IsWouldBlock),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return common.Errorf(common.KCommunicationError, "wait %s response %#x: %v", s.Kind, req, err)
	}
	return nil
}

// abort cancels the pending service of an upstream that exited abnormally.
func (s ResponseSender) abort(
	ctx context.Context, rt *kernel.Runtime, m *model.Model, priv memory.View,
	stash *tensor.Stash, header *tensor.Header, logger log.Logger,
) error {
	cancelErr := rt.Comm.Cancel(ctx, stash.ServiceHandle)
	if cancelErr != nil {
		logger.Error(cancelErr, "failed to cancel service")
	}
	s.fail(m, priv, stash, logger)
	err := common.Errorf(common.KModelExitError, "upstream returned %d, trans %d", header.RetCode, header.TransID)
	logger.Error(err, "model exited abnormally")
	return err
}

func (s ResponseSender) fail(m *model.Model, priv memory.View, stash *tensor.Stash, logger log.Logger) {
	state, _ := State(stash.State).On(EventFail)
	updateStash(priv, stash, state, logger)
	m.UntrackService(stash.ServiceHandle)
}
