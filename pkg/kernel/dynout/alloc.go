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

package dynout

import (
	"context"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const NameAlloc = "modelAllocOutput"

// OutputAllocInfoSize is the size of the parameter block: the source
// descriptor, the slot of the buffer whose header is inherited and the slot
// receiving the new buffer.
const OutputAllocInfoSize = 24

// AllocOutput materializes one tensor into a freshly allocated buffer. An
// allocation failure is fatal for the host.
type AllocOutput struct{}

func (AllocOutput) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, NameAlloc, rc)
	params, err := rt.Params(task, OutputAllocInfoSize)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	descAddr, _ := params.Uint64(0)
	headSlot, _ := params.Uint64(8)
	outSlot, _ := params.Uint64(16)
	if descAddr == types.NullAddr() || headSlot == types.NullAddr() || outSlot == types.NullAddr() {
		err := common.Errorf(common.KParameterInvalid,
			"null address in param block, desc %#x head %#x out %#x", descAddr, headSlot, outSlot)
		logger.Error(err, "invalid param block")
		return false, err
	}
	m, err := rt.Models.Get(rc.ModelID)
	if err != nil {
		logger.Error(err, "model not found")
		return false, err
	}

	descView, err := rt.Space.View(descAddr, tensor.DescriptorSize)
	if err != nil {
		logger.Error(err, "invalid descriptor address")
		return false, err
	}
	desc, err := tensor.DecodeDescriptor(descView)
	if err != nil {
		logger.Error(err, "invalid descriptor")
		return false, err
	}
	dataSize, err := tensor.ComputeDataSize(desc.Shape, desc.DType)
	if err != nil {
		logger.Error(err, "invalid tensor shape", "shape", desc.Shape, "dtype", desc.DType)
		return false, err
	}
	payload := desc.DataAddr
	if payload == types.NullAddr() {
		payload = descAddr + tensor.DescriptorSize
	}

	head, _, err := rt.Access.GetBufferDataPointer(headSlot)
	if err != nil {
		logger.Error(err, "invalid head buffer")
		return false, err
	}
	headPriv, err := rt.Access.PrivateInfo(head)
	if err != nil {
		logger.Error(err, "invalid head buffer private info")
		return false, err
	}

	total := tensor.DescriptorSize + dataSize
	h, err := m.Pool().Allocate(total)
	if err != nil {
		err = common.Errorf(common.KResourceExhausted, "allocate %d bytes: %v", total, err)
		logger.Error(err, "failed to allocate output")
		rt.Monitor.RequestHostKill(rc.ModelID, err)
		return false, err
	}
	if err := fill(rt, h, headPriv.Addr(), headPriv.Len(), desc, payload, dataSize); err != nil {
		logger.Error(err, "failed to fill output", "handle", types.HandleToString(h))
		if freeErr := m.Pool().Free(h); freeErr != nil {
			logger.Error(freeErr, "failed to free partial output")
		}
		return false, err
	}
	if err := rt.Access.WriteHandleSlot(outSlot, h); err != nil {
		logger.Error(err, "failed to publish output")
		if freeErr := m.Pool().Free(h); freeErr != nil {
			logger.Error(freeErr, "failed to free unpublished output")
		}
		return false, err
	}
	rt.Monitor.RecordOutput(rc.ModelID, dataSize, desc.Shape)
	return false, nil
}

func fill(rt *kernel.Runtime, h types.Handle, headPriv types.Addr, headLen uint64,
	desc *tensor.Descriptor, payload types.Addr, dataSize uint64,
) error {
	if err := rt.Access.CopyHeaderMetadata(headPriv, headLen, h); err != nil {
		return err
	}
	buf, err := rt.Access.GetBufferAddrAndSize(h, true)
	if err != nil {
		return err
	}
	out := *desc
	out.DataAddr = buf.Addr() + tensor.DescriptorSize
	out.DataSize = dataSize
	if err := out.Encode(buf); err != nil {
		return err
	}
	if dataSize == 0 {
		return nil
	}
	return rt.Access.CopyData(out.DataAddr, buf.Len()-tensor.DescriptorSize, payload, dataSize)
}
