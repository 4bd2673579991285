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

// Package dynout implements the kernels that materialize output tensors
// whose shape is only known once the producing task has run.
package dynout

import (
	"context"

	"go.uber.org/multierr"

	"github.com/hicann/runtime-sub009/pkg/bufaccess"
	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/model"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

const Name = "modelDynamicOutput"

// DynamicOutputInfoSize is the size of the parameter block.
const DynamicOutputInfoSize = 48

// Policy selects how one output slot is produced.
type Policy int

const (
	// Static rewrites the descriptor of an existing buffer.
	Static Policy = iota
	// DynamicPresized fills an existing buffer from the response.
	DynamicPresized
	// DynamicAllocate allocates a buffer and fills it from the response.
	DynamicAllocate
)

func (p Policy) String() string {
	switch p {
	case Static:
		return "static"
	case DynamicPresized:
		return "dynamic-presized"
	case DynamicAllocate:
		return "dynamic-allocate"
	}
	return "unknown"
}

// Classify picks the policy of a slot from its dynamic flag and the handle
// it currently holds.
func Classify(dynamic bool, h types.Handle) Policy {
	switch {
	case !dynamic:
		return Static
	case h != types.InvalidHandle():
		return DynamicPresized
	default:
		return DynamicAllocate
	}
}

type dynamicOutputInfo struct {
	inputSlots  []types.Addr
	respSlot    types.Addr
	outputSlots []types.Addr
	dynamic     []byte
	staticDesc  types.Addr
}

func readDynamicOutputInfo(rt *kernel.Runtime, params memory.View) (*dynamicOutputInfo, error) {
	b := params.Bytes()
	if len(b) < DynamicOutputInfoSize {
		return nil, common.Errorf(common.KParameterInvalid, "param block of %d bytes is too short", len(b))
	}
	inputsNum, _ := params.Uint32(0)
	outputsNum, _ := params.Uint32(4)
	inputList, _ := params.Uint64(8)
	respSlot, _ := params.Uint64(16)
	outputList, _ := params.Uint64(24)
	flagList, _ := params.Uint64(32)
	staticDesc, _ := params.Uint64(40)

	if respSlot == types.NullAddr() || outputList == types.NullAddr() || flagList == types.NullAddr() {
		return nil, common.Errorf(common.KParameterInvalid,
			"null address in param block, resp %#x outputs %#x flags %#x", respSlot, outputList, flagList)
	}
	if err := rt.CheckCount("outputsNum", outputsNum); err != nil {
		return nil, err
	}
	if inputsNum > rt.Config.MaxAddrNum {
		return nil, common.Errorf(common.KParameterInvalid, "inputsNum %d exceeds %d", inputsNum, rt.Config.MaxAddrNum)
	}
	info := &dynamicOutputInfo{respSlot: respSlot, staticDesc: staticDesc}
	var err error
	if inputsNum > 0 {
		if inputList == types.NullAddr() {
			return nil, common.NullParam("input list")
		}
		if info.inputSlots, err = rt.Space.ReadAddrList(inputList, uint64(inputsNum)); err != nil {
			return nil, err
		}
	}
	if info.outputSlots, err = rt.Space.ReadAddrList(outputList, uint64(outputsNum)); err != nil {
		return nil, err
	}
	flags, err := rt.Space.View(flagList, uint64(outputsNum))
	if err != nil {
		return nil, err
	}
	info.dynamic = flags.Bytes()
	return info, nil
}

// DynamicOutput produces every output slot of a task from either a static
// descriptor or the records fused in the response buffer, then releases
// the inputs and the response.
type DynamicOutput struct{}

// job holds the state of one invocation.
type job struct {
	rt     *kernel.Runtime
	rc     kernel.RunContext
	logger log.Logger
	model  *model.Model
	info   *dynamicOutputInfo

	resp     types.Handle
	respBuf  memory.View
	respPriv memory.View
	cursor   *tensor.FusionCursor
	nextRec  uint32
	nextDesc uint64

	// allocated are the buffers this invocation put into output slots
	allocated []allocation
}

type allocation struct {
	slot   types.Addr
	handle types.Handle
}

func (DynamicOutput) Compute(ctx context.Context, rt *kernel.Runtime, task kernel.TaskInfo, rc kernel.RunContext) (bool, error) {
	logger := kernel.Logger(ctx, Name, rc)
	params, err := rt.Params(task, DynamicOutputInfoSize)
	if err != nil {
		logger.Error(err, "invalid param block")
		return false, err
	}
	info, err := readDynamicOutputInfo(rt, params)
	if err != nil {
		logger.Error(err, "invalid dynamic output info")
		return false, err
	}
	m, err := rt.Models.Get(rc.ModelID)
	if err != nil {
		logger.Error(err, "model not found")
		return false, err
	}
	j := &job{rt: rt, rc: rc, logger: logger, model: m, info: info}
	if err := j.prepareResponse(); err != nil {
		return false, err
	}

	for i, slot := range info.outputSlots {
		if err := j.output(uint32(i), slot); err != nil {
			j.rollback()
			if common.IsCode(err, common.KResourceExhausted) {
				// nothing the task holds may outlive a fatal allocation failure
				if releaseErr := j.releaseInputs(); releaseErr != nil {
					logger.Error(releaseErr, "failed to release inputs after allocation failure")
				}
				rt.Monitor.RequestHostKill(rc.ModelID, err)
			}
			return false, err
		}
	}
	if err := j.releaseInputs(); err != nil {
		logger.Error(err, "failed to release inputs")
		return false, err
	}
	logger.V(1).Info("dynamic outputs produced", "outputs", len(info.outputSlots),
		"allocated", len(j.allocated), "records", j.nextRec)
	return false, nil
}

func (j *job) prepareResponse() error {
	resp, err := j.rt.Access.ReadHandleSlot(j.info.respSlot)
	if err != nil {
		j.logger.Error(err, "failed to read response slot")
		return err
	}
	if j.respBuf, err = j.rt.Access.GetBufferAddrAndSize(resp, true); err != nil {
		j.logger.Error(err, "invalid response buffer")
		return err
	}
	if j.respPriv, err = j.rt.Access.PrivateInfo(resp); err != nil {
		j.logger.Error(err, "invalid response private info")
		return err
	}
	j.resp = resp
	j.cursor = tensor.NewFusionCursor(j.respBuf.Len())
	return nil
}

func (j *job) output(i uint32, slot types.Addr) error {
	h, err := j.rt.Access.ReadHandleSlot(slot)
	if err != nil {
		j.logger.Error(err, "failed to read output slot", "output", i)
		return err
	}
	policy := Classify(j.info.dynamic[i] != 0, h)
	switch policy {
	case Static:
		return j.static(i, h)
	case DynamicPresized:
		return j.presized(i, h)
	default:
		return j.allocate(i, slot)
	}
}

func (j *job) static(i uint32, h types.Handle) error {
	if j.info.staticDesc == types.NullAddr() {
		err := common.NullParam("static descriptor list")
		j.logger.Error(err, "static output without descriptors", "output", i)
		return err
	}
	buf, err := j.rt.Access.GetBufferAddrAndSize(h, true)
	if err != nil {
		j.logger.Error(err, "invalid static output buffer", "output", i)
		return err
	}
	src := j.info.staticDesc + j.nextDesc*tensor.DescriptorSize
	if err := j.rt.Space.Copy(buf.Addr(), tensor.DescriptorSize, src, tensor.DescriptorSize); err != nil {
		j.logger.Error(err, "failed to copy static descriptor", "output", i, "descriptor", j.nextDesc)
		return err
	}
	j.nextDesc++
	return j.finish(i, buf)
}

// nextRecord returns the next record fused in the response buffer along
// with the total size it occupies.
func (j *job) nextRecord(i uint32) (memory.View, *tensor.Descriptor, uint64, error) {
	rec, err := tensor.AdvanceFusionCursor(j.cursor, j.nextRec, j.respBuf)
	if err != nil {
		j.logger.Error(err, "failed to locate response record", "output", i, "record", j.nextRec)
		return memory.View{}, nil, 0, err
	}
	desc, err := tensor.DecodeDescriptor(rec)
	if err != nil {
		j.logger.Error(err, "invalid response descriptor", "output", i, "record", j.nextRec)
		return memory.View{}, nil, 0, err
	}
	size, err := tensor.ComputeDataSize(desc.Shape, desc.DType)
	if err != nil {
		j.logger.Error(err, "invalid response shape", "output", i, "shape", desc.Shape)
		return memory.View{}, nil, 0, err
	}
	if size != desc.DataSize {
		err := common.Errorf(common.KParameterInvalid, "data size %d does not match shape %v of %s (%d bytes)",
			desc.DataSize, desc.Shape, desc.DType, size)
		j.logger.Error(err, "inconsistent response descriptor", "output", i)
		return memory.View{}, nil, 0, err
	}
	j.nextRec++
	return rec, desc, tensor.DescriptorSize + desc.DataSize, nil
}

func (j *job) presized(i uint32, h types.Handle) error {
	rec, _, total, err := j.nextRecord(i)
	if err != nil {
		return err
	}
	if err := j.rt.Driver.SetDataLength(h, total); err != nil {
		capacity, _ := j.rt.Driver.Size(h)
		j.logger.Error(err, "failed to set data length", "output", i, "length", total, "capacity", capacity)
		return common.Errorf(common.KDriverError, "set data length %d of buffer %s with capacity %d: %v",
			total, types.HandleToString(h), capacity, err)
	}
	buf, err := j.rt.Access.GetBufferAddrAndSize(h, true)
	if err != nil {
		j.logger.Error(err, "invalid presized output buffer", "output", i)
		return err
	}
	if err := j.rt.Access.CopyData(buf.Addr(), buf.Len(), rec.Addr(), total); err != nil {
		j.logger.Error(err, "failed to copy output", "output", i, "length", total)
		return err
	}
	return j.finish(i, buf)
}

func (j *job) allocate(i uint32, slot types.Addr) (err error) {
	rec, _, total, err := j.nextRecord(i)
	if err != nil {
		return err
	}
	h, err := j.model.Pool().Allocate(total)
	if err != nil {
		j.logger.Error(err, "failed to allocate output", "output", i, "size", total)
		return common.Errorf(common.KResourceExhausted, "allocate %d bytes: %v", total, err)
	}
	defer func() {
		if err != nil {
			if freeErr := j.model.Pool().Free(h); freeErr != nil {
				j.logger.Error(freeErr, "failed to free partial output", "output", i)
			}
		}
	}()

	if err = j.rt.Access.CopyHeaderMetadata(j.respPriv.Addr(), j.respPriv.Len(), h); err != nil {
		j.logger.Error(err, "failed to copy header metadata", "output", i)
		return err
	}
	buf, err := j.rt.Access.GetBufferAddrAndSize(h, true)
	if err != nil {
		j.logger.Error(err, "invalid allocated output buffer", "output", i)
		return err
	}
	if err = j.rt.Access.CopyData(buf.Addr(), buf.Len(), rec.Addr(), total); err != nil {
		j.logger.Error(err, "failed to copy output", "output", i, "length", total)
		return err
	}
	if err = j.finish(i, buf); err != nil {
		return err
	}
	if err = j.rt.Access.WriteHandleSlot(slot, h); err != nil {
		j.logger.Error(err, "failed to publish output", "output", i)
		return err
	}
	j.allocated = append(j.allocated, allocation{slot: slot, handle: h})
	return nil
}

// finish points the descriptor at the payload that follows it and feeds the
// monitor.
func (j *job) finish(i uint32, buf memory.View) error {
	if err := tensor.SetDataAddr(buf, buf.Addr()+tensor.DescriptorSize); err != nil {
		j.logger.Error(err, "failed to patch data address", "output", i)
		return err
	}
	desc, err := tensor.DecodeDescriptor(buf)
	if err != nil {
		j.logger.Error(err, "invalid output descriptor", "output", i)
		return err
	}
	j.rt.Monitor.RecordOutput(j.rc.ModelID, desc.DataSize, desc.Shape)
	return nil
}

// rollback frees every buffer this invocation published and clears its slot.
func (j *job) rollback() {
	for _, a := range j.allocated {
		if err := j.rt.Access.WriteHandleSlot(a.slot, types.InvalidHandle()); err != nil {
			j.logger.Error(err, "failed to clear output slot")
		}
		if err := j.model.Pool().Free(a.handle); err != nil {
			j.logger.Error(err, "failed to free output", "handle", types.HandleToString(a.handle))
		}
	}
	j.allocated = nil
}

func (j *job) releaseInputs() error {
	handles := make([]types.Handle, 0, len(j.info.inputSlots)+1)
	seen := make(map[types.Handle]struct{}, len(j.info.inputSlots))
	var errs error
	for _, slot := range j.info.inputSlots {
		h, err := j.rt.Access.ReadHandleSlot(slot)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		handles = append(handles, h)
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			j.recordInput(h)
		}
	}
	handles = append(handles, j.resp)
	return multierr.Append(errs, bufaccess.ReleaseBuffers(j.model.Pool(), handles...))
}

func (j *job) recordInput(h types.Handle) {
	buf, err := j.rt.Access.GetBufferAddrAndSize(h, true)
	if err != nil {
		return
	}
	if desc, err := tensor.DecodeDescriptor(buf); err == nil {
		j.rt.Monitor.RecordInput(j.rc.ModelID, desc.DataSize, desc.Shape)
	}
}
