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

// HeadMsgSize is the size of the header message stored at the tail of a
// buffer's private region.
const HeadMsgSize = 64

const (
	// HeaderFlagEndOfSequence marks the last buffer of a sequence.
	HeaderFlagEndOfSequence uint32 = 1 << 0
	// DataFlagNullData marks a buffer whose payload carries no elements.
	DataFlagNullData uint8 = 1 << 0
)

const (
	offTransID    = 0
	offRouteLabel = 8
	offRetCode    = 12
	offStartTime  = 16
	offEndTime    = 24
	offFlags      = 32
	offDataFlag   = 36
	offMsgType    = 37
	offWorkerID   = 40
	offStepID     = 44
)

// Header is the decoded buffer header message.
type Header struct {
	TransID    uint64
	RouteLabel uint16
	RetCode    int32
	StartTime  uint64
	EndTime    uint64
	Flags      uint32
	DataFlag   uint8
	MsgType    uint8
	WorkerID   uint32
	StepID     uint32
}

func (h *Header) IsNullData() bool {
	return h.DataFlag&DataFlagNullData != 0
}

func (h *Header) IsEndOfSequence() bool {
	return h.Flags&HeaderFlagEndOfSequence != 0
}

// HeaderView returns the header message window at the tail of a private region.
func HeaderView(priv memory.View) (memory.View, error) {
	if priv.Len() < HeadMsgSize {
		return memory.View{}, common.Errorf(common.KParameterInvalid,
			"private region of %d bytes cannot hold a %d bytes header", priv.Len(), HeadMsgSize)
	}
	return priv.Slice(priv.Len()-HeadMsgSize, HeadMsgSize)
}

func DecodeHeader(v memory.View) (*Header, error) {
	if v.Len() < HeadMsgSize {
		return nil, common.Errorf(common.KParameterInvalid, "header needs %d bytes, got %d", HeadMsgSize, v.Len())
	}
	b := v.Bytes()
	le := byteOrder
	return &Header{
		TransID:    le.Uint64(b[offTransID:]),
		RouteLabel: le.Uint16(b[offRouteLabel:]),
		RetCode:    int32(le.Uint32(b[offRetCode:])),
		StartTime:  le.Uint64(b[offStartTime:]),
		EndTime:    le.Uint64(b[offEndTime:]),
		Flags:      le.Uint32(b[offFlags:]),
		DataFlag:   b[offDataFlag],
		MsgType:    b[offMsgType],
		WorkerID:   le.Uint32(b[offWorkerID:]),
		StepID:     le.Uint32(b[offStepID:]),
	}, nil
}

// Encode writes the whole 64 bytes record, reserved fields zeroed.
func (h *Header) Encode(v memory.View) error {
	if v.Len() < HeadMsgSize {
		return common.Errorf(common.KParameterInvalid, "header needs %d bytes, got %d", HeadMsgSize, v.Len())
	}
	b := v.Bytes()[:HeadMsgSize]
	clear(b)
	le := byteOrder
	le.PutUint64(b[offTransID:], h.TransID)
	le.PutUint16(b[offRouteLabel:], h.RouteLabel)
	le.PutUint32(b[offRetCode:], uint32(h.RetCode))
	le.PutUint64(b[offStartTime:], h.StartTime)
	le.PutUint64(b[offEndTime:], h.EndTime)
	le.PutUint32(b[offFlags:], h.Flags)
	b[offDataFlag] = h.DataFlag
	b[offMsgType] = h.MsgType
	le.PutUint32(b[offWorkerID:], h.WorkerID)
	le.PutUint32(b[offStepID:], h.StepID)
	return nil
}
