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

// Package hccl defines the non-blocking collective-communication contract
// used by the request and response kernels.
package hccl

import (
	"context"
	"errors"

	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

// ErrWouldBlock is the distinguished status of a call that cannot complete
// yet. It is never a failure: the caller retries on a later tick.
var ErrWouldBlock = errors.New("hccl: would block")

var (
	ErrUnknownService = errors.New("hccl: unknown service handle")
	ErrUnknownRequest = errors.New("hccl: unknown request handle")
	ErrTruncated      = errors.New("hccl: destination too small")
)

func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}

type Kind int

const (
	KindLookup Kind = iota
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindLookup:
		return "lookup"
	case KindUpdate:
		return "update"
	}
	return "unknown"
}

// Region is a destination or source range in the device address space.
type Region struct {
	Addr     types.Addr
	Capacity uint64
	DType    tensor.DataType
}

// Request describes one receive of a remote lookup or update request.
type Request struct {
	Kind     Kind
	Comm     uint64
	Tag      int32
	Keys     Region
	Values   Region
	ValueDim uint32
}

// Result is what a completed receive hands back.
type Result struct {
	ServiceHandle types.ServiceHandle
	KeyCount      uint64
	Tag           int32
	WorkerID      uint32
}

// Response carries the answer to a previously received request.
type Response struct {
	Kind          Kind
	Comm          uint64
	ServiceHandle types.ServiceHandle
	Data          Region
	Count         uint64
}

type Library interface {
	// PostRequest returns ErrWouldBlock while no request is available.
	PostRequest(ctx context.Context, req Request) (Result, error)
	PostResponse(ctx context.Context, resp Response) (types.RequestHandle, error)
	// Wait returns ErrWouldBlock until the send identified by req completes.
	Wait(ctx context.Context, req types.RequestHandle) error
	Cancel(ctx context.Context, service types.ServiceHandle) error
}
