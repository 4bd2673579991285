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

// Package driver defines the buffer-management driver contract consumed by
// the kernels, with an in-memory reference driver and a per-model pool.
package driver

import (
	"errors"

	"github.com/hicann/runtime-sub009/pkg/common/types"
)

var (
	ErrInvalidHandle = errors.New("invalid buffer handle")
	ErrOutOfMemory   = errors.New("out of memory")
	ErrInvalidSize   = errors.New("invalid buffer size")
	ErrNotSupported  = errors.New("operation not supported")
)

// Driver is the narrow call contract of the buffer-management driver.
// Errors returned here are driver specific, callers map them into the
// common status codes.
type Driver interface {
	// Addr returns the address of the data region.
	Addr(h types.Handle) (types.Addr, error)
	// Size returns the capacity of the data region.
	Size(h types.Handle) (uint64, error)
	// PrivateInfo returns the private region holding the stash and the
	// header message.
	PrivateInfo(h types.Handle) (types.Addr, uint64, error)
	DataLength(h types.Handle) (uint64, error)
	SetDataLength(h types.Handle, length uint64) error
	Allocate(size uint64) (types.Handle, error)
	// Free drops one reference, the buffer is released with its last one.
	Free(h types.Handle) error
	// Guard takes one more reference on the buffer.
	Guard(h types.Handle) error
}

// HardwareCopier is implemented by drivers that offer an accelerated copy.
// A failed hardware copy leaves the destination undefined and the caller is
// expected to fall back to a plain bounded copy.
type HardwareCopier interface {
	HardwareCopy(dst types.Addr, dstLen uint64, src types.Addr, srcLen uint64) error
}
