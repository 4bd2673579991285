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

// Package builtin lists the kernels shipped with the engine.
package builtin

import (
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/kernel/comm"
	"github.com/hicann/runtime-sub009/pkg/kernel/dynout"
	"github.com/hicann/runtime-sub009/pkg/kernel/zerocopy"
)

var kernels = map[string]kernel.Kernel{
	zerocopy.Name:           zerocopy.ZeroCopy{},
	zerocopy.NameV2:         zerocopy.V2{},
	zerocopy.NameRaw:        zerocopy.Raw{},
	dynout.Name:             dynout.DynamicOutput{},
	dynout.NameAlloc:        dynout.AllocOutput{},
	comm.NameLookupRequest:  comm.RequestPoster{Kind: hccl.KindLookup},
	comm.NameUpdateRequest:  comm.RequestPoster{Kind: hccl.KindUpdate},
	comm.NameLookupResponse: comm.ResponseSender{Kind: hccl.KindLookup},
	comm.NameUpdateResponse: comm.ResponseSender{Kind: hccl.KindUpdate},
}

// RegisterAll adds every builtin kernel to r.
func RegisterAll(r *kernel.Registry) error {
	for name, k := range kernels {
		if err := r.Register(name, k); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the builtin kernels.
func NewRegistry() *kernel.Registry {
	r := kernel.NewRegistry()
	if err := RegisterAll(r); err != nil {
		// names in the table are distinct
		panic(err)
	}
	return r
}
