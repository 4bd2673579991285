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

// Package kernel defines the operator-kernel contract, the per-task inputs
// handed to every kernel and the name-to-kernel registry.
package kernel

import (
	"context"
	"sort"
	"sync"

	"github.com/hicann/runtime-sub009/pkg/bufaccess"
	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/driver"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/model"
	"github.com/hicann/runtime-sub009/pkg/monitor"
)

// TaskInfo locates the parameter block of one task.
type TaskInfo struct {
	ID        types.TaskID
	ParamBase types.Addr
	ParamLen  uint64
}

// RunContext is the read-only execution state of one dispatch.
type RunContext struct {
	ModelID       types.ModelID
	StreamID      types.StreamID
	TaskID        types.TaskID
	ExecuteInline bool
}

// Kernel runs one task. Returning pending asks the dispatcher to invoke the
// kernel again from the top on a later tick; pending is only meaningful
// when err is nil. Nothing survives between invocations except what the
// kernel wrote into buffers.
type Kernel interface {
	Compute(ctx context.Context, rt *Runtime, task TaskInfo, rc RunContext) (pending bool, err error)
}

// Func adapts a plain function to Kernel.
type Func func(ctx context.Context, rt *Runtime, task TaskInfo, rc RunContext) (bool, error)

func (f Func) Compute(ctx context.Context, rt *Runtime, task TaskInfo, rc RunContext) (bool, error) {
	return f(ctx, rt, task, rc)
}

// Runtime carries the collaborators a kernel may call.
type Runtime struct {
	Driver  driver.Driver
	Space   *memory.Space
	Comm    hccl.Library
	Models  *model.Registry
	Monitor monitor.Sink
	Config  common.Config
	Access  *bufaccess.Access
}

func NewRuntime(
	drv driver.Driver,
	space *memory.Space,
	comm hccl.Library,
	sink monitor.Sink,
	config common.Config,
) *Runtime {
	return &Runtime{
		Driver:  drv,
		Space:   space,
		Comm:    comm,
		Models:  model.NewRegistry(drv, comm),
		Monitor: sink,
		Config:  config,
		Access:  bufaccess.New(drv, space, config.HardwareCopy),
	}
}

// Logger returns the context logger annotated with the task identity.
func Logger(ctx context.Context, name string, rc RunContext) log.Logger {
	return log.FromContext(ctx, "kernel", name, "modelId", rc.ModelID, "streamId", rc.StreamID, "taskId", rc.TaskID)
}

// Params returns the parameter block of task, which must hold at least size
// bytes.
func (rt *Runtime) Params(task TaskInfo, size uint64) (memory.View, error) {
	if task.ParamBase == types.NullAddr() {
		return memory.View{}, common.NullParam("param base")
	}
	if task.ParamLen != 0 && task.ParamLen < size {
		return memory.View{}, common.Errorf(common.KParameterInvalid,
			"param block of %d bytes is shorter than %d", task.ParamLen, size)
	}
	return rt.Space.View(task.ParamBase, size)
}

// CheckCount validates an element count read from a parameter block.
func (rt *Runtime) CheckCount(name string, n uint32) error {
	if n == 0 {
		return common.Errorf(common.KParameterInvalid, "%s is zero", name)
	}
	if n > rt.Config.MaxAddrNum {
		return common.Errorf(common.KParameterInvalid, "%s %d exceeds %d", name, n, rt.Config.MaxAddrNum)
	}
	return nil
}

// Registry maps kernel names to kernels.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]Kernel)}
}

func (r *Registry) Register(name string, k Kernel) error {
	if name == "" || k == nil {
		return common.Error(common.KParameterInvalid, "kernel name and kernel must be set")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[name]; ok {
		return common.Errorf(common.KParameterInvalid, "kernel %s is already registered", name)
	}
	r.kernels[name] = k
	return nil
}

func (r *Registry) Get(name string) (Kernel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernels[name]
	if !ok {
		return nil, common.Errorf(common.KInnerError, "kernel %s is not registered", name)
	}
	return k, nil
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
