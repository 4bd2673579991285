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

// Package dispatch drives kernels by name on one model stream. A kernel
// that reports pending is invoked again from the top until it finishes,
// fails, or spends the retry budget.
package dispatch

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/kernel"
	"github.com/hicann/runtime-sub009/pkg/model"
)

var errPending = errors.New("kernel pending")

// Task is one entry of a stream: the kernel name and its parameter block.
type Task struct {
	Kernel string
	Info   kernel.TaskInfo
}

type Dispatcher struct {
	kernels *kernel.Registry
	rt      *kernel.Runtime
}

func New(kernels *kernel.Registry, rt *kernel.Runtime) *Dispatcher {
	return &Dispatcher{kernels: kernels, rt: rt}
}

func (d *Dispatcher) Runtime() *kernel.Runtime {
	return d.rt
}

// Dispatch runs one task to completion. The kernel's own error is returned
// unchanged; a kernel still pending after the retry budget fails with
// KInnerError.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, task kernel.TaskInfo, rc kernel.RunContext) error {
	k, err := d.kernels.Get(name)
	if err != nil {
		log.FromContext(ctx).Error(err, "unknown kernel", "kernel", name)
		return err
	}
	rc.TaskID = task.ID
	rc.ExecuteInline = d.rt.Models.StreamFlag(rc.StreamID)&model.StreamFlagInline != 0
	logger := kernel.Logger(ctx, name, rc)

	invocations := uint(0)
	err = retry.Do(
		func() error {
			invocations++
			pending, err := k.Compute(ctx, d.rt, task, rc)
			if err != nil {
				return err
			}
			if pending {
				return errPending
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(d.rt.Config.DispatchRetryBudget+1),
		retry.Delay(d.rt.Config.DispatchRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errPending)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.V(1).Info("kernel pending, re-invoking", "attempt", n+1)
		}),
	)
	if errors.Is(err, errPending) {
		err = common.Errorf(common.KInnerError, "kernel %s still pending after %d invocations", name, invocations)
		logger.Error(err, "retry budget exhausted")
		return err
	}
	if err != nil {
		return err
	}
	if invocations > 1 {
		logger.V(1).Info("kernel resumed", "invocations", invocations)
	}
	return nil
}

// Run executes tasks in order on one stream of model id and stops at the
// first failure, marking the model abnormal.
func (d *Dispatcher) Run(ctx context.Context, id types.ModelID, stream types.StreamID, tasks []Task) error {
	m, err := d.rt.Models.Get(id)
	if err != nil {
		return err
	}
	m.StreamStarted()
	defer m.StreamStopped()
	d.rt.Monitor.ModelStart(id)
	defer d.rt.Monitor.ModelEnd(id)

	rc := kernel.RunContext{ModelID: id, StreamID: stream}
	for _, task := range tasks {
		if err := d.Dispatch(ctx, task.Kernel, task.Info, rc); err != nil {
			m.SetAbnormal(true)
			return err
		}
	}
	return nil
}
