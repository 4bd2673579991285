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

// Package model keeps the per-model state kernels look up by model id:
// the buffer pool, status flags and the collective requests still open.
package model

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/driver"
	"github.com/hicann/runtime-sub009/pkg/hccl"
)

const (
	// StreamFlagInline runs the stream's kernels on the dispatching thread.
	StreamFlagInline uint32 = 1 << 0
)

type Model struct {
	ID types.ModelID

	mu            sync.Mutex
	pool          *driver.Pool
	abnormal      bool
	nullData      bool
	activeStreams int32
	services      map[types.ServiceHandle]struct{}
}

func (m *Model) Pool() *driver.Pool {
	return m.pool
}

func (m *Model) Abnormal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abnormal
}

func (m *Model) SetAbnormal(abnormal bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abnormal = abnormal
}

// NullData reports whether the model feeds empty tensors downstream.
func (m *Model) NullData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nullData
}

func (m *Model) SetNullData(nullData bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nullData = nullData
}

func (m *Model) StreamStarted() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeStreams++
	return m.activeStreams
}

func (m *Model) StreamStopped() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeStreams > 0 {
		m.activeStreams--
	}
	return m.activeStreams
}

func (m *Model) ActiveStreams() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeStreams
}

// TrackService records a posted request the model still has to answer.
func (m *Model) TrackService(h types.ServiceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[h] = struct{}{}
}

func (m *Model) UntrackService(h types.ServiceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, h)
}

// Services returns the outstanding service handles in ascending order.
func (m *Model) Services() []types.ServiceHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles := make([]types.ServiceHandle, 0, len(m.services))
	for h := range m.services {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Registry owns every loaded model. It is handed to kernels through the
// runtime, there is no process-wide instance.
type Registry struct {
	mu          sync.RWMutex
	driver      driver.Driver
	comm        hccl.Library
	models      map[types.ModelID]*Model
	streamFlags map[types.StreamID]uint32
}

func NewRegistry(drv driver.Driver, comm hccl.Library) *Registry {
	return &Registry{
		driver:      drv,
		comm:        comm,
		models:      make(map[types.ModelID]*Model),
		streamFlags: make(map[types.StreamID]uint32),
	}
}

func (r *Registry) Create(id types.ModelID) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; ok {
		return nil, common.Errorf(common.KParameterInvalid, "model %d already exists", id)
	}
	m := &Model{
		ID:       id,
		pool:     driver.NewPool(r.driver),
		services: make(map[types.ServiceHandle]struct{}),
	}
	r.models[id] = m
	return m, nil
}

func (r *Registry) Get(id types.ModelID) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, common.Errorf(common.KInnerError, "model %d not found", id)
	}
	return m, nil
}

func (r *Registry) SetStreamFlag(id types.StreamID, flag uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamFlags[id] = flag
}

func (r *Registry) StreamFlag(id types.StreamID) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streamFlags[id]
}

// Teardown unloads a model. Requests still outstanding are cancelled
// before any buffer of the model is released, so the communication library
// never writes into freed memory.
func (r *Registry) Teardown(ctx context.Context, id types.ModelID) error {
	r.mu.Lock()
	m, ok := r.models[id]
	if ok {
		delete(r.models, id)
	}
	r.mu.Unlock()
	if !ok {
		return common.Errorf(common.KInnerError, "model %d not found", id)
	}

	logger := log.FromContext(ctx, "modelId", id)
	var errs error
	for _, h := range m.Services() {
		if err := r.comm.Cancel(ctx, h); err != nil {
			logger.Error(err, "failed to cancel service on teardown", "service", types.ServiceHandleToString(h))
			errs = multierr.Append(errs, common.Errorf(common.KCommunicationError,
				"cancel %s: %v", types.ServiceHandleToString(h), err))
		}
		m.UntrackService(h)
	}
	if err := m.pool.FreeAll(); err != nil {
		logger.Error(err, "failed to release model buffers")
		errs = multierr.Append(errs, common.Errorf(common.KDriverError, "free model buffers: %v", err))
	}
	logger.Info("model torn down")
	return errs
}
