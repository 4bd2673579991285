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

// Package monitor collects the one-way notifications emitted by kernels:
// model run boundaries, tensor size statistics and scheduler signals.
package monitor

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

// Sink is the notification surface consumed by kernels. No call blocks on
// anything but the sink's own bookkeeping.
type Sink interface {
	ModelStart(id types.ModelID) string
	ModelEnd(id types.ModelID)
	RecordInput(id types.ModelID, size uint64, shape []int64)
	RecordOutput(id types.ModelID, size uint64, shape []int64)
	// ReclaimMemory tells the scheduler buffers of the model were released.
	ReclaimMemory(id types.ModelID)
	// RequestHostKill asks the host to tear the process down.
	RequestHostKill(id types.ModelID, reason error)
}

// SizeStat aggregates the minimum and maximum of sizes and shapes seen.
type SizeStat struct {
	Count    uint64  `json:"count"`
	MinSize  uint64  `json:"minSize"`
	MaxSize  uint64  `json:"maxSize"`
	MinShape []int64 `json:"minShape,omitempty"`
	MaxShape []int64 `json:"maxShape,omitempty"`
}

func (s *SizeStat) add(size uint64, shape []int64) {
	if s.Count == 0 || size < s.MinSize {
		s.MinSize = size
		s.MinShape = slices.Clone(shape)
	}
	if s.Count == 0 || size > s.MaxSize {
		s.MaxSize = size
		s.MaxShape = slices.Clone(shape)
	}
	s.Count++
}

type ModelStats struct {
	RunID     string        `json:"runId"`
	Runs      uint64        `json:"runs"`
	Running   bool          `json:"running"`
	LastStart time.Time     `json:"lastStart"`
	LastCost  time.Duration `json:"lastCost"`
	Inputs    SizeStat      `json:"inputs"`
	Outputs   SizeStat      `json:"outputs"`
	Reclaims  uint64        `json:"reclaims"`
}

type Snapshot struct {
	Models    map[types.ModelID]ModelStats `json:"models"`
	HostKills uint64                       `json:"hostKills"`
}

// Monitor is the in-process Sink. OnHostKill, when set, is invoked for every
// host kill request after it is recorded.
type Monitor struct {
	mu        sync.Mutex
	models    map[types.ModelID]*ModelStats
	hostKills uint64
	now       func() time.Time

	OnHostKill func(id types.ModelID, reason error)
}

func New() *Monitor {
	return &Monitor{
		models: make(map[types.ModelID]*ModelStats),
		now:    time.Now,
	}
}

func (m *Monitor) model(id types.ModelID) *ModelStats {
	stats, ok := m.models[id]
	if !ok {
		stats = &ModelStats{}
		m.models[id] = stats
	}
	return stats
}

func (m *Monitor) ModelStart(id types.ModelID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.model(id)
	stats.RunID = uuid.NewString()
	stats.Running = true
	stats.LastStart = m.now()
	log.V(1).Info("model run started", "modelId", id, "runId", stats.RunID)
	return stats.RunID
}

func (m *Monitor) ModelEnd(id types.ModelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.model(id)
	if !stats.Running {
		return
	}
	stats.Running = false
	stats.Runs++
	stats.LastCost = m.now().Sub(stats.LastStart)
	log.V(1).Info("model run finished", "modelId", id, "runId", stats.RunID, "cost", stats.LastCost)
}

func (m *Monitor) RecordInput(id types.ModelID, size uint64, shape []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model(id).Inputs.add(size, shape)
}

func (m *Monitor) RecordOutput(id types.ModelID, size uint64, shape []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model(id).Outputs.add(size, shape)
}

func (m *Monitor) ReclaimMemory(id types.ModelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model(id).Reclaims++
}

func (m *Monitor) RequestHostKill(id types.ModelID, reason error) {
	m.mu.Lock()
	m.hostKills++
	hook := m.OnHostKill
	m.mu.Unlock()

	log.Error(reason, "requesting host kill", "modelId", id)
	if hook != nil {
		hook(id, reason)
	}
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := Snapshot{
		Models:    make(map[types.ModelID]ModelStats, len(m.models)),
		HostKills: m.hostKills,
	}
	for id, stats := range m.models {
		copied := *stats
		copied.Inputs.MinShape = slices.Clone(stats.Inputs.MinShape)
		copied.Inputs.MaxShape = slices.Clone(stats.Inputs.MaxShape)
		copied.Outputs.MinShape = slices.Clone(stats.Outputs.MinShape)
		copied.Outputs.MaxShape = slices.Clone(stats.Outputs.MaxShape)
		snapshot.Models[id] = copied
	}
	return snapshot
}

var _ Sink = &Monitor{}
