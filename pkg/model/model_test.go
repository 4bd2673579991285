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

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/driver"
	"github.com/hicann/runtime-sub009/pkg/hccl"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

func TestRegistry(t *testing.T) {
	space := memory.NewSpace()
	drv := driver.NewMemDriver(space, common.DefaultConfig())
	registry := NewRegistry(drv, hccl.NewLoopback(space))

	m, err := registry.Create(1)
	require.NoError(t, err)
	_, err = registry.Create(1)
	assert.True(t, common.IsCode(err, common.KParameterInvalid))

	got, err := registry.Get(1)
	require.NoError(t, err)
	assert.Same(t, m, got)
	_, err = registry.Get(2)
	assert.True(t, common.IsCode(err, common.KInnerError))

	assert.Equal(t, int32(1), m.StreamStarted())
	assert.Equal(t, int32(0), m.StreamStopped())
	assert.Equal(t, int32(0), m.StreamStopped())

	registry.SetStreamFlag(3, StreamFlagInline)
	assert.Equal(t, StreamFlagInline, registry.StreamFlag(3))
	assert.Zero(t, registry.StreamFlag(4))
}

func TestTeardownCancelsBeforeRelease(t *testing.T) {
	ctx := context.Background()
	space := memory.NewSpace()
	drv := driver.NewMemDriver(space, common.DefaultConfig())
	lib := hccl.NewLoopback(space)
	registry := NewRegistry(drv, lib)

	m, err := registry.Create(1)
	require.NoError(t, err)
	h, err := m.Pool().Allocate(64)
	require.NoError(t, err)
	addr, err := drv.Addr(h)
	require.NoError(t, err)

	lib.Inject(hccl.Message{Kind: hccl.KindLookup, Comm: 9, Tag: 1, KeyCount: 1, Keys: make([]byte, 8)})
	res, err := lib.PostRequest(ctx, hccl.Request{Kind: hccl.KindLookup, Comm: 9, Tag: 1,
		Keys: hccl.Region{Addr: addr, Capacity: 64, DType: tensor.DTInt64}})
	require.NoError(t, err)
	m.TrackService(res.ServiceHandle)

	require.NoError(t, registry.Teardown(ctx, 1))
	assert.Equal(t, 0, lib.Outstanding())
	assert.Equal(t, res.ServiceHandle, lib.Cancelled()[0])
	assert.Equal(t, 0, drv.Live())
	assert.Empty(t, m.Services())

	_, err = registry.Get(1)
	assert.Error(t, err)
	assert.True(t, common.IsCode(registry.Teardown(ctx, 1), common.KInnerError))
}

func TestTeardownReportsCancelFailure(t *testing.T) {
	ctx := context.Background()
	space := memory.NewSpace()
	drv := driver.NewMemDriver(space, common.DefaultConfig())
	registry := NewRegistry(drv, hccl.NewLoopback(space))

	m, err := registry.Create(1)
	require.NoError(t, err)
	_, err = m.Pool().Allocate(8)
	require.NoError(t, err)
	m.TrackService(0xdead)

	err = registry.Teardown(ctx, 1)
	assert.True(t, common.IsCode(err, common.KCommunicationError))
	assert.Equal(t, 0, drv.Live(), "buffers are still released")
}
