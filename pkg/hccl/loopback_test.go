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

package hccl

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

func TestLoopbackRoundTrip(t *testing.T) {
	ctx := context.Background()
	space := memory.NewSpace()
	lib := NewLoopback(space)
	keys := space.Alloc(16)
	req := Request{Kind: KindLookup, Comm: 1, Tag: 5, Keys: Region{Addr: keys.Addr(), Capacity: 16, DType: tensor.DTInt64}}

	_, err := lib.PostRequest(ctx, req)
	assert.True(t, IsWouldBlock(err), "nothing queued yet")

	lib.Inject(Message{Kind: KindLookup, Comm: 1, Tag: 5, WorkerID: 2, KeyCount: 2, Keys: []byte{1, 0, 0, 0, 0, 0, 0, 0, 2}})
	lib.BlockPosts(1)
	_, err = lib.PostRequest(ctx, req)
	assert.True(t, IsWouldBlock(err))

	res, err := lib.PostRequest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.KeyCount)
	assert.Equal(t, uint32(2), res.WorkerID)
	assert.Equal(t, byte(2), keys.Bytes()[8])
	assert.Equal(t, 1, lib.Outstanding())

	values := space.Alloc(8)
	copy(values.Bytes(), "response")
	lib.BlockWaits(1)
	send, err := lib.PostResponse(ctx, Response{Kind: KindLookup, ServiceHandle: res.ServiceHandle,
		Data: Region{Addr: values.Addr(), Capacity: 8}, Count: 2})
	require.NoError(t, err)
	assert.True(t, IsWouldBlock(lib.Wait(ctx, send)))
	require.NoError(t, lib.Wait(ctx, send))
	assert.Error(t, lib.Wait(ctx, send))

	delivered := lib.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, "response", string(delivered[0].Payload))
	assert.Equal(t, 0, lib.Outstanding())
	assert.Equal(t, Stats{Posts: 3, WouldBlocks: 2, Responses: 1, Waits: 3}, lib.Stats())
}

func TestLoopbackCancel(t *testing.T) {
	ctx := context.Background()
	space := memory.NewSpace()
	lib := NewLoopback(space)
	keys := space.Alloc(8)

	lib.Inject(Message{Kind: KindUpdate, Comm: 1, Tag: 1, KeyCount: 1, Keys: make([]byte, 16)})
	_, err := lib.PostRequest(ctx, Request{Kind: KindUpdate, Comm: 1, Tag: 1,
		Keys: Region{Addr: keys.Addr(), Capacity: 8}})
	assert.True(t, errors.Is(err, ErrTruncated))

	lib.FailPosts(errors.New("link down"))
	_, err = lib.PostRequest(ctx, Request{Kind: KindUpdate, Comm: 1, Tag: 1})
	assert.EqualError(t, err, "link down")
	lib.FailPosts(nil)

	assert.True(t, errors.Is(lib.Cancel(ctx, 42), ErrUnknownService))
	_, err = lib.PostResponse(ctx, Response{ServiceHandle: 42})
	assert.True(t, errors.Is(err, ErrUnknownService))
}
