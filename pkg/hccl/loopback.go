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
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/common/types"
)

// Message is a request from a remote worker queued on a Loopback.
type Message struct {
	Kind     Kind
	Comm     uint64
	Tag      int32
	WorkerID uint32
	KeyCount uint64
	Keys     []byte
	Values   []byte
}

// Delivered records one response handed to PostResponse.
type Delivered struct {
	Kind          Kind
	ServiceHandle types.ServiceHandle
	Count         uint64
	Payload       []byte
}

type Stats struct {
	Posts       int
	WouldBlocks int
	Responses   int
	Waits       int
	Cancels     int
}

type pendingSend struct {
	polls int
}

// Loopback is an in-process Library. Remote requests are queued with
// Inject and answered into the shared address space.
type Loopback struct {
	mu    sync.Mutex
	space *memory.Space

	queue      []Message
	postBlocks int
	waitBlocks int
	postErr    error

	next      uint64
	services  map[types.ServiceHandle]Message
	sends     map[types.RequestHandle]*pendingSend
	delivered []Delivered
	cancelled []types.ServiceHandle
	stats     Stats
}

func NewLoopback(space *memory.Space) *Loopback {
	return &Loopback{
		space:    space,
		next:     0x1000,
		services: make(map[types.ServiceHandle]Message),
		sends:    make(map[types.RequestHandle]*pendingSend),
	}
}

func (l *Loopback) Inject(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, m)
}

// BlockPosts makes the next n PostRequest calls report ErrWouldBlock.
func (l *Loopback) BlockPosts(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.postBlocks = n
}

// BlockWaits makes every send report ErrWouldBlock n times before completing.
func (l *Loopback) BlockWaits(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitBlocks = n
}

// FailPosts makes every PostRequest fail with err until reset with nil.
func (l *Loopback) FailPosts(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.postErr = err
}

func (l *Loopback) PostRequest(ctx context.Context, req Request) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Posts++
	if l.postErr != nil {
		return Result{}, l.postErr
	}
	if l.postBlocks > 0 {
		l.postBlocks--
		l.stats.WouldBlocks++
		return Result{}, ErrWouldBlock
	}
	i := slices.IndexFunc(l.queue, func(m Message) bool {
		return m.Kind == req.Kind && m.Comm == req.Comm && m.Tag == req.Tag
	})
	if i < 0 {
		l.stats.WouldBlocks++
		return Result{}, ErrWouldBlock
	}
	m := l.queue[i]
	if err := l.deliver(req.Keys, m.Keys); err != nil {
		return Result{}, errors.Wrap(err, "keys")
	}
	if req.Kind == KindUpdate {
		if err := l.deliver(req.Values, m.Values); err != nil {
			return Result{}, errors.Wrap(err, "values")
		}
	}
	l.queue = slices.Delete(l.queue, i, i+1)

	handle := l.next
	l.next++
	l.services[handle] = m
	return Result{
		ServiceHandle: handle,
		KeyCount:      m.KeyCount,
		Tag:           m.Tag,
		WorkerID:      m.WorkerID,
	}, nil
}

func (l *Loopback) deliver(dst Region, payload []byte) error {
	if uint64(len(payload)) > dst.Capacity {
		return errors.Wrapf(ErrTruncated, "%d bytes into %d bytes", len(payload), dst.Capacity)
	}
	if len(payload) == 0 {
		return nil
	}
	v, err := l.space.View(dst.Addr, uint64(len(payload)))
	if err != nil {
		return err
	}
	copy(v.Bytes(), payload)
	return nil
}

func (l *Loopback) PostResponse(ctx context.Context, resp Response) (types.RequestHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.services[resp.ServiceHandle]; !ok {
		return 0, errors.Wrapf(ErrUnknownService, "%s", types.ServiceHandleToString(resp.ServiceHandle))
	}
	var payload []byte
	if resp.Data.Capacity > 0 {
		v, err := l.space.View(resp.Data.Addr, resp.Data.Capacity)
		if err != nil {
			return 0, err
		}
		payload = slices.Clone(v.Bytes())
	}
	delete(l.services, resp.ServiceHandle)
	l.stats.Responses++
	l.delivered = append(l.delivered, Delivered{
		Kind:          resp.Kind,
		ServiceHandle: resp.ServiceHandle,
		Count:         resp.Count,
		Payload:       payload,
	})

	handle := l.next
	l.next++
	l.sends[handle] = &pendingSend{polls: l.waitBlocks}
	return handle, nil
}

func (l *Loopback) Wait(ctx context.Context, req types.RequestHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Waits++
	send, ok := l.sends[req]
	if !ok {
		return errors.Wrapf(ErrUnknownRequest, "%#x", req)
	}
	if send.polls > 0 {
		send.polls--
		return ErrWouldBlock
	}
	delete(l.sends, req)
	return nil
}

func (l *Loopback) Cancel(ctx context.Context, service types.ServiceHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Cancels++
	if _, ok := l.services[service]; !ok {
		return errors.Wrapf(ErrUnknownService, "%s", types.ServiceHandleToString(service))
	}
	delete(l.services, service)
	l.cancelled = append(l.cancelled, service)
	return nil
}

func (l *Loopback) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loopback) Delivered() []Delivered {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.delivered)
}

func (l *Loopback) Cancelled() []types.ServiceHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.cancelled)
}

// Outstanding is the number of received requests not answered or cancelled.
func (l *Loopback) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.services)
}

var _ Library = &Loopback{}
