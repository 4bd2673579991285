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

package driver

import (
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/hicann/runtime-sub009/pkg/common/types"
)

// Pool tracks the buffers allocated on behalf of one model so that whatever
// is still held at teardown can be returned to the driver.
type Pool struct {
	mu        sync.Mutex
	driver    Driver
	allocated map[types.Handle]struct{}
}

func NewPool(driver Driver) *Pool {
	return &Pool{
		driver:    driver,
		allocated: make(map[types.Handle]struct{}),
	}
}

func (p *Pool) Driver() Driver {
	return p.driver
}

func (p *Pool) Allocate(size uint64) (types.Handle, error) {
	h, err := p.driver.Allocate(size)
	if err != nil {
		return types.InvalidHandle(), err
	}
	p.mu.Lock()
	p.allocated[h] = struct{}{}
	p.mu.Unlock()
	return h, nil
}

// Free drops one reference of h through the driver. Buffers not allocated
// by the pool are accepted as well.
func (p *Pool) Free(h types.Handle) error {
	if err := p.driver.Free(h); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.allocated, h)
	p.mu.Unlock()
	return nil
}

// FreeAll frees every buffer still tracked and reports all failures.
func (p *Pool) FreeAll() error {
	p.mu.Lock()
	handles := make([]types.Handle, 0, len(p.allocated))
	for h := range p.allocated {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, p.Free(h))
	}
	return errs
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
