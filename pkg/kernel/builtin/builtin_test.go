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

package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicann/runtime-sub009/pkg/common"
)

func TestBuiltinKernels(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{
		"getLookupRequest",
		"getUpdateRequest",
		"modelAllocOutput",
		"modelDynamicOutput",
		"modelZeroCopy",
		"modelZeroCopyRaw",
		"modelZeroCopyV2",
		"sendLookupResponse",
		"sendUpdateResponse",
	}, r.Names())

	for _, name := range r.Names() {
		k, err := r.Get(name)
		require.NoError(t, err)
		assert.NotNil(t, k, name)
	}

	err := RegisterAll(r)
	assert.True(t, common.IsCode(err, common.KParameterInvalid))
}
