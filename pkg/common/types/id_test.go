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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	var s string = HandleToString(1234)
	h, err := HandleFromString(s)
	assert.NoError(t, err)
	assert.Equal(t, s, "b00000000000004d2")
	assert.Equal(t, h, uint64(1234))

	_, err = HandleFromString("h00000000000004d2")
	assert.Error(t, err)
}

func TestServiceHandle(t *testing.T) {
	var s string = ServiceHandleToString(0xbeef)
	h, err := ServiceHandleFromString(s)
	assert.NoError(t, err)
	assert.Equal(t, s, "h000000000000beef")
	assert.Equal(t, h, uint64(0xbeef))
}
