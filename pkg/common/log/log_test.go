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

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf)
	ctx := IntoContext(context.Background(), logger)

	FromContext(ctx, "modelId", 3).Info("model stream pending on")
	assert.Contains(t, buf.String(), "model stream pending on")
	assert.Contains(t, buf.String(), "\"modelId\": 3")
}

func TestVerbosity(t *testing.T) {
	defer SetLogLevel(0)

	var buf bytes.Buffer
	logger := NewWriterLogger(&buf)

	logger.V(1).Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	SetLogLevel(1)
	logger.V(1).Info("visible")
	assert.Contains(t, buf.String(), "visible")
}
