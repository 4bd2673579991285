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
package util

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// ReadInput reads the file named by args[0], or stdin when it is "-".
func ReadInput(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("no input file given")
	}
	if args[0] == "-" {
		contents, err := io.ReadAll(stdin)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read from stdin")
		}
		return contents, nil
	}
	contents, err := os.ReadFile(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", args[0])
	}
	return contents, nil
}
