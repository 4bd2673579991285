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
package flags

import "github.com/spf13/cobra"

var (
	// ShowValues decodes the payload elements following a descriptor
	ShowValues bool

	// MaxValues bounds the number of decoded elements
	MaxValues int

	// FusionIndex is the record to locate inside a fused buffer
	FusionIndex uint32
)

func ApplyDescOpts(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&ShowValues, "values", "", false, "decode the payload elements")
	cmd.Flags().IntVarP(&MaxValues, "max-values", "", 16, "the maximum number of elements to decode")
}

func ApplyFusionOpts(cmd *cobra.Command) {
	cmd.Flags().Uint32VarP(&FusionIndex, "index", "i", 0, "the index of the record to locate")
}
