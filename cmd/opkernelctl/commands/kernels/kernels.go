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
package kernels

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/flags"
	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/util"
	"github.com/hicann/runtime-sub009/pkg/kernel/builtin"
)

var kernelsExample = util.Examples(`
	# list the builtin kernels
	opkernelctl kernels

	# as json
	opkernelctl kernels -o json`)

type KernelInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func NewKernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "kernels",
		Short:   "List the kernels the engine dispatches by name",
		Example: kernelsExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := builtin.NewRegistry()
			infos := []KernelInfo{}
			for _, name := range registry.Names() {
				k, err := registry.Get(name)
				if err != nil {
					return err
				}
				infos = append(infos, KernelInfo{Name: name, Type: fmt.Sprintf("%T", k)})
			}
			out := util.NewOutput([]string{"NAME", "TYPE"}, infos)
			for _, info := range infos {
				out.Append(info.Name, info.Type)
			}
			return out.Print(cmd.OutOrStdout(), flags.Format)
		},
	}
}
