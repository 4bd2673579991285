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
package inspect

import (
	"github.com/spf13/cobra"

	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/util"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
)

var inspectLong = util.LongDesc(`
	Inspect decodes the binary records kernels exchange through buffers:
	tensor descriptors, fused buffers holding several records back to
	back, and the header message stored in a buffer's private region.
	Each subcommand reads a raw dump from a file, or from stdin when the
	file is "-".`)

var inspectExample = util.Examples(`
	# decode the descriptor at the head of a buffer dump
	opkernelctl inspect desc buffer.bin --values

	# locate the third record of a fused buffer
	opkernelctl inspect fusion fused.bin --index 2

	# decode the header message of a private region dump
	opkernelctl inspect header priv.bin -o json`)

func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect",
		Short:   "Decode descriptors, fused buffers and header messages",
		Long:    inspectLong,
		Example: inspectExample,
	}
	cmd.AddCommand(newDescCmd())
	cmd.AddCommand(newFusionCmd())
	cmd.AddCommand(newHeaderCmd())
	return cmd
}

// load maps a dump into a fresh address space.
func load(cmd *cobra.Command, args []string) (memory.View, error) {
	contents, err := util.ReadInput(args, cmd.InOrStdin())
	if err != nil {
		return memory.View{}, err
	}
	space := memory.NewSpace()
	return space.View(space.Map(contents), uint64(len(contents)))
}
