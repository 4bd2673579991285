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

	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/flags"
	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/util"
	"github.com/hicann/runtime-sub009/pkg/common/log"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

var fusionLong = util.LongDesc(`
	Walk the (descriptor, payload) records packed in a fused buffer up to
	the record at --index, the way the zero-copy and dynamic output
	kernels locate them, and print every record passed on the way.`)

func newFusionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fusion FILE",
		Short: "Locate one record inside a fused buffer dump",
		Long:  fusionLong,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := load(cmd, args)
			if err != nil {
				return err
			}
			infos, err := walk(buf, flags.FusionIndex, flags.ShowValues, flags.MaxValues)
			if err != nil {
				return err
			}
			return descOutput(infos...).Print(cmd.OutOrStdout(), flags.Format)
		},
	}
	flags.ApplyFusionOpts(cmd)
	flags.ApplyDescOpts(cmd)
	return cmd
}

func walk(buf memory.View, target uint32, values bool, maxValues int) ([]*DescriptorInfo, error) {
	cursor := tensor.NewFusionCursor(buf.Len())
	infos := make([]*DescriptorInfo, 0, target+1)
	for i := uint32(0); i <= target; i++ {
		rec, err := tensor.AdvanceFusionCursor(cursor, i, buf)
		if err != nil {
			return nil, err
		}
		log.V(1).Info("fusion record located", "index", i, "offset", cursor.Offset)
		info, err := describe(rec, cursor.Offset, values, maxValues)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
