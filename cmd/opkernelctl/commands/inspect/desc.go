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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/flags"
	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/util"
	"github.com/hicann/runtime-sub009/pkg/common/memory"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

var descExample = util.Examples(`
	# show the descriptor fields
	opkernelctl inspect desc buffer.bin

	# also decode up to 8 payload elements
	opkernelctl inspect desc buffer.bin --values --max-values 8`)

// DescriptorInfo is the printable form of one tensor descriptor.
type DescriptorInfo struct {
	Offset         uint64  `json:"offset"`
	DataAddr       string  `json:"dataAddr"`
	DataOffsetSize int64   `json:"dataOffsetSize"`
	DType          string  `json:"dtype"`
	Shape          []int64 `json:"shape"`
	OriginalShape  []int64 `json:"originalShape"`
	Format         int64   `json:"format"`
	SubFormat      int64   `json:"subFormat"`
	DataSize       uint64  `json:"dataSize"`
	Values         []any   `json:"values,omitempty"`
}

func newDescCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "desc FILE",
		Short:   "Decode the tensor descriptor at the head of a buffer dump",
		Example: descExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := load(cmd, args)
			if err != nil {
				return err
			}
			info, err := describe(buf, 0, flags.ShowValues, flags.MaxValues)
			if err != nil {
				return err
			}
			return descOutput(info).Print(cmd.OutOrStdout(), flags.Format)
		},
	}
	flags.ApplyDescOpts(cmd)
	return cmd
}

// describe decodes the record at the head of rec, offset is its position
// inside the dump.
func describe(rec memory.View, offset uint64, values bool, maxValues int) (*DescriptorInfo, error) {
	desc, err := tensor.DecodeDescriptor(rec)
	if err != nil {
		return nil, err
	}
	info := &DescriptorInfo{
		Offset:         offset,
		DataAddr:       fmt.Sprintf("%#x", desc.DataAddr),
		DataOffsetSize: desc.DataOffsetSize,
		DType:          desc.DType.String(),
		Shape:          desc.Shape,
		OriginalShape:  desc.OriginalShape,
		Format:         desc.Format,
		SubFormat:      desc.SubFormat,
		DataSize:       desc.DataSize,
	}
	if !values {
		return info, nil
	}
	payload, err := rec.Slice(tensor.DescriptorSize, desc.DataSize)
	if err != nil {
		return nil, err
	}
	n := desc.ElementCount()
	if maxValues >= 0 && n > uint64(maxValues) {
		n = uint64(maxValues)
	}
	if info.Values, err = decodeValues(payload, desc.DType, n); err != nil {
		return nil, err
	}
	return info, nil
}

func descOutput(infos ...*DescriptorInfo) *util.Output {
	var value any = infos
	if len(infos) == 1 {
		value = infos[0]
	}
	out := util.NewOutput([]string{"OFFSET", "DTYPE", "SHAPE", "ORIGINAL SHAPE", "DATA SIZE", "VALUES"}, value)
	for _, info := range infos {
		values := ""
		if info.Values != nil {
			values = fmt.Sprint(info.Values)
		}
		out.Append(
			strconv.FormatUint(info.Offset, 10),
			info.DType,
			fmt.Sprint(info.Shape),
			fmt.Sprint(info.OriginalShape),
			strconv.FormatUint(info.DataSize, 10),
			values,
		)
	}
	return out
}
