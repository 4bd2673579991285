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
package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/flags"
	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/inspect"
	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/kernels"
	"github.com/hicann/runtime-sub009/cmd/opkernelctl/commands/util"
	"github.com/hicann/runtime-sub009/pkg/common"
	"github.com/hicann/runtime-sub009/pkg/common/log"
)

var cmdLong = util.LongDesc(`
	opkernelctl is the command-line tool for working with the operator
	kernel engine. It lists the kernels the dispatcher resolves by name
	and decodes the binary records kernels exchange through buffers.`)

// NewRootCmd builds the opkernelctl command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opkernelctl [command]",
		Version:       common.OPKERNEL_VERSION_STRING,
		Short:         "opkernelctl is the command-line tool for the operator kernel engine.",
		Long:          cmdLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := flags.LoadConfig()
			if err != nil {
				return err
			}
			level := config.LogLevel
			if cmd.Flags().Changed("log-level") {
				level = flags.LogLevel
			}
			log.SetLogLevel(level)
			return nil
		},
	}
	flags.ApplyGlobalFlags(cmd)

	// disable completion command
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(kernels.NewKernelsCmd())
	cmd.AddCommand(inspect.NewInspectCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective engine configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := flags.LoadConfig()
			if err != nil {
				return err
			}
			if flags.Format == "json" {
				return util.NewOutput(nil, config).Print(cmd.OutOrStdout(), flags.Format)
			}
			content, err := yaml.Marshal(config)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}
