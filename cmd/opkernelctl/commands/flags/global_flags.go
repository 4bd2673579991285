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

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hicann/runtime-sub009/pkg/common"
)

// LogLevel is the verbosity of the command logger
var LogLevel int

// ConfigFile is the engine configuration to load, empty means defaults
var ConfigFile string

// Format is the output format of every command
var Format string

func ApplyGlobalFlags(cmd *cobra.Command) {
	applyGlobalFlags(cmd.PersistentFlags())
}

func applyGlobalFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&LogLevel, "log-level", "v", 0, "verbosity of the logger, V(n) lines show when n <= log-level")
	fs.StringVarP(&ConfigFile, "config", "c", "", "path of the engine configuration yaml")
	fs.StringVarP(&Format, "format", "o", "table", "the output format, one of table or json")
}

// LoadConfig returns the configuration named by --config, or the defaults.
func LoadConfig() (common.Config, error) {
	if ConfigFile == "" {
		return common.DefaultConfig(), nil
	}
	return common.LoadConfig(ConfigFile)
}
