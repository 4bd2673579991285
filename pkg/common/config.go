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

package common

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	OPKERNEL_VERSION_MAJOR = 0
	OPKERNEL_VERSION_MINOR = 3
	OPKERNEL_VERSION_PATCH = 1

	OPKERNEL_VERSION = ((OPKERNEL_VERSION_MAJOR*1000)+OPKERNEL_VERSION_MINOR)*1000 +
		OPKERNEL_VERSION_PATCH
)

var OPKERNEL_VERSION_STRING = fmt.Sprintf(
	"%d.%d.%d",
	OPKERNEL_VERSION_MAJOR,
	OPKERNEL_VERSION_MINOR,
	OPKERNEL_VERSION_PATCH,
)

const (
	// DefaultPrivInfoSize leaves room for the comm stash at the head and the
	// header message at the tail of every private region.
	DefaultPrivInfoSize      = 256
	DefaultMaxAddrNum        = 4096
	DefaultRetryBudget       = 1000
	DefaultSendWaitSpinLimit = 1024
)

// Config carries the engine-wide knobs. The zero value is not usable, start
// from DefaultConfig.
type Config struct {
	// PrivInfoSize is the size of the private region attached to each buffer
	// allocated by the reference driver.
	PrivInfoSize uint32 `yaml:"privInfoSize"`
	// HardwareCopy enables the driver's hardware-assisted copy path.
	HardwareCopy bool `yaml:"hardwareCopy"`
	// MaxAddrNum bounds every element count read from a parameter block.
	MaxAddrNum uint32 `yaml:"maxAddrNum"`
	// DispatchRetryBudget is the number of re-invocations the dispatcher
	// grants a pending kernel before giving up.
	DispatchRetryBudget uint          `yaml:"dispatchRetryBudget"`
	DispatchRetryDelay  time.Duration `yaml:"dispatchRetryDelay"`
	// SendWaitSpinLimit bounds the synchronous wait of the update response.
	SendWaitSpinLimit uint `yaml:"sendWaitSpinLimit"`
	LogLevel          int  `yaml:"logLevel"`
}

func DefaultConfig() Config {
	return Config{
		PrivInfoSize:        DefaultPrivInfoSize,
		HardwareCopy:        true,
		MaxAddrNum:          DefaultMaxAddrNum,
		DispatchRetryBudget: DefaultRetryBudget,
		SendWaitSpinLimit:   DefaultSendWaitSpinLimit,
	}
}

// LoadConfig reads a yaml file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.MaxAddrNum == 0 {
		return Error(KParameterInvalid, "maxAddrNum must be positive")
	}
	if c.PrivInfoSize < MinPrivInfoSize {
		return Errorf(KParameterInvalid, "privInfoSize %d is smaller than %d", c.PrivInfoSize, MinPrivInfoSize)
	}
	if c.DispatchRetryBudget == 0 {
		return Error(KParameterInvalid, "dispatchRetryBudget must be positive")
	}
	if c.SendWaitSpinLimit == 0 {
		return Error(KParameterInvalid, "sendWaitSpinLimit must be positive")
	}
	return nil
}

// MinPrivInfoSize is the comm stash (24 bytes) plus the header message (64 bytes).
const MinPrivInfoSize = 24 + 64
