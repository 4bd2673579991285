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

package types

import (
	"fmt"
	"strconv"
)

// Addr is an address in the device address space. Zero is the null address.
type Addr = uint64

// Handle identifies a buffer owned by the buffer-management driver.
type Handle = uint64

// ServiceHandle correlates a posted collective request with its response.
type ServiceHandle = uint64

// RequestHandle identifies an in-flight non-blocking response send.
type RequestHandle = uint64

type (
	ModelID  = uint32
	StreamID = uint32
	TaskID   = uint32
)

func NullAddr() Addr {
	return 0
}

func InvalidHandle() Handle {
	return 0
}

func HandleToString(h Handle) string {
	return fmt.Sprintf("b%016x", h)
}

func HandleFromString(h string) (Handle, error) {
	return parsePrefixed(h, 'b')
}

func AddrToString(addr Addr) string {
	return fmt.Sprintf("0x%016x", addr)
}

func ServiceHandleToString(h ServiceHandle) string {
	return fmt.Sprintf("h%016x", h)
}

func ServiceHandleFromString(h string) (ServiceHandle, error) {
	return parsePrefixed(h, 'h')
}

func parsePrefixed(s string, prefix byte) (uint64, error) {
	if len(s) < 2 || s[0] != prefix {
		return 0, fmt.Errorf("invalid identifier %q, expect prefix %q", s, prefix)
	}
	return strconv.ParseUint(s[1:], 16, 64)
}
