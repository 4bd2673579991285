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

	"github.com/pkg/errors"
)

const (
	KOK                 = 0
	KParameterInvalid   = 1
	KInnerError         = 2
	KDriverError        = 3
	KSafeFunctionError  = 4
	KCommunicationError = 5
	KModelExitError     = 6
	KResourceExhausted  = 7
	KUnKnownError       = 255
)

var ErrCodes map[int]string

func init() {
	ErrCodes = make(map[int]string)

	ErrCodes[KOK] = "OK"
	ErrCodes[KParameterInvalid] = "ParameterInvalid"
	ErrCodes[KInnerError] = "InnerError"
	ErrCodes[KDriverError] = "DriverError"
	ErrCodes[KSafeFunctionError] = "SafeFunctionError"
	ErrCodes[KCommunicationError] = "CommunicationError"
	ErrCodes[KModelExitError] = "ModelExitError"
	ErrCodes[KResourceExhausted] = "ResourceExhausted"
	ErrCodes[KUnKnownError] = "UnKnownError"
}

// Status is the error type returned by every kernel and helper. Code is one
// of the K* constants above.
type Status struct {
	Code    int
	Message string
}

func (r *Status) Error() string {
	m := "UnknownError"
	if k, ok := ErrCodes[r.Code]; ok {
		m = k
	}
	return fmt.Sprintf("code: %v, message: %v: %+v", r.Code, m, r.Message)
}

func (r *Status) Wrap() error {
	return errors.WithStack(r)
}

func Error(code int, message string) error {
	err := &Status{code, message}
	return err.Wrap()
}

func Errorf(code int, format string, args ...any) error {
	return Error(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the status code carried by err. A nil error is KOK and an
// error that carries no Status is KUnKnownError.
func CodeOf(err error) int {
	if err == nil {
		return KOK
	}
	var status *Status
	if errors.As(err, &status) {
		return status.Code
	}
	return KUnKnownError
}

func IsCode(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}

func NullParam(name string) error {
	return Errorf(KParameterInvalid, "%s is null", name)
}
