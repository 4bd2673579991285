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
package util

import (
	"io"
	"slices"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// ValidOutputFormats are the valid output formats
var ValidOutputFormats = []string{"table", "json"}

// Output renders one result either as a table of rows or as the json
// encoding of value.
type Output struct {
	headers []string
	rows    [][]string
	value   any
}

func NewOutput(headers []string, value any) *Output {
	return &Output{headers: headers, value: value}
}

func (o *Output) Append(row ...string) *Output {
	o.rows = append(o.rows, row)
	return o
}

func (o *Output) Print(w io.Writer, format string) error {
	if !slices.Contains(ValidOutputFormats, format) {
		return errors.Errorf("invalid output format: %s", format)
	}
	if format == "json" {
		return o.formatAsJson(w)
	}
	o.formatAsTable(w)
	return nil
}

func (o *Output) formatAsJson(w io.Writer) error {
	content, err := json.MarshalIndent(o.value, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal the output")
	}
	_, err = w.Write(append(content, '\n'))
	return err
}

func (o *Output) formatAsTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(o.headers)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(o.rows)
	table.Render()
}
