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
	"github.com/hicann/runtime-sub009/pkg/common/types"
	"github.com/hicann/runtime-sub009/pkg/tensor"
)

var headerLong = util.LongDesc(`
	Decode the header message stored at the tail of a private region dump.
	When the dump also starts with a communication stash, the stashed
	request is shown as well.`)

// StashInfo is the printable form of a communication stash.
type StashInfo struct {
	State         uint32 `json:"state"`
	ServiceHandle string `json:"serviceHandle"`
	Tag           int32  `json:"tag"`
	WorkerID      uint32 `json:"workerId"`
}

// HeaderInfo is the printable form of a header message.
type HeaderInfo struct {
	tensor.Header
	EndOfSequence bool       `json:"endOfSequence"`
	NullData      bool       `json:"nullData"`
	Stash         *StashInfo `json:"stash,omitempty"`
}

func newHeaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "header FILE",
		Short: "Decode the header message of a private region dump",
		Long:  headerLong,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := load(cmd, args)
			if err != nil {
				return err
			}
			info, err := decodePrivate(priv)
			if err != nil {
				return err
			}
			return headerOutput(info).Print(cmd.OutOrStdout(), flags.Format)
		},
	}
}

func decodePrivate(priv memory.View) (*HeaderInfo, error) {
	hv, err := tensor.HeaderView(priv)
	if err != nil {
		return nil, err
	}
	header, err := tensor.DecodeHeader(hv)
	if err != nil {
		return nil, err
	}
	info := &HeaderInfo{Header: *header, EndOfSequence: header.IsEndOfSequence(), NullData: header.IsNullData()}
	if priv.Len() < tensor.StashSize+tensor.HeadMsgSize {
		return info, nil
	}
	sv, err := tensor.StashView(priv)
	if err != nil {
		return nil, err
	}
	if stash, err := tensor.DecodeStash(sv); err == nil {
		info.Stash = &StashInfo{
			State:         stash.State,
			ServiceHandle: types.ServiceHandleToString(stash.ServiceHandle),
			Tag:           stash.Tag,
			WorkerID:      stash.WorkerID,
		}
	}
	return info, nil
}

func headerOutput(info *HeaderInfo) *util.Output {
	out := util.NewOutput([]string{"FIELD", "VALUE"}, info)
	out.Append("transId", strconv.FormatUint(info.TransID, 10)).
		Append("routeLabel", strconv.FormatUint(uint64(info.RouteLabel), 10)).
		Append("retCode", strconv.FormatInt(int64(info.RetCode), 10)).
		Append("startTime", strconv.FormatUint(info.StartTime, 10)).
		Append("endTime", strconv.FormatUint(info.EndTime, 10)).
		Append("endOfSequence", strconv.FormatBool(info.EndOfSequence)).
		Append("nullData", strconv.FormatBool(info.NullData)).
		Append("msgType", strconv.FormatUint(uint64(info.MsgType), 10)).
		Append("workerId", strconv.FormatUint(uint64(info.WorkerID), 10)).
		Append("stepId", strconv.FormatUint(uint64(info.StepID), 10))
	if info.Stash != nil {
		out.Append("stash", fmt.Sprintf("state %d, service %s, tag %d, worker %d",
			info.Stash.State, info.Stash.ServiceHandle, info.Stash.Tag, info.Stash.WorkerID))
	}
	return out
}
