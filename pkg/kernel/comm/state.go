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

package comm

import (
	"fmt"

	"github.com/hicann/runtime-sub009/pkg/common"
)

// State is the progress of one request/response pair. Posted and later
// states are persisted in the stash so a re-invoked kernel can tell where
// the pair stands.
type State uint32

const (
	Idle State = iota
	AwaitingPost
	Posted
	AwaitingSend
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingPost:
		return "AwaitingPost"
	case Posted:
		return "Posted"
	case AwaitingSend:
		return "AwaitingSend"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Terminal reports whether no further event is expected for the pair.
func (s State) Terminal() bool {
	return s == Idle || s == Done || s == Failed
}

type Event int

const (
	EventPost Event = iota
	EventWouldBlock
	EventPosted
	EventSend
	EventCompleted
	EventFail
)

var transitions = map[State]map[Event]State{
	Idle:         {EventPost: AwaitingPost},
	AwaitingPost: {EventWouldBlock: AwaitingPost, EventPosted: Posted},
	Posted:       {EventSend: AwaitingSend},
	// a send that would block hands the pair back to Posted for a retry
	AwaitingSend: {EventCompleted: Done, EventWouldBlock: Posted},
}

// On applies e to s. Any hard failure moves to Failed from every state.
func (s State) On(e Event) (State, error) {
	if e == EventFail {
		return Failed, nil
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, common.Errorf(common.KInnerError, "invalid event %d in state %s", e, s)
}
