// SPDX-License-Identifier: EPL-2.0

package mux

import (
	"context"

	"github.com/looplab/fsm"
)

// State of a Writer.
type State string

const (
	StateWaitingFormats State = "waiting-formats"
	StateWriting        State = "writing"
	StateDraining       State = "draining"
	StateClosed         State = "closed"
)

const (
	evStart = "start"
	evDrain = "drain"
	evClose = "close"
)

func newStateMachine(onEnter func(State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateWaitingFormats),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateWaitingFormats)}, Dst: string(StateWriting)},
			{Name: evDrain, Src: []string{string(StateWriting)}, Dst: string(StateDraining)},
			{Name: evClose, Src: []string{
				string(StateWaitingFormats),
				string(StateWriting),
				string(StateDraining),
			}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Dst))
			},
		},
	)
}
