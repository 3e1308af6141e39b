// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"context"

	"github.com/looplab/fsm"
)

// State of a Session.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateConfigured   State = "configured"
	StateRunning      State = "running"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
)

const (
	evConfigure = "configure"
	evStart     = "start"
	evDrain     = "drain"
	evStop      = "stop"
)

func newStateMachine(onEnter func(State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateUnconfigured),
		fsm.Events{
			{Name: evConfigure, Src: []string{string(StateUnconfigured)}, Dst: string(StateConfigured)},
			{Name: evStart, Src: []string{string(StateConfigured)}, Dst: string(StateRunning)},
			{Name: evDrain, Src: []string{string(StateRunning)}, Dst: string(StateDraining)},
			{Name: evStop, Src: []string{
				string(StateUnconfigured),
				string(StateConfigured),
				string(StateRunning),
				string(StateDraining),
			}, Dst: string(StateStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Dst))
			},
		},
	)
}
