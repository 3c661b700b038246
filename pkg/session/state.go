package session

import (
	"context"

	"github.com/looplab/fsm"
)

type State string

const (
	Idle     State = "idle"
	Starting State = "starting"
	Running  State = "running"
	Stopping State = "stopping"
	Failed   State = "failed"
)

var states = []State{Idle, Starting, Running, Stopping, Failed}

const (
	evStart   = "start"
	evStarted = "started"
	evFail    = "fail"
	evStop    = "stop"
	evStopped = "stopped"
)

func newMachine(onEnter func(src, dst State)) *fsm.FSM {
	return fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: evStart, Src: []string{string(Idle), string(Failed)}, Dst: string(Starting)},
			{Name: evStarted, Src: []string{string(Starting)}, Dst: string(Running)},
			{Name: evFail, Src: []string{string(Starting), string(Running)}, Dst: string(Failed)},
			{Name: evStop, Src: []string{string(Starting), string(Running), string(Failed)}, Dst: string(Stopping)},
			{Name: evStopped, Src: []string{string(Stopping)}, Dst: string(Idle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}
