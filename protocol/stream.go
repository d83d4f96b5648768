package protocol

import (
	"sync"

	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

// StreamState tracks one side's telemetry stream: Stopped -> Starting ->
// Running (confirmed by the first matching telemetry frame) -> Stopped.
type StreamState int

const (
	StreamStopped StreamState = iota
	StreamStarting
	StreamRunning
)

func (s StreamState) String() string {
	switch s {
	case StreamStarting:
		return "starting"
	case StreamRunning:
		return "running"
	}
	return "stopped"
}

// streamSet enforces the device constraint that the two stream sides are
// mutually exclusive: at most one side is ever non-stopped.
type streamSet struct {
	mu    sync.Mutex
	state [2]StreamState
}

// needsStop reports whether the other side must be stopped before starting
// the given one.
func (ss *streamSet) needsStop(side models.Side) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state[other(side)] != StreamStopped
}

// markStarting moves the side to Starting after the other one is stopped.
func (ss *streamSet) markStarting(side models.Side) {
	ss.mu.Lock()
	ss.state[other(side)] = StreamStopped
	ss.state[side&1] = StreamStarting
	ss.mu.Unlock()
}

// confirm promotes Starting to Running on the first matching telemetry
// frame.
func (ss *streamSet) confirm(side models.Side) {
	ss.mu.Lock()
	if ss.state[side&1] == StreamStarting {
		ss.state[side&1] = StreamRunning
	}
	ss.mu.Unlock()
}

// stopAll returns both sides to Stopped.
func (ss *streamSet) stopAll() {
	ss.mu.Lock()
	ss.state[0] = StreamStopped
	ss.state[1] = StreamStopped
	ss.mu.Unlock()
}

// anyActive reports whether a stream is starting or running.
func (ss *streamSet) anyActive() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state[0] != StreamStopped || ss.state[1] != StreamStopped
}

// get returns one side's state.
func (ss *streamSet) get(side models.Side) StreamState {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state[side&1]
}

func other(side models.Side) models.Side {
	if side == models.SideLeft {
		return models.SideRight
	}
	return models.SideLeft
}
