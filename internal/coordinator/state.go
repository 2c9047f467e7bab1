package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
)

// NetworkState is the coordinator lifecycle state.
type NetworkState int32

const (
	InitFail NetworkState = iota
	InitFormat
	InitMax
	InitSuccessful
	Running
	PermitJoin
	DeviceJoined
	DeviceInterviewing
	FactoryReset
)

var stateNames = [...]string{
	InitFail:           "init_fail",
	InitFormat:         "init_format",
	InitMax:            "init_max",
	InitSuccessful:     "init_successful",
	Running:            "running",
	PermitJoin:         "permit_join",
	DeviceJoined:       "device_joined",
	DeviceInterviewing: "device_interviewing",
	FactoryReset:       "factory_reset",
}

func (s NetworkState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Initializing reports whether s is one of the init states.
func (s NetworkState) Initializing() bool {
	return s == InitFail || s == InitFormat || s == InitMax
}

var ErrInvalidTransition = errors.New("coordinator: invalid state transition")

var initTargets = []NetworkState{InitSuccessful, InitFail, InitFormat, InitMax, FactoryReset}

var transitions = map[NetworkState][]NetworkState{
	InitFail:           initTargets,
	InitFormat:         initTargets,
	InitMax:            initTargets,
	InitSuccessful:     {Running},
	Running:            {PermitJoin, DeviceJoined, FactoryReset, InitFail},
	PermitJoin:         {Running, DeviceJoined, FactoryReset, InitFail},
	DeviceJoined:       {DeviceInterviewing, Running, PermitJoin, FactoryReset, InitFail},
	DeviceInterviewing: {Running, FactoryReset, InitFail},
	FactoryReset:       {InitFormat, InitFail},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to NetworkState) bool {
	return slices.Contains(transitions[from], to)
}

// StateMachine holds the authoritative NetworkState. Reads are safe from any
// goroutine; Transition must only be called by the network loop. Other loops
// use Request.
type StateMachine struct {
	state    atomic.Int32
	requests chan NetworkState
	onChange func(from, to NetworkState)
	logger   *slog.Logger
}

// NewStateMachine returns a machine in the initial state.
func NewStateMachine(initial NetworkState, logger *slog.Logger) *StateMachine {
	m := &StateMachine{
		requests: make(chan NetworkState, 16),
		logger:   logger,
	}
	m.state.Store(int32(initial))
	return m
}

// OnChange registers a callback invoked after every applied transition.
// Set it before the loops start.
func (m *StateMachine) OnChange(fn func(from, to NetworkState)) { m.onChange = fn }

// State returns the current state.
func (m *StateMachine) State() NetworkState {
	return NetworkState(m.state.Load())
}

// Transition moves to state to, or returns ErrInvalidTransition.
func (m *StateMachine) Transition(to NetworkState) error {
	from := m.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state.Store(int32(to))
	m.logger.Info("network state", "from", from.String(), "to", to.String())
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}

// Request asks the network loop to apply a transition between steps.
// Returns false when the request buffer is full.
func (m *StateMachine) Request(to NetworkState) bool {
	select {
	case m.requests <- to:
		return true
	default:
		m.logger.Warn("state request dropped", "to", to.String())
		return false
	}
}

// ApplyRequests applies pending requests in order. Invalid ones are logged
// and skipped.
func (m *StateMachine) ApplyRequests() {
	for {
		select {
		case to := <-m.requests:
			if err := m.Transition(to); err != nil {
				m.logger.Debug("state request rejected", "err", err)
			}
		default:
			return
		}
	}
}
