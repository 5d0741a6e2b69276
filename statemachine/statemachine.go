package statemachine

import (
	"net"

	"github.com/minmunui/network-lab/message"
)

// Event is one input to a protocol state: either a decoded datagram or a
// read timeout. Timeout events carry no packet.
type Event struct {
	Packet  *message.Packet
	From    net.Addr
	Timeout bool
}

// StateFn handles one event and returns the next state. A nil next state
// is terminal.
type StateFn func(Event) StateFn

type StateMachine struct {
	currentState StateFn
}

func New(initialState StateFn) *StateMachine {
	return &StateMachine{currentState: initialState}
}

// Transition feeds one event to the current state. It reports whether
// the machine can accept further events.
func (s *StateMachine) Transition(ev Event) bool {
	s.currentState = s.currentState(ev)
	return s.currentState != nil
}
