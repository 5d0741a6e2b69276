package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minmunui/network-lab/message"
)

func TestTransitionUntilTerminal(t *testing.T) {
	var seen []message.Kind
	var final StateFn
	final = func(ev Event) StateFn {
		seen = append(seen, ev.Packet.Kind)
		if ev.Packet.Kind == message.ACK {
			return nil
		}
		return final
	}
	sm := New(final)

	assert.True(t, sm.Transition(Event{Packet: message.NewFin(3)}))
	assert.True(t, sm.Transition(Event{Packet: message.NewNack([]uint32{1})}))
	assert.False(t, sm.Transition(Event{Packet: message.NewAck()}))
	assert.Equal(t, []message.Kind{message.FIN, message.NACK, message.ACK}, seen)
}

func TestTimeoutEventCarriesNoPacket(t *testing.T) {
	timedOut := false
	sm := New(func(ev Event) StateFn {
		timedOut = ev.Timeout
		return nil
	})
	sm.Transition(Event{Timeout: true})
	assert.True(t, timedOut)
}
