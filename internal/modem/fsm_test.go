package modem

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/silvair/otaumcu/internal/events"
	"github.com/silvair/otaumcu/internal/modem/modemstate"
	"github.com/silvair/otaumcu/internal/protocol"
)

type sentFrame struct {
	op      protocol.Opcode
	payload []byte
}

type fakeSender struct{ sent []sentFrame }

func (s *fakeSender) Send(op protocol.Opcode, payload []byte) {
	s.sent = append(s.sent, sentFrame{op: op, payload: payload})
}

type fakeSink struct {
	events.NopSink
	stateChanges []modemstate.State
	unexpected   []uint8
}

func (s *fakeSink) ModemStateChanged(new modemstate.State) {
	s.stateChanges = append(s.stateChanges, new)
}
func (s *fakeSink) ModemUnexpectedMessage(op uint8) { s.unexpected = append(s.unexpected, op) }

func TestModemFSM_FullLifecycle(t *testing.T) {
	sender := &fakeSender{}
	sink := &fakeSink{}
	f := NewFSM(sender, sink, []protocol.ModelDesc{{ModelID: 0x1001}}, nil)

	f.Start()
	assert.Equal(t, protocol.OpCurrentStateRequest, sender.sent[len(sender.sent)-1].op)

	f.HandleCurrentStateResponse(protocol.CurrentState(0)) // not Device/Node: unexpected -> Unknown again
	assert.Equal(t, modemstate.Unknown, f.State())

	// Re-drive as if the modem reports it needs device init.
	f.state = modemstate.InitDevice
	f.HandleInitDeviceEvent()
	assert.Equal(t, protocol.OpCreateInstancesRequest, sender.sent[len(sender.sent)-1].op)

	f.HandleCreateInstancesResponse()
	assert.Equal(t, modemstate.Device, f.State())

	f.HandleInitNodeEvent()
	assert.Equal(t, modemstate.InitNode, f.State())
	assert.Equal(t, protocol.OpStartNodeRequest, sender.sent[len(sender.sent)-1].op)

	f.HandleStartNodeResponse()
	assert.Equal(t, modemstate.Node, f.State())

	f.HandleFactoryResetEvent()
	assert.Equal(t, modemstate.InitDevice, f.State())
}

func TestModemFSM_PingPongEchoesPayload(t *testing.T) {
	sender := &fakeSender{}
	f := NewFSM(sender, events.NopSink{}, nil, nil)

	f.HandlePing([]byte("ping-payload"))

	last := sender.sent[len(sender.sent)-1]
	assert.Equal(t, protocol.OpPongResponse, last.op)
	assert.True(t, bytes.Equal([]byte("ping-payload"), last.payload))
}

func TestModemFSM_FatalErrorReturnsError(t *testing.T) {
	f := NewFSM(&fakeSender{}, events.NopSink{}, nil, nil)

	err := f.HandleError(protocol.ErrorNoLicenseForModelRegistration)
	assert.Error(t, err)

	err = f.HandleError(protocol.ErrorGeneric)
	assert.NoError(t, err)
}

func TestModemFSM_UnexpectedMessageDropsToUnknown(t *testing.T) {
	sink := &fakeSink{}
	f := NewFSM(&fakeSender{}, sink, nil, nil)
	f.state = modemstate.Node

	f.HandleInitDeviceEvent() // illegal in Node

	assert.Equal(t, modemstate.Unknown, f.State())
	assert.Len(t, sink.unexpected, 1)
}
