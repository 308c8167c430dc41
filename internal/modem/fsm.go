// Package modem implements the five-state modem-lifecycle FSM (spec.md
// §4.6) that establishes the link before DFU can proceed. Grounded on
// uart_logic/uart_fsm_mgr.py and its states/uart_state_*.py, translated into
// the same tagged-variant style as internal/dfu.
package modem

import (
	"fmt"
	"log/slog"

	"github.com/silvair/otaumcu/internal/events"
	"github.com/silvair/otaumcu/internal/modem/modemstate"
	"github.com/silvair/otaumcu/internal/protocol"
)

// Sender is the Modem FSM's outward-facing message channel.
type Sender interface {
	Send(op protocol.Opcode, payload []byte)
}

// FatalError is returned by Dispatch when a fatal Error frame (no license /
// no resources for model registration) was received; the caller must
// terminate the process (spec.md §4.6, §7).
type FatalError struct {
	Code protocol.ErrorCode
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("modem: fatal error code 0x%02x", uint8(e.Code))
}

// FSM is the modem-lifecycle state machine.
type FSM struct {
	state         modemstate.State
	sender        Sender
	sink          events.Sink
	logger        *slog.Logger
	defaultModels []protocol.ModelDesc
}

// NewFSM constructs an FSM starting in Unknown.
func NewFSM(sender Sender, sink events.Sink, defaultModels []protocol.ModelDesc, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{state: modemstate.Unknown, sender: sender, sink: sink, defaultModels: defaultModels, logger: logger}
}

// State returns the current state.
func (f *FSM) State() modemstate.State { return f.state }

// Start runs Unknown's entry action.
func (f *FSM) Start() {
	f.onEnter(f.state)
}

func (f *FSM) changeState(next modemstate.State) {
	f.state = next
	f.sink.ModemStateChanged(next)
	f.onEnter(next)
}

func (f *FSM) onEnter(s modemstate.State) {
	switch s {
	case modemstate.Unknown:
		f.sender.Send(protocol.OpCurrentStateRequest, nil)
	case modemstate.InitNode:
		f.sender.Send(protocol.OpStartNodeRequest, nil)
	}
}

// HandlePing answers a PingRequest with a PongResponse echoing the payload,
// valid in every state.
func (f *FSM) HandlePing(payload []byte) {
	f.sender.Send(protocol.OpPongResponse, payload)
}

// HandleError logs every Error frame; the two fatal variants also return a
// *FatalError the caller must act on by terminating the process.
func (f *FSM) HandleError(code protocol.ErrorCode) error {
	f.logger.Warn("modem: error frame received", "code", uint8(code))
	if code.IsFatal() {
		return &FatalError{Code: code}
	}
	return nil
}

// HandleFirmwareVersionResponse and HandleDeviceUUIDResponse just surface
// events; they never change state.
func (f *FSM) HandleFirmwareVersionResponse(version []byte) { f.sink.ModemFirmwareVersion(version) }
func (f *FSM) HandleDeviceUUIDResponse(uuid []byte)          { f.sink.ModemDeviceUUID(uuid) }

// HandleCurrentStateResponse picks the real starting state out of Unknown.
func (f *FSM) HandleCurrentStateResponse(cur protocol.CurrentState) {
	if f.state != modemstate.Unknown {
		return
	}
	switch cur {
	case protocol.CurrentStateDevice:
		f.changeState(modemstate.Device)
	case protocol.CurrentStateNode:
		f.changeState(modemstate.Node)
	default:
		f.unexpected(protocol.OpCurrentStateResponse)
	}
}

// HandleInitDeviceEvent handles InitDeviceEvent in the InitDevice state:
// request creation of the default model instances.
func (f *FSM) HandleInitDeviceEvent() {
	if f.state != modemstate.InitDevice {
		f.unexpected(protocol.OpInitDeviceEvent)
		return
	}
	f.sender.Send(protocol.OpCreateInstancesRequest, protocol.EncodeCreateInstancesRequest(f.defaultModels))
}

// HandleCreateInstancesResponse transitions InitDevice -> Device.
func (f *FSM) HandleCreateInstancesResponse() {
	if f.state != modemstate.InitDevice {
		f.unexpected(protocol.OpCreateInstancesResponse)
		return
	}
	f.changeState(modemstate.Device)
}

// HandleInitNodeEvent transitions Device -> InitNode (entry sends
// StartNodeRequest).
func (f *FSM) HandleInitNodeEvent() {
	if f.state != modemstate.Device {
		f.unexpected(protocol.OpInitNodeEvent)
		return
	}
	f.changeState(modemstate.InitNode)
}

// HandleStartNodeResponse transitions InitNode -> Node.
func (f *FSM) HandleStartNodeResponse() {
	if f.state != modemstate.InitNode {
		f.unexpected(protocol.OpStartNodeResponse)
		return
	}
	f.changeState(modemstate.Node)
}

// HandleFactoryResetEvent transitions Node -> InitDevice.
func (f *FSM) HandleFactoryResetEvent() {
	if f.state != modemstate.Node {
		f.unexpected(protocol.OpFactoryResetEvent)
		return
	}
	f.changeState(modemstate.InitDevice)
}

// HandleMeshMessageRequest surfaces mesh traffic as an event, valid only in
// Node.
func (f *FSM) HandleMeshMessageRequest(opcode int, command []byte) {
	if f.state != modemstate.Node {
		f.unexpected(protocol.OpMeshMessageRequest)
		return
	}
	f.sink.ModemMeshMessage(opcode, command)
}

// unexpected raises unexpected_message and drops to Unknown, per spec.md
// §4.6: "Frames that should never arrive at the MCU in a given state raise
// an unexpected_message event and drop to Unknown."
func (f *FSM) unexpected(opcode protocol.Opcode) {
	f.sink.ModemUnexpectedMessage(uint8(opcode))
	f.changeState(modemstate.Unknown)
}
