// Package dispatcher implements spec.md §4.7: it parses one transport frame
// into a typed message and routes it by opcode family, DFU opcodes to the
// DFU FSM, everything else to the Modem FSM. Decode failures are logged and
// dropped; no error frame is ever emitted back to the peer.
package dispatcher

import (
	"log/slog"

	"github.com/silvair/otaumcu/internal/dfu"
	"github.com/silvair/otaumcu/internal/modem"
	"github.com/silvair/otaumcu/internal/protocol"
	"github.com/silvair/otaumcu/internal/transport"
)

// Dispatcher owns the single-threaded run loop described in spec.md §5: one
// transport producer delivers whole decoded frames here, and every FSM
// transition, Manager call, and Page Memory/NVM mutation runs inline on this
// goroutine.
type Dispatcher struct {
	t      transport.Transport
	dfuFSM *dfu.FSM
	modem  *modem.FSM
	logger *slog.Logger
}

// New constructs a Dispatcher wired to the two FSMs it routes between.
func New(t transport.Transport, dfuFSM *dfu.FSM, modemFSM *modem.FSM, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{t: t, dfuFSM: dfuFSM, modem: modemFSM, logger: logger}
}

// Run drives frames off the transport until it closes or returns a non-nil,
// non-ErrClosed error. Both FSMs' entry actions should already have been
// triggered via Start before calling Run.
func (d *Dispatcher) Run() error {
	for {
		frame, err := d.t.Recv()
		if err != nil {
			if err == transport.ErrClosed {
				return nil
			}
			return err
		}
		if err := d.Dispatch(frame); err != nil {
			return err
		}
	}
}

// Dispatch decodes and routes a single frame, per spec.md §4.7. Decode
// failures are logged and the frame is dropped, never surfaced here. The
// only error Dispatch returns is a *modem.FatalError (§4.6): the caller must
// terminate the process rather than keep dispatching.
func (d *Dispatcher) Dispatch(f protocol.Frame) error {
	if protocol.IsDfuOpcode(f.Opcode) {
		d.dispatchDFU(f)
		return nil
	}
	return d.dispatchModem(f)
}

func (d *Dispatcher) dispatchDFU(f protocol.Frame) {
	switch f.Opcode {
	case protocol.OpDfuInitRequest:
		req, err := protocol.DecodeDfuInitRequest(f.Payload)
		if err != nil {
			d.logDecodeError(f.Opcode, err)
			return
		}
		d.dfuFSM.HandleInitRequest(req)

	case protocol.OpDfuStatusRequest:
		d.dfuFSM.HandleStateRequest()

	case protocol.OpDfuPageCreateRequest:
		req, err := protocol.DecodeDfuPageCreateRequest(f.Payload)
		if err != nil {
			d.logDecodeError(f.Opcode, err)
			return
		}
		d.dfuFSM.HandlePageCreateRequest(req)

	case protocol.OpDfuWriteDataEvent:
		data, err := protocol.DecodeDfuWriteDataEvent(f.Payload)
		if err != nil {
			d.logDecodeError(f.Opcode, err)
			return
		}
		d.dfuFSM.HandleWriteDataEvent(data)

	case protocol.OpDfuPageStoreRequest:
		d.dfuFSM.HandlePageStoreRequest()

	case protocol.OpDfuStateResponse:
		status, err := protocol.DecodeDfuStateResponse(f.Payload)
		if err != nil {
			d.logDecodeError(f.Opcode, err)
			return
		}
		d.dfuFSM.HandleStateResponse(status)

	case protocol.OpDfuCancelResponse:
		d.dfuFSM.HandleCancelResponse()

	default:
		d.dfuFSM.HandleUnexpectedResponse(f.Opcode)
	}
}

func (d *Dispatcher) dispatchModem(f protocol.Frame) error {
	switch f.Opcode {
	case protocol.OpPingRequest:
		d.modem.HandlePing(f.Payload)

	case protocol.OpError:
		code, err := protocol.DecodeError(f.Payload)
		if err != nil {
			d.logDecodeError(f.Opcode, err)
			return nil
		}
		if handleErr := d.modem.HandleError(code); handleErr != nil {
			d.logger.Error("modem: fatal error received, terminating", "err", handleErr)
			return handleErr
		}

	case protocol.OpFirmwareVersionResponse:
		d.modem.HandleFirmwareVersionResponse(f.Payload)

	case protocol.OpDeviceUUIDResponse:
		d.modem.HandleDeviceUUIDResponse(f.Payload)

	case protocol.OpCurrentStateResponse:
		cur, err := protocol.DecodeCurrentStateResponse(f.Payload)
		if err != nil {
			d.logDecodeError(f.Opcode, err)
			return nil
		}
		d.modem.HandleCurrentStateResponse(cur)

	case protocol.OpInitDeviceEvent:
		d.modem.HandleInitDeviceEvent()

	case protocol.OpCreateInstancesResponse:
		d.modem.HandleCreateInstancesResponse()

	case protocol.OpInitNodeEvent:
		d.modem.HandleInitNodeEvent()

	case protocol.OpStartNodeResponse:
		d.modem.HandleStartNodeResponse()

	case protocol.OpFactoryResetEvent:
		d.modem.HandleFactoryResetEvent()

	case protocol.OpMeshMessageRequest:
		d.modem.HandleMeshMessageRequest(int(f.Opcode), f.Payload)

	default:
		d.logger.Debug("dispatcher: opcode ignored", "opcode", f.Opcode)
	}
	return nil
}

func (d *Dispatcher) logDecodeError(op protocol.Opcode, err error) {
	d.logger.Debug("dispatcher: decode failed, frame dropped", "opcode", op, "err", err)
}
