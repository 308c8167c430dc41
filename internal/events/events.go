// Package events defines the outward event sink the DFU and modem FSMs
// raise domain notifications through. spec.md §2/§4.5 describe events
// flowing "outward to an Event sink" without fixing its shape; this is that
// shape, one method per named event.
package events

import (
	"github.com/silvair/otaumcu/internal/dfu/dfustate"
	"github.com/silvair/otaumcu/internal/modem/modemstate"
)

// Sink receives best-effort domain notifications. Implementations must not
// block the caller for long: per spec.md §5 the core is single-threaded and
// these calls happen inline on the frame-processing path.
type Sink interface {
	// DFU transfer events.
	DFUStateChanged(new dfustate.State)
	DFUInitialized(firmwareSize int, firmwareSHA256 [32]byte, appData []byte, progress int)
	DFUPageStored(firmwareOffset int)
	DFUUpdateComplete()
	DFUFailed()
	DFUUnexpectedMessage(opcode uint8)

	// Modem lifecycle events.
	ModemStateChanged(new modemstate.State)
	ModemUnexpectedMessage(opcode uint8)
	ModemFirmwareVersion(version []byte)
	ModemDeviceUUID(uuid []byte)
	ModemMeshMessage(opcode int, command []byte)
}

// NopSink discards every event; useful as a zero-value default and in tests
// that only care about a subset of events via embedding.
type NopSink struct{}

func (NopSink) DFUStateChanged(dfustate.State)            {}
func (NopSink) DFUInitialized(int, [32]byte, []byte, int) {}
func (NopSink) DFUPageStored(int)                         {}
func (NopSink) DFUUpdateComplete()                        {}
func (NopSink) DFUFailed()                                {}
func (NopSink) DFUUnexpectedMessage(uint8)                {}
func (NopSink) ModemStateChanged(modemstate.State)        {}
func (NopSink) ModemUnexpectedMessage(uint8)              {}
func (NopSink) ModemFirmwareVersion([]byte)               {}
func (NopSink) ModemDeviceUUID([]byte)                    {}
func (NopSink) ModemMeshMessage(int, []byte)              {}

var _ Sink = NopSink{}
