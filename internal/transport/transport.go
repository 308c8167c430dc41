// Package transport defines the frame-in/frame-out boundary between the
// emulated MCU and the serial/radio link, per spec.md §6's "external
// collaborator" framing, and provides two concrete implementations: a BLE
// GATT peripheral (adapted from the teacher's central-role transport_ble.go)
// and an in-memory loopback used by integration tests.
package transport

import (
	"errors"

	"github.com/silvair/otaumcu/internal/protocol"
)

// ErrClosed is returned by Recv once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is the MCU-side frame boundary: Recv blocks for the next decoded
// frame from the peer, Send writes one frame out. Unlike the teacher's
// client-role Transport (request/response, synchronous per call), the MCU is
// the passive side of the link — frames arrive asynchronously and responses
// are not correlated to a specific request by the transport itself; that
// correlation is the Dispatcher/FSMs' job.
type Transport interface {
	Recv() (protocol.Frame, error)
	Send(op protocol.Opcode, payload []byte) error
	Close() error
}
