// Package protocol implements the octet-accurate OTAU wire frames: one-byte
// opcode, opcode-specific payload. Framing (where one frame ends and the next
// begins) is the transport's responsibility; this package only encodes and
// decodes the payload of a single already-delimited frame.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies the kind of frame crossing the serial link.
type Opcode uint8

// DFU family opcodes. These are routed by the Dispatcher to the DFU FSM.
const (
	OpDfuInitRequest       Opcode = 0x40
	OpDfuInitResponse      Opcode = 0x41
	OpDfuStatusRequest     Opcode = 0x42
	OpDfuStatusResponse    Opcode = 0x43
	OpDfuPageCreateRequest Opcode = 0x44
	OpDfuPageCreateResp    Opcode = 0x45
	OpDfuWriteDataEvent    Opcode = 0x46
	OpDfuPageStoreRequest  Opcode = 0x47
	OpDfuPageStoreResponse Opcode = 0x48
	OpDfuStateRequest      Opcode = 0x49
	OpDfuStateResponse     Opcode = 0x4A
	OpDfuCancelRequest     Opcode = 0x4B
	OpDfuCancelResponse    Opcode = 0x4C
)

// IsDfuOpcode reports whether op belongs to the DFU family and therefore
// routes to the DFU FSM rather than the modem FSM.
func IsDfuOpcode(op Opcode) bool {
	return op >= OpDfuInitRequest && op <= OpDfuCancelResponse
}

// Status is the protocol status code carried in DFU response frames.
type Status uint8

const (
	StatusSuccess                    Status = 0x00
	StatusInvalidObject              Status = 0x01
	StatusInsufficientResources      Status = 0x02
	StatusOperationNotPermitted      Status = 0x03
	StatusFirmwareSuccessfullyUpdate Status = 0x04
)

// DfuStateCheckStatus is carried by DfuStateResponse, distinct from Status:
// it answers "is the peer mid-transfer", not a request outcome.
type DfuStateCheckStatus uint8

const (
	DfuStateNotInProgress DfuStateCheckStatus = 0x00
	DfuStateInProgress    DfuStateCheckStatus = 0x01
)

// Frame is a decoded opcode plus its raw payload bytes.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// ErrInvalidOpcode/ErrInvalidLen mirror the original dispatcher's two silent-drop
// decode failures (InvalidOpcode, InvalidLen): logged and dropped, never
// surfaced to the peer as an error frame.
var (
	ErrInvalidOpcode = fmt.Errorf("protocol: invalid opcode")
	ErrInvalidLen    = fmt.Errorf("protocol: invalid length")
)

// DfuInitRequest is the peer's request to begin a firmware transfer.
type DfuInitRequest struct {
	FirmwareSize   uint32
	FirmwareSHA256 [32]byte
	AppData        []byte
}

// DecodeDfuInitRequest parses the DfuInitRequest payload:
// firmware_size:u32, firmware_sha256:32B, app_data_length:u8, app_data:bytes
func DecodeDfuInitRequest(payload []byte) (DfuInitRequest, error) {
	const headerLen = 4 + 32 + 1
	if len(payload) < headerLen {
		return DfuInitRequest{}, ErrInvalidLen
	}

	var req DfuInitRequest
	req.FirmwareSize = binary.BigEndian.Uint32(payload[0:4])
	copy(req.FirmwareSHA256[:], payload[4:36])

	appDataLen := int(payload[36])
	rest := payload[37:]
	if len(rest) != appDataLen {
		return DfuInitRequest{}, ErrInvalidLen
	}

	req.AppData = append([]byte(nil), rest...)
	return req, nil
}

// EncodeDfuInitResponse encodes status:u8.
func EncodeDfuInitResponse(status Status) []byte {
	return []byte{byte(status)}
}

// DfuStatusResponse carries the live transfer offset and CRC.
type DfuStatusResponse struct {
	Status            Status
	SupportedPageSize uint16
	FirmwareOffset    uint32
	FirmwareCRC       uint32
}

// EncodeDfuStatusResponse encodes status:u8, supported_page_size:u16,
// firmware_offset:u32, firmware_crc:u32.
func EncodeDfuStatusResponse(r DfuStatusResponse) []byte {
	buf := make([]byte, 1+2+4+4)
	buf[0] = byte(r.Status)
	binary.BigEndian.PutUint16(buf[1:3], r.SupportedPageSize)
	binary.BigEndian.PutUint32(buf[3:7], r.FirmwareOffset)
	binary.BigEndian.PutUint32(buf[7:11], r.FirmwareCRC)
	return buf
}

// DfuPageCreateRequest asks the device to accept a new page of requested size.
type DfuPageCreateRequest struct {
	RequestedPageSize uint16
}

// DecodeDfuPageCreateRequest parses requested_page_size:u16.
func DecodeDfuPageCreateRequest(payload []byte) (DfuPageCreateRequest, error) {
	if len(payload) != 2 {
		return DfuPageCreateRequest{}, ErrInvalidLen
	}
	return DfuPageCreateRequest{RequestedPageSize: binary.BigEndian.Uint16(payload)}, nil
}

// EncodeDfuPageCreateResponse encodes status:u8.
func EncodeDfuPageCreateResponse(status Status) []byte {
	return []byte{byte(status)}
}

// DecodeDfuWriteDataEvent parses data_len:u8, data:bytes.
func DecodeDfuWriteDataEvent(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, ErrInvalidLen
	}
	dataLen := int(payload[0])
	rest := payload[1:]
	if len(rest) != dataLen {
		return nil, ErrInvalidLen
	}
	return append([]byte(nil), rest...), nil
}

// EncodeDfuPageStoreResponse encodes status:u8.
func EncodeDfuPageStoreResponse(status Status) []byte {
	return []byte{byte(status)}
}

// DecodeDfuStateResponse parses status:u8 (InProgress|NotInProgress).
func DecodeDfuStateResponse(payload []byte) (DfuStateCheckStatus, error) {
	if len(payload) != 1 {
		return 0, ErrInvalidLen
	}
	return DfuStateCheckStatus(payload[0]), nil
}
