package protocol

// Modem-lifecycle opcodes. Everything that is not a DFU opcode routes here.
// Payload shapes for most of these are owned by the modem's peripheral
// states (ping/pong echo, version/uuid reporting, mesh passthrough) and are
// treated as opaque byte blobs by the core; only the handful the Modem FSM
// branches on (§4.6) get typed payloads below.
const (
	OpPingRequest             Opcode = 0x01
	OpPongResponse            Opcode = 0x02
	OpInitDeviceEvent         Opcode = 0x03
	OpCreateInstancesRequest  Opcode = 0x04
	OpCreateInstancesResponse Opcode = 0x05
	OpInitNodeEvent           Opcode = 0x06
	OpStartNodeRequest        Opcode = 0x07
	OpStartNodeResponse       Opcode = 0x08
	OpFactoryResetEvent       Opcode = 0x09
	OpFactoryResetRequest     Opcode = 0x0A
	OpFactoryResetResponse    Opcode = 0x0B
	OpCurrentStateRequest     Opcode = 0x0C
	OpCurrentStateResponse    Opcode = 0x0D
	OpError                   Opcode = 0x0E
	OpFirmwareVersionRequest  Opcode = 0x0F
	OpFirmwareVersionResponse Opcode = 0x10
	OpDeviceUUIDRequest       Opcode = 0x11
	OpDeviceUUIDResponse      Opcode = 0x12
	OpAttentionEvent          Opcode = 0x13
	OpSensorUpdateRequest     Opcode = 0x14
	OpSensorUpdateResponse    Opcode = 0x15
	OpSoftResetRequest        Opcode = 0x16
	OpSoftResetResponse       Opcode = 0x17
	OpMeshMessageRequest      Opcode = 0x18
	OpMeshMessageResponse     Opcode = 0x19
)

// ErrorCode identifies the reason carried by an Error frame. Two variants
// are fatal to the emulated MCU (§4.6): registering a model the device has
// no license for, and running out of resources to register one.
type ErrorCode uint8

const (
	ErrorNoLicenseForModelRegistration   ErrorCode = 0x01
	ErrorNoResourcesForModelRegistration ErrorCode = 0x02
	ErrorGeneric                         ErrorCode = 0xFF
)

// IsFatal reports whether e should terminate the process per §4.6.
func (e ErrorCode) IsFatal() bool {
	return e == ErrorNoLicenseForModelRegistration || e == ErrorNoResourcesForModelRegistration
}

// CurrentState is the modem-reported lifecycle state used to pick the Modem
// FSM's real starting state out of Unknown.
type CurrentState uint8

const (
	CurrentStateDevice CurrentState = 0x01
	CurrentStateNode   CurrentState = 0x02
)

// ModelDesc is one entry of the default_models list the device registers
// when entering InitDevice.
type ModelDesc struct {
	ModelID uint16
}

// DecodeCurrentStateResponse parses a single status byte.
func DecodeCurrentStateResponse(payload []byte) (CurrentState, error) {
	if len(payload) != 1 {
		return 0, ErrInvalidLen
	}
	return CurrentState(payload[0]), nil
}

// DecodeError parses a single error-code byte.
func DecodeError(payload []byte) (ErrorCode, error) {
	if len(payload) != 1 {
		return 0, ErrInvalidLen
	}
	return ErrorCode(payload[0]), nil
}

// EncodeCreateInstancesRequest packs the model IDs to register.
func EncodeCreateInstancesRequest(models []ModelDesc) []byte {
	buf := make([]byte, 0, len(models)*2)
	for _, m := range models {
		buf = append(buf, byte(m.ModelID>>8), byte(m.ModelID))
	}
	return buf
}
