package dfu

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvair/otaumcu/internal/dfu/dfustate"
	"github.com/silvair/otaumcu/internal/events"
	"github.com/silvair/otaumcu/internal/faults"
	"github.com/silvair/otaumcu/internal/nvm"
	"github.com/silvair/otaumcu/internal/pagemem"
	"github.com/silvair/otaumcu/internal/protocol"
)

type sentFrame struct {
	op      protocol.Opcode
	payload []byte
}

type fakeSender struct {
	sent []sentFrame
}

func (s *fakeSender) Send(op protocol.Opcode, payload []byte) {
	s.sent = append(s.sent, sentFrame{op: op, payload: payload})
}

func (s *fakeSender) last() sentFrame {
	if len(s.sent) == 0 {
		return sentFrame{}
	}
	return s.sent[len(s.sent)-1]
}

// lastOf returns the most recent frame sent with opcode op.
func (s *fakeSender) lastOf(op protocol.Opcode) sentFrame {
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].op == op {
			return s.sent[i]
		}
	}
	return sentFrame{}
}

type fakeSink struct {
	events.NopSink
	stateChanges   []dfustate.State
	initializedN   int
	pageStoredN    int
	updateComplete int
	failedN        int
}

func (s *fakeSink) DFUStateChanged(new dfustate.State) { s.stateChanges = append(s.stateChanges, new) }
func (s *fakeSink) DFUInitialized(int, [32]byte, []byte, int) { s.initializedN++ }
func (s *fakeSink) DFUPageStored(int)                         { s.pageStoredN++ }
func (s *fakeSink) DFUUpdateComplete()                        { s.updateComplete++ }
func (s *fakeSink) DFUFailed()                                { s.failedN++ }

type harness struct {
	sender   *fakeSender
	sink     *fakeSink
	mem      *pagemem.Memory
	nvm      *nvm.Store
	registry *faults.Registry
	manager  *Manager
	fsm      *FSM
}

func newHarness(t *testing.T, pageSize, maxImage int) *harness {
	t.Helper()
	dir := t.TempDir()

	sender := &fakeSender{}
	sink := &fakeSink{}
	mem := pagemem.New(pagemem.Config{
		AppDataPath:       filepath.Join(dir, "app_data"),
		FirmwarePath:      filepath.Join(dir, "firmware"),
		SHA256Path:        filepath.Join(dir, "sha256"),
		SupportedPageSize: pageSize,
		MaxImageSize:      maxImage,
	}, nil)
	nvmStore := nvm.Open(filepath.Join(dir, "nvm.json"), nil)
	registry := faults.NewRegistry(nil)

	manager := NewManager(sender, sink, mem, nvmStore, registry, nil, nil)
	fsm := NewFSM(manager, manager.InitialState())

	return &harness{sender: sender, sink: sink, mem: mem, nvm: nvmStore, registry: registry, manager: manager, fsm: fsm}
}

// initRequest declares firmware's byte-reversed SHA-256, the form
// pagemem.CalcFirmwareSHA256 returns and PageStore compares against.
func initRequest(firmware []byte) protocol.DfuInitRequest {
	digest := sha256.Sum256(firmware)
	var reversed [32]byte
	for i := range digest {
		reversed[i] = digest[len(digest)-1-i]
	}
	return protocol.DfuInitRequest{
		FirmwareSize:   uint32(len(firmware)),
		FirmwareSHA256: reversed,
		AppData:        nil,
	}
}

func driveHappyPath(t *testing.T, h *harness, firmware []byte, pageSize int) {
	t.Helper()
	h.fsm.Start()
	h.fsm.HandleInitRequest(initRequest(firmware))
	require.Equal(t, dfustate.Upload, h.fsm.State())

	for off := 0; off < len(firmware); off += pageSize {
		end := off + pageSize
		if end > len(firmware) {
			end = len(firmware)
		}
		h.fsm.HandlePageCreateRequest(protocol.DfuPageCreateRequest{RequestedPageSize: uint16(end - off)})
		require.Equal(t, dfustate.UploadPage, h.fsm.State())

		chunk := firmware[off:end]
		for i := 0; i < len(chunk); i += 4 {
			stop := i + 4
			if stop > len(chunk) {
				stop = len(chunk)
			}
			h.fsm.HandleWriteDataEvent(chunk[i:stop])
		}

		h.fsm.HandlePageStoreRequest()
	}
}

func TestHappyPath(t *testing.T) {
	firmware := make([]byte, 160)
	for i := range firmware {
		firmware[i] = byte(i)
	}

	h := newHarness(t, 16, 0)
	driveHappyPath(t, h, firmware, 16)

	assert.Equal(t, dfustate.Standby, h.fsm.State())
	assert.Equal(t, 1, h.sink.updateComplete)
	assert.Equal(t, 0, h.sink.failedN)
	assert.Equal(t, 160, h.mem.FirmwareOffset())
	// Re-entering Standby sends a DfuStateRequest after the final response.
	store := h.sender.lastOf(protocol.OpDfuPageStoreResponse)
	assert.Equal(t, protocol.OpDfuPageStoreResponse, store.op)
	assert.Equal(t, protocol.StatusFirmwareSuccessfullyUpdate, protocol.Status(store.payload[0]))
}

func TestResume(t *testing.T) {
	firmware := make([]byte, 160)
	for i := range firmware {
		firmware[i] = byte(i)
	}

	dir := t.TempDir()
	build := func() *harness {
		sender := &fakeSender{}
		sink := &fakeSink{}
		mem := pagemem.New(pagemem.Config{
			AppDataPath:       filepath.Join(dir, "app_data"),
			FirmwarePath:      filepath.Join(dir, "firmware"),
			SHA256Path:        filepath.Join(dir, "sha256"),
			SupportedPageSize: 16,
		}, nil)
		nvmStore := nvm.Open(filepath.Join(dir, "nvm.json"), nil)
		registry := faults.NewRegistry(nil)
		manager := NewManager(sender, sink, mem, nvmStore, registry, nil, nil)
		fsm := NewFSM(manager, manager.InitialState())
		return &harness{sender: sender, sink: sink, mem: mem, nvm: nvmStore, registry: registry, manager: manager, fsm: fsm}
	}

	h1 := build()
	h1.fsm.Start()
	h1.fsm.HandleInitRequest(initRequest(firmware))
	for off := 0; off < 80; off += 16 {
		h1.fsm.HandlePageCreateRequest(protocol.DfuPageCreateRequest{RequestedPageSize: 16})
		h1.fsm.HandleWriteDataEvent(firmware[off : off+16])
		h1.fsm.HandlePageStoreRequest()
	}
	require.Equal(t, 80, h1.mem.FirmwareOffset())

	h2 := build()
	assert.Equal(t, 1, h2.sink.initializedN)
	assert.Equal(t, 80, h2.mem.FirmwareOffset())
	assert.Equal(t, h1.fsm.State(), h2.fsm.State())
}

func TestPreValidationFault(t *testing.T) {
	h := newHarness(t, 16, 0)
	h.registry.Register(faults.OnPreValidation, faults.Spec{
		Kind:       faults.FaultWithStatus,
		CallNumber: faults.AlwaysCallNumber,
		Status:     uint8(protocol.StatusInvalidObject),
	})

	h.fsm.Start()
	h.fsm.HandleInitRequest(initRequest([]byte{0x01, 0x02}))

	assert.Equal(t, dfustate.Standby, h.fsm.State())
	assert.Equal(t, 1, h.sink.failedN)

	var initResponses int
	for _, f := range h.sender.sent {
		if f.op == protocol.OpDfuInitResponse {
			initResponses++
			assert.Equal(t, protocol.StatusInvalidObject, protocol.Status(f.payload[0]))
		}
	}
	assert.Equal(t, 1, initResponses)
}

func TestSHAMismatch(t *testing.T) {
	firmware := make([]byte, 32)
	for i := range firmware {
		firmware[i] = byte(i)
	}
	corrupted := append([]byte(nil), firmware...)
	corrupted[len(corrupted)-1] ^= 0xFF

	h := newHarness(t, 16, 0)
	h.fsm.Start()
	h.fsm.HandleInitRequest(initRequest(firmware)) // declares the correct SHA

	for off := 0; off < len(corrupted); off += 16 {
		h.fsm.HandlePageCreateRequest(protocol.DfuPageCreateRequest{RequestedPageSize: 16})
		h.fsm.HandleWriteDataEvent(corrupted[off : off+16])
		h.fsm.HandlePageStoreRequest()
	}

	assert.Equal(t, dfustate.Standby, h.fsm.State())
	assert.Equal(t, 1, h.sink.failedN)
	assert.Equal(t, protocol.StatusInvalidObject, protocol.Status(h.sender.lastOf(protocol.OpDfuPageStoreResponse).payload[0]))
}

func TestOutOfStatePageStore(t *testing.T) {
	h := newHarness(t, 16, 0)
	h.fsm.Start()
	h.fsm.HandleInitRequest(initRequest([]byte{}))
	require.Equal(t, dfustate.Upload, h.fsm.State())

	h.fsm.HandlePageStoreRequest()

	assert.Equal(t, dfustate.Upload, h.fsm.State())
	assert.Equal(t, protocol.StatusOperationNotPermitted, protocol.Status(h.sender.last().payload[0]))
}

func TestCrossRebootInProgressDetection(t *testing.T) {
	h := newHarness(t, 16, 0)
	h.fsm.Start() // Standby entry sends a DfuStateRequest

	h.fsm.HandleStateResponse(protocol.DfuStateInProgress)

	assert.Equal(t, dfustate.Standby, h.fsm.State())
	var cancelSent bool
	for _, f := range h.sender.sent {
		if f.op == protocol.OpDfuCancelRequest {
			cancelSent = true
		}
	}
	assert.True(t, cancelSent)
}
