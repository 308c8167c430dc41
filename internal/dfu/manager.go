package dfu

import (
	"bytes"
	"encoding/hex"
	"log/slog"

	"github.com/silvair/otaumcu/internal/dfu/dfustate"
	"github.com/silvair/otaumcu/internal/events"
	"github.com/silvair/otaumcu/internal/faults"
	"github.com/silvair/otaumcu/internal/metrics"
	"github.com/silvair/otaumcu/internal/nvm"
	"github.com/silvair/otaumcu/internal/pagemem"
	"github.com/silvair/otaumcu/internal/protocol"
)

// Sender is the DFU FSM's outward-facing message channel, grounded on the
// original's DFU_FSM_Output / the teacher's Transport.Send — one-way,
// fire-and-forget from the Manager's point of view (the reply to a request
// is itself just another outgoing frame).
type Sender interface {
	Send(op protocol.Opcode, payload []byte)
}

// Manager glues the DFU FSM to Page Memory, NVM, and the Fault Injector; it
// formats protocol responses and raises outward events. Grounded on
// dfu_logic/dfu_mgr.py.
type Manager struct {
	sender   Sender
	sink     events.Sink
	mem      *pagemem.Memory
	nvmStore *nvm.Store
	registry *faults.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// ExpectedAppData, when non-nil, is the app-data payload Init must match
	// exactly or the transfer is pre-validation-rejected (spec.md §4.5 step 3).
	ExpectedAppData []byte

	firmwareImageSize   int
	firmwareImageSHA256 [32]byte
}

// NewManager constructs a Manager and reads the persisted firmware size and
// SHA-256 from NVM. DFUInitialized for a transfer in progress is raised by
// InitialState, not here (spec.md §4.5 "At startup"). m may be nil
// (metrics.NullMetrics()).
func NewManager(sender Sender, sink events.Sink, mem *pagemem.Memory, nvmStore *nvm.Store, registry *faults.Registry, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := &Manager{
		sender:   sender,
		sink:     sink,
		mem:      mem,
		nvmStore: nvmStore,
		registry: registry,
		metrics:  m,
		logger:   logger,
	}

	mgr.firmwareImageSize = nvmStore.GetInt(nvm.KeyFirmwareImageSize, 0)
	if shaHex := nvmStore.GetString(nvm.KeyFirmwareImageSHA256, ""); shaHex != "" {
		if raw, err := hex.DecodeString(shaHex); err == nil && len(raw) == 32 {
			copy(mgr.firmwareImageSHA256[:], raw)
		}
	}

	return mgr
}

// InitialState returns the persisted DFU state to resume from, defaulting
// to Standby when NVM has none recorded.
func (m *Manager) InitialState() dfustate.State {
	id := m.nvmStore.GetInt(nvm.KeyCurrentStateID, int(dfustate.Standby))
	state := dfustate.State(id)

	if state == dfustate.Upload || state == dfustate.UploadPage {
		m.sink.DFUInitialized(m.firmwareImageSize, m.firmwareImageSHA256, m.mem.AppData(), m.mem.FirmwareOffset())
	}

	switch state {
	case dfustate.Upload, dfustate.UploadPage:
		return state
	default:
		return dfustate.Standby
	}
}

// UpdateState persists the new state id and raises DFUStateChanged.
func (m *Manager) UpdateState(new dfustate.State) {
	m.nvmStore.Update(nvm.KeyCurrentStateID, int(new))
	m.sink.DFUStateChanged(new)
}

// InitOtau implements spec.md §4.5 init_otau.
func (m *Manager) InitOtau(req protocol.DfuInitRequest) bool {
	m.mem.Clear()
	m.updateFirmwareSize(0)
	m.updateFirmwareSHA256([32]byte{})

	if res := m.registry.Consult(faults.OnPreValidation); res.Fired {
		m.replyFault(res, protocol.OpDfuInitResponse)
		m.sink.DFUFailed()
		m.metrics.RecordFaultInjected(faults.OnPreValidation.String())
		m.logger.Debug("dfu: pre-validation fault fired")
		return false
	}

	if m.ExpectedAppData != nil && !bytes.Equal(req.AppData, m.ExpectedAppData) {
		m.sendInitResponse(protocol.StatusInvalidObject)
		m.logger.Debug("dfu: app data mismatch at init")
		return false
	}

	m.mem.SetAppDataMemorySize(len(req.AppData))
	if err := m.mem.WriteAppData(req.AppData); err != nil {
		m.sendInitResponse(protocol.StatusInsufficientResources)
		return false
	}
	if err := m.mem.SetFirmwareMemorySize(int(req.FirmwareSize)); err != nil {
		m.sendInitResponse(protocol.StatusInsufficientResources)
		return false
	}

	m.updateFirmwareSize(int(req.FirmwareSize))
	m.updateFirmwareSHA256(req.FirmwareSHA256)

	m.sendInitResponse(protocol.StatusSuccess)
	m.sink.DFUInitialized(int(req.FirmwareSize), req.FirmwareSHA256, m.mem.AppData(), 0)

	m.logger.Info("dfu: process initialized", "firmware_size", req.FirmwareSize)
	return true
}

// SendStateResponse implements spec.md §4.5 send_state_response.
func (m *Manager) SendStateResponse(status protocol.Status, reportEmpty bool) {
	if res := m.registry.Consult(faults.AfterPreValidation); res.Fired {
		m.replyFault(res, protocol.OpDfuStatusResponse)
		m.metrics.RecordFaultInjected(faults.AfterPreValidation.String())
		return
	}

	resp := protocol.DfuStatusResponse{
		Status:            status,
		SupportedPageSize: uint16(m.mem.SupportedPageSize()),
	}
	if !reportEmpty {
		resp.FirmwareOffset = uint32(m.mem.FirmwareOffset())
		resp.FirmwareCRC = m.mem.CalcFirmwareCRC()
	}

	m.sender.Send(protocol.OpDfuStatusResponse, protocol.EncodeDfuStatusResponse(resp))
}

// CreatePage implements spec.md §4.5 create_page.
func (m *Manager) CreatePage(req protocol.DfuPageCreateRequest) {
	if res := m.registry.Consult(faults.OnPageCreateRequest); res.Fired {
		m.replyFault(res, protocol.OpDfuPageCreateResp)
		m.metrics.RecordFaultInjected(faults.OnPageCreateRequest.String())
		return
	}

	m.mem.CreatePage(int(req.RequestedPageSize))
	m.sender.Send(protocol.OpDfuPageCreateResp, protocol.EncodeDfuPageCreateResponse(protocol.StatusSuccess))
}

// ProcessWriteData implements spec.md §4.5 process_write_data. WriteDataEvent
// is a one-way event frame; there is no reply.
func (m *Manager) ProcessWriteData(data []byte) {
	m.mem.WriteData(data)
}

// PageStore implements spec.md §4.5 page_store. Returns true if the
// transfer continues accepting pages, false if it terminates (success or
// failure) and the FSM should drop to Standby.
func (m *Manager) PageStore() bool {
	if res := m.registry.Consult(faults.OnPageStoreRequest); res.Fired {
		m.replyFault(res, protocol.OpDfuPageStoreResponse)
		m.metrics.RecordFaultInjected(faults.OnPageStoreRequest.String())
		return false
	}

	if err := m.mem.PageStore(); err != nil {
		m.sender.Send(protocol.OpDfuPageStoreResponse, protocol.EncodeDfuPageStoreResponse(protocol.StatusInvalidObject))
		m.logger.Debug("dfu: page store failed", "err", err)
		return false
	}

	if m.mem.FirmwareOffset() != m.firmwareImageSize {
		m.sender.Send(protocol.OpDfuPageStoreResponse, protocol.EncodeDfuPageStoreResponse(protocol.StatusSuccess))
		m.sink.DFUPageStored(m.mem.FirmwareOffset())
		return true
	}

	sha, err := m.mem.CalcFirmwareSHA256()
	if err == nil && sha == m.firmwareImageSHA256 {
		if res := m.registry.Consult(faults.OnPostValidation); res.Fired {
			m.replyFault(res, protocol.OpDfuPageStoreResponse)
			m.sink.DFUFailed()
			m.metrics.RecordFaultInjected(faults.OnPostValidation.String())
			return false
		}

		m.sender.Send(protocol.OpDfuPageStoreResponse, protocol.EncodeDfuPageStoreResponse(protocol.StatusFirmwareSuccessfullyUpdate))
		m.sink.DFUPageStored(m.mem.FirmwareOffset())
		m.sink.DFUUpdateComplete()
		m.logger.Info("dfu: firmware successfully updated")
		return false
	}

	m.sender.Send(protocol.OpDfuPageStoreResponse, protocol.EncodeDfuPageStoreResponse(protocol.StatusInvalidObject))
	m.sink.DFUFailed()
	return false
}

// SendPageStoreResponse sends a PageStoreResponse with the given status
// outside the normal PageStore flow (used when a page store is illegal in
// the current state rather than failed).
func (m *Manager) SendPageStoreResponse(status protocol.Status) {
	m.sender.Send(protocol.OpDfuPageStoreResponse, protocol.EncodeDfuPageStoreResponse(status))
}

// DropOtau sends a DfuCancelRequest to the peer.
func (m *Manager) DropOtau() {
	m.sender.Send(protocol.OpDfuCancelRequest, nil)
}

// SendPreValidationCheckRequest sends a DfuStateRequest used to detect a
// peer mid-transfer across device reboots (Standby's entry action).
func (m *Manager) SendPreValidationCheckRequest() {
	m.sender.Send(protocol.OpDfuStateRequest, nil)
}

// ReportUnexpectedMessage raises DFUUnexpectedMessage.
func (m *Manager) ReportUnexpectedMessage(opcode protocol.Opcode) {
	m.sink.DFUUnexpectedMessage(uint8(opcode))
}

// ReportDFUFail raises DFUFailed.
func (m *Manager) ReportDFUFail() {
	m.sink.DFUFailed()
}

func (m *Manager) sendInitResponse(status protocol.Status) {
	m.sender.Send(protocol.OpDfuInitResponse, protocol.EncodeDfuInitResponse(status))
}

func (m *Manager) replyFault(res faults.Result, responseOp protocol.Opcode) {
	if res.Spec.Kind == faults.NoResponse {
		return
	}
	switch responseOp {
	case protocol.OpDfuInitResponse:
		m.sender.Send(responseOp, protocol.EncodeDfuInitResponse(protocol.Status(res.Spec.Status)))
	case protocol.OpDfuPageCreateResp:
		m.sender.Send(responseOp, protocol.EncodeDfuPageCreateResponse(protocol.Status(res.Spec.Status)))
	case protocol.OpDfuPageStoreResponse:
		m.sender.Send(responseOp, protocol.EncodeDfuPageStoreResponse(protocol.Status(res.Spec.Status)))
	case protocol.OpDfuStatusResponse:
		m.sender.Send(responseOp, protocol.EncodeDfuStatusResponse(protocol.DfuStatusResponse{Status: protocol.Status(res.Spec.Status), SupportedPageSize: uint16(m.mem.SupportedPageSize())}))
	}
}

func (m *Manager) updateFirmwareSize(size int) {
	m.firmwareImageSize = size
	m.nvmStore.Update(nvm.KeyFirmwareImageSize, size)
}

func (m *Manager) updateFirmwareSHA256(sha [32]byte) {
	m.firmwareImageSHA256 = sha
	m.nvmStore.Update(nvm.KeyFirmwareImageSHA256, hex.EncodeToString(sha[:]))
}
