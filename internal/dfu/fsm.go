// Package dfu implements the DFU transfer FSM and its Manager (spec.md
// §4.4/§4.5). The FSM is a tagged variant rather than the original's
// fifteen-virtual-method base class (spec.md §9): one Handle method per
// event keeps a single transition table readable, and "unexpected response"
// handling factors into small helpers instead of an inheritance chain.
package dfu

import (
	"github.com/silvair/otaumcu/internal/dfu/dfustate"
	"github.com/silvair/otaumcu/internal/protocol"
)

// FSM is the DFU transfer state machine. It holds the Manager and calls it
// directly; the Manager holds no reference back to the FSM and reports
// outcomes through return values (spec.md §9's one-way-ownership fix for
// the original's cyclic reference).
type FSM struct {
	state   dfustate.State
	manager *Manager
}

// NewFSM constructs an FSM in the given initial state without running its
// entry action; call Start to run it.
func NewFSM(manager *Manager, initial dfustate.State) *FSM {
	return &FSM{state: initial, manager: manager}
}

// State returns the current state.
func (f *FSM) State() dfustate.State { return f.state }

// Start runs the initial state's entry action.
func (f *FSM) Start() {
	f.onEnter(f.state)
}

// changeState sets the new state and runs its entry action. DFU states have
// no exit action, matching the original.
func (f *FSM) changeState(next dfustate.State) {
	f.state = next
	f.onEnter(next)
}

func (f *FSM) onEnter(s dfustate.State) {
	switch s {
	case dfustate.Standby:
		f.manager.UpdateState(dfustate.Standby)
		f.manager.SendPreValidationCheckRequest()
	case dfustate.Upload:
		f.manager.UpdateState(dfustate.Upload)
	case dfustate.UploadPage:
		f.manager.UpdateState(dfustate.UploadPage)
	}
}

// HandleInitRequest implements the InitRequest transition for every state
// (spec.md §4.4 table). In Upload/UploadPage an InitRequest is unexpected:
// report the failure, drop to Standby, then redeliver the event in Standby.
// Modeled as return-then-redispatch (the loop in HandleInitRequest itself)
// rather than a recursive call, per spec.md §9's anti-stack-growth guidance.
func (f *FSM) HandleInitRequest(req protocol.DfuInitRequest) {
	for {
		switch f.state {
		case dfustate.Standby:
			if f.manager.InitOtau(req) {
				f.changeState(dfustate.Upload)
			}
			return
		case dfustate.Upload, dfustate.UploadPage:
			f.manager.ReportUnexpectedMessage(protocol.OpDfuInitRequest)
			f.manager.ReportDFUFail()
			f.changeState(dfustate.Standby)
			continue // redeliver in Standby
		}
	}
}

// HandleStateRequest implements the DfuStatusRequest transition.
func (f *FSM) HandleStateRequest() {
	switch f.state {
	case dfustate.Standby:
		f.manager.SendStateResponse(protocol.StatusSuccess, true)
	case dfustate.Upload, dfustate.UploadPage:
		f.manager.SendStateResponse(protocol.StatusSuccess, false)
	}
}

// HandlePageCreateRequest implements the DfuPageCreateRequest transition.
func (f *FSM) HandlePageCreateRequest(req protocol.DfuPageCreateRequest) {
	switch f.state {
	case dfustate.Standby:
		f.manager.ReportUnexpectedMessage(protocol.OpDfuPageCreateRequest)
		f.manager.DropOtau()
	case dfustate.Upload:
		f.manager.CreatePage(req)
		f.changeState(dfustate.UploadPage)
	case dfustate.UploadPage:
		// Re-deliver in Upload: a new page supersedes a never-finished one.
		f.changeState(dfustate.Upload)
		f.HandlePageCreateRequest(req)
	}
}

// HandleWriteDataEvent implements the DfuWriteDataEvent transition. It is a
// one-way event; no response is ever sent.
func (f *FSM) HandleWriteDataEvent(data []byte) {
	switch f.state {
	case dfustate.Standby:
		f.manager.ReportUnexpectedMessage(protocol.OpDfuWriteDataEvent)
		f.manager.DropOtau()
	case dfustate.Upload:
		f.manager.ReportUnexpectedMessage(protocol.OpDfuWriteDataEvent)
	case dfustate.UploadPage:
		f.manager.ProcessWriteData(data)
	}
}

// HandlePageStoreRequest implements the DfuPageStoreRequest transition.
func (f *FSM) HandlePageStoreRequest() {
	switch f.state {
	case dfustate.Standby:
		f.manager.ReportUnexpectedMessage(protocol.OpDfuPageStoreRequest)
		f.manager.DropOtau()
	case dfustate.Upload:
		f.manager.SendPageStoreResponse(protocol.StatusOperationNotPermitted)
		f.manager.ReportUnexpectedMessage(protocol.OpDfuPageStoreRequest)
	case dfustate.UploadPage:
		if f.manager.PageStore() {
			f.changeState(dfustate.Upload)
		} else {
			f.changeState(dfustate.Standby)
		}
	}
}

// HandleStateResponse implements dfu_pre_validation_check_response, i.e.
// the reply to the Standby entry action's state request (spec.md §4.4's
// cross-reboot in-progress detection).
func (f *FSM) HandleStateResponse(status protocol.DfuStateCheckStatus) {
	if f.state == dfustate.Standby && status == protocol.DfuStateInProgress {
		f.manager.DropOtau()
	}
}

// HandleCancelResponse implements the CancelResponse transition, valid in
// Upload/UploadPage.
func (f *FSM) HandleCancelResponse() {
	switch f.state {
	case dfustate.Upload, dfustate.UploadPage:
		f.manager.ReportDFUFail()
		f.changeState(dfustate.Standby)
	}
}

// HandleUnexpectedResponse handles a response-typed frame the MCU should
// never receive (DfuInitResponse, DfuPageCreateResponse, ...): raise
// unexpected_message and otherwise ignore it (spec.md §4.4).
func (f *FSM) HandleUnexpectedResponse(opcode protocol.Opcode) {
	f.manager.ReportUnexpectedMessage(opcode)
}
