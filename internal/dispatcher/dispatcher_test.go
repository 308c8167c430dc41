package dispatcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvair/otaumcu/internal/dfu"
	"github.com/silvair/otaumcu/internal/events"
	"github.com/silvair/otaumcu/internal/faults"
	"github.com/silvair/otaumcu/internal/modem"
	"github.com/silvair/otaumcu/internal/nvm"
	"github.com/silvair/otaumcu/internal/pagemem"
	"github.com/silvair/otaumcu/internal/protocol"
	"github.com/silvair/otaumcu/internal/transport"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *transport.Loopback) {
	t.Helper()
	dir := t.TempDir()
	lb := transport.NewLoopback(16)

	mem := pagemem.New(pagemem.Config{
		AppDataPath:       filepath.Join(dir, "app_data"),
		FirmwarePath:      filepath.Join(dir, "firmware"),
		SHA256Path:        filepath.Join(dir, "sha256"),
		SupportedPageSize: 16,
	}, nil)
	nvmStore := nvm.Open(filepath.Join(dir, "nvm.json"), nil)
	registry := faults.NewRegistry(nil)

	sender := &frameSender{t: lb}
	dfuManager := dfu.NewManager(sender, events.NopSink{}, mem, nvmStore, registry, nil, nil)
	dfuFSM := dfu.NewFSM(dfuManager, dfuManager.InitialState())
	modemFSM := modem.NewFSM(sender, events.NopSink{}, nil, nil)

	d := New(lb, dfuFSM, modemFSM, nil)
	return d, lb
}

type frameSender struct{ t *transport.Loopback }

func (s *frameSender) Send(op protocol.Opcode, payload []byte) {
	_ = s.t.Send(op, payload)
}

func TestDispatcher_RoutesDfuOpcodeToDfuFSM(t *testing.T) {
	d, lb := newTestDispatcher(t)
	d.dfuFSM.Start()
	<-lb.Sent() // Standby's entry action sends a DfuStateRequest first

	err := d.Dispatch(protocol.Frame{Opcode: protocol.OpDfuStatusRequest})
	require.NoError(t, err)

	select {
	case f := <-lb.Sent():
		assert.Equal(t, protocol.OpDfuStatusResponse, f.Opcode)
	default:
		t.Fatal("expected a response frame")
	}
}

func TestDispatcher_DropsUndecodableFrameWithoutPanicking(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.dfuFSM.Start()

	err := d.Dispatch(protocol.Frame{Opcode: protocol.OpDfuPageCreateRequest, Payload: []byte{0x01}})
	assert.NoError(t, err)
}

func TestDispatcher_RoutesPingToModemFSM(t *testing.T) {
	d, lb := newTestDispatcher(t)

	err := d.Dispatch(protocol.Frame{Opcode: protocol.OpPingRequest, Payload: []byte("hi")})
	require.NoError(t, err)

	f := <-lb.Sent()
	assert.Equal(t, protocol.OpPongResponse, f.Opcode)
	assert.Equal(t, []byte("hi"), f.Payload)
}

func TestDispatcher_FatalModemErrorPropagates(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(protocol.Frame{Opcode: protocol.OpError, Payload: []byte{byte(protocol.ErrorNoLicenseForModelRegistration)}})
	require.Error(t, err)

	var fatal *modem.FatalError
	assert.ErrorAs(t, err, &fatal)
}
