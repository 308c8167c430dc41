package transport

import (
	"fmt"
	"log/slog"

	"tinygo.org/x/bluetooth"

	"github.com/silvair/otaumcu/internal/protocol"
)

// serviceUUID/charUUID mirror the teacher's characteristicSMPUUID convention:
// a single write-without-response + notify characteristic carrying whole
// frames, one per GATT write/notification.
var (
	serviceUUID, _ = bluetooth.ParseUUID("8d2e2f00-1f3a-4a0e-9e0a-2f6c2a9b7c10")
	charUUID, _    = bluetooth.ParseUUID("8d2e2f01-1f3a-4a0e-9e0a-2f6c2a9b7c10")
)

var _ Transport = (*BLE)(nil)

// BLEConfig names the advertised peripheral identity.
type BLEConfig struct {
	LocalName string
}

// BLE is the MCU-side GATT peripheral: unlike the teacher's BLETransport,
// which scans for and connects to a central, this advertises a service and
// waits for the peer to connect and write frames to it (the MCU is the
// peripheral, not the central).
type BLE struct {
	cfg BLEConfig

	adapter *bluetooth.Adapter
	char    bluetooth.Characteristic
	adv     *bluetooth.Advertisement

	rcv    chan protocol.Frame
	closed chan struct{}
	logger *slog.Logger
}

// NewBLE brings up the adapter, registers the GATT service, and starts
// advertising. Frames written by the peer surface on Recv; Send notifies the
// connected central.
func NewBLE(cfg BLEConfig, logger *slog.Logger) (*BLE, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &BLE{
		cfg:    cfg,
		adapter: bluetooth.DefaultAdapter,
		rcv:    make(chan protocol.Frame, 16),
		closed: make(chan struct{}),
		logger: logger,
	}

	if err := b.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	if err := b.adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &b.char,
				UUID:   charUUID,
				Flags:  bluetooth.CharacteristicWriteWithoutResponsePermission | bluetooth.CharacteristicNotifyPermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					b.onWrite(value)
				},
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("register gatt service: %w", err)
	}

	b.adv = b.adapter.DefaultAdvertisement()
	if err := b.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    cfg.LocalName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	}); err != nil {
		return nil, fmt.Errorf("configure advertisement: %w", err)
	}
	if err := b.adv.Start(); err != nil {
		return nil, fmt.Errorf("start advertisement: %w", err)
	}

	b.logger.Info("ble peripheral advertising", "name", cfg.LocalName)
	return b, nil
}

func (b *BLE) onWrite(value []byte) {
	if len(value) < 1 {
		b.logger.Debug("ble: dropped empty write")
		return
	}

	frame := protocol.Frame{Opcode: protocol.Opcode(value[0]), Payload: append([]byte(nil), value[1:]...)}
	select {
	case b.rcv <- frame:
	case <-b.closed:
	}
}

// Recv blocks until the peer writes a frame or the transport is closed.
func (b *BLE) Recv() (protocol.Frame, error) {
	select {
	case f := <-b.rcv:
		return f, nil
	case <-b.closed:
		return protocol.Frame{}, ErrClosed
	}
}

// Send notifies the connected central with opcode:u8 followed by payload.
func (b *BLE) Send(op protocol.Opcode, payload []byte) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	buf := make([]byte, 1+len(payload))
	buf[0] = byte(op)
	copy(buf[1:], payload)

	if _, err := b.char.Write(buf); err != nil {
		return fmt.Errorf("notify characteristic: %w", err)
	}
	return nil
}

func (b *BLE) Close() error {
	select {
	case <-b.closed:
		return nil
	default:
		close(b.closed)
	}
	if b.adv == nil {
		return nil
	}
	if err := b.adv.Stop(); err != nil {
		return fmt.Errorf("stop advertisement: %w", err)
	}
	return nil
}
