package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeDfuInitRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    DfuInitRequest
		wantErr error
	}{
		{
			name:    "too short",
			payload: []byte{0x00, 0x01},
			wantErr: ErrInvalidLen,
		},
		{
			name: "app data length mismatch",
			payload: append(
				append(make([]byte, 4), make([]byte, 32)...),
				0x02, 0xAA, // declares 2 bytes of app data, supplies 1
			),
			wantErr: ErrInvalidLen,
		},
		{
			name: "valid, no app data",
			payload: append(
				[]byte{0x00, 0x00, 0x00, 0xA0},
				append(make([]byte, 32), 0x00)...,
			),
			want: DfuInitRequest{FirmwareSize: 0xA0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDfuInitRequest(tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got err %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.FirmwareSize != tt.want.FirmwareSize {
				t.Fatalf("firmware size = %d, want %d", got.FirmwareSize, tt.want.FirmwareSize)
			}
		})
	}
}

func TestEncodeDfuStatusResponse(t *testing.T) {
	encoded := EncodeDfuStatusResponse(DfuStatusResponse{
		Status:            StatusSuccess,
		SupportedPageSize: 256,
		FirmwareOffset:    0x1000,
		FirmwareCRC:       0xDEADBEEF,
	})

	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x10, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("encoded = %x, want %x", encoded, want)
	}
}

func TestDecodeDfuWriteDataEvent(t *testing.T) {
	payload := append([]byte{0x03}, []byte{0x01, 0x02, 0x03}...)
	data, err := DecodeDfuWriteDataEvent(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("data = %x", data)
	}

	if _, err := DecodeDfuWriteDataEvent([]byte{0x05, 0x01}); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("got err %v, want ErrInvalidLen", err)
	}
}

func TestIsDfuOpcode(t *testing.T) {
	if !IsDfuOpcode(OpDfuInitRequest) {
		t.Fatalf("expected DfuInitRequest to be a DFU opcode")
	}
	if IsDfuOpcode(0x01) {
		t.Fatalf("did not expect 0x01 to be a DFU opcode")
	}
}
