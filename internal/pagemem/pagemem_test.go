package pagemem

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T, supportedPageSize, maxImageSize int) *Memory {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		AppDataPath:       filepath.Join(dir, "app_data"),
		FirmwarePath:      filepath.Join(dir, "firmware"),
		SHA256Path:        filepath.Join(dir, "sha256"),
		SupportedPageSize: supportedPageSize,
		MaxImageSize:      maxImageSize,
	}, nil)
}

func TestMemory_SetFirmwareMemorySize_ExceedsMax(t *testing.T) {
	m := newTestMemory(t, 64, 100)

	err := m.SetFirmwareMemorySize(200)
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestMemory_WriteAppData_LengthMismatch(t *testing.T) {
	m := newTestMemory(t, 64, 0)
	m.SetAppDataMemorySize(4)

	err := m.WriteAppData([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestMemory_PageStore_RoundTrip(t *testing.T) {
	m := newTestMemory(t, 16, 0)
	require.NoError(t, m.SetFirmwareMemorySize(32))

	page1 := make([]byte, 16)
	for i := range page1 {
		page1[i] = byte(i)
	}
	page2 := make([]byte, 16)
	for i := range page2 {
		page2[i] = byte(i + 16)
	}

	m.CreatePage(16)
	m.WriteData(page1)
	require.NoError(t, m.PageStore())
	assert.Equal(t, 16, m.FirmwareOffset())

	m.CreatePage(16)
	m.WriteData(page2)
	require.NoError(t, m.PageStore())
	assert.Equal(t, 32, m.FirmwareOffset())

	want := sha256.Sum256(append(append([]byte{}, page1...), page2...))
	wantReversed := reverseBytes(want)

	got, err := m.CalcFirmwareSHA256()
	require.NoError(t, err)
	assert.Equal(t, wantReversed, got)
}

func TestMemory_PageStore_LengthMismatch(t *testing.T) {
	m := newTestMemory(t, 16, 0)
	require.NoError(t, m.SetFirmwareMemorySize(16))

	m.CreatePage(16)
	m.WriteData([]byte{0x01, 0x02, 0x03})

	err := m.PageStore()
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestMemory_Clear_TruncatesFiles(t *testing.T) {
	m := newTestMemory(t, 16, 0)
	require.NoError(t, m.SetFirmwareMemorySize(16))
	m.CreatePage(16)
	m.WriteData(make([]byte, 16))
	require.NoError(t, m.PageStore())

	m.Clear()

	assert.Equal(t, 0, m.FirmwareOffset())

	data, err := os.ReadFile(m.firmwarePath)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMemory_CalcFirmwareCRC_ExcludesNothingStoredYet(t *testing.T) {
	m := newTestMemory(t, 16, 0)
	require.NoError(t, m.SetFirmwareMemorySize(16))

	m.CreatePage(4)
	m.WriteData([]byte{0x01, 0x02, 0x03, 0x04})

	crc := m.CalcFirmwareCRC()
	assert.NotZero(t, crc)
}
