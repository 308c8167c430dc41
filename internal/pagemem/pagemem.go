// Package pagemem reconstructs a firmware image from paged chunks and
// computes the integrity hashes the OTAU protocol checks against. Grounded
// on the original's dfu_logic/dfu_memory.py, translated into the teacher's
// explicit-error-return idiom instead of raised exceptions.
package pagemem

import (
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
)

// MinSupportedPageSize is the lowest page size the core will accept at
// configuration time (spec.md §8 boundary behaviour).
const MinSupportedPageSize = 21

// ErrInsufficientResources and ErrInvalidObject mirror the two memory-layer
// failure modes the Manager translates into protocol responses.
var (
	ErrInsufficientResources = errors.New("pagemem: image exceeds max image size")
	ErrInvalidObject         = errors.New("pagemem: length mismatch")
)

// Memory is the streaming buffer over firmware bytes, app-data bytes, and
// the SHA-256 file, backed by three on-disk mirrors.
type Memory struct {
	appDataPath  string
	firmwarePath string
	sha256Path   string

	supportedPageSize int
	maxImageSize      int

	appData            []byte
	appDataExpectedLen int

	firmware       []byte
	firmwareOffset int

	pageBuf         []byte
	pageExpectedLen int
	pageOffset      int

	logger *slog.Logger
}

// Config bundles Memory's constructor parameters.
type Config struct {
	AppDataPath       string
	FirmwarePath      string
	SHA256Path        string
	SupportedPageSize int
	MaxImageSize      int
}

// New loads prior app-data and firmware files if present (used to resume a
// crashed transfer); load failures yield empty buffers and a zero offset.
func New(cfg Config, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Memory{
		appDataPath:       cfg.AppDataPath,
		firmwarePath:      cfg.FirmwarePath,
		sha256Path:        cfg.SHA256Path,
		supportedPageSize: cfg.SupportedPageSize,
		maxImageSize:      cfg.MaxImageSize,
		logger:            logger,
	}

	if data, err := os.ReadFile(cfg.AppDataPath); err == nil {
		m.appData = data
	} else {
		m.logger.Debug("pagemem: unable to open app data file", "err", err)
	}

	if data, err := os.ReadFile(cfg.FirmwarePath); err == nil {
		m.firmware = data
		m.firmwareOffset = len(data)
	} else {
		m.logger.Debug("pagemem: unable to open firmware file", "err", err)
	}

	return m
}

// SupportedPageSize returns the configured maximum per-page byte count.
func (m *Memory) SupportedPageSize() int { return m.supportedPageSize }

// FirmwareOffset returns bytes successfully stored so far (excludes any
// in-progress page).
func (m *Memory) FirmwareOffset() int { return m.firmwareOffset }

// AppData returns the currently stored app-data buffer.
func (m *Memory) AppData() []byte { return m.appData }

// SetFirmwareMemorySize resets the firmware buffer, failing with
// ErrInsufficientResources if size exceeds a configured non-zero max.
func (m *Memory) SetFirmwareMemorySize(size int) error {
	if m.maxImageSize != 0 && size > m.maxImageSize {
		return ErrInsufficientResources
	}
	m.firmware = nil
	m.firmwareOffset = 0
	return nil
}

// SetAppDataMemorySize records the expected app-data length and resets the
// app-data buffer.
func (m *Memory) SetAppDataMemorySize(size int) {
	m.appData = nil
	m.appDataExpectedLen = size
}

// WriteAppData overwrites the app-data buffer and its on-disk mirror. Fails
// with ErrInvalidObject if len(data) doesn't match the size previously
// declared via SetAppDataMemorySize.
func (m *Memory) WriteAppData(data []byte) error {
	if len(data) != m.appDataExpectedLen {
		return ErrInvalidObject
	}

	m.appData = append([]byte(nil), data...)
	if err := os.WriteFile(m.appDataPath, m.appData, 0o644); err != nil {
		m.logger.Error("pagemem: write app data file failed", "err", err)
	}
	return nil
}

// CreatePage initialises an empty page accumulator expecting exactly size
// bytes. The caller (the protocol layer) is responsible for rejecting a size
// greater than SupportedPageSize before calling this.
func (m *Memory) CreatePage(size int) {
	m.pageBuf = m.pageBuf[:0]
	m.pageOffset = 0
	m.pageExpectedLen = size
}

// WriteData appends to the current page accumulator. Length checking is
// deferred to PageStore.
func (m *Memory) WriteData(data []byte) {
	m.pageBuf = append(m.pageBuf, data...)
	m.pageOffset += len(data)
}

// PageStore finalises the current page: on success it is appended to the
// firmware buffer and file, firmwareOffset advances, and the accumulator
// resets. Fails with ErrInvalidObject if the accumulated length doesn't
// match the length declared at CreatePage.
func (m *Memory) PageStore() error {
	if len(m.pageBuf) != m.pageExpectedLen {
		return ErrInvalidObject
	}

	m.firmware = append(m.firmware, m.pageBuf...)
	m.firmwareOffset += m.pageOffset

	f, err := os.OpenFile(m.firmwarePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.logger.Error("pagemem: open firmware file for append failed", "err", err)
	} else {
		if _, err := f.Write(m.pageBuf); err != nil {
			m.logger.Error("pagemem: append firmware file failed", "err", err)
		}
		_ = f.Close()
	}

	m.pageBuf = nil
	m.pageOffset = 0
	m.pageExpectedLen = 0

	return nil
}

// CalcFirmwareCRC computes CRC-32 (IEEE 802.3 polynomial, the stdlib
// default table) over the stored firmware plus the in-progress page.
func (m *Memory) CalcFirmwareCRC() uint32 {
	crc := crc32.NewIEEE()
	_, _ = crc.Write(m.firmware)
	_, _ = crc.Write(m.pageBuf)
	return crc.Sum32()
}

// CalcFirmwareSHA256 computes SHA-256 over the stored firmware only
// (excluding any in-progress page), reverses the digest byte-for-byte to
// match the peer's comparison convention (spec.md §9), persists it as
// lower-case hex to the sha256 file, and returns the reversed digest.
func (m *Memory) CalcFirmwareSHA256() ([32]byte, error) {
	digest := sha256Sum(m.firmware)
	reversed := reverseBytes(digest)

	if err := os.WriteFile(m.sha256Path, []byte(hexEncode(reversed[:])), 0o644); err != nil {
		m.logger.Error("pagemem: write sha256 file failed", "err", err)
		return reversed, fmt.Errorf("write sha256 file: %w", err)
	}

	return reversed, nil
}

// Clear truncates all three on-disk files and zeros every in-memory buffer
// and offset.
func (m *Memory) Clear() {
	m.firmware = nil
	m.firmwareOffset = 0
	m.appData = nil
	m.appDataExpectedLen = 0
	m.pageBuf = nil
	m.pageOffset = 0
	m.pageExpectedLen = 0

	for _, p := range []string{m.appDataPath, m.firmwarePath} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			m.logger.Error("pagemem: truncate file failed", "path", p, "err", err)
		}
	}
	if err := os.WriteFile(m.sha256Path, nil, 0o644); err != nil {
		m.logger.Error("pagemem: truncate sha256 file failed", "err", err)
	}
}
