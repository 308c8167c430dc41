// Package nvm persists a small keyed document used to resume an in-flight
// OTAU transfer across a cold restart. Grounded on the original's
// dfu_logic/dfu_nvm.py (load-whole-file-as-JSON, get-with-unset-sentinel,
// update-rewrites-whole-file) but strengthened per spec.md §4.1's atomicity
// note: writes go through a temp file and rename rather than an in-place
// overwrite, so a crash mid-write can never leave a torn document behind.
package nvm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Well-known keys recognised by the DFU layer (spec.md §3).
const (
	KeyCurrentStateID      = "current_state_id"
	KeyFirmwareImageSize   = "firmware_image_size"
	KeyFirmwareImageSHA256 = "firmware_image_sha256"
)

// Store is a small JSON document persisted atomically to a single file.
type Store struct {
	path   string
	logger *slog.Logger
	data   map[string]any
}

// Open attempts to read and deserialise the document at path. Any error —
// missing file, malformed content, truncated write — yields an empty
// in-memory view; the file on disk, if any, is left untouched until the next
// Update (spec.md §4.1).
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger, data: make(map[string]any)}

	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("nvm: unable to read file", "path", path, "err", err)
		return s
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Debug("nvm: malformed document, starting empty", "path", path, "err", err)
		return s
	}

	s.data = doc
	s.logger.Debug("nvm: loaded document", "path", path)
	return s
}

// Get returns the stored value for key, or (nil, false) if it is unset. A
// read of an unset key also records it with a nil sentinel, so the key set
// stays stable across writes — mirrors dfu_nvm.py's get().
func (s *Store) Get(key string) (any, bool) {
	v, ok := s.data[key]
	if !ok {
		s.data[key] = nil
		return nil, false
	}
	return v, v != nil
}

// Update sets key to value in the in-memory view and rewrites the document.
// Write failures are logged but never surfaced — the in-memory view always
// reflects the most recent Update regardless of disk state.
func (s *Store) Update(key string, value any) {
	s.data[key] = value

	raw, err := json.Marshal(s.data)
	if err != nil {
		s.logger.Error("nvm: marshal failed", "err", err)
		return
	}

	if err := atomicWriteFile(s.path, raw); err != nil {
		s.logger.Error("nvm: write failed", "path", s.path, "err", err)
	}
}

// GetInt reads key as an int, treating anything unset or non-numeric as def.
func (s *Store) GetInt(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// GetString reads key as a string, treating anything unset or non-string as def.
func (s *Store) GetString(key string, def string) string {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so readers never observe a partially-written
// document (spec.md §4.1's "implementers SHOULD strengthen this").
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
