// Package util persists small node state files.
package util

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// stateVersion is the first byte of every state file.
const stateVersion byte = 1

var ErrUnsupportedVersion = errors.New("unsupported state file version")

// Persist xdr-encodes v and atomically replaces filename with it.
func Persist(filename string, v any) error {
	var w bytes.Buffer
	w.WriteByte(stateVersion)
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

// Load decodes a file written by Persist into v.
// A missing file yields an error matching fs.ErrNotExist.
func Load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}
	if len(data) == 0 || data[0] != stateVersion {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, filename)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data[1:]), v); err != nil {
		return fmt.Errorf("deserializing %s: %w", filename, err)
	}
	return nil
}
