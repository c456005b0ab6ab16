// Package persist saves compiled programs so a later run can skip
// compilation, and the run state of loaded programs so a run can continue
// later.
//
// A blob is a four-byte magic ("MSCP" for programs, "MSCS" for states), a
// big-endian uint16 format version, the 32-byte fingerprint of the binding
// tables in use, and the payload in canonical CBOR.
package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
)

// Version is the blob format version written by Save.
const Version uint16 = 2

const (
	magic      = "MSCP"
	headerSize = len(magic) + 2 + 32
)

var (
	// ErrBadMagic is returned for data that is not a saved program.
	ErrBadMagic = errors.New("persist: not a compiled program")
	// ErrUnsupportedVersion is returned for blobs written by another format version.
	ErrUnsupportedVersion = errors.New("persist: unsupported format version")
	// ErrFormatMismatch is returned when the binding tables changed since the
	// blob was written. The source must be recompiled.
	ErrFormatMismatch = errors.New("persist: binding table format mismatch")
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("persist: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Save serializes prog for the tables in reg.
func Save(prog *program.Program, reg *symbols.Registry) ([]byte, error) {
	if prog == nil {
		return nil, errors.New("persist: nil program")
	}
	body, err := encMode.Marshal(prog)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal program %s: %w", prog.Name, err)
	}
	return frame(magic, Version, reg, body), nil
}

// Load decodes a blob produced by Save. The blob must have been written
// against tables with the same fingerprint as reg.
func Load(data []byte, reg *symbols.Registry) (*program.Program, error) {
	body, err := unframe(data, magic, Version, reg)
	if err != nil {
		if errors.Is(err, errWrongMagic) {
			return nil, ErrBadMagic
		}
		return nil, err
	}

	var prog program.Program
	if err := cbor.Unmarshal(body, &prog); err != nil {
		return nil, fmt.Errorf("persist: unmarshal program: %w", err)
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("persist: program %s: %w", prog.Name, err)
	}
	return &prog, nil
}

var errWrongMagic = errors.New("persist: wrong magic")

// frame prefixes body with the magic, version and table fingerprint.
func frame(magic string, version uint16, reg *symbols.Registry, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(body))
	buf.WriteString(magic)
	var ver [2]byte
	binary.BigEndian.PutUint16(ver[:], version)
	buf.Write(ver[:])
	fp := reg.Fingerprint()
	buf.Write(fp[:])
	buf.Write(body)
	return buf.Bytes()
}

// unframe checks the header written by frame and returns the body.
func unframe(data []byte, magic string, version uint16, reg *symbols.Registry) ([]byte, error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return nil, errWrongMagic
	}
	if v := binary.BigEndian.Uint16(data[len(magic):]); v != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	fp := reg.Fingerprint()
	if !bytes.Equal(data[len(magic)+2:headerSize], fp[:]) {
		return nil, ErrFormatMismatch
	}
	return data[headerSize:], nil
}

// WriteFile saves prog to path.
func WriteFile(path string, prog *program.Program, reg *symbols.Registry) error {
	data, err := Save(prog, reg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// ReadFile loads a program saved by WriteFile.
func ReadFile(path string, reg *symbols.Registry) (*program.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return Load(data, reg)
}

// IsBlob reports whether data starts with the saved-program magic.
func IsBlob(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}
