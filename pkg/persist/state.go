package persist

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/zurustar/missionscript/pkg/event"
	"github.com/zurustar/missionscript/pkg/symbols"
)

// StateVersion is the state format version written by SaveState.
const StateVersion uint16 = 1

const stateMagic = "MSCS"

// ErrNotState is returned for data that is not a saved state.
var ErrNotState = errors.New("persist: not a saved state")

// SaveState serializes a dispatcher snapshot taken against the tables in reg.
func SaveState(snap *event.Snapshot, reg *symbols.Registry) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("persist: nil state")
	}
	body, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal state: %w", err)
	}
	return frame(stateMagic, StateVersion, reg, body), nil
}

// LoadState decodes a state produced by SaveState. Whether it fits the
// loaded programs is checked when the dispatcher restores it.
func LoadState(data []byte, reg *symbols.Registry) (*event.Snapshot, error) {
	body, err := unframe(data, stateMagic, StateVersion, reg)
	if err != nil {
		if errors.Is(err, errWrongMagic) {
			return nil, ErrNotState
		}
		return nil, err
	}
	var snap event.Snapshot
	if err := cbor.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("persist: unmarshal state: %w", err)
	}
	return &snap, nil
}

// WriteStateFile saves snap to path.
func WriteStateFile(path string, snap *event.Snapshot, reg *symbols.Registry) error {
	data, err := SaveState(snap, reg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// ReadStateFile loads a state saved by WriteStateFile.
func ReadStateFile(path string, reg *symbols.Registry) (*event.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return LoadState(data, reg)
}

// IsState reports whether data starts with the saved-state magic.
func IsState(data []byte) bool {
	return len(data) >= len(stateMagic) && string(data[:len(stateMagic)]) == stateMagic
}
