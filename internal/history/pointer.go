package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// PointerType tags a valid pointer file.
const PointerType = "aide_pointer_v1"

// ErrInvalidPointer is returned when a pointer file exists but is not a valid
// aide pointer.
var ErrInvalidPointer = errors.New("invalid pointer file")

type pointerFile struct {
	Type string `json:"type"`
	View string `json:"view"`
}

// LoadPointer reads the pointer file and returns the active view name.
func LoadPointer(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("pointer %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("read pointer: %w", err)
	}
	var p pointerFile
	if err := json.Unmarshal(b, &p); err != nil {
		return "", fmt.Errorf("%s: %w", path, ErrInvalidPointer)
	}
	if p.Type != PointerType || p.View == "" {
		return "", fmt.Errorf("%s: %w", path, ErrInvalidPointer)
	}
	return p.View, nil
}

// SavePointer atomically points the pointer file at the named view.
func SavePointer(path, viewName string) error {
	b, err := json.Marshal(pointerFile{Type: PointerType, View: viewName})
	if err != nil {
		return fmt.Errorf("encode pointer: %w", err)
	}
	return atomicWriteFile(path, b)
}
