// Copyright 2026 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mode holds the protection mode that governs every open-time
// decision, and the text channel operators use to read and change it.
package mode

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Mode is the global protection mode.
type Mode int32

const (
	// Permissive allows writes, but an existing non-backup file is backed
	// up before it may be overwritten and existing backups are immutable.
	Permissive Mode = 0
	// ReadOnly denies every write.
	ReadOnly Mode = 1
	// BackupOnly allows writes to backup artifacts only.
	BackupOnly Mode = 2

	// Default is the mode at process start.
	Default = ReadOnly
)

// ErrInvalidMode is returned for control-plane input that is malformed or
// out of range. The stored mode is never changed when it is returned.
var ErrInvalidMode = errors.New("invalid protection mode")

func (m Mode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case ReadOnly:
		return "read-only"
	case BackupOnly:
		return "backup-only"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Valid reports whether m is one of the three defined modes.
func (m Mode) Valid() bool {
	return m >= Permissive && m <= BackupOnly
}

// FromInt maps a raw control-plane integer to a Mode.
func FromInt(raw int) (Mode, error) {
	m := Mode(raw)
	if raw < int(Permissive) || raw > int(BackupOnly) {
		return 0, fmt.Errorf("%w: %d is outside 0-2", ErrInvalidMode, raw)
	}
	return m, nil
}

// Parse accepts either the decimal form ("0".."2") or the name of a mode.
func Parse(s string) (Mode, error) {
	switch s {
	case "permissive":
		return Permissive, nil
	case "read-only", "readonly":
		return ReadOnly, nil
	case "backup-only", "backuponly":
		return BackupOnly, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return FromInt(n)
}

// Store is a thread-safe cell holding the current mode. It is created once
// and handed to everything that needs it.
type Store struct {
	v atomic.Int32
}

// NewStore returns a store holding initial.
func NewStore(initial Mode) (*Store, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int32(initial))
	}
	s := &Store{}
	s.v.Store(int32(initial))
	return s, nil
}

// Get returns the current mode.
func (s *Store) Get() Mode {
	return Mode(s.v.Load())
}

// Set validates and stores m. Invalid values leave the store unchanged.
func (s *Store) Set(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %d is outside 0-2", ErrInvalidMode, int32(m))
	}
	s.v.Store(int32(m))
	return nil
}

// SetRaw stores the mode for a raw control-plane integer.
func (s *Store) SetRaw(raw int) error {
	m, err := FromInt(raw)
	if err != nil {
		return err
	}
	return s.Set(m)
}
