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

package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the original could not be opened or read.
	ErrSourceUnavailable = errors.New("backup source unavailable")
	// ErrSourceEmpty means the original exists but holds no bytes.
	ErrSourceEmpty = fmt.Errorf("%w: source is empty", ErrSourceUnavailable)
	// ErrCollision means the synthesized backup name already exists.
	ErrCollision = errors.New("backup name already exists")
	// ErrIO means the copy failed part way. The partial backup was removed.
	ErrIO = errors.New("backup copy failed")
)

// Error describes a failed backup.
type Error struct {
	Op     string
	Name   string
	Backup string
	// Kind is one of the sentinel errors above.
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backup %s: %s", e.Name, e.Op)
	if e.Backup != "" {
		msg += " " + e.Backup
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
