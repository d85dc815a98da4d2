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

package guard

import (
	"fmt"
	"io/fs"

	"chainguard.dev/guardfs/pkg/mode"
)

// ErrPermissionDenied is the error of every Deny verdict. It matches
// fs.ErrPermission.
var ErrPermissionDenied = fmt.Errorf("write denied: %w", fs.ErrPermission)

// DeniedError reports why a write was refused. Err is set when a failed
// backup caused the denial.
type DeniedError struct {
	Name   string
	Mode   mode.Mode
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	msg := fmt.Sprintf("open %s: write denied in %s mode: %s", e.Name, e.Mode, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeniedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPermissionDenied}
	}
	return []error{ErrPermissionDenied, e.Err}
}
