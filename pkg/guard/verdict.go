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

// Package guard decides, for every open of the host store, whether the
// open may proceed, may proceed only once the current content has been
// backed up, or must be refused.
//
// Deciding is pure (Decide). Performing the backup is a separate step
// (Engine.BackupIfRequired). Engine.Authorize sequences both under a
// per-name lock and then forwards the open to the host store.
package guard

import (
	"fmt"

	"chainguard.dev/guardfs/pkg/backupname"
	gfs "chainguard.dev/guardfs/pkg/fs"
	"chainguard.dev/guardfs/pkg/mode"
)

// Verdict is the outcome of an access decision. The zero value is Deny.
type Verdict int

const (
	Deny Verdict = iota
	Allow
	AllowAfterBackup
)

func (v Verdict) String() string {
	switch v {
	case Deny:
		return "deny"
	case Allow:
		return "allow"
	case AllowAfterBackup:
		return "allow_after_backup"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Request describes one open as the decision engine sees it.
type Request struct {
	// Path is the cleaned store name being opened.
	Path string
	// Name is the parsed leaf of Path.
	Name        backupname.Name
	WantsWrite  bool
	JustCreated bool
}

// NewRequest classifies name once so the decision never re-parses it.
func NewRequest(name string, intent gfs.Intent, justCreated bool) Request {
	return Request{
		Path:        name,
		Name:        backupname.Parse(gfs.Base(name)),
		WantsWrite:  intent == gfs.IntentWrite,
		JustCreated: justCreated,
	}
}

// Decide maps a mode and a request to a verdict. It has no side effects.
func Decide(m mode.Mode, req Request) Verdict {
	v, _ := decide(m, req)
	return v
}

func decide(m mode.Mode, req Request) (Verdict, string) {
	if !req.WantsWrite {
		return Allow, "read"
	}
	switch m {
	case mode.ReadOnly:
		return Deny, "store is read-only"
	case mode.BackupOnly:
		if req.Name.IsBackup {
			return Allow, "backup artifact write in backup-only mode"
		}
		return Deny, "only backup artifacts are writable in backup-only mode"
	case mode.Permissive:
		switch {
		case req.Name.IsBackup && req.JustCreated:
			return Allow, "new backup artifact"
		case req.Name.IsBackup:
			return Deny, "backup artifacts are write-once"
		case req.JustCreated:
			return Allow, "new file"
		default:
			return AllowAfterBackup, "existing file"
		}
	default:
		return Deny, fmt.Sprintf("unknown mode %d", int32(m))
	}
}
