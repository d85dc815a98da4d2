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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chainguard.dev/guardfs/pkg/audit"
	"chainguard.dev/guardfs/pkg/backup"
	gfs "chainguard.dev/guardfs/pkg/fs"
	"chainguard.dev/guardfs/pkg/mode"
)

// EmptySourcePolicy decides what happens when a file that would be backed
// up holds no bytes.
type EmptySourcePolicy int

const (
	// EmptySourceAllow lets the write proceed without a backup.
	EmptySourceAllow EmptySourcePolicy = iota
	// EmptySourceDeny refuses the write like any other backup failure.
	EmptySourceDeny
)

func (p EmptySourcePolicy) String() string {
	if p == EmptySourceDeny {
		return "deny"
	}
	return "allow"
}

// ParseEmptySourcePolicy parses "allow" or "deny". The empty string is
// "allow".
func ParseEmptySourcePolicy(s string) (EmptySourcePolicy, error) {
	switch s {
	case "", "allow":
		return EmptySourceAllow, nil
	case "deny":
		return EmptySourceDeny, nil
	default:
		return 0, fmt.Errorf("invalid empty source policy %q: must be allow or deny", s)
	}
}

// Observer is told about every decision and every backup attempt.
type Observer interface {
	ObserveDecision(m mode.Mode, req Request, v Verdict)
	ObserveBackup(res *backup.Result, err error, took time.Duration)
}

// Engine is the access decision engine bound to one host store and one
// mode cell.
type Engine struct {
	fs       gfs.FS
	modes    *mode.Store
	exec     *backup.Executor
	locks    *keyLock
	audit    *audit.Log
	observer Observer
	empty    EmptySourcePolicy

	now      func() time.Time
	execOpts []backup.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for backup names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.execOpts = append(e.execOpts, backup.WithClock(now))
	}
}

// WithAudit records every decision in l.
func WithAudit(l *audit.Log) Option {
	return func(e *Engine) { e.audit = l }
}

// WithObserver reports decisions and backups to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithEmptySourcePolicy sets how a zero-length source is handled.
func WithEmptySourcePolicy(p EmptySourcePolicy) Option {
	return func(e *Engine) { e.empty = p }
}

// WithExecutor uses exec instead of a new executor over the engine's store.
func WithExecutor(exec *backup.Executor) Option {
	return func(e *Engine) { e.exec = exec }
}

// New returns an engine over fsys that reads its mode from modes.
func New(fsys gfs.FS, modes *mode.Store, opts ...Option) *Engine {
	e := &Engine{
		fs:    fsys,
		modes: modes,
		locks: newKeyLock(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.exec == nil {
		e.exec = backup.New(fsys, e.execOpts...)
	}
	return e
}

// Modes returns the mode cell the engine reads.
func (e *Engine) Modes() *mode.Store { return e.modes }

// Executor returns the backup executor the engine uses.
func (e *Engine) Executor() *backup.Executor { return e.exec }

// Authorize decides whether name may be opened with flag and, when it may,
// opens it on the host store. For an existing file in permissive mode the
// current content is backed up before the open is forwarded, so an O_TRUNC
// open never destroys unprotected data.
//
// Writers to the same name are serialized from classification until the
// host open returns. On a Deny verdict the returned error is a
// *DeniedError. When the host open itself fails the error is the host
// error and the verdict is the one that was reached.
func (e *Engine) Authorize(ctx context.Context, name string, flag int, perm fs.FileMode) (*gfs.Handle, Verdict, error) {
	h, v, _, err := e.AuthorizeResult(ctx, name, flag, perm)
	return h, v, err
}

// AuthorizeResult is Authorize that also returns the backup protecting the
// open, as decided under the same per-name lock. It is nil unless the
// verdict is AllowAfterBackup.
func (e *Engine) AuthorizeResult(ctx context.Context, name string, flag int, perm fs.FileMode) (h *gfs.Handle, v Verdict, res *backup.Result, err error) {
	clean, ok := gfs.Clean(name)
	if !ok {
		return nil, Deny, nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	intent := gfs.IntentOf(flag)

	ctx, span := otel.Tracer("guardfs").Start(ctx, "Authorize")
	span.SetAttributes(attribute.String("name", clean), attribute.String("intent", intent.String()))
	defer func() {
		span.SetAttributes(attribute.String("verdict", v.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m := e.modes.Get()
	if intent == gfs.IntentRead {
		// Read opens never create or truncate.
		req := NewRequest(clean, intent, false)
		v, _ = decide(m, req)
		e.record(ctx, m, req, v, nil, nil)
		h, err = gfs.Open(e.fs, clean, flag&^(os.O_CREATE|os.O_EXCL|os.O_TRUNC), perm)
		if err != nil {
			return nil, v, nil, err
		}
		return h, v, nil, nil
	}

	unlock := e.locks.Lock(clean)
	defer unlock()
	// Re-read under the lock so a mode change made while waiting applies.
	m = e.modes.Get()

	justCreated := false
	if m == mode.Permissive && flag&os.O_CREATE != 0 {
		h, err = gfs.CreateExclusive(e.fs, clean, flag, perm)
		switch {
		case err == nil:
			justCreated = true
		case errors.Is(err, fs.ErrExist) && flag&os.O_EXCL == 0:
			err = nil
		default:
			return nil, Deny, nil, err
		}
	}

	req := NewRequest(clean, intent, justCreated)
	v, reason := decide(m, req)
	if v == Deny {
		e.record(ctx, m, req, v, nil, nil)
		if h != nil {
			_ = h.Close()
		}
		return nil, Deny, nil, &DeniedError{Name: clean, Mode: m, Reason: reason}
	}

	v, res, berr := e.backupIfRequired(ctx, v, req)
	e.record(ctx, m, req, v, res, berr)
	if v == Deny {
		return nil, Deny, nil, &DeniedError{Name: clean, Mode: m, Reason: "backup failed", Err: berr}
	}

	if h == nil {
		if h, err = gfs.Open(e.fs, clean, flag, perm); err != nil {
			return nil, v, res, err
		}
	}
	return h, v, res, nil
}

// BackupIfRequired performs the effect phase for a verdict reached by
// Decide. Only AllowAfterBackup does any work: the current content of
// req.Path is backed up and the verdict stands, or the backup fails and the
// verdict becomes Deny. It serializes with Authorize on the same name.
func (e *Engine) BackupIfRequired(ctx context.Context, v Verdict, req Request) (Verdict, *backup.Result, error) {
	if v != AllowAfterBackup {
		return v, nil, nil
	}
	unlock := e.locks.Lock(req.Path)
	defer unlock()
	return e.backupIfRequired(ctx, v, req)
}

func (e *Engine) backupIfRequired(ctx context.Context, v Verdict, req Request) (Verdict, *backup.Result, error) {
	if v != AllowAfterBackup {
		return v, nil, nil
	}
	start := time.Now()
	res, err := e.exec.Protect(ctx, req.Path)
	if e.observer != nil {
		e.observer.ObserveBackup(res, err, time.Since(start))
	}
	switch {
	case err == nil:
		return AllowAfterBackup, res, nil
	case errors.Is(err, backup.ErrSourceEmpty) && e.empty == EmptySourceAllow:
		clog.FromContext(ctx).Debug("nothing to back up", "name", req.Path)
		return Allow, nil, nil
	case errors.Is(err, backup.ErrSourceEmpty):
		// An earlier writer of this burst truncated the file after
		// backing it up.
		if res, ok := e.exec.Recent(ctx, req.Path); ok {
			return AllowAfterBackup, res, nil
		}
		return Deny, nil, err
	default:
		return Deny, nil, err
	}
}

func (e *Engine) record(ctx context.Context, m mode.Mode, req Request, v Verdict, res *backup.Result, err error) {
	log := clog.FromContext(ctx).With("name", req.Path, "mode", m.String(), "verdict", v.String())
	if err != nil {
		log.Warn("write denied: backup failed", "error", err)
	} else {
		log.Debug("access decided", "write", req.WantsWrite, "just_created", req.JustCreated)
	}

	if e.observer != nil {
		e.observer.ObserveDecision(m, req, v)
	}
	if e.audit == nil || !req.WantsWrite {
		return
	}
	entry := audit.Entry{
		Timestamp:   e.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Name:        req.Path,
		Mode:        int(m),
		Intent:      gfs.IntentWrite.String(),
		JustCreated: req.JustCreated,
		Verdict:     v.String(),
	}
	if res != nil {
		entry.Backup = res.Backup
		entry.Reused = res.Reused
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if aerr := e.audit.Record(entry); aerr != nil {
		log.Warn("recording decision", "error", aerr)
	}
}
