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

// Package backup makes byte-exact, write-once copies of files in the host
// store under synthesized backup names.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chainguard.dev/guardfs/pkg/backupname"
	gfs "chainguard.dev/guardfs/pkg/fs"
)

// Result describes a backup that now protects a source's content.
type Result struct {
	Source string
	Backup string
	Size   int64
	// Digest is the hex SHA-256 of the backed up content.
	Digest string
	// Reused is true when an existing backup of the same content
	// generation was returned instead of making a new one.
	Reused bool
}

// Generation records what the last backup of a name captured.
type Generation struct {
	Backup  string
	Size    int64
	ModTime time.Time
	Digest  string
}

// DefaultGenerationLimit is how many names an Executor remembers the last
// backup of unless WithGenerationLimit says otherwise.
const DefaultGenerationLimit = 4096

// Executor creates backups in a host store.
type Executor struct {
	fs  gfs.FS
	now func() time.Time

	mu          sync.Mutex
	limit       int
	seq         uint64
	generations map[string]generation
}

type generation struct {
	Generation
	seq uint64
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock used to name backups.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithGenerationLimit bounds how many names the executor remembers. When
// the bound is exceeded the least recently backed up name is forgotten;
// its next backup is then made afresh instead of reused. n <= 0 keeps
// the default.
func WithGenerationLimit(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.limit = n
		}
	}
}

// New returns an Executor writing into fsys.
func New(fsys gfs.FS, opts ...Option) *Executor {
	e := &Executor{
		fs:          fsys,
		now:         time.Now,
		limit:       DefaultGenerationLimit,
		generations: map[string]generation{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generation returns the last backup record for name.
func (e *Executor) Generation(name string) (Generation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.generations[name]
	return g.Generation, ok
}

func (e *Executor) remember(name string, g Generation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.generations[name] = generation{Generation: g, seq: e.seq}
	for len(e.generations) > e.limit {
		oldest, low := "", e.seq
		for n, g := range e.generations {
			if g.seq <= low {
				oldest, low = n, g.seq
			}
		}
		delete(e.generations, oldest)
	}
}

// forget drops the record for name unless it was replaced meanwhile.
func (e *Executor) forget(name string, g Generation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.generations[name]; ok && cur.Generation == g {
		delete(e.generations, name)
	}
}

// Protect ensures the current content of name is held by a backup. If the
// last backup made for name still matches the source byte for byte it is
// reused, otherwise a new one is made. Callers must serialize calls for
// the same name.
func (e *Executor) Protect(ctx context.Context, name string) (*Result, error) {
	if r, ok := e.reusable(ctx, name); ok {
		return r, nil
	}
	return e.MakeBackup(ctx, name)
}

func (e *Executor) reusable(ctx context.Context, name string) (*Result, bool) {
	g, ok := e.Generation(name)
	if !ok {
		return nil, false
	}
	fi, err := e.fs.Stat(name)
	if err != nil || fi.Size() != g.Size || !fi.ModTime().Equal(g.ModTime) {
		return nil, false
	}
	if !e.holds(g) {
		e.forget(name, g)
		return nil, false
	}
	digest, err := e.digestOf(name, g.Size)
	if err != nil || digest != g.Digest {
		return nil, false
	}
	clog.FromContext(ctx).Debug("reusing backup of unchanged content", "source", name, "backup", g.Backup)
	return &Result{Source: name, Backup: g.Backup, Size: g.Size, Digest: g.Digest, Reused: true}, true
}

// holds reports whether the backup recorded in g still exists and still
// carries the content it was made with. A backup that was removed and
// recreated under the same name does not.
func (e *Executor) holds(g Generation) bool {
	bi, err := e.fs.Stat(g.Backup)
	if err != nil || bi.IsDir() || bi.Size() != g.Size {
		return false
	}
	digest, err := e.digestOf(g.Backup, g.Size)
	return err == nil && digest == g.Digest
}

// Recent returns the backup made for name in the current millisecond,
// provided it is still intact and name has been emptied since. It lets a
// writer that finds the file truncated by an earlier writer of the same
// burst rely on the backup that writer made.
func (e *Executor) Recent(ctx context.Context, name string) (*Result, bool) {
	g, ok := e.Generation(name)
	if !ok {
		return nil, false
	}
	if !strings.HasPrefix(gfs.Base(g.Backup), backupname.Prefix(e.now())) {
		return nil, false
	}
	fi, err := e.fs.Stat(name)
	if err != nil || fi.Size() != 0 || !e.holds(g) {
		return nil, false
	}
	clog.FromContext(ctx).Debug("source emptied within the burst of its backup", "source", name, "backup", g.Backup)
	return &Result{Source: name, Backup: g.Backup, Size: g.Size, Digest: g.Digest, Reused: true}, true
}

func (e *Executor) digestOf(name string, size int64) (string, error) {
	f, err := e.fs.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest(f, size)
}

func digest(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, size)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MakeBackup copies the full content of name to a new file named by
// backupname.Synthesize in the same directory. The backup is created
// exclusively; an existing file of that name is never overwritten. On any
// failure after the backup was created it is removed again, so a partial
// backup is never left behind.
func (e *Executor) MakeBackup(ctx context.Context, name string) (res *Result, err error) {
	ctx, span := otel.Tracer("guardfs").Start(ctx, "MakeBackup")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := clog.FromContext(ctx)

	dest := gfs.Join(gfs.Dir(name), backupname.Synthesize(gfs.Base(name), e.now()))
	span.SetAttributes(attribute.String("source", name), attribute.String("backup", dest))

	src, err := gfs.OpenHandle(e.fs, name, gfs.IntentRead, false)
	if err != nil {
		return nil, &Error{Op: "open source", Name: name, Kind: ErrSourceUnavailable, Err: err}
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return nil, &Error{Op: "stat source", Name: name, Kind: ErrSourceUnavailable, Err: err}
	}
	if fi.IsDir() {
		return nil, &Error{Op: "stat source", Name: name, Kind: ErrSourceUnavailable, Err: errors.New("is a directory")}
	}
	size := fi.Size()
	if size == 0 {
		return nil, &Error{Op: "stat source", Name: name, Kind: ErrSourceEmpty}
	}

	dst, err := gfs.Open(e.fs, dest, os.O_RDWR|os.O_CREATE|os.O_EXCL, fi.Mode().Perm()|0o200)
	if err != nil {
		kind := ErrIO
		if errors.Is(err, fs.ErrExist) {
			kind = ErrCollision
		}
		return nil, &Error{Op: "create", Name: name, Backup: dest, Kind: kind, Err: err}
	}

	discard := func(op string, cause error) error {
		_ = dst.Close()
		if rmErr := e.fs.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warnf("removing partial backup %s: %v", dest, rmErr)
		}
		return &Error{Op: op, Name: name, Backup: dest, Kind: ErrIO, Err: cause}
	}

	if _, err := gfs.CopyRange(dst, src, size); err != nil {
		return nil, discard("copy", err)
	}
	sum, err := digest(dst, size)
	if err != nil {
		return nil, discard("verify", err)
	}
	want, err := digest(src, size)
	if err != nil {
		return nil, discard("verify", err)
	}
	if sum != want {
		return nil, discard("verify", errors.New("backup content differs from source"))
	}
	if err := dst.Close(); err != nil {
		if rmErr := e.fs.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			log.Warnf("removing partial backup %s: %v", dest, rmErr)
		}
		return nil, &Error{Op: "close", Name: name, Backup: dest, Kind: ErrIO, Err: err}
	}

	e.remember(name, Generation{Backup: dest, Size: size, ModTime: fi.ModTime(), Digest: sum})
	log.Info("created backup", "source", name, "backup", dest, "bytes", size)
	return &Result{Source: name, Backup: dest, Size: size, Digest: sum}, nil
}
