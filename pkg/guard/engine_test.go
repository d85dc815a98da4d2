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
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/guardfs/pkg/audit"
	"chainguard.dev/guardfs/pkg/backup"
	"chainguard.dev/guardfs/pkg/backupname"
	gfs "chainguard.dev/guardfs/pkg/fs"
	"chainguard.dev/guardfs/pkg/mode"
)

var fixed = time.Unix(1718000000, 123_456_789)

func fixedClock() time.Time { return fixed }

func newEngine(t *testing.T, m mode.Mode, opts ...Option) (*Engine, gfs.FS) {
	t.Helper()
	store, err := mode.NewStore(m)
	require.NoError(t, err)
	fsys := gfs.NewMemFS()
	return New(fsys, store, append([]Option{WithClock(fixedClock)}, opts...)...), fsys
}

func backupsOf(t *testing.T, fsys gfs.FS, original string) []string {
	t.Helper()
	got, err := backupname.List(fsys, ".", original)
	require.NoError(t, err)
	return got
}

func writeAll(t *testing.T, h *gfs.Handle, s string) {
	t.Helper()
	_, err := h.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestPermissiveBacksUpBeforeOverwrite(t *testing.T) {
	ctx := context.Background()
	e, fsys := newEngine(t, mode.Permissive)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	h, v, err := e.Authorize(ctx, "report.txt", os.O_WRONLY|os.O_TRUNC, 0)
	require.NoError(t, err)
	require.Equal(t, AllowAfterBackup, v)
	require.False(t, h.JustCreated())
	writeAll(t, h, "B")

	require.Equal(t, []string{"_1718000000123_report.txt"}, backupsOf(t, fsys, "report.txt"))
	got, err := fsys.ReadFile("_1718000000123_report.txt")
	require.NoError(t, err)
	require.Equal(t, "A", string(got))
	got, err = fsys.ReadFile("report.txt")
	require.NoError(t, err)
	require.Equal(t, "B", string(got))
}

func TestPermissiveNewFile(t *testing.T) {
	e, fsys := newEngine(t, mode.Permissive)
	h, v, err := e.Authorize(context.Background(), "new.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	require.Equal(t, Allow, v)
	require.True(t, h.JustCreated())
	writeAll(t, h, "fresh")
	require.Empty(t, backupsOf(t, fsys, "new.txt"))
}

func TestPermissiveCreateOnExistingBacksUp(t *testing.T) {
	e, fsys := newEngine(t, mode.Permissive)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	h, v, err := e.Authorize(context.Background(), "report.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	require.Equal(t, AllowAfterBackup, v)
	require.False(t, h.JustCreated())
	require.NoError(t, h.Close())
	require.Len(t, backupsOf(t, fsys, "report.txt"), 1)
}

func TestPermissiveExclusiveCreateOnExisting(t *testing.T) {
	e, fsys := newEngine(t, mode.Permissive)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	_, _, err := e.Authorize(context.Background(), "report.txt", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	require.ErrorIs(t, err, fs.ErrExist)
	require.Empty(t, backupsOf(t, fsys, "report.txt"))
}

func TestWORM(t *testing.T) {
	for _, m := range []mode.Mode{mode.Permissive, mode.ReadOnly} {
		t.Run(m.String(), func(t *testing.T) {
			e, fsys := newEngine(t, m)
			require.NoError(t, fsys.WriteFile(backupName, []byte("old"), 0o644))

			for _, flag := range []int{os.O_WRONLY, os.O_RDWR | os.O_CREATE, os.O_WRONLY | os.O_TRUNC, os.O_WRONLY | os.O_APPEND} {
				_, v, err := e.Authorize(context.Background(), backupName, flag, 0o644)
				require.Equal(t, Deny, v)
				require.ErrorIs(t, err, ErrPermissionDenied)
				require.ErrorIs(t, err, fs.ErrPermission)
			}
			got, err := fsys.ReadFile(backupName)
			require.NoError(t, err)
			require.Equal(t, "old", string(got))
		})
	}
}

func TestPermissiveNewBackupArtifact(t *testing.T) {
	e, _ := newEngine(t, mode.Permissive)
	h, v, err := e.Authorize(context.Background(), backupName, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.Equal(t, Allow, v)
	writeAll(t, h, "copied")
}

func TestReadOnlyDeniesWrites(t *testing.T) {
	e, fsys := newEngine(t, mode.ReadOnly)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	for _, name := range []string{"report.txt", "missing.txt", backupName} {
		_, v, err := e.Authorize(context.Background(), name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		require.Equal(t, Deny, v)
		var de *DeniedError
		require.ErrorAs(t, err, &de)
		require.Equal(t, mode.ReadOnly, de.Mode)
		require.NoError(t, de.Err)
	}
	_, err := fsys.Stat("missing.txt")
	require.ErrorIs(t, err, fs.ErrNotExist, "a denied create must not create")
	got, err := fsys.ReadFile("report.txt")
	require.NoError(t, err)
	require.Equal(t, "A", string(got), "a denied O_TRUNC must not truncate")
	require.Empty(t, backupsOf(t, fsys, "report.txt"))
}

func TestReadsAlwaysAllowed(t *testing.T) {
	for _, m := range []mode.Mode{mode.Permissive, mode.ReadOnly, mode.BackupOnly} {
		t.Run(m.String(), func(t *testing.T) {
			e, fsys := newEngine(t, m)
			require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))
			h, v, err := e.Authorize(context.Background(), "report.txt", os.O_RDONLY, 0)
			require.NoError(t, err)
			require.Equal(t, Allow, v)
			got, err := io.ReadAll(h)
			require.NoError(t, err)
			require.Equal(t, "A", string(got))
			require.NoError(t, h.Close())

			// A read never creates.
			_, _, err = e.Authorize(context.Background(), "absent", os.O_RDONLY|os.O_CREATE, 0o644)
			require.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestBackupOnly(t *testing.T) {
	e, fsys := newEngine(t, mode.BackupOnly)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))
	require.NoError(t, fsys.WriteFile(backupName, []byte("old"), 0o644))

	h, v, err := e.Authorize(context.Background(), backupName, os.O_WRONLY|os.O_TRUNC, 0)
	require.NoError(t, err)
	require.Equal(t, Allow, v)
	writeAll(t, h, "restored")

	_, v, err = e.Authorize(context.Background(), "report.txt", os.O_WRONLY, 0)
	require.Equal(t, Deny, v)
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Empty(t, backupsOf(t, fsys, "report.txt"))
}

func TestBackupFailureDenies(t *testing.T) {
	t.Run("collision", func(t *testing.T) {
		e, fsys := newEngine(t, mode.Permissive)
		require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))
		require.NoError(t, fsys.WriteFile("_1718000000123_report.txt", []byte("other"), 0o644))

		_, v, err := e.Authorize(context.Background(), "report.txt", os.O_WRONLY|os.O_TRUNC, 0)
		require.Equal(t, Deny, v)
		require.ErrorIs(t, err, ErrPermissionDenied)
		require.ErrorIs(t, err, backup.ErrCollision)
		got, err := fsys.ReadFile("report.txt")
		require.NoError(t, err)
		require.Equal(t, "A", string(got))
	})

	t.Run("missing source", func(t *testing.T) {
		e, _ := newEngine(t, mode.Permissive)
		_, v, err := e.Authorize(context.Background(), "gone.txt", os.O_WRONLY, 0)
		require.Equal(t, Deny, v)
		require.ErrorIs(t, err, backup.ErrSourceUnavailable)
	})
}

func TestEmptySourcePolicy(t *testing.T) {
	for _, tt := range []struct {
		policy EmptySourcePolicy
		want   Verdict
	}{
		{EmptySourceAllow, Allow},
		{EmptySourceDeny, Deny},
	} {
		t.Run(tt.policy.String(), func(t *testing.T) {
			e, fsys := newEngine(t, mode.Permissive, WithEmptySourcePolicy(tt.policy))
			require.NoError(t, fsys.WriteFile("empty", nil, 0o644))
			h, v, err := e.Authorize(context.Background(), "empty", os.O_WRONLY, 0)
			require.Equal(t, tt.want, v)
			if tt.want == Deny {
				require.ErrorIs(t, err, backup.ErrSourceEmpty)
				return
			}
			require.NoError(t, err)
			require.NoError(t, h.Close())
			require.Empty(t, backupsOf(t, fsys, "empty"))
		})
	}
}

func TestParseEmptySourcePolicy(t *testing.T) {
	for in, want := range map[string]EmptySourcePolicy{"": EmptySourceAllow, "allow": EmptySourceAllow, "deny": EmptySourceDeny} {
		got, err := ParseEmptySourcePolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseEmptySourcePolicy("maybe")
	require.Error(t, err)
}

func TestModeChangeAppliesToNextOpen(t *testing.T) {
	e, fsys := newEngine(t, mode.ReadOnly)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	_, v, _ := e.Authorize(context.Background(), "report.txt", os.O_WRONLY, 0)
	require.Equal(t, Deny, v)

	require.NoError(t, e.Modes().Set(mode.Permissive))
	h, v, err := e.Authorize(context.Background(), "report.txt", os.O_WRONLY, 0)
	require.NoError(t, err)
	require.Equal(t, AllowAfterBackup, v)
	require.NoError(t, h.Close())
}

// Writers open the same existing file in the same millisecond. Exactly one
// backup is made and every writer proceeds, whatever the empty-source
// policy: a file truncated by an earlier writer of the burst is already
// protected.
func TestConcurrentWritersSameMillisecond(t *testing.T) {
	for _, tt := range []struct {
		flag   int
		policy EmptySourcePolicy
	}{
		{os.O_WRONLY, EmptySourceAllow},
		{os.O_WRONLY | os.O_TRUNC, EmptySourceAllow},
		{os.O_WRONLY, EmptySourceDeny},
		{os.O_WRONLY | os.O_TRUNC, EmptySourceDeny},
	} {
		flag := tt.flag
		e, fsys := newEngine(t, mode.Permissive, WithEmptySourcePolicy(tt.policy))
		require.NoError(t, fsys.WriteFile("report.txt", []byte("original content"), 0o644))

		const writers = 8
		handles := make([]*gfs.Handle, writers)
		var g errgroup.Group
		for i := range writers {
			g.Go(func() error {
				h, v, err := e.Authorize(context.Background(), "report.txt", flag, 0)
				if err != nil {
					return err
				}
				if v == Deny {
					return errors.New("denied")
				}
				handles[i] = h
				return nil
			})
		}
		require.NoError(t, g.Wait())
		for _, h := range handles {
			require.NoError(t, h.Close())
		}

		require.Equal(t, []string{"_1718000000123_report.txt"}, backupsOf(t, fsys, "report.txt"))
		got, err := fsys.ReadFile("_1718000000123_report.txt")
		require.NoError(t, err)
		require.Equal(t, "original content", string(got))
	}
}

func TestEmptySourceDenyOutsideBurst(t *testing.T) {
	now := fixed
	e, fsys := newEngine(t, mode.Permissive, WithEmptySourcePolicy(EmptySourceDeny), WithClock(func() time.Time { return now }))
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	h, v, err := e.Authorize(context.Background(), "report.txt", os.O_WRONLY|os.O_TRUNC, 0)
	require.NoError(t, err)
	require.Equal(t, AllowAfterBackup, v)
	require.NoError(t, h.Close())

	now = now.Add(time.Millisecond)
	_, v, err = e.Authorize(context.Background(), "report.txt", os.O_WRONLY, 0)
	require.Equal(t, Deny, v)
	require.ErrorIs(t, err, backup.ErrSourceEmpty)
}

func TestAuthorizeResult(t *testing.T) {
	ctx := context.Background()
	e, fsys := newEngine(t, mode.Permissive)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	h, v, res, err := e.AuthorizeResult(ctx, "new.txt", os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.Equal(t, Allow, v)
	require.Nil(t, res)
	require.NoError(t, h.Close())

	h, v, res, err = e.AuthorizeResult(ctx, "report.txt", os.O_WRONLY, 0)
	require.NoError(t, err)
	require.Equal(t, AllowAfterBackup, v)
	require.Equal(t, "_1718000000123_report.txt", res.Backup)
	require.False(t, res.Reused)
	require.NoError(t, h.Close())

	h, _, res, err = e.AuthorizeResult(ctx, "report.txt", os.O_WRONLY, 0)
	require.NoError(t, err)
	require.True(t, res.Reused)
	require.NoError(t, h.Close())
}

// A backup removed by an administrator and recreated under the same name
// with content of the same size must not stand in for the original.
func TestReplacedBackupIsNotReused(t *testing.T) {
	const made = "_1718000000123_report.txt"
	ctx := context.Background()
	now := fixed
	e, fsys := newEngine(t, mode.Permissive, WithClock(func() time.Time { return now }))
	require.NoError(t, fsys.WriteFile("report.txt", []byte("SECRET"), 0o644))
	g := e.FS(ctx)

	f, err := g.OpenFile("report.txt", os.O_RDWR, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, []string{made}, backupsOf(t, fsys, "report.txt"))

	require.NoError(t, g.Remove(made))
	require.NoError(t, g.WriteFile(made, []byte("XXXXXX"), 0o644))

	// The fresh backup would collide with the replacement.
	err = g.WriteFile("report.txt", []byte("lost"), 0o644)
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.ErrorIs(t, err, backup.ErrCollision)
	got, err := fsys.ReadFile("report.txt")
	require.NoError(t, err)
	require.Equal(t, "SECRET", string(got))

	now = now.Add(time.Millisecond)
	require.NoError(t, g.WriteFile("report.txt", []byte("kept"), 0o644))
	backups := backupsOf(t, fsys, "report.txt")
	require.Len(t, backups, 2)
	got, err = fsys.ReadFile(backups[0])
	require.NoError(t, err)
	require.Equal(t, "SECRET", string(got), "newest backup holds the content before the overwrite")
}

func TestBackupIfRequired(t *testing.T) {
	ctx := context.Background()
	e, fsys := newEngine(t, mode.Permissive)
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))

	req := NewRequest("report.txt", gfs.IntentWrite, false)
	for _, v := range []Verdict{Allow, Deny} {
		got, res, err := e.BackupIfRequired(ctx, v, req)
		require.NoError(t, err)
		require.Nil(t, res)
		require.Equal(t, v, got)
	}
	require.Empty(t, backupsOf(t, fsys, "report.txt"))

	v := Decide(mode.Permissive, req)
	got, res, err := e.BackupIfRequired(ctx, v, req)
	require.NoError(t, err)
	require.Equal(t, AllowAfterBackup, got)
	require.Equal(t, "_1718000000123_report.txt", res.Backup)
}

type recorder struct {
	mu        sync.Mutex
	decisions []Verdict
	backups   int
	failures  int
}

func (r *recorder) ObserveDecision(_ mode.Mode, _ Request, v Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, v)
}

func (r *recorder) ObserveBackup(_ *backup.Result, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		return
	}
	r.backups++
}

func TestObserverAndAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := audit.Open(path)
	require.NoError(t, err)

	rec := &recorder{}
	e, fsys := newEngine(t, mode.Permissive, WithObserver(rec), WithAudit(l))
	require.NoError(t, fsys.WriteFile("report.txt", []byte("A"), 0o644))
	require.NoError(t, fsys.WriteFile(backupName, []byte("old"), 0o644))

	h, _, err := e.Authorize(context.Background(), "report.txt", os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	_, _, err = e.Authorize(context.Background(), backupName, os.O_WRONLY, 0)
	require.Error(t, err)
	h, _, err = e.Authorize(context.Background(), "report.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, l.Close())

	assert.Equal(t, []Verdict{AllowAfterBackup, Deny, Allow}, rec.decisions)
	assert.Equal(t, 1, rec.backups)
	assert.Zero(t, rec.failures)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	n, err := audit.Verify(bytes.NewReader(b))
	require.NoError(t, err)
	require.Equal(t, 2, n, "reads are not journaled")
	require.Contains(t, string(b), `"backup":"_1718000000123_report.txt"`)
	require.Contains(t, string(b), `"verdict":"deny"`)
}
