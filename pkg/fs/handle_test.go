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

package fs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// stores returns one of each store implementation.
func stores(t *testing.T) map[string]FS {
	t.Helper()
	dir, err := DirFS(t.TempDir())
	require.NoError(t, err, "error creating dirfs")
	return map[string]FS{
		"memfs": NewMemFS(),
		"dirfs": dir,
	}
}

func TestOpenJustCreated(t *testing.T) {
	for name, fsys := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h, err := Open(fsys, "report.txt", os.O_RDWR|os.O_CREATE, 0o644)
			require.NoError(t, err)
			require.True(t, h.JustCreated(), "first create should report creation")
			require.Equal(t, IntentWrite, h.Intent())
			_, err = h.Write([]byte("A"))
			require.NoError(t, err)
			require.NoError(t, h.Close())

			h, err = Open(fsys, "report.txt", os.O_RDWR|os.O_CREATE, 0o644)
			require.NoError(t, err)
			require.False(t, h.JustCreated(), "existing entry must not report creation")
			size, err := h.Size()
			require.NoError(t, err)
			require.EqualValues(t, 1, size)
			require.NoError(t, h.Close())
		})
	}
}

func TestOpenExclusiveExisting(t *testing.T) {
	for name, fsys := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, fsys.WriteFile("a", []byte("x"), 0o644))
			_, err := Open(fsys, "a", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
			require.True(t, errors.Is(err, fs.ErrExist), "got %v", err)
		})
	}
}

func TestOpenHandleNotFound(t *testing.T) {
	for name, fsys := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := OpenHandle(fsys, "missing", IntentRead, false)
			require.ErrorIs(t, err, fs.ErrNotExist)
			_, err = OpenHandle(fsys, "missing", IntentWrite, false)
			require.ErrorIs(t, err, fs.ErrNotExist)

			h, err := OpenHandle(fsys, "missing", IntentWrite, true)
			require.NoError(t, err)
			require.True(t, h.JustCreated())
			require.NoError(t, h.Close())
		})
	}
}

func TestCopyRange(t *testing.T) {
	content := []byte("hello, world")
	for name, fsys := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, fsys.WriteFile("src", content, 0o644))
			src, err := OpenHandle(fsys, "src", IntentRead, false)
			require.NoError(t, err)
			defer src.Close()
			dst, err := Open(fsys, "dst", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
			require.NoError(t, err)

			size, err := Size(fsys, "src")
			require.NoError(t, err)
			n, err := CopyRange(dst, src, size)
			require.NoError(t, err)
			require.EqualValues(t, len(content), n)
			require.NoError(t, dst.Close())

			got, err := fsys.ReadFile("dst")
			require.NoError(t, err)
			require.Equal(t, content, got)
		})
	}
}

func TestCopyRangeShortSource(t *testing.T) {
	for name, fsys := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, fsys.WriteFile("src", []byte("abc"), 0o644))
			src, err := fsys.OpenFile("src", os.O_RDONLY, 0)
			require.NoError(t, err)
			defer src.Close()
			dst, err := fsys.OpenFile("dst", os.O_RDWR|os.O_CREATE, 0o644)
			require.NoError(t, err)
			defer dst.Close()

			_, err = CopyRange(dst, src, 10)
			require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestClean(t *testing.T) {
	for _, tt := range []struct {
		in, want string
	}{
		{"report.txt", "report.txt"},
		{"/report.txt", "report.txt"},
		{"./a/b", "a/b"},
		{"a/../b", "b"},
		{"../../etc/passwd", "etc/passwd"},
		{"", "."},
		{"/", "."},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Clean(tt.in)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
