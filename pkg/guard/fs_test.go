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
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"chainguard.dev/guardfs/pkg/mode"
)

func TestFSWriteFileBacksUp(t *testing.T) {
	e, host := newEngine(t, mode.Permissive)
	g := e.FS(context.Background())
	require.NoError(t, g.MkdirAll("docs", 0o755))

	require.NoError(t, g.WriteFile("docs/report.txt", []byte("v1"), 0o644))
	require.NoError(t, g.WriteFile("docs/report.txt", []byte("v2"), 0o644))

	got, err := g.ReadFile("docs/report.txt")
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))
	got, err = host.ReadFile("docs/_1718000000123_report.txt")
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}

func TestFSReadOnly(t *testing.T) {
	e, host := newEngine(t, mode.ReadOnly)
	require.NoError(t, host.WriteFile("report.txt", []byte("A"), 0o644))
	g := e.FS(context.Background())

	err := g.WriteFile("report.txt", []byte("B"), 0o644)
	require.ErrorIs(t, err, fs.ErrPermission)

	b, err := fs.ReadFile(g, "report.txt")
	require.NoError(t, err)
	require.Equal(t, "A", string(b))
}

func TestFSRemoveForwarded(t *testing.T) {
	e, host := newEngine(t, mode.ReadOnly)
	require.NoError(t, host.WriteFile(backupName, []byte("old"), 0o644))
	g := e.FS(context.Background())
	require.NoError(t, g.Remove(backupName))
	_, err := host.Stat(backupName)
	require.ErrorIs(t, err, fs.ErrNotExist)
}
