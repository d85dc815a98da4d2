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
	"os"

	gfs "chainguard.dev/guardfs/pkg/fs"
)

// FS is a host store whose opens go through an Engine. Reads, Stat and
// ReadDir pass through. MkdirAll and Remove are administrative operations
// outside the decision engine and are forwarded unchanged.
type FS struct {
	ctx context.Context
	eng *Engine
}

var _ gfs.FS = (*FS)(nil)

// FS returns the engine's store with every open routed through Authorize.
// ctx carries the logger and trace used for those opens.
func (e *Engine) FS(ctx context.Context) *FS {
	return &FS{ctx: ctx, eng: e}
}

func (g *FS) Open(name string) (fs.File, error) {
	return g.OpenFile(name, os.O_RDONLY, 0)
}

func (g *FS) OpenFile(name string, flag int, perm fs.FileMode) (gfs.File, error) {
	h, _, err := g.eng.Authorize(g.ctx, name, flag, perm)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (g *FS) ReadFile(name string) ([]byte, error) {
	return g.eng.fs.ReadFile(name)
}

// WriteFile writes b to name as an O_TRUNC open would, so it is subject to
// the same decision and backup as any other write.
func (g *FS) WriteFile(name string, b []byte, perm fs.FileMode) error {
	f, err := g.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (g *FS) Stat(name string) (fs.FileInfo, error) {
	return g.eng.fs.Stat(name)
}

func (g *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	return g.eng.fs.ReadDir(name)
}

func (g *FS) MkdirAll(path string, perm fs.FileMode) error {
	return g.eng.fs.MkdirAll(path, perm)
}

func (g *FS) Remove(name string) error {
	return g.eng.fs.Remove(name)
}
