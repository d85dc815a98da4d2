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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type dirFSOpts struct {
	mkdir bool
}

// DirFSOption is an option for DirFS
type DirFSOption func(*dirFSOpts) error

// DirFSWithCreateDir allows you to specify whether the underlying directory
// should be created if it does not exist. Default is false.
func DirFSWithCreateDir(createDir bool) DirFSOption {
	return func(opts *dirFSOpts) error {
		opts.mkdir = createDir
		return nil
	}
}

// DirFS returns a store rooted at dir on disk. Files it opens are *os.File,
// so copies between two of them run in the kernel where supported.
func DirFS(dir string, opts ...DirFSOption) (FS, error) {
	var options dirFSOpts
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	fi, err := os.Stat(dir)
	switch {
	case err != nil && !os.IsNotExist(err):
		return nil, err
	case err != nil:
		if !options.mkdir {
			return nil, fmt.Errorf("store root %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	case !fi.IsDir():
		return nil, fmt.Errorf("store root %s is not a directory", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &dirFS{base: abs}, nil
}

// dirFS represents an FS implementation based on a directory on disk.
type dirFS struct {
	base string
}

func (f *dirFS) String() string {
	return "dir:" + f.base
}

func (f *dirFS) sanitize(op, name string) (string, error) {
	clean, ok := Clean(name)
	if !ok {
		return "", pathErr(op, name, fs.ErrInvalid)
	}
	return filepath.Join(f.base, filepath.FromSlash(clean)), nil
}

func (f *dirFS) Open(name string) (fs.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *dirFS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	full, err := f.sanitize("open", name)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(full, flag, perm)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (f *dirFS) Stat(name string) (fs.FileInfo, error) {
	full, err := f.sanitize("stat", name)
	if err != nil {
		return nil, err
	}
	return os.Stat(full)
}

func (f *dirFS) ReadFile(name string) ([]byte, error) {
	full, err := f.sanitize("read", name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (f *dirFS) WriteFile(name string, b []byte, perm fs.FileMode) error {
	full, err := f.sanitize("write", name)
	if err != nil {
		return err
	}
	return os.WriteFile(full, b, perm)
}

func (f *dirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	full, err := f.sanitize("readdir", name)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(full)
}

func (f *dirFS) MkdirAll(name string, perm fs.FileMode) error {
	full, err := f.sanitize("mkdir", name)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, perm)
}

func (f *dirFS) Remove(name string) error {
	full, err := f.sanitize("remove", name)
	if err != nil {
		return err
	}
	if full == f.base {
		return pathErr("remove", name, fs.ErrInvalid)
	}
	return os.Remove(full)
}
