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

// Package fs defines the host store that guardfs sits in front of, and
// provides in-memory and directory-backed implementations of it.
//
// The host store owns data layout, allocation and attributes. guardfs only
// needs to open entries by name, learn whether an open just created the
// entry, copy a byte range between two open files, query a size and close.
package fs

import (
	"io"
	"io/fs"
	"path"
	"strings"
)

// FS is the host store.
type FS interface {
	fs.FS
	fs.ReadDirFS
	fs.StatFS

	OpenFile(name string, flag int, perm fs.FileMode) (File, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, b []byte, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	Remove(name string) error
}

// File is an interface for a file. It includes Read, Write, Close.
// This wouldn't be necessary if os.File were an interface, or if fs.File
// were read/write.
type File interface {
	fs.File
	io.WriteSeeker
	io.ReaderAt
}

// Clean normalizes a store name to the slash-separated, unrooted form
// accepted by fs.ValidPath. It reports false for names that escape the root.
func Clean(name string) (string, bool) {
	name = path.Clean("/" + strings.TrimPrefix(name, "./"))
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		name = "."
	}
	return name, fs.ValidPath(name)
}

// Base returns the leaf identifier of a store name. Backup names are
// matched against the leaf, never the full path.
func Base(name string) string {
	return path.Base(name)
}

// Dir returns the directory portion of a store name.
func Dir(name string) string {
	return path.Dir(name)
}

// Join joins store name elements.
func Join(elem ...string) string {
	return path.Join(elem...)
}

func pathErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}
