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
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Intent is what an opener means to do with a file.
type Intent int

const (
	IntentRead Intent = iota
	IntentWrite
)

func (i Intent) String() string {
	if i == IntentWrite {
		return "write"
	}
	return "read"
}

// IntentOf derives the intent from os.OpenFile style flags.
func IntentOf(flag int) Intent {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return IntentWrite
	}
	return IntentRead
}

// Handle is an open host file together with what the open did.
type Handle struct {
	File

	name        string
	intent      Intent
	justCreated bool
}

// Name returns the store name the handle was opened with.
func (h *Handle) Name() string { return h.name }

// Intent returns the intent the handle was opened with.
func (h *Handle) Intent() Intent { return h.intent }

// JustCreated reports whether this very open created the entry.
func (h *Handle) JustCreated() bool { return h.justCreated }

// Size returns the current size of the open file.
func (h *Handle) Size() (int64, error) {
	fi, err := h.File.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Open opens name with os.OpenFile style flags and records whether the
// entry was created by this call. When O_CREATE is set without O_EXCL the
// create is first attempted exclusively; if the entry already exists it is
// opened as an existing file instead.
func Open(fsys FS, name string, flag int, perm fs.FileMode) (*Handle, error) {
	if flag&os.O_CREATE != 0 {
		h, err := CreateExclusive(fsys, name, flag, perm)
		if err == nil || !errors.Is(err, fs.ErrExist) || flag&os.O_EXCL != 0 {
			return h, err
		}
		flag &^= os.O_CREATE
	}
	f, err := fsys.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &Handle{File: f, name: name, intent: IntentOf(flag)}, nil
}

// CreateExclusive creates name, failing with fs.ErrExist when it is
// already present. An existing entry is never opened, so O_TRUNC in flag
// cannot touch its content.
func CreateExclusive(fsys FS, name string, flag int, perm fs.FileMode) (*Handle, error) {
	f, err := fsys.OpenFile(name, flag|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, err
	}
	return &Handle{File: f, name: name, intent: IntentOf(flag), justCreated: true}, nil
}

// OpenHandle opens name for reading or writing, optionally creating it.
func OpenHandle(fsys FS, name string, intent Intent, createIfAbsent bool) (*Handle, error) {
	flag := os.O_RDONLY
	if intent == IntentWrite {
		flag = os.O_RDWR
		if createIfAbsent {
			flag |= os.O_CREATE
		}
	}
	return Open(fsys, name, flag, 0o644)
}

// Size returns the size of name in fsys.
func Size(fsys FS, name string) (int64, error) {
	fi, err := fsys.Stat(name)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, pathErr("size", name, errors.New("is a directory"))
	}
	return fi.Size(), nil
}

// CopyRange copies the first n bytes of src to the start of dst in one
// bulk operation. It fails with io.ErrUnexpectedEOF when src holds fewer
// than n bytes.
func CopyRange(dst, src File, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("copy range: negative length %d", n)
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	if df, ok := osFile(dst); ok {
		if sf, ok := osFile(src); ok {
			if written, handled, err := copyFileRange(df, sf, n); handled {
				return written, err
			}
		}
	}
	written, err := io.Copy(dst, io.NewSectionReader(src, 0, n))
	if err != nil {
		return written, err
	}
	if written != n {
		return written, io.ErrUnexpectedEOF
	}
	return written, nil
}

func osFile(f File) (*os.File, bool) {
	if h, ok := f.(*Handle); ok {
		f = h.File
	}
	of, ok := f.(*os.File)
	return of, ok
}
