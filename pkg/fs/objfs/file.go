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

package objfs

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
)

// file is an open object. Read-only files read ranges from the bucket;
// writable files hold the whole object in buf until Close.
type file struct {
	fs   *FS
	name string
	key  string
	flag int
	perm fs.FileMode

	mu      sync.Mutex
	buf     []byte
	size    int64
	modTime time.Time
	off     int64
	dirty   bool
	closed  bool
}

func (f *file) writable() bool { return f.buf != nil }

func (f *file) Stat() (fs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, os.ErrClosed
	}
	return &fileInfo{name: path.Base(f.key), size: f.size, modTime: f.modTime, mode: f.perm}, nil
}

func (f *file) Read(p []byte) (int, error) {
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	n, err := f.ReadAt(p, off)
	f.mu.Lock()
	f.off += int64(n)
	f.mu.Unlock()
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}
	if off >= f.size {
		return 0, io.EOF
	}
	if f.writable() {
		n := copy(p, f.buf[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}

	end := off + int64(len(p)) - 1
	if end >= f.size {
		end = f.size - 1
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, err
	}
	obj, err := f.fs.client.GetObject(f.fs.ctx, f.fs.bucket, f.key, opts)
	if err != nil {
		return 0, pathErr("read", f.name, err)
	}
	defer obj.Close()
	n, err := io.ReadFull(obj, p[:end-off+1])
	if err != nil {
		return n, pathErr("read", f.name, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	if !f.writable() {
		return 0, &fs.PathError{Op: "write", Path: f.name, Err: fs.ErrPermission}
	}
	if f.flag&os.O_APPEND != 0 {
		f.off = int64(len(f.buf))
	}
	if end := f.off + int64(len(p)); end > int64(len(f.buf)) {
		f.buf = append(f.buf, make([]byte, end-int64(len(f.buf)))...)
	}
	n := copy(f.buf[f.off:], p)
	f.off += int64(n)
	f.size = int64(len(f.buf))
	f.modTime = time.Now()
	f.dirty = true
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.off
	case io.SeekEnd:
		offset += f.size
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("seek: negative position")
	}
	f.off = offset
	return offset, nil
}

// Close uploads the content of a modified writable file.
func (f *file) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	if !f.dirty {
		return nil
	}
	if _, err := f.fs.client.PutObject(f.fs.ctx, f.fs.bucket, f.key, bytes.NewReader(f.buf), int64(len(f.buf)), minio.PutObjectOptions{}); err != nil {
		return pathErr("close", f.name, err)
	}
	return nil
}

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
	mode    fs.FileMode
	dir     bool
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	if fi.mode == 0 {
		return 0o644
	}
	return fi.mode.Perm()
}
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.dir }
func (fi *fileInfo) Sys() any           { return nil }
