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
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const pathSep = "/"

type memFS struct {
	tree *node
	now  func() time.Time
}

// NewMemFS returns an empty in-memory store.
func NewMemFS() FS {
	return &memFS{
		tree: &node{
			dir:      true,
			children: map[string]*node{},
			name:     ".",
			mode:     fs.ModeDir | 0o755,
		},
		now: time.Now,
	}
}

// getNode returns the node for the given path. If the path is not found, it
// returns an error.
func (m *memFS) getNode(name string) (*node, error) {
	if name == "." {
		return m.tree, nil
	}
	anode := m.tree
	for _, part := range strings.Split(name, pathSep) {
		if !anode.dir {
			return nil, errors.New("not a directory")
		}
		anode.mu.Lock()
		child, ok := anode.children[part]
		// immediately unlock, a child lookup must never hold the parent
		anode.mu.Unlock()
		if !ok {
			return nil, os.ErrNotExist
		}
		anode = child
	}
	return anode, nil
}

func (m *memFS) clean(op, name string) (string, error) {
	clean, ok := Clean(name)
	if !ok {
		return "", pathErr(op, name, fs.ErrInvalid)
	}
	return clean, nil
}

func (m *memFS) Stat(name string) (fs.FileInfo, error) {
	clean, err := m.clean("stat", name)
	if err != nil {
		return nil, err
	}
	anode, err := m.getNode(clean)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	return anode.fileInfo(Base(clean)), nil
}

func (m *memFS) MkdirAll(name string, perm fs.FileMode) error {
	clean, err := m.clean("mkdir", name)
	if err != nil {
		return err
	}
	if clean == "." {
		return nil
	}
	anode := m.tree
	for _, part := range strings.Split(clean, pathSep) {
		anode.mu.Lock()
		child, ok := anode.children[part]
		if !ok {
			child = &node{
				name:     part,
				mode:     fs.ModeDir | perm,
				dir:      true,
				children: map[string]*node{},
				modTime:  m.now(),
			}
			anode.children[part] = child
		}
		anode.mu.Unlock()
		if !child.dir {
			return pathErr("mkdir", name, errors.New("path is not a directory"))
		}
		anode = child
	}
	return nil
}

func (m *memFS) Open(name string) (fs.File, error) {
	return m.OpenFile(name, os.O_RDONLY, 0)
}

func (m *memFS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	clean, err := m.clean("open", name)
	if err != nil {
		return nil, err
	}
	parent, err := m.getNode(Dir(clean))
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	if !parent.dir {
		return nil, pathErr("open", name, errors.New("parent is not a directory"))
	}
	base := Base(clean)

	parent.mu.Lock()
	anode, ok := parent.children[base]
	switch {
	case ok && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		parent.mu.Unlock()
		return nil, pathErr("open", name, fs.ErrExist)
	case !ok && flag&os.O_CREATE == 0:
		parent.mu.Unlock()
		return nil, pathErr("open", name, fs.ErrNotExist)
	case !ok:
		anode = &node{
			name:    base,
			mode:    perm &^ fs.ModeType,
			modTime: m.now(),
		}
		parent.children[base] = anode
	}
	parent.mu.Unlock()

	if anode.dir {
		if IntentOf(flag) == IntentWrite {
			return nil, pathErr("open", name, errors.New("is a directory"))
		}
	}
	return newMemFile(anode, clean, m, flag), nil
}

func (m *memFS) ReadFile(name string) ([]byte, error) {
	f, err := m.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b := bytes.NewBuffer(nil)
	if _, err := io.Copy(b, f); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (m *memFS) WriteFile(name string, b []byte, perm fs.FileMode) error {
	f, err := m.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *memFS) ReadDir(name string) ([]fs.DirEntry, error) {
	clean, err := m.clean("readdir", name)
	if err != nil {
		return nil, err
	}
	anode, err := m.getNode(clean)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	if !anode.dir {
		return nil, pathErr("readdir", name, errors.New("not a directory"))
	}
	anode.mu.Lock()
	de := make([]fs.DirEntry, 0, len(anode.children))
	for childName, child := range anode.children {
		de = append(de, fs.FileInfoToDirEntry(child.fileInfo(childName)))
	}
	anode.mu.Unlock()
	// we need them in a consistent order, so sort them by filename, which is what os.ReadDir() does
	sort.Slice(de, func(i, j int) bool {
		return de[i].Name() < de[j].Name()
	})
	return de, nil
}

func (m *memFS) Remove(name string) error {
	clean, err := m.clean("remove", name)
	if err != nil {
		return err
	}
	if clean == "." {
		return pathErr("remove", name, fs.ErrInvalid)
	}
	parent, err := m.getNode(Dir(clean))
	if err != nil {
		return pathErr("remove", name, err)
	}
	base := Base(clean)
	parent.mu.Lock()
	defer parent.mu.Unlock()
	child, ok := parent.children[base]
	if !ok {
		return pathErr("remove", name, fs.ErrNotExist)
	}
	if child.dir && len(child.children) > 0 {
		return pathErr("remove", name, errors.New("directory not empty"))
	}
	delete(parent.children, base)
	return nil
}

type memFile struct {
	node     *node
	fs       *memFS
	name     string
	offset   int64
	openMode int
}

func newMemFile(anode *node, name string, memfs *memFS, openMode int) *memFile {
	m := &memFile{
		node:     anode,
		fs:       memfs,
		name:     name,
		openMode: openMode,
	}
	anode.mu.Lock()
	defer anode.mu.Unlock()
	if openMode&os.O_TRUNC != 0 && IntentOf(openMode) == IntentWrite {
		anode.data = nil
		anode.modTime = memfs.now()
	}
	if openMode&os.O_APPEND != 0 {
		m.offset = int64(len(anode.data))
	}
	return m
}

func (f *memFile) Stat() (fs.FileInfo, error) {
	if f.node == nil {
		return nil, os.ErrClosed
	}
	return f.node.fileInfo(Base(f.name)), nil
}

func (f *memFile) Close() error {
	if f.node == nil {
		return os.ErrClosed
	}
	f.fs = nil
	f.node = nil
	return nil
}

func (f *memFile) Read(b []byte) (int, error) {
	if f.node == nil {
		return 0, os.ErrClosed
	}
	n, err := f.ReadAt(b, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if f.node == nil {
		return 0, os.ErrClosed
	}
	if f.node.dir {
		return 0, errors.New("is a directory")
	}
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if off >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	if f.node == nil {
		return 0, os.ErrClosed
	}
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		f.node.mu.Lock()
		next = int64(len(f.node.data)) + offset
		f.node.mu.Unlock()
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative offset")
	}
	f.offset = next
	return f.offset, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.node == nil {
		return 0, os.ErrClosed
	}
	if IntentOf(f.openMode) != IntentWrite {
		return 0, errors.New("file not opened in write mode")
	}
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	if f.openMode&os.O_APPEND != 0 {
		f.offset = int64(len(f.node.data))
	}
	end := f.offset + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[f.offset:], p)
	f.offset = end
	f.node.modTime = f.fs.now()
	return len(p), nil
}

type node struct {
	mode     fs.FileMode
	dir      bool
	name     string
	data     []byte
	modTime  time.Time
	children map[string]*node
	mu       sync.Mutex
}

func (n *node) fileInfo(name string) fs.FileInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &memFileInfo{
		name:    name,
		size:    int64(len(n.data)),
		mode:    n.mode,
		modTime: n.modTime,
		dir:     n.dir,
	}
}

// memFileInfo is a snapshot; it does not follow later writes.
type memFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	dir     bool
}

func (m *memFileInfo) Name() string       { return m.name }
func (m *memFileInfo) Size() int64        { return m.size }
func (m *memFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *memFileInfo) ModTime() time.Time { return m.modTime }
func (m *memFileInfo) IsDir() bool        { return m.dir }
func (m *memFileInfo) Sys() any           { return nil }
