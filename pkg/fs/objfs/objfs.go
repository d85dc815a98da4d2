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

// Package objfs implements the guardfs host store on MinIO and other
// S3-compatible object storage.
//
// Objects are files and "/" separates directories. MkdirAll writes the
// conventional zero-byte "dir/" marker object. A file opened for writing is
// buffered and uploaded when it is closed; reads are ranged GETs.
package objfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	gfs "chainguard.dev/guardfs/pkg/fs"
)

// Options locate a bucket.
type Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// FS is a host store backed by one bucket, optionally below a key prefix.
type FS struct {
	ctx    context.Context
	client *minio.Client
	bucket string
	prefix string
}

var _ gfs.FS = (*FS)(nil)

// New connects to the endpoint in opts and checks that the bucket exists.
// ctx is used for every request the store makes.
func New(ctx context.Context, opts Options) (*FS, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", opts.Bucket)
	}
	return NewFromClient(ctx, client, opts.Bucket, opts.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(ctx context.Context, client *minio.Client, bucket, prefix string) *FS {
	return &FS{ctx: ctx, client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (o *FS) String() string {
	return "s3://" + path.Join(o.bucket, o.prefix)
}

// key maps a store name to an object key. The root maps to the prefix.
func (o *FS) key(name string) (string, error) {
	clean, ok := gfs.Clean(name)
	if !ok {
		return "", fs.ErrInvalid
	}
	if clean == "." {
		return o.prefix, nil
	}
	if o.prefix == "" {
		return clean, nil
	}
	return o.prefix + "/" + clean, nil
}

// dirPrefix is the listing prefix for the entries of a directory key.
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func pathErr(op, name string, err error) error {
	if isNotFound(err) {
		err = fs.ErrNotExist
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (o *FS) Open(name string) (fs.File, error) {
	return o.OpenFile(name, os.O_RDONLY, 0)
}

func (o *FS) OpenFile(name string, flag int, perm fs.FileMode) (gfs.File, error) {
	key, err := o.key(name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	if key == o.prefix {
		return nil, pathErr("open", name, errors.New("is a directory"))
	}
	writable := gfs.IntentOf(flag) == gfs.IntentWrite

	info, err := o.client.StatObject(o.ctx, o.bucket, key, minio.StatObjectOptions{})
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return nil, pathErr("open", name, err)
	}

	switch {
	case exists && flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL:
		return nil, pathErr("open", name, fs.ErrExist)
	case !exists && flag&os.O_CREATE == 0:
		if isDir, _ := o.isDir(key); isDir {
			return nil, pathErr("open", name, errors.New("is a directory"))
		}
		return nil, pathErr("open", name, fs.ErrNotExist)
	case !exists:
		// The empty object makes the create visible to other openers
		// before the content is uploaded.
		if _, err := o.client.PutObject(o.ctx, o.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
			return nil, pathErr("open", name, err)
		}
		info = minio.ObjectInfo{Key: key, LastModified: time.Now()}
	}

	f := &file{
		fs:      o,
		name:    name,
		key:     key,
		flag:    flag,
		size:    info.Size,
		modTime: info.LastModified,
		perm:    perm,
	}
	if !writable {
		return f, nil
	}
	f.buf = []byte{}
	if flag&os.O_TRUNC != 0 {
		f.dirty = exists && info.Size > 0
		f.modTime = time.Now()
	} else if info.Size > 0 {
		obj, err := o.client.GetObject(o.ctx, o.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, pathErr("open", name, err)
		}
		defer obj.Close()
		if f.buf, err = io.ReadAll(obj); err != nil {
			return nil, pathErr("open", name, err)
		}
	}
	f.size = int64(len(f.buf))
	return f, nil
}

func (o *FS) ReadFile(name string) ([]byte, error) {
	key, err := o.key(name)
	if err != nil {
		return nil, pathErr("read", name, err)
	}
	obj, err := o.client.GetObject(o.ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, pathErr("read", name, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, pathErr("read", name, err)
	}
	return b, nil
}

func (o *FS) WriteFile(name string, b []byte, _ fs.FileMode) error {
	key, err := o.key(name)
	if err != nil {
		return pathErr("write", name, err)
	}
	if _, err := o.client.PutObject(o.ctx, o.bucket, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{}); err != nil {
		return pathErr("write", name, err)
	}
	return nil
}

func (o *FS) Stat(name string) (fs.FileInfo, error) {
	key, err := o.key(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	if key != o.prefix {
		info, err := o.client.StatObject(o.ctx, o.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return &fileInfo{name: path.Base(key), size: info.Size, modTime: info.LastModified}, nil
		}
		if !isNotFound(err) {
			return nil, pathErr("stat", name, err)
		}
	}
	isDir, err := o.isDir(key)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	if !isDir {
		return nil, pathErr("stat", name, fs.ErrNotExist)
	}
	return &fileInfo{name: path.Base(name), dir: true}, nil
}

// isDir reports whether any object lives below key. The root always exists.
func (o *FS) isDir(key string) (bool, error) {
	if key == o.prefix {
		return true, nil
	}
	ctx, cancel := context.WithCancel(o.ctx)
	defer cancel()
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: dirPrefix(key), MaxKeys: 1}) {
		if obj.Err != nil {
			return false, obj.Err
		}
		return true, nil
	}
	return false, nil
}

func (o *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	key, err := o.key(name)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	prefix := dirPrefix(key)
	found := key == o.prefix
	var entries []fs.DirEntry
	for obj := range o.client.ListObjects(o.ctx, o.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, pathErr("readdir", name, obj.Err)
		}
		found = true
		rel := strings.TrimPrefix(obj.Key, prefix)
		switch {
		case rel == "":
			// directory marker
		case strings.HasSuffix(rel, "/"):
			entries = append(entries, fs.FileInfoToDirEntry(&fileInfo{name: strings.TrimSuffix(rel, "/"), dir: true}))
		default:
			entries = append(entries, fs.FileInfoToDirEntry(&fileInfo{name: rel, size: obj.Size, modTime: obj.LastModified}))
		}
	}
	if !found {
		return nil, pathErr("readdir", name, fs.ErrNotExist)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// MkdirAll writes a marker object for every missing directory in p.
func (o *FS) MkdirAll(p string, _ fs.FileMode) error {
	key, err := o.key(p)
	if err != nil {
		return pathErr("mkdir", p, err)
	}
	if key == o.prefix {
		return nil
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(key, o.prefix), "/")
	dir := o.prefix
	for _, part := range strings.Split(rel, "/") {
		if dir == "" {
			dir = part
		} else {
			dir += "/" + part
		}
		if _, err := o.client.StatObject(o.ctx, o.bucket, dir, minio.StatObjectOptions{}); err == nil {
			return pathErr("mkdir", p, errors.New("not a directory"))
		}
		if _, err := o.client.PutObject(o.ctx, o.bucket, dir+"/", bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
			return pathErr("mkdir", p, err)
		}
	}
	return nil
}

func (o *FS) Remove(name string) error {
	key, err := o.key(name)
	if err != nil {
		return pathErr("remove", name, err)
	}
	if key == o.prefix {
		return pathErr("remove", name, errors.New("cannot remove the store root"))
	}
	fi, err := o.Stat(name)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		entries, err := o.ReadDir(name)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return pathErr("remove", name, errors.New("directory not empty"))
		}
		key = dirPrefix(key)
	}
	if err := o.client.RemoveObject(o.ctx, o.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return pathErr("remove", name, err)
	}
	return nil
}
