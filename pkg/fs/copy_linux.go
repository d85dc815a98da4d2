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

//go:build linux

package fs

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// copyFileRange copies in-kernel with copy_file_range(2). handled is false
// when the kernel or filesystem refuses the call and the caller should fall
// back to a userspace copy.
func copyFileRange(dst, src *os.File, n int64) (written int64, handled bool, err error) {
	var roff, woff int64
	for written < n {
		remain := n - written
		if remain > 1<<30 {
			remain = 1 << 30
		}
		c, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(remain), 0)
		if err != nil {
			if written == 0 && (errors.Is(err, unix.EXDEV) || errors.Is(err, unix.ENOSYS) ||
				errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP)) {
				return 0, false, nil
			}
			return written, true, err
		}
		if c == 0 {
			return written, true, io.ErrUnexpectedEOF
		}
		written += int64(c)
	}
	return written, true, nil
}
