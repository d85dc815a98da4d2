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

// Package limitio bounds how much of an upload guardfs will buffer.
package limitio

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is matched by every *SizeLimitExceededError.
var ErrTooLarge = errors.New("size limit exceeded")

// SizeLimitExceededError is returned once more than Limit bytes were offered.
type SizeLimitExceededError struct {
	Limit int64
}

func (e *SizeLimitExceededError) Error() string {
	return fmt.Sprintf("size limit exceeded: limit is %d bytes", e.Limit)
}

func (e *SizeLimitExceededError) Is(target error) bool { return target == ErrTooLarge }

// ReadAll reads r to the end, failing with *SizeLimitExceededError when r
// holds more than limit bytes. A negative limit reads without bound.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	if limit < 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, &SizeLimitExceededError{Limit: limit}
	}
	return b, nil
}
