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

package mode

import (
	"fmt"
	"strconv"
)

// MaxTextLen bounds a single control-plane write.
const MaxTextLen = 100

// ReadText renders the current mode as a newline-terminated decimal.
func (s *Store) ReadText() []byte {
	return []byte(strconv.Itoa(int(s.Get())) + "\n")
}

// WriteText parses a decimal integer and stores it. Leading blanks are
// skipped and anything after the digits other than whitespace is rejected.
func (s *Store) WriteText(b []byte) (Mode, error) {
	m, err := ParseText(b)
	if err != nil {
		return s.Get(), err
	}
	if err := s.Set(m); err != nil {
		return s.Get(), err
	}
	return m, nil
}

// ParseText parses control-plane text without touching any store.
func ParseText(b []byte) (Mode, error) {
	if len(b) > MaxTextLen {
		return 0, fmt.Errorf("%w: input of %d bytes exceeds %d", ErrInvalidMode, len(b), MaxTextLen)
	}
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	start := i
	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}
	digits := i
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if i == digits {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidMode, b)
	}
	num := string(b[start:i])
	for ; i < len(b); i++ {
		if !isSpace(b[i]) {
			return 0, fmt.Errorf("%w: trailing data in %q", ErrInvalidMode, b)
		}
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, num)
	}
	return FromInt(n)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
