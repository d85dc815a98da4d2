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

// Package backupname derives and recognizes backup artifact names.
//
// A backup name is "_" + 13 decimal digits + "_" followed by the original
// name verbatim, e.g. "_1718000000123_report.txt". The first ten digits are
// the wall-clock second modulo 10^10 and the last three are the truncated
// millisecond. The name alone is the record: no other metadata marks a file
// as a backup.
package backupname

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"
)

const (
	// PrefixLen is the length of the "_NNNNNNNNNNNNN_" prefix.
	PrefixLen = 15
	// DigitsLen is the number of timestamp digits in the prefix.
	DigitsLen = 13

	secondsModulus = 10_000_000_000
)

// Name is a parsed leaf name.
type Name struct {
	// IsBackup is true when the name carries a backup prefix.
	IsBackup bool
	// Timestamp holds the 13 prefix digits. Empty unless IsBackup.
	Timestamp string
	// Original is the name with the prefix removed, or the whole name
	// when it is not a backup.
	Original string
}

// Parse classifies a leaf name once so callers can pass the result around
// instead of re-inspecting the string.
func Parse(name string) Name {
	if !IsBackup(name) {
		return Name{Original: name}
	}
	return Name{
		IsBackup:  true,
		Timestamp: name[1 : 1+DigitsLen],
		Original:  name[PrefixLen:],
	}
}

// String reassembles the leaf name.
func (n Name) String() string {
	if !n.IsBackup {
		return n.Original
	}
	return "_" + n.Timestamp + "_" + n.Original
}

// Time recovers the second and millisecond encoded in the prefix. The
// second is only known modulo 10^10, so it is interpreted relative to the
// Unix epoch.
func (n Name) Time() (time.Time, bool) {
	if !n.IsBackup {
		return time.Time{}, false
	}
	var sec, ms int64
	for _, c := range n.Timestamp[:10] {
		sec = sec*10 + int64(c-'0')
	}
	for _, c := range n.Timestamp[10:] {
		ms = ms*10 + int64(c-'0')
	}
	return time.Unix(sec, ms*int64(time.Millisecond)).UTC(), true
}

// IsBackup reports whether name is a backup artifact: at least 15 bytes,
// '_' at offsets 0 and 14 and decimal digits in between.
func IsBackup(name string) bool {
	if len(name) < PrefixLen {
		return false
	}
	if name[0] != '_' || name[PrefixLen-1] != '_' {
		return false
	}
	for i := 1; i < PrefixLen-1; i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}

// Prefix returns the 15 character "_NNNNNNNNNNNNN_" prefix for now.
// Milliseconds are truncated, never rounded.
func Prefix(now time.Time) string {
	sec := now.Unix() % secondsModulus
	if sec < 0 {
		sec += secondsModulus
	}
	ms := now.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("_%010d%03d_", sec, ms)
}

// Synthesize returns the backup name for original taken at now.
func Synthesize(original string, now time.Time) string {
	return Prefix(now) + original
}

// List returns the backups of original found in dir, newest first.
func List(fsys fs.ReadDirFS, dir, original string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := Parse(e.Name())
		if n.IsBackup && n.Original == original {
			out = append(out, path.Join(dir, e.Name()))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return path.Base(out[i]) > path.Base(out[j])
	})
	return out, nil
}
