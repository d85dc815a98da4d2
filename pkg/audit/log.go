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

// Package audit keeps an append-only, hash-chained JSON-lines journal of
// open decisions and the backups they caused.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry of a journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one line of the journal. Fields are plain values so that
// json.Marshal output, and therefore the chain hash, is deterministic.
type Entry struct {
	Timestamp   string `json:"ts"`
	Name        string `json:"name"`
	Mode        int    `json:"mode"`
	Intent      string `json:"intent"`
	JustCreated bool   `json:"just_created"`
	Verdict     string `json:"verdict"`
	Backup      string `json:"backup,omitempty"`
	Reused      bool   `json:"reused,omitempty"`
	Error       string `json:"error,omitempty"`
	PrevHash    string `json:"prev_hash"`
}

// Log appends entries to a journal file.
type Log struct {
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens (or creates) a journal for appending, recovering the chain
// tail from the last line of an existing file.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	if f, err := os.Open(path); err == nil {
		var last []byte
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			last = append(last[:0], scanner.Bytes()...)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing log: %w", err)
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{file: file, prevHash: prevHash}, nil
}

// Record appends entry, filling in its timestamp and chain hash.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.prevHash = HashLine(line)
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Verify reads a journal and checks the hash chain. It returns the number of
// entries read and an error naming the first broken line.
func Verify(r io.Reader) (int, error) {
	prev := GenesisHash
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return n, fmt.Errorf("audit: line %d: %w", n, err)
		}
		if e.PrevHash != prev {
			return n, fmt.Errorf("audit: line %d: chain broken: prev_hash %s, want %s", n, e.PrevHash, prev)
		}
		prev = HashLine(scanner.Bytes())
	}
	return n, scanner.Err()
}
