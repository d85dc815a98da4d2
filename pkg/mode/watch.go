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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/fsnotify/fsnotify"
)

// LoadFile applies the mode stored in a text file. A missing file is not an
// error and leaves the store unchanged.
func LoadFile(path string, s *Store) (Mode, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.Get(), nil
		}
		return s.Get(), fmt.Errorf("reading mode file: %w", err)
	}
	return s.WriteText(b)
}

// Watch keeps s in sync with the mode file at path until ctx is done. The
// parent directory is watched so editors that replace the file by rename
// are seen. Invalid content is logged and ignored.
func Watch(ctx context.Context, path string, s *Store) error {
	log := clog.FromContext(ctx).With("mode_file", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	apply := func() {
		prev := s.Get()
		m, err := LoadFile(abs, s)
		if err != nil {
			log.Warnf("ignoring mode file: %v", err)
			return
		}
		if m != prev {
			log.Info("protection mode changed", "from", prev.String(), "to", m.String())
		}
	}
	apply()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				apply()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("mode file watcher error: %v", err)
		}
	}
}
