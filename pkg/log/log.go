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

// Package log resolves log targets and builds the slog handler the guardfs
// commands install as the default logger.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// DefaultTargets is where logs go unless configured otherwise.
var DefaultTargets = []string{"builtin:stderr"}

// writerFromTarget returns a writer given a target specification.
func writerFromTarget(target string) (io.Writer, error) {
	switch target {
	case "builtin:stderr":
		return os.Stderr, nil
	case "builtin:stdout":
		return os.Stdout, nil
	case "builtin:discard":
		return io.Discard, nil
	default:
		if strings.Contains(target, "/") {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log target %s: %w", target, err)
		}
		return out, nil
	}
}

// writer returns a writer which writes to multiple target specifications.
func writer(targets []string) (io.Writer, error) {
	if len(targets) == 0 {
		targets = DefaultTargets
	}
	if len(targets) == 1 {
		return writerFromTarget(targets[0])
	}

	writers := make([]io.Writer, 0, len(targets))
	for _, target := range targets {
		w, err := writerFromTarget(target)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	return io.MultiWriter(writers...), nil
}

func isTerminal(w io.Writer) bool {
	switch v := w.(type) {
	case *os.File:
		return term.IsTerminal(int(v.Fd()))
	default:
		return false
	}
}

// Handler returns a charmbracelet/log handler writing to targets at level.
// Terminals get the text format; files and pipes get one JSON object per
// line.
func Handler(targets []string, level slog.Level) (slog.Handler, error) {
	out, err := writer(targets)
	if err != nil {
		return nil, err
	}
	opts := charmlog.Options{
		ReportTimestamp: true,
		Level:           charmlog.Level(level),
	}
	if !isTerminal(out) {
		opts.Formatter = charmlog.JSONFormatter
	}
	return charmlog.NewWithOptions(out, opts), nil
}
