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

package control

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/limitio"
)

// Response headers set by the file routes.
const (
	HeaderVerdict = "Guardfs-Verdict"
	HeaderBackup  = "Guardfs-Backup"
)

// WithFiles serves the store behind e under /files/. GET reads a file and
// PUT replaces one; both go through the engine like any other open.
func WithFiles(e *guard.Engine) Option {
	return func(s *Server) { s.engine = e }
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h, v, err := s.engine.Authorize(r.Context(), name, os.O_RDONLY, 0)
	w.Header().Set(HeaderVerdict, v.String())
	if err != nil {
		fileError(w, err)
		return
	}
	defer h.Close()
	if fi, err := h.Stat(); err == nil && fi.IsDir() {
		http.Error(w, "is a directory", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, h); err != nil {
		clog.FromContext(r.Context()).Warn("serving file", "name", name, "error", err)
	}
}

// WithMaxFileSize rejects uploads larger than n bytes with 413. A negative
// n accepts any size.
func WithMaxFileSize(n int64) Option {
	return func(s *Server) { s.maxFileBytes = n }
}

func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	// The body is read before the open so a failed upload never truncates.
	body, err := limitio.ReadAll(r.Body, s.maxFileBytes)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, limitio.ErrTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), code)
		return
	}
	h, v, res, err := s.engine.AuthorizeResult(r.Context(), name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	w.Header().Set(HeaderVerdict, v.String())
	if err != nil {
		fileError(w, err)
		return
	}
	if res != nil {
		w.Header().Set(HeaderBackup, res.Backup)
	}
	if _, err := h.Write(body); err != nil {
		h.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func fileError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, guard.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, fs.ErrNotExist):
		code = http.StatusNotFound
	case errors.Is(err, fs.ErrInvalid):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}
