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

// Package control serves the operator channel for the protection mode
// over HTTP, together with the guardfs metrics.
//
//	GET  /mode     current mode as "<n>\n"
//	PUT  /mode     body "<n>": 204 on success, 400 and no change otherwise
//	POST /mode     same as PUT
//	GET  /metrics  Prometheus exposition
//
// With WithFiles the store is also reachable through the decision engine:
//
//	GET /files/{name...}  read a file
//	PUT /files/{name...}  replace a file, backing up its previous content
package control

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/mode"
)

// DefaultAddr is where the control plane listens unless configured.
const DefaultAddr = "127.0.0.1:7420"

// Server is the control-plane HTTP server.
type Server struct {
	modes   *mode.Store
	gather  prometheus.Gatherer
	limiter *rate.Limiter
	engine  *guard.Engine

	maxFileBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves g on /metrics. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gather = g }
}

// WithWriteLimit limits mode changes to perMinute with the given burst.
// Writes over the limit get 429 and leave the mode unchanged.
func WithWriteLimit(perMinute, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(perMinute)/60.0, burst)
	}
}

// NewServer returns a server that reads and writes modes.
func NewServer(modes *mode.Store, opts ...Option) *Server {
	s := &Server{modes: modes, maxFileBytes: -1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the control plane.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mode", s.getMode)
	mux.HandleFunc("PUT /mode", s.setMode)
	mux.HandleFunc("POST /mode", s.setMode)
	if s.gather != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	if s.engine != nil {
		mux.HandleFunc("GET /files/{name...}", s.getFile)
		mux.HandleFunc("PUT /files/{name...}", s.putFile)
	}
	return mux
}

func (s *Server) getMode(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(s.modes.ReadText())
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	log := clog.FromContext(r.Context())
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "mode change rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, mode.MaxTextLen+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prev := s.modes.Get()
	m, err := s.modes.WriteText(b)
	if err != nil {
		log.Warn("rejected mode change", "input", string(b), "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if m != prev {
		log.Info("protection mode changed", "from", prev.String(), "to", m.String())
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListenAndServe serves the control plane on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the control plane on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := clog.FromContext(ctx)
	srv := &http.Server{
		Handler:           otelhttp.NewHandler(s.Handler(), "guardfs"),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("control plane listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
