/*
Copyright 2025 The Rollout authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes the release manager over HTTP: it receives
// deploy uploads, drives allocation, extraction and cutover, and serves
// the currently live content of each application.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"

	"github.com/rollout-sh/rollout/release"
)

// TokenValidator checks a bearer credential. Credential storage and
// token lifecycle belong to the hosting backend; the server only applies
// the verdict.
type TokenValidator func(token string) bool

// Server handles the deploy API for a single release store.
type Server struct {
	manager       *release.Manager
	logger        *zap.Logger
	maxUploadSize int64
	validateToken TokenValidator
	retention     release.RetentionPolicy
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMaxUploadSize bounds a single artifact upload in bytes.
func WithMaxUploadSize(n int64) ServerOption {
	return func(s *Server) { s.maxUploadSize = n }
}

// WithTokenValidator requires a valid bearer token on deploy calls.
func WithTokenValidator(v TokenValidator) ServerOption {
	return func(s *Server) { s.validateToken = v }
}

// WithRetention runs the given policy against an application's
// superseded releases after each successful deploy. No policy means
// every release is kept.
func WithRetention(p release.RetentionPolicy) ServerOption {
	return func(s *Server) { s.retention = p }
}

// New returns a Server for the given release manager.
func New(m *release.Manager, opts ...ServerOption) *Server {
	s := &Server{
		manager:       m,
		logger:        zap.NewNop(),
		maxUploadSize: 5 << 30,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler tree of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/deploy", s.handleDeploy)
	mux.HandleFunc("/api/v1/deployments", s.handleDeployments)
	mux.Handle("/sites/", http.StripPrefix("/sites/", http.HandlerFunc(s.handleSite)))
	return mux
}

// handleSite serves files of the currently live release under
// /sites/<app>/<path>. Resolution goes through the current pointer, so a
// cutover takes effect for the next request without any coordination.
func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	appID, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if appID == "" {
		http.NotFound(w, r)
		return
	}
	current, err := s.manager.CurrentPath(appID)
	if err != nil || current == "" {
		http.NotFound(w, r)
		return
	}
	if rest == "" {
		rest = "index.html"
	}
	fp, err := securejoin.SecureJoin(current, rest)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, fp)
}

// Start runs a blocking HTTP server for the given handler. It supports
// graceful shutdown via the provided context.
func Start(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
