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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rollout-sh/rollout/archive"
	"github.com/rollout-sh/rollout/client"
	"github.com/rollout-sh/rollout/release"
)

// maxManifestSize bounds the manifest part of an upload.
const maxManifestSize = 8 << 20

// handleDeploy receives a deploy upload and drives it through
// allocation, extraction and cutover. The artifact is spooled to a
// temporary file first: a partial byte stream is never a candidate for
// extraction.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, client.Result{Error: "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, client.Result{
			Error: "invalid or missing credential",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+maxManifestSize)
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, client.Result{
			Error: fmt.Sprintf("invalid multipart request: %s", err),
		})
		return
	}

	var (
		appID    string
		manifest *archive.Manifest
		tmpPath  string
	)
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	fieldErrs := map[string][]string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, client.Result{
				Error: fmt.Sprintf("failed to read upload: %s", err),
			})
			return
		}
		switch part.FormName() {
		case "app_id":
			b, err := io.ReadAll(io.LimitReader(part, 256))
			if err != nil {
				fieldErrs["app_id"] = append(fieldErrs["app_id"], err.Error())
				continue
			}
			appID = strings.TrimSpace(string(b))
		case "manifest":
			m, err := archive.DecodeManifest(io.LimitReader(part, maxManifestSize))
			if err != nil {
				fieldErrs["manifest"] = append(fieldErrs["manifest"], err.Error())
				continue
			}
			manifest = m
		case "file":
			path, err := s.spoolArtifact(part)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, client.Result{
					Error: fmt.Sprintf("failed to receive artifact: %s", err),
				})
				return
			}
			tmpPath = path
		}
	}

	if appID == "" {
		fieldErrs["app_id"] = append(fieldErrs["app_id"], "missing application id")
	}
	if manifest == nil {
		fieldErrs["manifest"] = append(fieldErrs["manifest"], "missing manifest")
	}
	if tmpPath == "" {
		fieldErrs["file"] = append(fieldErrs["file"], "missing artifact")
	}
	if manifest != nil {
		if err := manifest.Validate(); err != nil {
			fieldErrs["manifest"] = append(fieldErrs["manifest"], err.Error())
		}
	}
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, client.Result{
			Error:  "invalid deploy request",
			Errors: fieldErrs,
		})
		return
	}

	version, err := s.manager.NextVersion(appID)
	if err != nil {
		s.logger.Error("version allocation failed", zap.String("app", appID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, client.Result{
			Error: "failed to allocate a release version",
		})
		return
	}

	rel, err := s.manager.Extract(tmpPath, manifest, appID, version)
	if err != nil {
		writeJSON(w, statusFor(err), client.Result{Error: err.Error()})
		return
	}
	if err := s.manager.Activate(appID, rel); err != nil {
		writeJSON(w, statusFor(err), client.Result{Error: err.Error()})
		return
	}

	if s.retention != nil {
		if _, err := s.manager.GarbageCollect(appID, s.retention); err != nil {
			// Retention is housekeeping: the deploy already succeeded.
			s.logger.Warn("garbage collection failed", zap.String("app", appID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, client.DeployResult{
		Result:       client.Result{Success: true, Message: "Deployment successful"},
		DeploymentID: uuid.NewString(),
		Domain:       r.URL.Query().Get("domain"),
		Version:      version,
	})
}

// handleDeployments lists the stored releases of an application.
func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, client.Result{Error: "method not allowed"})
		return
	}
	appID := r.URL.Query().Get("app_id")
	if appID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, client.Result{
			Error:  "invalid request",
			Errors: map[string][]string{"app_id": {"missing application id"}},
		})
		return
	}
	releases, err := s.manager.Releases(appID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, client.Result{Error: err.Error()})
		return
	}
	current, err := s.manager.CurrentVersion(appID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, client.Result{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		client.Result
		Current  int64             `json:"current"`
		Releases []release.Release `json:"releases"`
	}{
		Result:   client.Result{Success: true},
		Current:  current,
		Releases: releases,
	})
}

// spoolArtifact writes the uploaded archive to a temporary file within
// the upload size bound.
func (s *Server) spoolArtifact(part io.Reader) (string, error) {
	tf, err := os.CreateTemp("", "rollout-upload-*.tar.gz")
	if err != nil {
		return "", err
	}
	name := tf.Name()
	if _, err := io.Copy(tf, io.LimitReader(part, s.maxUploadSize)); err != nil {
		tf.Close()
		os.Remove(name)
		return "", err
	}
	if n, _ := io.Copy(io.Discard, part); n > 0 {
		tf.Close()
		os.Remove(name)
		return "", fmt.Errorf("artifact exceeds the upload limit of %d bytes", s.maxUploadSize)
	}
	if err := tf.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// authorized applies the configured token validator to the bearer
// credential, if a validator is set.
func (s *Server) authorized(r *http.Request) bool {
	if s.validateToken == nil {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return s.validateToken(token)
}

// statusFor maps release errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, release.ErrPathTraversal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, release.ErrVersionCollision),
		errors.Is(err, release.ErrActivationRejected):
		return http.StatusConflict
	case errors.Is(err, release.ErrExtraction):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
