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

// Package release manages versioned, immutable copies of deployed
// application content on the local filesystem.
//
// The storage layout is one directory per application, containing one
// subdirectory per version plus a 'current' symlink resolving to the
// active version:
//
//	<root>/<app>/1/...
//	<root>/<app>/2/...
//	<root>/<app>/current -> <root>/<app>/2
//
// Version numbers are allocated by an atomic per-application counter,
// extraction writes only to the new version directory, and cutover swaps
// the 'current' symlink in a single rename so readers never observe a
// state with no live version.
package release

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a Release. A release never leaves
// StatusReady or StatusFailed once reached; a corrected deploy always
// allocates a new version instead.
type Status string

const (
	// StatusExtracting marks a release whose content is being unpacked.
	StatusExtracting Status = "extracting"
	// StatusReady marks a fully extracted release eligible for cutover.
	StatusReady Status = "ready"
	// StatusFailed marks a release whose extraction failed. Terminal.
	StatusFailed Status = "failed"
)

// Release is one versioned, extracted copy of an application's content.
type Release struct {
	// AppID identifies the application the release belongs to. The
	// hosting backend owns the identifier; it is opaque here.
	AppID string `json:"appId"`

	// Version is a positive integer, unique and monotonically
	// increasing per application.
	Version int64 `json:"version"`

	// StoragePath is the version-scoped directory holding the content.
	StoragePath string `json:"storagePath"`

	// CreatedAt is the time the release was allocated.
	CreatedAt time.Time `json:"createdAt"`

	// Status is the lifecycle state.
	Status Status `json:"status"`
}

// Manager owns the release store rooted at a single local directory.
// All mutation of release and current-pointer state goes through it.
type Manager struct {
	root   string
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the Manager. Defaults to a no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a release manager for the given storage root, which
// must be an existing directory.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if f, err := os.Stat(root); err != nil || !f.IsDir() {
		return nil, fmt.Errorf("invalid dir path: %s", root)
	}
	m := &Manager{
		root:   root,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the storage root directory.
func (m *Manager) Root() string {
	return m.root
}

// appDir returns the secure application directory under the storage root.
func (m *Manager) appDir(appID string) (string, error) {
	if err := validateAppID(appID); err != nil {
		return "", err
	}
	return securejoin.SecureJoin(m.root, appID)
}

func validateAppID(appID string) error {
	if appID == "" || appID == "." || appID == ".." ||
		strings.ContainsAny(appID, `/\`) {
		return fmt.Errorf("invalid application id %q", appID)
	}
	return nil
}

// versionDir returns the directory for the given application version.
func (m *Manager) versionDir(appID string, version int64) (string, error) {
	dir, err := m.appDir(appID)
	if err != nil {
		return "", err
	}
	return securejoin.SecureJoin(dir, strconv.FormatInt(version, 10))
}

// Releases lists the releases stored for the application, sorted by
// ascending version. Listed releases are by construction ready: failed
// extractions never leave a version directory behind.
func (m *Manager) Releases(appID string) ([]Release, error) {
	dir, err := m.appDir(appID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var releases []Release
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path, err := m.versionDir(appID, v)
		if err != nil {
			return nil, err
		}
		releases = append(releases, Release{
			AppID:       appID,
			Version:     v,
			StoragePath: path,
			CreatedAt:   info.ModTime().UTC(),
			Status:      StatusReady,
		})
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].Version < releases[j].Version })
	return releases, nil
}
