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

package release

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fluxcd/pkg/lockedfile"
	"go.uber.org/zap"
)

const (
	// currentLink is the per-application indirection entry resolving
	// the currently served version.
	currentLink = "current"

	// cutoverLockFile serializes racing activations per application.
	cutoverLockFile = "current.lock"
)

// Activate repoints the application's current pointer to the given
// release. The release must be ready, belong to the application, and be
// strictly newer than the currently active version; a release completing
// extraction after a newer one has been activated is rejected rather
// than rolling the pointer backward.
//
// The pointer is swapped by renaming a fresh symlink over the old one,
// so a concurrent reader always resolves either the old or the new
// version, never an intermediate state with no live version. The
// superseded release directory is left untouched.
func (m *Manager) Activate(appID string, rel *Release) error {
	if rel == nil {
		return fmt.Errorf("nil release: %w", ErrActivationRejected)
	}
	if rel.Status != StatusReady {
		return fmt.Errorf("release %d of %q is %s, not %s: %w",
			rel.Version, rel.AppID, rel.Status, StatusReady, ErrActivationRejected)
	}
	if rel.AppID != appID {
		return fmt.Errorf("release belongs to %q, not %q: %w",
			rel.AppID, appID, ErrActivationRejected)
	}

	dir, err := m.appDir(appID)
	if err != nil {
		return err
	}

	mutex := lockedfile.MutexAt(filepath.Join(dir, cutoverLockFile))
	unlock, err := mutex.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	active, err := m.CurrentVersion(appID)
	if err != nil {
		return err
	}
	if rel.Version <= active {
		return fmt.Errorf("version %d is not newer than active version %d: %w",
			rel.Version, active, ErrActivationRejected)
	}

	link := filepath.Join(dir, currentLink)
	tmpLink := link + ".tmp"

	if err := os.Remove(tmpLink); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(rel.StoragePath, tmpLink); err != nil {
		return err
	}
	if err := os.Rename(tmpLink, link); err != nil {
		return err
	}

	m.logger.Info("release activated",
		zap.String("app", appID),
		zap.Int64("version", rel.Version),
		zap.Int64("previous", active))
	return nil
}

// CurrentPath resolves the storage path of the currently served release,
// or "" if the application has never been deployed.
func (m *Manager) CurrentPath(appID string) (string, error) {
	dir, err := m.appDir(appID)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(filepath.Join(dir, currentLink))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return target, nil
}

// CurrentVersion resolves the version number of the currently served
// release, or 0 if the application has never been deployed.
func (m *Manager) CurrentVersion(appID string) (int64, error) {
	target, err := m.CurrentPath(appID)
	if err != nil || target == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(filepath.Base(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("current pointer for %q resolves to non-version path %q", appID, target)
	}
	return v, nil
}
