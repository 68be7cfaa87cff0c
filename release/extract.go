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
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/rollout-sh/rollout/archive"
)

// Extract validates the artifact against its manifest and unpacks it into
// the version-scoped directory for (appID, version). The artifact is
// validated structurally before anything is written: a violation aborts
// with zero filesystem mutation. The target directory must not already
// exist; extraction never opens the currently live directory, so the old
// version keeps serving while the new one unpacks.
//
// On success the returned release is ready. On failure the release is
// failed, the partially written directory is removed, and the error
// carries one of ErrPathTraversal, ErrVersionCollision or ErrExtraction.
func (m *Manager) Extract(artifactPath string, manifest *archive.Manifest, appID string, version int64) (*Release, error) {
	dir, err := m.appDir(appID)
	if err != nil {
		return nil, err
	}
	if version <= 0 {
		return nil, fmt.Errorf("invalid version %d for %q", version, appID)
	}

	rel := &Release{
		AppID:     appID,
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Status:    StatusExtracting,
	}

	if err := validateArtifact(artifactPath, manifest); err != nil {
		rel.Status = StatusFailed
		return rel, err
	}

	target, err := m.versionDir(appID, version)
	if err != nil {
		rel.Status = StatusFailed
		return rel, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		rel.Status = StatusFailed
		return rel, fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	if err := os.Mkdir(target, 0o750); err != nil {
		rel.Status = StatusFailed
		if os.IsExist(err) {
			return rel, fmt.Errorf("version %d of %q already exists: %w", version, appID, ErrVersionCollision)
		}
		return rel, fmt.Errorf("%w: %s", ErrExtraction, err)
	}

	if err := unpack(artifactPath, target); err != nil {
		// No half-extracted release is ever left reachable.
		os.RemoveAll(target)
		rel.Status = StatusFailed
		m.logger.Error("extraction failed",
			zap.String("app", appID),
			zap.Int64("version", version),
			zap.Error(err))
		return rel, err
	}

	rel.StoragePath = target
	rel.Status = StatusReady
	m.logger.Info("release extracted",
		zap.String("app", appID),
		zap.Int64("version", version),
		zap.String("path", target))
	return rel, nil
}

// validateArtifact checks the archive against the manifest without
// writing anything: every entry must be a regular file, carry a safe
// relative path, and appear in the manifest with a matching size; the
// entry count must match; and, when the manifest advertises a digest,
// the archive bytes must match it.
func validateArtifact(artifactPath string, manifest *archive.Manifest) error {
	for _, e := range manifest.Entries {
		if err := archive.ValidateEntryPath(e.Path); err != nil {
			return fmt.Errorf("%w: %s", ErrPathTraversal, err)
		}
	}
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("%w: invalid manifest: %s", ErrExtraction, err)
	}

	if manifest.Digest != "" {
		if err := verifyDigest(artifactPath, manifest.Digest); err != nil {
			return err
		}
	}

	f, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	defer gz.Close()

	idx := manifest.Index()
	seen := make(map[string]struct{}, len(idx))
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s", ErrExtraction, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			return fmt.Errorf("%w: unsupported entry type for %q", ErrExtraction, hdr.Name)
		}
		if err := archive.ValidateEntryPath(hdr.Name); err != nil {
			return fmt.Errorf("%w: %s", ErrPathTraversal, err)
		}
		size, ok := idx[hdr.Name]
		if !ok {
			return fmt.Errorf("%w: entry %q is not in the manifest", ErrExtraction, hdr.Name)
		}
		if _, dup := seen[hdr.Name]; dup {
			return fmt.Errorf("%w: duplicate entry %q", ErrExtraction, hdr.Name)
		}
		seen[hdr.Name] = struct{}{}
		if hdr.Size != size {
			return fmt.Errorf("%w: entry %q is %d bytes, manifest says %d", ErrExtraction, hdr.Name, hdr.Size, size)
		}
	}
	if len(seen) != manifest.FileCount {
		return fmt.Errorf("%w: archive has %d entries, manifest says %d", ErrExtraction, len(seen), manifest.FileCount)
	}
	return nil
}

// verifyDigest compares the digest of the file with the expected value.
func verifyDigest(path, expected string) error {
	d, err := digest.Parse(expected)
	if err != nil {
		return fmt.Errorf("%w: invalid manifest digest %q: %s", ErrExtraction, expected, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	defer f.Close()

	verifier := d.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: artifact digest does not match %q", ErrExtraction, expected)
	}
	return nil
}

// unpack writes every archive entry below target. Paths are joined with
// SecureJoin so a crafted name can never escape the target directory.
func unpack(artifactPath, target string) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s", ErrExtraction, err)
		}
		dst, err := securejoin.SecureJoin(target, hdr.Name)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrPathTraversal, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("%w: %s", ErrExtraction, err)
		}
		mode := os.FileMode(hdr.Mode & 0o777)
		if mode == 0 {
			mode = 0o640
		}
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrExtraction, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("%w: %s", ErrExtraction, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("%w: %s", ErrExtraction, err)
		}
	}
	return nil
}
