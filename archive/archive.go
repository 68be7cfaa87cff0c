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

// Package archive builds deployment artifacts from project directories.
// An artifact is a single gzip-compressed tarball of every regular file
// under the project root that the ignore rules do not exclude, together
// with a manifest of the included paths and sizes.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"

	"github.com/rollout-sh/rollout/ignore"
)

const (
	// DefaultMaxFileSize is the largest single file accepted in a build.
	DefaultMaxFileSize int64 = 500 << 20 // 500 MiB

	// DefaultMaxTotalSize is the largest aggregate of included file
	// sizes accepted in a build.
	DefaultMaxTotalSize int64 = 5 << 30 // 5 GiB

	// DefaultMaxFileCount is the largest number of included files
	// accepted in a build.
	DefaultMaxFileCount = 10000
)

const (
	// defaultFileMode is the permission mode applied to files inside an artifact.
	defaultFileMode int64 = 0o600
	// defaultExeFileMode is the permission mode applied to executable files inside an artifact.
	defaultExeFileMode int64 = 0o700
)

// Artifact is a packaged archive produced from a project directory,
// stored as a temporary file owned by the caller for the duration of one
// build and upload.
type Artifact struct {
	// Path is the location of the archive file on local storage.
	Path string

	// Manifest lists the included files in archive order.
	Manifest *Manifest

	// Digest is the digest of the archive bytes.
	Digest digest.Digest

	// Size is the size of the archive in bytes.
	Size int64
}

// Open opens the archive file for reading.
func (a *Artifact) Open() (io.ReadCloser, error) {
	return os.Open(a.Path)
}

// Remove deletes the archive file from local storage. Removal is
// best-effort; a missing file is not an error.
func (a *Artifact) Remove() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writeCounter is an implementation of io.Writer
// that only records the number of bytes written.
type writeCounter struct {
	written int64
}

// Write implements the io.Writer interface.
func (wc *writeCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.written += int64(n)
	return n, nil
}

// Builder walks a project tree and emits a deployment artifact.
// The zero-value limits are replaced by the package defaults.
type Builder struct {
	maxFileSize  int64
	maxTotalSize int64
	maxFileCount int
	patterns     []gitignore.Pattern
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMaxFileSize overrides the per-file size limit.
func WithMaxFileSize(n int64) BuilderOption {
	return func(b *Builder) { b.maxFileSize = n }
}

// WithMaxTotalSize overrides the aggregate size limit.
func WithMaxTotalSize(n int64) BuilderOption {
	return func(b *Builder) { b.maxTotalSize = n }
}

// WithMaxFileCount overrides the file count limit.
func WithMaxFileCount(n int) BuilderOption {
	return func(b *Builder) { b.maxFileCount = n }
}

// WithPatterns appends extra ignore patterns to the built-in ones and
// those read from the project ignore file.
func WithPatterns(ps []gitignore.Pattern) BuilderOption {
	return func(b *Builder) { b.patterns = ps }
}

// NewBuilder returns a Builder with the given options applied.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		maxFileSize:  DefaultMaxFileSize,
		maxTotalSize: DefaultMaxTotalSize,
		maxFileCount: DefaultMaxFileCount,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build archives every included regular file under rootDir, in lexical
// walk order, into a gzip-compressed tarball on local storage. Limits are
// enforced incrementally during the walk so oversized projects fail fast.
// The returned artifact's file is owned by the caller, who must Remove it
// after use regardless of outcome.
func (b *Builder) Build(rootDir string) (_ *Artifact, err error) {
	if fi, statErr := os.Stat(rootDir); statErr != nil || !fi.IsDir() {
		return nil, fmt.Errorf("invalid dir path %q: %w", rootDir, ErrPathNotFound)
	}

	ps := ignore.LoadPatterns(rootDir, nil)
	ps = append(ps, b.patterns...)
	matcher := ignore.NewDefaultMatcher(ps, nil)

	tf, err := os.CreateTemp("", "rollout-artifact-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveCreation, err)
	}
	tmpName := tf.Name()
	defer func() {
		if err != nil {
			tf.Close()
			os.Remove(tmpName)
		}
	}()

	d := digest.Canonical.Digester()
	sz := &writeCounter{}
	mw := io.MultiWriter(tf, d.Hash(), sz)

	gw := gzip.NewWriter(mw)
	tw := tar.NewWriter(gw)

	manifest := &Manifest{}
	walkErr := filepath.WalkDir(rootDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == rootDir {
			return nil
		}
		rel, err := filepath.Rel(rootDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		segments := strings.Split(rel, "/")

		if entry.IsDir() {
			if matcher.Match(segments, true) {
				return fs.SkipDir
			}
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			return err
		}
		// Only leaf regular files are archived; symlinks are skipped
		// to avoid cycles.
		if !fi.Mode().IsRegular() {
			return nil
		}
		if matcher.Match(segments, false) {
			return nil
		}

		size := fi.Size()
		if size > b.maxFileSize {
			return fmt.Errorf("%q is %d bytes: %w", rel, size, ErrFileTooLarge)
		}
		if manifest.TotalSize+size > b.maxTotalSize {
			return fmt.Errorf("%w: adding %q passes %d bytes", ErrAggregateTooLarge, rel, b.maxTotalSize)
		}
		if manifest.FileCount+1 > b.maxFileCount {
			return fmt.Errorf("%w: more than %d files", ErrTooManyFiles, b.maxFileCount)
		}

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		sanitizeHeader(rel, header)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		manifest.Entries = append(manifest.Entries, ManifestEntry{Path: rel, Size: size})
		manifest.FileCount++
		manifest.TotalSize += size
		return nil
	})
	if walkErr != nil {
		tw.Close()
		gw.Close()
		return nil, buildError(walkErr)
	}

	if err := tw.Close(); err != nil {
		gw.Close()
		return nil, fmt.Errorf("%w: %s", ErrArchiveCreation, err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveCreation, err)
	}
	if err := tf.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveCreation, err)
	}

	manifest.Digest = d.Digest().String()
	return &Artifact{
		Path:     tmpName,
		Manifest: manifest,
		Digest:   d.Digest(),
		Size:     sz.written,
	}, nil
}

// buildError passes limit breaches through unchanged and wraps everything
// else as an archive creation failure.
func buildError(err error) error {
	for _, kind := range []error{ErrFileTooLarge, ErrAggregateTooLarge, ErrTooManyFiles} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrArchiveCreation, err)
}

// sanitizeHeader modifies the tar.Header to be relative to the root of
// the archive and removes any environment specific data, so the archive
// digest is purely content based.
func sanitizeHeader(relP string, h *tar.Header) {
	h.Name = relP
	h.Gid = 0
	h.Uid = 0
	h.Uname = ""
	h.Gname = ""
	h.ModTime = time.Time{}
	h.AccessTime = time.Time{}
	h.ChangeTime = time.Time{}

	mode := h.FileInfo().Mode()
	if mode&os.ModeType == 0 && mode&0o111 != 0 {
		h.Mode = defaultExeFileMode
		return
	}
	h.Mode = defaultFileMode
}
