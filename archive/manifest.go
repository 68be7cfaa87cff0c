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

package archive

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestEntry records a single file included in an artifact.
type ManifestEntry struct {
	// Path is the file path relative to the project root, with
	// forward-slash separators.
	Path string `yaml:"path" json:"path"`

	// Size is the file size in bytes.
	Size int64 `yaml:"size" json:"size"`
}

// Manifest is the authoritative list of files included in an artifact,
// in archive order. It is produced once per build and read-only afterwards.
type Manifest struct {
	Entries   []ManifestEntry `yaml:"entries" json:"entries"`
	FileCount int             `yaml:"fileCount" json:"fileCount"`
	TotalSize int64           `yaml:"totalSize" json:"totalSize"`

	// Digest is the digest of the artifact the manifest belongs to,
	// in the form '<algorithm>:<hex>'.
	Digest string `yaml:"digest,omitempty" json:"digest,omitempty"`
}

// Encode writes the manifest as YAML to the given writer.
func (m *Manifest) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// DecodeManifest reads a YAML manifest from the given reader.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// Index returns the manifest entries keyed by path.
func (m *Manifest) Index() map[string]int64 {
	idx := make(map[string]int64, len(m.Entries))
	for _, e := range m.Entries {
		idx[e.Path] = e.Size
	}
	return idx
}

// Validate checks the manifest invariants: every path is unique, uses
// forward-slash separators, is relative, and contains no traversal
// segments; the totals match the entries. It is meant to be run against
// manifests received from an untrusted party.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Entries))
	var total int64
	for _, e := range m.Entries {
		if err := ValidateEntryPath(e.Path); err != nil {
			return err
		}
		if _, ok := seen[e.Path]; ok {
			return fmt.Errorf("duplicate manifest path %q", e.Path)
		}
		seen[e.Path] = struct{}{}
		if e.Size < 0 {
			return fmt.Errorf("negative size for manifest path %q", e.Path)
		}
		total += e.Size
	}
	if m.FileCount != len(m.Entries) {
		return fmt.Errorf("manifest file count %d does not match %d entries", m.FileCount, len(m.Entries))
	}
	if m.TotalSize != total {
		return fmt.Errorf("manifest total size %d does not match entries total %d", m.TotalSize, total)
	}
	return nil
}

// ValidateEntryPath rejects paths that are empty, absolute, use
// backslash separators, or contain traversal segments.
func ValidateEntryPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty entry path")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("absolute entry path %q", p)
	}
	if strings.Contains(p, `\`) {
		return fmt.Errorf("entry path %q contains backslash separators", p)
	}
	if len(p) > 1 && p[1] == ':' {
		return fmt.Errorf("entry path %q contains a drive letter", p)
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return fmt.Errorf("entry path %q contains an empty segment", p)
		case ".", "..":
			return fmt.Errorf("entry path %q contains a traversal segment", p)
		}
	}
	return nil
}
