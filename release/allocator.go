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
	"strings"

	"github.com/fluxcd/pkg/lockedfile"
	"go.uber.org/zap"
)

// counterFile holds the last allocated version number for an application.
// It lives next to the version directories and is read and written under
// an exclusive file lock.
const counterFile = "version.counter"

// NextVersion allocates the next version number for the application.
// Allocation is a single atomic read-increment-write on a per-application
// counter file: concurrent callers for the same application serialize on
// the file lock and receive distinct, consecutive values; callers for
// different applications do not block each other.
func (m *Manager) NextVersion(appID string) (int64, error) {
	dir, err := m.appDir(appID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, err
	}

	var next int64
	err = lockedfile.Transform(filepath.Join(dir, counterFile), func(old []byte) ([]byte, error) {
		cur, err := parseCounter(old)
		if err != nil {
			return nil, err
		}
		if cur == 0 {
			// First allocation. If version directories already exist
			// (a store predating the counter), resume after the highest
			// one. The scan is safe here: every allocator for this
			// application serializes on the same lock.
			cur = maxExistingVersion(dir)
		}
		next = cur + 1
		return []byte(strconv.FormatInt(next, 10) + "\n"), nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate version for %q: %w", appID, err)
	}

	m.logger.Debug("allocated version",
		zap.String("app", appID),
		zap.Int64("version", next))
	return next, nil
}

func parseCounter(b []byte) (int64, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("corrupt version counter %q", s)
	}
	return v, nil
}

func maxExistingVersion(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var max int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, err := strconv.ParseInt(e.Name(), 10, 64); err == nil && v > max {
			max = v
		}
	}
	return max
}
