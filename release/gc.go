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
	"os"
	"time"

	"go.uber.org/zap"
)

// RetentionPolicy selects superseded releases for removal. The default
// policy is to keep everything; garbage collection only runs when the
// operator wires a policy in explicitly.
type RetentionPolicy interface {
	// Garbage returns the releases to remove. Candidates never include
	// the currently active release.
	Garbage(candidates []Release) []Release
}

// KeepRecords retains the newest N superseded releases and marks the
// rest as garbage. Zero or negative N keeps everything.
type KeepRecords int

// Garbage implements RetentionPolicy.
func (k KeepRecords) Garbage(candidates []Release) []Release {
	if k <= 0 || len(candidates) <= int(k) {
		return nil
	}
	// Candidates arrive sorted by ascending version.
	return candidates[:len(candidates)-int(k)]
}

// KeepFor retains superseded releases younger than the duration and
// marks older ones as garbage.
type KeepFor time.Duration

// Garbage implements RetentionPolicy.
func (k KeepFor) Garbage(candidates []Release) []Release {
	if k <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-time.Duration(k))
	var garbage []Release
	for _, r := range candidates {
		if r.CreatedAt.Before(cutoff) {
			garbage = append(garbage, r)
		}
	}
	return garbage
}

// GarbageCollect removes superseded releases of the application selected
// by the policy. The currently active release is never a candidate, and
// the current pointer is never touched.
func (m *Manager) GarbageCollect(appID string, policy RetentionPolicy) ([]Release, error) {
	if policy == nil {
		return nil, nil
	}
	active, err := m.CurrentVersion(appID)
	if err != nil {
		return nil, err
	}
	all, err := m.Releases(appID)
	if err != nil {
		return nil, err
	}
	candidates := make([]Release, 0, len(all))
	for _, r := range all {
		if r.Version != active {
			candidates = append(candidates, r)
		}
	}

	var removed []Release
	for _, r := range policy.Garbage(candidates) {
		if err := os.RemoveAll(r.StoragePath); err != nil {
			return removed, err
		}
		m.logger.Info("superseded release removed",
			zap.String("app", appID),
			zap.Int64("version", r.Version))
		removed = append(removed, r)
	}
	return removed, nil
}
