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

import "errors"

var (
	// ErrPathTraversal is returned when an artifact entry would escape
	// its designated extraction directory.
	ErrPathTraversal = errors.New("path traversal rejected")

	// ErrVersionCollision is returned when the extraction target for a
	// version already exists. This is a fatal inconsistency: the
	// allocator never hands out the same version twice.
	ErrVersionCollision = errors.New("version collision")

	// ErrExtraction is returned when unpacking an artifact fails or the
	// artifact does not match its manifest.
	ErrExtraction = errors.New("extraction failed")

	// ErrActivationRejected is returned when a release is not eligible
	// for cutover: not ready, owned by another application, or not
	// strictly newer than the currently active release.
	ErrActivationRejected = errors.New("activation rejected")
)
