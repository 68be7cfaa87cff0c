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

import "errors"

// The errors returned by Builder.Build. They represent caller-correctable
// conditions and are never retried automatically.
var (
	// ErrPathNotFound is returned when the project root does not exist
	// or is not a directory.
	ErrPathNotFound = errors.New("path not found")

	// ErrFileTooLarge is returned when a single file exceeds the
	// per-file size limit.
	ErrFileTooLarge = errors.New("file exceeds the per-file size limit")

	// ErrAggregateTooLarge is returned when the running total of
	// included file sizes exceeds the aggregate size limit.
	ErrAggregateTooLarge = errors.New("project exceeds the total size limit")

	// ErrTooManyFiles is returned when the number of included files
	// exceeds the file count limit.
	ErrTooManyFiles = errors.New("project exceeds the file count limit")

	// ErrArchiveCreation is returned when writing the archive fails,
	// including unreadable candidate files.
	ErrArchiveCreation = errors.New("archive creation failed")
)
