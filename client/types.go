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

package client

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransport marks network-level failures: the request never produced
// a structured API response.
var ErrTransport = errors.New("transport failed")

// Result is the structured outcome every API endpoint responds with.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	// Errors carries per-field validation errors on failure.
	Errors map[string][]string `json:"errors,omitempty"`
}

func (r *Result) result() *Result { return r }

// APIError is a failure reported by the API itself, as opposed to a
// transport failure.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s %v", e.Message, e.Fields)
}

// User describes the authenticated account.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Deployment is one release of an application as reported by the API.
type Deployment struct {
	Version    int64     `json:"version"`
	Domain     string    `json:"domain"`
	DeployedAt time.Time `json:"deployed_at"`
}

// DeployResult is the response to an artifact upload.
type DeployResult struct {
	Result

	// DeploymentID is the server-generated receipt for this deploy.
	DeploymentID string `json:"deploymentId,omitempty"`

	// Domain the content is served under.
	Domain string `json:"domain,omitempty"`

	// Version assigned to the release.
	Version int64 `json:"version,omitempty"`
}
