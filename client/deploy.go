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
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/rollout-sh/rollout/archive"
)

// Multipart field names of the deploy endpoint.
const (
	fieldFile     = "file"
	fieldManifest = "manifest"
	fieldAppID    = "app_id"
)

// Deploy uploads the artifact for the given application. The archive is
// streamed, never buffered, and sink (if non-nil) receives byte-level
// progress as it goes out.
//
// Uploads are a single attempt: the server only considers an artifact
// once fully received and validated, and blindly replaying a partially
// consumed stream would not help. Retry policy for deploys belongs to
// the caller.
func (c *Client) Deploy(ctx context.Context, art *archive.Artifact, appID, domain string, sink ProgressSink) (*DeployResult, error) {
	f, err := art.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeDeployBody(mw, f, art, appID, sink))
	}()

	q := url.Values{}
	if domain != "" {
		q.Set("domain", domain)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/deploy", q), pr)
	if err != nil {
		return nil, err
	}
	if err := c.setHeaders(req.Header, mw.FormDataContentType()); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransport, err)
	}
	defer resp.Body.Close()

	var out DeployResult
	if err := decodeResult(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// writeDeployBody writes the multipart deploy request: identifying
// metadata and the manifest first, then the archive bytes.
func writeDeployBody(mw *multipart.Writer, f io.Reader, art *archive.Artifact, appID string, sink ProgressSink) error {
	if err := mw.WriteField(fieldAppID, appID); err != nil {
		return err
	}

	mf, err := mw.CreateFormField(fieldManifest)
	if err != nil {
		return err
	}
	if err := art.Manifest.Encode(mf); err != nil {
		return err
	}

	part, err := mw.CreateFormFile(fieldFile, filepath.Base(art.Path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, &progressReader{r: f, sink: sink, total: art.Size}); err != nil {
		return err
	}
	return mw.Close()
}
