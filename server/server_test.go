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

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/rollout-sh/rollout/archive"
	"github.com/rollout-sh/rollout/client"
	"github.com/rollout-sh/rollout/release"
	"github.com/rollout-sh/rollout/server"
)

func newTestServer(t *testing.T, opts ...server.ServerOption) (*httptest.Server, *release.Manager) {
	t.Helper()
	m, err := release.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(server.New(m, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func buildTestArtifact(t *testing.T, files map[string]string) *archive.Artifact {
	t.Helper()
	dir := t.TempDir()
	for p, content := range files {
		abs := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	art, err := archive.NewBuilder().Build(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { art.Remove() })
	return art
}

// deployRequest builds a multipart deploy request the way the client does.
func deployRequest(t *testing.T, url, appID string, manifest *archive.Manifest, artifactPath string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if appID != "" {
		if err := mw.WriteField("app_id", appID); err != nil {
			t.Fatal(err)
		}
	}
	if manifest != nil {
		f, err := mw.CreateFormField("manifest")
		if err != nil {
			t.Fatal(err)
		}
		if err := manifest.Encode(f); err != nil {
			t.Fatal(err)
		}
	}
	if artifactPath != "" {
		part, err := mw.CreateFormFile("file", "artifact.tar.gz")
		if err != nil {
			t.Fatal(err)
		}
		raw, err := os.ReadFile(artifactPath)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(raw); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/deploy", &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, req *http.Request, out any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestDeployEndToEnd(t *testing.T) {
	g := NewWithT(t)
	srv, m := newTestServer(t)
	art := buildTestArtifact(t, map[string]string{
		"index.html":    "<html>v1</html>",
		"assets/app.js": "void 0;",
	})

	var out client.DeployResult
	resp := doJSON(t, deployRequest(t, srv.URL, "site", art.Manifest, art.Path), &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(out.Success).To(BeTrue())
	g.Expect(out.Version).To(Equal(int64(1)))
	g.Expect(out.DeploymentID).ToNot(BeEmpty())

	// The release is extracted and live.
	content, err := os.ReadFile(filepath.Join(m.Root(), "site", "1", "index.html"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(content)).To(Equal("<html>v1</html>"))

	active, err := m.CurrentVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(active).To(Equal(int64(1)))

	// A second deploy supersedes the first.
	resp = doJSON(t, deployRequest(t, srv.URL, "site", art.Manifest, art.Path), &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(out.Version).To(Equal(int64(2)))

	active, err = m.CurrentVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(active).To(Equal(int64(2)))
}

func TestDeployMissingFields(t *testing.T) {
	g := NewWithT(t)
	srv, _ := newTestServer(t)
	art := buildTestArtifact(t, map[string]string{"index.html": "hi"})

	var out client.Result
	resp := doJSON(t, deployRequest(t, srv.URL, "", nil, art.Path), &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
	g.Expect(out.Success).To(BeFalse())
	g.Expect(out.Errors).To(HaveKey("app_id"))
	g.Expect(out.Errors).To(HaveKey("manifest"))
}

func TestDeployRejectsTraversal(t *testing.T) {
	g := NewWithT(t)
	srv, m := newTestServer(t)
	art := buildTestArtifact(t, map[string]string{"index.html": "hi"})

	manifest := &archive.Manifest{
		Entries:   []archive.ManifestEntry{{Path: "../../etc/passwd", Size: 2}},
		FileCount: 1,
		TotalSize: 2,
	}

	var out client.Result
	resp := doJSON(t, deployRequest(t, srv.URL, "site", manifest, art.Path), &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
	g.Expect(out.Success).To(BeFalse())

	// Nothing was extracted.
	_, err := os.Stat(filepath.Join(m.Root(), "site", "1"))
	g.Expect(os.IsNotExist(err)).To(BeTrue())
}

func TestDeployAuth(t *testing.T) {
	g := NewWithT(t)
	srv, _ := newTestServer(t, server.WithTokenValidator(func(token string) bool {
		return token == "tok-123"
	}))
	art := buildTestArtifact(t, map[string]string{"index.html": "hi"})

	req := deployRequest(t, srv.URL, "site", art.Manifest, art.Path)
	var out client.Result
	resp := doJSON(t, req, &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

	req = deployRequest(t, srv.URL, "site", art.Manifest, art.Path)
	req.Header.Set("Authorization", "Bearer tok-123")
	resp = doJSON(t, req, &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
}

func TestDeployRetention(t *testing.T) {
	g := NewWithT(t)
	srv, m := newTestServer(t, server.WithRetention(release.KeepRecords(1)))
	art := buildTestArtifact(t, map[string]string{"index.html": "hi"})

	for i := 0; i < 4; i++ {
		resp := doJSON(t, deployRequest(t, srv.URL, "site", art.Manifest, art.Path), nil)
		g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	}

	releases, err := m.Releases("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(releases).To(HaveLen(2), "the active release plus one superseded")
	g.Expect(releases[0].Version).To(Equal(int64(3)))
	g.Expect(releases[1].Version).To(Equal(int64(4)))
}

func TestListDeployments(t *testing.T) {
	g := NewWithT(t)
	srv, _ := newTestServer(t)
	art := buildTestArtifact(t, map[string]string{"index.html": "hi"})

	for i := 0; i < 2; i++ {
		resp := doJSON(t, deployRequest(t, srv.URL, "site", art.Manifest, art.Path), nil)
		g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/deployments?app_id=site", nil)
	g.Expect(err).ToNot(HaveOccurred())

	var out struct {
		client.Result
		Current  int64             `json:"current"`
		Releases []release.Release `json:"releases"`
	}
	resp := doJSON(t, req, &out)
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(out.Success).To(BeTrue())
	g.Expect(out.Current).To(Equal(int64(2)))
	g.Expect(out.Releases).To(HaveLen(2))

	// Missing app_id is a validation error.
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/deployments", nil)
	g.Expect(err).ToNot(HaveOccurred())
	resp = doJSON(t, req, nil)
	g.Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
}

func TestServeSite(t *testing.T) {
	g := NewWithT(t)
	srv, _ := newTestServer(t)
	art := buildTestArtifact(t, map[string]string{
		"index.html":    "<html>live</html>",
		"assets/app.js": "void 0;",
	})

	resp, err := http.Get(srv.URL + "/sites/site/")
	g.Expect(err).ToNot(HaveOccurred())
	resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusNotFound), "nothing live before the first deploy")

	doJSON(t, deployRequest(t, srv.URL, "site", art.Manifest, art.Path), nil)

	resp, err = http.Get(srv.URL + "/sites/site/")
	g.Expect(err).ToNot(HaveOccurred())
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(string(body)).To(Equal("<html>live</html>"), "bare app path serves index.html")

	resp, err = http.Get(srv.URL + "/sites/site/assets/app.js")
	g.Expect(err).ToNot(HaveOccurred())
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(string(body)).To(Equal("void 0;"))

	// Escaping the live directory is impossible.
	reqURL := srv.URL + "/sites/site/..%2f..%2fversion.counter"
	req, _ := http.NewRequest(http.MethodGet, reqURL, nil)
	resp, err = http.DefaultClient.Do(req)
	g.Expect(err).ToNot(HaveOccurred())
	resp.Body.Close()
	g.Expect(resp.StatusCode).ToNot(Equal(http.StatusOK))
}

func TestStartShutsDownOnContextCancel(t *testing.T) {
	g := NewWithT(t)
	m, err := release.NewManager(t.TempDir())
	g.Expect(err).ToNot(HaveOccurred())
	s := server.New(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx, "127.0.0.1:0", s.Handler(), nil)
	}()
	cancel()
	g.Eventually(done).Should(Receive(BeNil()))
}
