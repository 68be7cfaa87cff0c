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

package release_test

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/rollout-sh/rollout/archive"
	"github.com/rollout-sh/rollout/release"
)

func newManager(t *testing.T) *release.Manager {
	t.Helper()
	m, err := release.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// buildArtifact packages the given files with the regular builder.
func buildArtifact(t *testing.T, files map[string]string) *archive.Artifact {
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

// craftArtifact writes a tarball with arbitrary, possibly hostile entry
// names that the regular builder would never produce.
func craftArtifact(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crafted.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o600, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewManager(t *testing.T) {
	g := NewWithT(t)

	_, err := release.NewManager(filepath.Join(t.TempDir(), "missing"))
	g.Expect(err).To(HaveOccurred())

	f := filepath.Join(t.TempDir(), "file")
	g.Expect(os.WriteFile(f, []byte("x"), 0o600)).To(Succeed())
	_, err = release.NewManager(f)
	g.Expect(err).To(HaveOccurred())

	dir := t.TempDir()
	m, err := release.NewManager(dir)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(m.Root()).To(Equal(dir))
}

func TestNextVersionSequential(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	for want := int64(1); want <= 3; want++ {
		v, err := m.NextVersion("site-a")
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(v).To(Equal(want))
	}

	// Applications count independently.
	v, err := m.NextVersion("site-b")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(Equal(int64(1)))
}

func TestNextVersionConcurrent(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	const n = 20
	versions := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.NextVersion("site")
			if err != nil {
				t.Error(err)
				return
			}
			versions <- v
		}()
	}
	wg.Wait()
	close(versions)

	var got []int64
	for v := range versions {
		got = append(got, v)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	g.Expect(got).To(HaveLen(n))
	for i, v := range got {
		g.Expect(v).To(Equal(int64(i+1)), "versions must be distinct and consecutive")
	}
}

func TestNextVersionResumesAfterExistingDirs(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	// A store written before the counter existed.
	g.Expect(os.MkdirAll(filepath.Join(m.Root(), "site", "7"), 0o750)).To(Succeed())

	v, err := m.NextVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(v).To(Equal(int64(8)))
}

func TestNextVersionRejectsBadAppID(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := m.NextVersion(bad)
		g.Expect(err).To(HaveOccurred(), "app id %q", bad)
	}
}

func TestExtractAndActivate(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{
		"index.html":    "<html>v1</html>",
		"assets/app.js": "void 0;",
	})

	v, err := m.NextVersion("site")
	g.Expect(err).ToNot(HaveOccurred())

	rel, err := m.Extract(art.Path, art.Manifest, "site", v)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(rel.Status).To(Equal(release.StatusReady))
	g.Expect(rel.StoragePath).To(Equal(filepath.Join(m.Root(), "site", "1")))

	content, err := os.ReadFile(filepath.Join(rel.StoragePath, "index.html"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(content)).To(Equal("<html>v1</html>"))
	_, err = os.Stat(filepath.Join(rel.StoragePath, "assets", "app.js"))
	g.Expect(err).ToNot(HaveOccurred())

	// Nothing is live before the first activation.
	path, err := m.CurrentPath("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(path).To(BeEmpty())

	g.Expect(m.Activate("site", rel)).To(Succeed())

	path, err = m.CurrentPath("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(path).To(Equal(rel.StoragePath))

	active, err := m.CurrentVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(active).To(Equal(int64(1)))
}

func TestExtractRejectsTraversalInManifest(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	manifest := &archive.Manifest{
		Entries:   []archive.ManifestEntry{{Path: "../../etc/passwd", Size: 2}},
		FileCount: 1,
		TotalSize: 2,
	}

	rel, err := m.Extract(art.Path, manifest, "site", 1)
	g.Expect(err).To(MatchError(release.ErrPathTraversal))
	g.Expect(rel.Status).To(Equal(release.StatusFailed))

	// Zero filesystem mutation on violation.
	_, err = os.Stat(filepath.Join(m.Root(), "site", "1"))
	g.Expect(os.IsNotExist(err)).To(BeTrue())
}

func TestExtractRejectsTraversalInArchive(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	crafted := craftArtifact(t, map[string]string{"../evil": "boom"})
	manifest := &archive.Manifest{
		Entries:   []archive.ManifestEntry{{Path: "ok", Size: 4}},
		FileCount: 1,
		TotalSize: 4,
	}

	rel, err := m.Extract(crafted, manifest, "site", 1)
	g.Expect(err).To(MatchError(release.ErrPathTraversal))
	g.Expect(rel.Status).To(Equal(release.StatusFailed))

	_, err = os.Stat(filepath.Join(m.Root(), "site", "1"))
	g.Expect(os.IsNotExist(err)).To(BeTrue())
}

func TestExtractRejectsManifestMismatch(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	crafted := craftArtifact(t, map[string]string{"index.html": "hi", "extra.txt": "x"})
	manifest := &archive.Manifest{
		Entries:   []archive.ManifestEntry{{Path: "index.html", Size: 2}},
		FileCount: 1,
		TotalSize: 2,
	}

	rel, err := m.Extract(crafted, manifest, "site", 1)
	g.Expect(err).To(MatchError(release.ErrExtraction))
	g.Expect(rel.Status).To(Equal(release.StatusFailed))

	_, err = os.Stat(filepath.Join(m.Root(), "site", "1"))
	g.Expect(os.IsNotExist(err)).To(BeTrue())
}

func TestExtractRejectsDigestMismatch(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	manifest := *art.Manifest
	manifest.Digest = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

	rel, err := m.Extract(art.Path, &manifest, "site", 1)
	g.Expect(err).To(MatchError(release.ErrExtraction))
	g.Expect(rel.Status).To(Equal(release.StatusFailed))
}

func TestExtractVersionCollision(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	_, err := m.Extract(art.Path, art.Manifest, "site", 1)
	g.Expect(err).ToNot(HaveOccurred())

	rel, err := m.Extract(art.Path, art.Manifest, "site", 1)
	g.Expect(err).To(MatchError(release.ErrVersionCollision))
	g.Expect(rel.Status).To(Equal(release.StatusFailed))

	// The existing release is untouched.
	_, err = os.Stat(filepath.Join(m.Root(), "site", "1", "index.html"))
	g.Expect(err).ToNot(HaveOccurred())
}

func TestActivateRejections(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	rel, err := m.Extract(art.Path, art.Manifest, "site", 1)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(m.Activate("site", nil)).To(MatchError(release.ErrActivationRejected))
	g.Expect(m.Activate("other", rel)).To(MatchError(release.ErrActivationRejected))

	notReady := *rel
	notReady.Status = release.StatusExtracting
	g.Expect(m.Activate("site", &notReady)).To(MatchError(release.ErrActivationRejected))
}

func TestActivateNeverMovesBackward(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	rel1, err := m.Extract(art.Path, art.Manifest, "site", 1)
	g.Expect(err).ToNot(HaveOccurred())
	rel2, err := m.Extract(art.Path, art.Manifest, "site", 2)
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(m.Activate("site", rel2)).To(Succeed())

	// A slow deploy finishing after a newer activation must not win.
	g.Expect(m.Activate("site", rel1)).To(MatchError(release.ErrActivationRejected))
	g.Expect(m.Activate("site", rel2)).To(MatchError(release.ErrActivationRejected),
		"re-activating the active version is rejected too")

	active, err := m.CurrentVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(active).To(Equal(int64(2)))
}

func TestConcurrentDeploys(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.NextVersion("site")
			if err != nil {
				errs <- err
				return
			}
			rel, err := m.Extract(art.Path, art.Manifest, "site", v)
			if err != nil {
				errs <- err
				return
			}
			// Activation may lose the ordering race to a newer version.
			if err := m.Activate("site", rel); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		g.Expect(err).To(MatchError(release.ErrActivationRejected),
			"the only tolerated failure is losing the activation race")
	}

	releases, err := m.Releases("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(releases).To(HaveLen(n), "every deploy got its own version")

	active, err := m.CurrentVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(active).To(Equal(int64(n)), "the newest version ends up active")
}

func TestReleases(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	g.Expect(m.Releases("site")).To(BeEmpty(), "unknown application has no releases")

	for _, v := range []int64{2, 1, 3} {
		_, err := m.Extract(art.Path, art.Manifest, "site", v)
		g.Expect(err).ToNot(HaveOccurred())
	}
	// Entries that are not version directories are ignored.
	g.Expect(os.MkdirAll(filepath.Join(m.Root(), "site", "not-a-version"), 0o750)).To(Succeed())

	releases, err := m.Releases("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(releases).To(HaveLen(3))
	for i, r := range releases {
		g.Expect(r.Version).To(Equal(int64(i + 1)))
		g.Expect(r.Status).To(Equal(release.StatusReady))
		g.Expect(r.AppID).To(Equal("site"))
	}
}

func TestGarbageCollectKeepRecords(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	var last *release.Release
	for v := int64(1); v <= 4; v++ {
		rel, err := m.Extract(art.Path, art.Manifest, "site", v)
		g.Expect(err).ToNot(HaveOccurred())
		last = rel
	}
	g.Expect(m.Activate("site", last)).To(Succeed())

	removed, err := m.GarbageCollect("site", release.KeepRecords(1))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(removed).To(HaveLen(2))
	g.Expect(removed[0].Version).To(Equal(int64(1)))
	g.Expect(removed[1].Version).To(Equal(int64(2)))

	releases, err := m.Releases("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(releases).To(HaveLen(2), "the active release and one superseded survive")

	active, err := m.CurrentVersion("site")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(active).To(Equal(int64(4)), "the current pointer is never collected")
}

func TestGarbageCollectKeepFor(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)
	art := buildArtifact(t, map[string]string{"index.html": "hi"})

	for v := int64(1); v <= 3; v++ {
		rel, err := m.Extract(art.Path, art.Manifest, "site", v)
		g.Expect(err).ToNot(HaveOccurred())
		if v == 3 {
			g.Expect(m.Activate("site", rel)).To(Succeed())
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	g.Expect(os.Chtimes(filepath.Join(m.Root(), "site", "1"), old, old)).To(Succeed())

	removed, err := m.GarbageCollect("site", release.KeepFor(time.Hour))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(removed).To(HaveLen(1))
	g.Expect(removed[0].Version).To(Equal(int64(1)))
}

func TestGarbageCollectNilPolicy(t *testing.T) {
	g := NewWithT(t)
	m := newManager(t)

	removed, err := m.GarbageCollect("site", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(removed).To(BeEmpty())
}
