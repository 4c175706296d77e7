package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/registry"
)

// fakeSource serves canned repository contents instead of running git.
type fakeSource struct {
	// tags maps tag name to relative path to file content.
	tags map[string]map[string]string
	// log is returned verbatim from Log.
	log []byte
	// cloneErr fails CloneHistory when set.
	cloneErr error
}

var _ Source = (*fakeSource)(nil)

func (f *fakeSource) CloneTag(_ context.Context, _, tag, dst string) error {
	files, ok := f.tags[tag]
	if !ok {
		return fmt.Errorf("fake: no tag %q", tag)
	}
	for name, content := range files {
		p := filepath.Join(dst, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) CloneHistory(_ context.Context, _, dst string) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	return os.MkdirAll(dst, 0o755)
}

func (f *fakeSource) Log(_ context.Context, _ string, _ int) ([]byte, error) {
	return f.log, nil
}

func packumentFor(version, repoURL, repoDir string) *registry.Packument {
	vm := registry.VersionMeta{Version: version}
	if repoURL != "" {
		vm.Repository = &registry.Repository{URL: repoURL, Directory: repoDir}
	}
	return &registry.Packument{
		Name:     "fixture",
		DistTags: map[string]string{"latest": version},
		Versions: map[string]registry.VersionMeta{version: vm},
	}
}

func artifactTree(t *testing.T, files map[string]string) string {
	t.Helper()
	b := make(map[string][]byte, len(files))
	for k, v := range files {
		b[k] = []byte(v)
	}
	return writeTree(t, b)
}

func TestIntegrityMatch(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	files := map[string]string{
		"package.json": `{"name":"fixture"}`,
		"index.js":     "module.exports = 1;\n",
		"README.md":    "# fixture\n",
	}
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{"v1.2.3": files},
	}}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", artifactTree(t, files), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckPass; got != want {
		t.Errorf("got status %v, want %v (reason %q)", got, want, res.Reason)
	}
	if got, want := res.Tag, "v1.2.3"; got != want {
		t.Errorf("got tag %q, want %q", got, want)
	}
}

func TestIntegrityNoSourceURL(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := &Analyzer{source: &fakeSource{}}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "", ""), "1.2.3", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckWarning; got != want {
		t.Errorf("got status %v, want %v", got, want)
	}
	if got, want := res.Reason, "no source URL"; got != want {
		t.Errorf("got reason %q, want %q", got, want)
	}
}

func TestIntegrityNoMatchingTag(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{"v9.9.9": {"index.js": "x"}},
	}}
	wd := t.TempDir()
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", t.TempDir(), wd)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckWarning; got != want {
		t.Errorf("got status %v, want %v", got, want)
	}
	if got, want := res.Reason, "no matching tag"; got != want {
		t.Errorf("got reason %q, want %q", got, want)
	}
	// Failed clone attempts may not leave partial checkouts behind.
	if _, err := os.Stat(filepath.Join(wd, "source")); !os.IsNotExist(err) {
		t.Errorf("partial clone left in workspace: %v", err)
	}
}

func TestIntegrityBareTagFallback(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	files := map[string]string{"index.js": "module.exports = 1;\n"}
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{"1.2.3": files},
	}}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", artifactTree(t, files), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Tag, "1.2.3"; got != want {
		t.Errorf("got tag %q, want %q", got, want)
	}
	if got, want := res.Status, watchtower.CheckPass; got != want {
		t.Errorf("got status %v, want %v", got, want)
	}
}

func TestIntegrityOnlyInArtifact(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	src := map[string]string{"index.js": "module.exports = 1;\n"}
	art := map[string]string{
		"index.js":    "module.exports = 1;\n",
		"payload.js":  "evil\n",
		"src/rat.mjs": "worse\n",
	}
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{"v1.2.3": src},
	}}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", artifactTree(t, art), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckFail; got != want {
		t.Errorf("got status %v, want %v", got, want)
	}
	if got, want := res.OnlyInArtifact, []string{"payload.js", "src/rat.mjs"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestIntegrityBuildOutput(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	src := map[string]string{"src/index.js": "export default 1;\n"}
	art := map[string]string{
		"src/index.js":              "export default 1;\n",
		"cjs/fixture.production.js": "module.exports=1;\n",
		"index.d.ts":                "declare const x: number;\n",
		"LICENSE":                   "MIT\n",
	}
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{"v1.2.3": src},
	}}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", artifactTree(t, art), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckWarning; got != want {
		t.Errorf("got status %v, want %v (reason %q)", got, want, res.Reason)
	}
	if len(res.OnlyInArtifact) != 0 {
		t.Errorf("build output misclassified as suspicious: %v", res.OnlyInArtifact)
	}
	if got, want := len(res.BuildArtifacts), 3; got != want {
		t.Errorf("got %d build artifacts, want %d: %v", got, want, res.BuildArtifacts)
	}
}

func TestIntegrityModified(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{
			"v1.2.3": {"index.js": "module.exports = 1;\n"},
		},
	}}
	art := map[string]string{"index.js": "module.exports = require('./stealth');\n"}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", artifactTree(t, art), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckWarning; got != want {
		t.Errorf("got status %v, want %v", got, want)
	}
	if got, want := res.Modified, []string{"index.js"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestIntegrityMonorepoDirectory(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{
			"v1.2.3": {
				"packages/fixture/index.js": "module.exports = 1;\n",
				"packages/other/index.js":   "module.exports = 2;\n",
				"turbo.json":                "{}",
			},
		},
	}}
	art := map[string]string{"index.js": "module.exports = 1;\n"}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/monorepo", "packages/fixture"), "1.2.3", artifactTree(t, art), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckPass; got != want {
		t.Errorf("got status %v, want %v (reason %q)", got, want, res.Reason)
	}
}

func TestIntegrityHousekeepingIgnored(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := &Analyzer{source: &fakeSource{
		tags: map[string]map[string]string{
			"v1.2.3": {
				"index.js":          "module.exports = 1;\n",
				".github/ci.yml":    "jobs: {}\n",
				"CHANGELOG.md":      "## 1.2.3\n",
				"package-lock.json": "{}",
			},
		},
	}}
	art := map[string]string{
		"index.js":   "module.exports = 1;\n",
		".npmignore": "*.test.js\n",
	}
	res, err := a.checkIntegrity(ctx, packumentFor("1.2.3", "https://github.com/acme/fixture", ""), "1.2.3", artifactTree(t, art), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Status, watchtower.CheckPass; got != want {
		t.Errorf("got status %v, want %v (reason %q)", got, want, res.Reason)
	}
}
