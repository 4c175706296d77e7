package registry

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
)

// mktgz builds an npm-style gzipped tarball from name→content pairs.
func mktgz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchTarball(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	tgz := mktgz(t, map[string]string{
		"package/package.json": `{"name":"leftpad","version":"1.0.0"}`,
		"package/lib/index.js": `module.exports = () => {};`,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tgz)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	pk := &Packument{
		Name: "leftpad",
		Versions: map[string]VersionMeta{
			"1.0.0": {Dist: Dist{Tarball: srv.URL + "/leftpad/-/leftpad-1.0.0.tgz"}},
		},
	}
	dst := t.TempDir()
	if err := c.FetchTarball(ctx, pk, "1.0.0", dst); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dst, "lib", "index.js"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `module.exports = () => {};`; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(dst, "package")); !os.IsNotExist(err) {
		t.Error("expected the leading path element to be stripped")
	}
}

func TestFetchTarballUnknownVersion(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	c, err := NewClient(DefaultRoot, nil)
	if err != nil {
		t.Fatal(err)
	}
	pk := &Packument{Name: "leftpad", Versions: map[string]VersionMeta{}}
	if err := c.FetchTarball(ctx, pk, "9.9.9", t.TempDir()); err == nil {
		t.Error("expected error for unpublished version")
	}
}

func TestExtractRejectsEscape(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	tgz := mktgz(t, map[string]string{
		"package/../../evil.txt": "oops",
	})
	if err := extract(ctx, bytes.NewReader(tgz), t.TempDir()); err == nil {
		t.Error("expected error for path escape")
	}
}

func TestExtractPlainTar(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "package/a.js", Mode: 0o644, Size: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte("ok")); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()
	if err := extract(ctx, &buf, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dst, "a.js")); err != nil {
		t.Fatal(err)
	}
}
