package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"
)

func TestPackument(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	const doc = `{
		"name": "leftpad",
		"dist-tags": {"latest": "1.1.0"},
		"versions": {
			"1.0.0": {
				"name": "leftpad", "version": "1.0.0",
				"repository": "github:example/leftpad",
				"dist": {"tarball": "https://registry.invalid/leftpad/-/leftpad-1.0.0.tgz"}
			},
			"1.1.0": {
				"name": "leftpad", "version": "1.1.0",
				"repository": {"type": "git", "url": "git+https://github.com/example/leftpad.git", "directory": "packages/leftpad"},
				"scripts": {"postinstall": "node scripts/hello.js"},
				"dist": {"tarball": "https://registry.invalid/leftpad/-/leftpad-1.1.0.tgz"}
			}
		},
		"time": {
			"created": "2020-01-01T00:00:00.000Z",
			"1.0.0": "2020-01-02T00:00:00.000Z",
			"1.1.0": "2020-02-02T00:00:00.000Z"
		}
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/leftpad" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(doc))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	pk, err := c.Packument(ctx, "leftpad")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := pk.Latest(), "1.1.0"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if got, want := pk.Versions["1.0.0"].Repository.URL, "github:example/leftpad"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	vm := pk.Versions["1.1.0"]
	if got, want := vm.Repository.Directory, "packages/leftpad"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if got, want := vm.Scripts["postinstall"], "node scripts/hello.js"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

func TestPackumentNotFound(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Packument(ctx, "missing"); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestRepositoryJSON(t *testing.T) {
	tt := []struct {
		Name string
		In   string
		Want Repository
	}{
		{
			Name: "String",
			In:   `"github:example/repo"`,
			Want: Repository{URL: "github:example/repo"},
		},
		{
			Name: "Object",
			In:   `{"type":"git","url":"git://github.com/example/repo.git","directory":"pkg/a"}`,
			Want: Repository{Type: "git", URL: "git://github.com/example/repo.git", Directory: "pkg/a"},
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			var got Repository
			if err := json.Unmarshal([]byte(tc.In), &got); err != nil {
				t.Fatal(err)
			}
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}
