// Package registry is a client for the npm registry HTTP API, covering
// the small surface the worker needs: packument reads, artifact
// downloads, and previous-version selection.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/quay/zlog"
)

// DefaultRoot is the public npm registry.
const DefaultRoot = `https://registry.npmjs.org/`

// Client talks to an npm-compatible registry.
//
// Client is safe to share concurrently.
type Client struct {
	root *url.URL
	c    *http.Client
}

// NewClient returns a Client rooted at root, or [DefaultRoot] if root
// is empty. If a nil *http.Client is provided, the default client will
// be used.
func NewClient(root string, c *http.Client) (*Client, error) {
	if root == "" {
		root = DefaultRoot
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("registry: bad root URL: %w", err)
	}
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{root: u, c: c}, nil
}

// Packument is the registry's full metadata document for a package.
type Packument struct {
	Name       string                 `json:"name"`
	DistTags   map[string]string      `json:"dist-tags"`
	Versions   map[string]VersionMeta `json:"versions"`
	Time       map[string]string      `json:"time"`
	Repository *Repository            `json:"repository,omitempty"`
}

// Latest returns the version the "latest" dist-tag points at.
func (p *Packument) Latest() string {
	return p.DistTags["latest"]
}

// VersionMeta is the per-version slice of a packument.
type VersionMeta struct {
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Dist       Dist              `json:"dist"`
	Scripts    map[string]string `json:"scripts,omitempty"`
	Repository *Repository       `json:"repository,omitempty"`
}

// Dist locates the published artifact.
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// Repository is the package's declared source location. npm metadata
// stores it as either an object or a bare URL string.
type Repository struct {
	Type      string `json:"type,omitempty"`
	URL       string `json:"url"`
	Directory string `json:"directory,omitempty"`
}

// UnmarshalJSON implements [json.Unmarshaler].
func (r *Repository) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.URL = s
		return nil
	}
	type repository Repository
	var v repository
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Repository(v)
	return nil
}

// Packument fetches the full metadata document for name.
func (c *Client) Packument(ctx context.Context, name string) (*Packument, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "registry/Client.Packument",
		"package", name)
	u := *c.root
	u.Path = path.Join(u.Path, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("registry: unable to make request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	res, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: packument fetch: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return nil, fmt.Errorf("registry: unexpected response for %q: %s (body starts: %q)", name, res.Status, b)
	}
	var pk Packument
	if err := json.NewDecoder(res.Body).Decode(&pk); err != nil {
		return nil, fmt.Errorf("registry: unable to decode packument: %w", err)
	}
	zlog.Debug(ctx).
		Int("versions", len(pk.Versions)).
		Msg("packument fetched")
	return &pk, nil
}
