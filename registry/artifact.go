package registry

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
)

// FetchTarball downloads the published artifact for version and
// extracts it into dst, which must be an existing directory. The
// leading path element every npm tarball carries (conventionally
// "package/") is stripped.
func (c *Client) FetchTarball(ctx context.Context, pk *Packument, version, dst string) error {
	ctx = zlog.ContextWithValues(ctx,
		"component", "registry/Client.FetchTarball",
		"package", pk.Name,
		"version", version)
	vm, ok := pk.Versions[version]
	if !ok {
		return fmt.Errorf("registry: version %q not published for %q", version, pk.Name)
	}
	if vm.Dist.Tarball == "" {
		return fmt.Errorf("registry: no tarball recorded for %s@%s", pk.Name, version)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vm.Dist.Tarball, nil)
	if err != nil {
		return fmt.Errorf("registry: unable to make request: %w", err)
	}
	res, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("registry: artifact fetch: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("registry: unexpected response for %q: %s", vm.Dist.Tarball, res.Status)
	}
	if err := extract(ctx, res.Body, dst); err != nil {
		return fmt.Errorf("registry: unable to extract %s@%s: %w", pk.Name, version, err)
	}
	zlog.Debug(ctx).Msg("artifact extracted")
	return nil
}

// gzipMagic is the two-byte gzip signature.
var gzipMagic = []byte{0x1f, 0x8b}

// extract untars the (possibly gzip-compressed) stream r into dst,
// stripping the first path element of every entry.
func extract(ctx context.Context, r io.Reader, dst string) error {
	br := bufio.NewReader(r)
	var tr *tar.Reader
	magic, err := br.Peek(2)
	switch {
	case err != nil:
		return fmt.Errorf("unable to sniff stream: %w", err)
	case magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1]:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("unable to open gzip stream: %w", err)
		}
		defer gz.Close()
		tr = tar.NewReader(gz)
	default:
		tr = tar.NewReader(br)
	}

	root := filepath.Clean(dst)
	for {
		hdr, err := tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("tar read: %w", err)
		}
		rel, ok := stripRoot(hdr.Name)
		if !ok {
			continue
		}
		name := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(name, root+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry escapes destination: %q", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(name, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			_, err = io.Copy(f, tr)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("unable to write %q: %w", name, err)
			}
		default:
			// Links and specials aren't part of a sane npm artifact.
			zlog.Debug(ctx).
				Str("entry", hdr.Name).
				Int("type", int(hdr.Typeflag)).
				Msg("skipping tar entry")
		}
	}
}

// stripRoot removes the first path element of a tar member name.
// Entries naming only the root are reported not-ok.
func stripRoot(name string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	i := strings.IndexByte(name, '/')
	if i == -1 || i == len(name)-1 {
		return "", false
	}
	return name[i+1:], true
}
