package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/registry"
)

// Housekeeping paths that routinely differ between a repository and the
// published tarball. These never count toward the comparison.
var (
	ignoredDirs = map[string]bool{
		".git":         true,
		".github":      true,
		".gitlab":      true,
		".circleci":    true,
		".idea":        true,
		".vscode":      true,
		"node_modules": true,
		"dist":         true,
		"build":        true,
	}
	ignoredFiles = map[string]bool{
		"package-lock.json":   true,
		"yarn.lock":           true,
		"pnpm-lock.yaml":      true,
		"npm-shrinkwrap.json": true,
		".npmignore":          true,
		".gitignore":          true,
		".gitattributes":      true,
		".travis.yml":         true,
		"azure-pipelines.yml": true,
		"appveyor.yml":        true,
		"Jenkinsfile":         true,
		".editorconfig":       true,
	}
	changelogPrefixes = []string{"changelog", "history", "changes"}
)

// Layouts produced by common packaging pipelines. Files matching these
// are reported but never treated as suspicious on their own.
var (
	buildOutputDirs = map[string]bool{
		"cjs": true,
		"umd": true,
		"esm": true,
		"es":  true,
		"amd": true,
	}
	buildOutputSuffixes = []string{
		".development.js",
		".production.js",
		".profiling.js",
		".min.js",
		".min.mjs",
		".min.cjs",
		".d.ts",
	}
	buildOutputRootFiles = map[string]bool{
		"index.js":           true,
		"index.mjs":          true,
		"index.cjs":          true,
		"jsx-runtime.js":     true,
		"jsx-dev-runtime.js": true,
	}
	docBasenames = []string{"license", "readme", "notice", "copying"}
)

// checkIntegrity compares the extracted artifact at artifactDir against
// the source repository tag matching version, cloning under workDir.
func (a *Analyzer) checkIntegrity(ctx context.Context, pk *registry.Packument, version, artifactDir, workDir string) (watchtower.IntegrityResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "analyzer/Analyzer.checkIntegrity")
	var res watchtower.IntegrityResult

	repo := sourceRepository(pk, version)
	if repo == nil || repo.URL == "" {
		res.Status = watchtower.CheckWarning
		res.Reason = "no source URL"
		return res, nil
	}
	cloneURL, err := ParseSourceURL(repo.URL)
	if err != nil {
		zlog.Debug(ctx).
			Str("repository", repo.URL).
			Err(err).
			Msg("unusable repository URL")
		res.Status = watchtower.CheckWarning
		res.Reason = "unsupported source URL"
		return res, nil
	}

	srcDir := filepath.Join(workDir, "source")
	for _, tag := range []string{"v" + version, version} {
		err := a.source.CloneTag(ctx, cloneURL, tag, srcDir)
		if err == nil {
			res.Tag = tag
			break
		}
		zlog.Debug(ctx).
			Str("tag", tag).
			Err(err).
			Msg("tag clone failed")
		if err := os.RemoveAll(srcDir); err != nil {
			return res, fmt.Errorf("analyzer: unable to remove partial clone: %w", err)
		}
	}
	if res.Tag == "" {
		res.Status = watchtower.CheckWarning
		res.Reason = "no matching tag"
		return res, nil
	}

	compareDir := srcDir
	if d := repo.Directory; d != "" {
		sub := filepath.Join(srcDir, filepath.FromSlash(path.Clean("/"+d)))
		if fi, err := os.Stat(sub); err == nil && fi.IsDir() {
			compareDir = sub
		} else {
			zlog.Debug(ctx).
				Str("directory", d).
				Msg("repository directory missing in clone, comparing against repository root")
		}
	}

	artifact, err := hashTree(artifactDir)
	if err != nil {
		return res, fmt.Errorf("analyzer: unable to hash artifact: %w", err)
	}
	source, err := hashTree(compareDir)
	if err != nil {
		return res, fmt.Errorf("analyzer: unable to hash source: %w", err)
	}

	for rel, sum := range artifact {
		want, ok := source[rel]
		switch {
		case !ok && buildOutput(rel):
			res.BuildArtifacts = append(res.BuildArtifacts, rel)
		case !ok:
			res.OnlyInArtifact = append(res.OnlyInArtifact, rel)
		case sum != want:
			res.Modified = append(res.Modified, rel)
		}
	}
	sort.Strings(res.OnlyInArtifact)
	sort.Strings(res.BuildArtifacts)
	sort.Strings(res.Modified)

	switch {
	case len(res.OnlyInArtifact) != 0:
		res.Status = watchtower.CheckFail
		res.Reason = fmt.Sprintf("%d file(s) present only in the published artifact, e.g. %q",
			len(res.OnlyInArtifact), res.OnlyInArtifact[0])
	case len(res.Modified) != 0:
		res.Status = watchtower.CheckWarning
		res.Reason = fmt.Sprintf("%d file(s) differ from the tagged source, e.g. %q",
			len(res.Modified), res.Modified[0])
	case len(res.BuildArtifacts) != 0:
		res.Status = watchtower.CheckWarning
		res.Reason = fmt.Sprintf("%d build output file(s) absent from the tagged source",
			len(res.BuildArtifacts))
	default:
		res.Status = watchtower.CheckPass
	}
	zlog.Debug(ctx).
		Str("tag", res.Tag).
		Int("artifact_files", len(artifact)).
		Int("source_files", len(source)).
		Str("status", res.Status.String()).
		Msg("integrity check done")
	return res, nil
}

// sourceRepository picks the repository record for a version, falling
// back to the packument-level one.
func sourceRepository(pk *registry.Packument, version string) *registry.Repository {
	if vm, ok := pk.Versions[version]; ok && vm.Repository != nil && vm.Repository.URL != "" {
		return vm.Repository
	}
	return pk.Repository
}

// hashTree walks root and returns slash-separated relative paths mapped
// to hex sha256 sums, skipping housekeeping paths.
func hashTree(root string) (map[string]string, error) {
	sums := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignoredFile(path.Base(rel)) {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		h := sha256.New()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return err
		}
		sums[rel] = hex.EncodeToString(h.Sum(nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func ignoredFile(base string) bool {
	if ignoredFiles[base] {
		return true
	}
	stem := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	for _, p := range changelogPrefixes {
		if strings.HasPrefix(stem, p) {
			return true
		}
	}
	return false
}

// buildOutput reports whether a relative artifact path looks like
// packaging output rather than checked-in source.
func buildOutput(rel string) bool {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		if buildOutputDirs[rel[:i]] {
			return true
		}
	} else {
		if buildOutputRootFiles[rel] {
			return true
		}
		stem := strings.ToLower(strings.TrimSuffix(rel, path.Ext(rel)))
		for _, d := range docBasenames {
			if strings.HasPrefix(stem, d) {
				return true
			}
		}
	}
	for _, s := range buildOutputSuffixes {
		if strings.HasSuffix(rel, s) {
			return true
		}
	}
	return false
}
