package analyzer

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
)

const (
	// entropyFlag is the threshold above which a file is recorded.
	entropyFlag = 5.5
	// entropyFail is the threshold above which a file outside the
	// expected directories fails the check.
	entropyFail = 6.0
	// entropyMaxSize caps how large a file the scan will read.
	entropyMaxSize = 5 << 20
)

var codeExts = map[string]struct{}{
	".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {}, ".mjs": {}, ".cjs": {},
}

// Directories where minified or bundled output is expected; high
// entropy inside them is unremarkable.
var expectedEntropyDirs = map[string]struct{}{
	"dist": {}, "build": {}, "bundle": {}, "min": {}, "minified": {}, "vendor": {},
}

// scanEntropy walks the extracted artifact at root and computes
// per-file Shannon entropy for code files.
func scanEntropy(ctx context.Context, root string) (watchtower.EntropyResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "analyzer/scanEntropy")
	var res watchtower.EntropyResult
	var sum float64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" {
				return fs.SkipDir
			}
			return nil
		}
		if _, ok := codeExts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() == 0 || fi.Size() > entropyMaxSize {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		h := shannon(b)
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		res.FilesScanned++
		sum += h
		if h > res.MaxEntropy {
			res.MaxEntropy = h
		}
		if h > entropyFlag {
			res.Findings = append(res.Findings, watchtower.EntropyFinding{
				Path:     rel,
				Entropy:  h,
				Size:     fi.Size(),
				Expected: inExpectedDir(rel),
			})
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("analyzer: entropy scan: %w", err)
	}
	if res.FilesScanned > 0 {
		res.AvgEntropy = sum / float64(res.FilesScanned)
	}
	sort.Slice(res.Findings, func(i, j int) bool {
		if res.Findings[i].Entropy != res.Findings[j].Entropy {
			return res.Findings[i].Entropy > res.Findings[j].Entropy
		}
		return res.Findings[i].Path < res.Findings[j].Path
	})

	var worst *watchtower.EntropyFinding
	for i := range res.Findings {
		if !res.Findings[i].Expected {
			worst = &res.Findings[i]
			break
		}
	}
	switch {
	case worst != nil && worst.Entropy > entropyFail:
		res.Status = watchtower.CheckFail
		res.Reason = fmt.Sprintf("file %q has entropy %.2f, above %.1f, outside expected build directories", worst.Path, worst.Entropy, entropyFail)
	case worst != nil:
		res.Status = watchtower.CheckWarning
		res.Reason = fmt.Sprintf("file %q has entropy %.2f outside expected build directories", worst.Path, worst.Entropy)
	case len(res.Findings) > 0:
		res.Status = watchtower.CheckWarning
		res.Reason = fmt.Sprintf("%d high-entropy file(s), all in expected build directories", len(res.Findings))
	default:
		res.Status = watchtower.CheckPass
	}
	zlog.Debug(ctx).
		Int("scanned", res.FilesScanned).
		Int("flagged", len(res.Findings)).
		Str("status", res.Status.String()).
		Msg("entropy scan done")
	return res, nil
}

// shannon computes byte-frequency Shannon entropy in bits per byte.
func shannon(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var freq [256]int
	for _, c := range b {
		freq[c]++
	}
	n := float64(len(b))
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// inExpectedDir reports whether any segment of the slash-separated
// path is an expected high-entropy directory.
func inExpectedDir(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if _, ok := expectedEntropyDirs[strings.ToLower(seg)]; ok {
			return true
		}
	}
	return false
}
