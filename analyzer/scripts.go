package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
)

// installHooks are the lifecycle scripts npm runs automatically on
// install. prepare is scanned for patterns too but does not count as a
// hook.
var installHooks = []string{"preinstall", "install", "postinstall"}

const (
	categoryNetwork   = "network"
	categoryShell     = "shell"
	categoryDangerous = "dangerous"
)

type scriptPattern struct {
	pattern  string
	category string
	// exact patterns match case-sensitively, for tokens where
	// lowercasing would swallow legitimate code.
	exact bool
}

var scriptPatterns = []scriptPattern{
	{pattern: "curl", category: categoryNetwork},
	{pattern: "wget", category: categoryNetwork},
	{pattern: "fetch", category: categoryNetwork},
	{pattern: "http://", category: categoryNetwork},
	{pattern: "https://", category: categoryNetwork},
	{pattern: "axios", category: categoryNetwork},
	{pattern: "request", category: categoryNetwork},
	{pattern: "socket", category: categoryNetwork},
	{pattern: "net.", category: categoryNetwork},
	{pattern: "dns.", category: categoryNetwork},

	{pattern: "sh -c", category: categoryShell},
	{pattern: "bash -c", category: categoryShell},
	{pattern: "exec", category: categoryShell},
	{pattern: "spawn", category: categoryShell},
	{pattern: "child_process", category: categoryShell},
	{pattern: "eval", category: categoryShell},
	{pattern: "`", category: categoryShell},
	{pattern: "$(", category: categoryShell},

	{pattern: "rm -rf", category: categoryDangerous},
	{pattern: "rm -fr", category: categoryDangerous},
	{pattern: "chmod 777", category: categoryDangerous},
	{pattern: "sudo", category: categoryDangerous},
	{pattern: "/etc/passwd", category: categoryDangerous},
	{pattern: "/etc/shadow", category: categoryDangerous},
	{pattern: "process.env", category: categoryDangerous},
	{pattern: "printenv", category: categoryDangerous},
	{pattern: "base64 -d", category: categoryDangerous},
	{pattern: "base64 --decode", category: categoryDangerous},
	{pattern: "powershell", category: categoryDangerous},
	{pattern: "cmd /c", category: categoryDangerous},
	{pattern: "eval(", category: categoryDangerous},
	{pattern: "Function(", category: categoryDangerous, exact: true},
	{pattern: `\x`, category: categoryDangerous},
	{pattern: `\u00`, category: categoryDangerous},
}

// safeBuilders is the allowlist of build tooling that downgrades
// hook-present from fail to warning.
var safeBuilders = []string{
	"node", "npm run", "tsc", "babel", "webpack", "rollup", "esbuild",
	"husky", "patch-package", "ngcc", "prisma generate", "node-gyp",
	"node-pre-gyp", "prebuild-install", "cmake-js",
}

// checkScripts reads package.json from the extracted artifact at dir
// and classifies its install-time scripts.
func checkScripts(ctx context.Context, dir string) (watchtower.ScriptsResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "analyzer/checkScripts")
	var res watchtower.ScriptsResult
	scripts, err := readPackageScripts(dir)
	if err != nil {
		return res, err
	}

	hooks := make(map[string]string)
	for _, h := range installHooks {
		if cmd, ok := scripts[h]; ok {
			hooks[h] = cmd
		}
	}
	res.Hooks = hooks

	scanned := make(map[string]string, len(hooks)+1)
	for k, v := range hooks {
		scanned[k] = v
	}
	if cmd, ok := scripts["prepare"]; ok {
		scanned["prepare"] = cmd
	}

	names := make([]string, 0, len(scanned))
	for k := range scanned {
		names = append(names, k)
	}
	sort.Strings(names)

	seen := make(map[string]bool, 3)
	for _, name := range names {
		cmd := scanned[name]
		lower := strings.ToLower(cmd)
		for _, p := range scriptPatterns {
			hay, needle := lower, strings.ToLower(p.pattern)
			if p.exact {
				hay, needle = cmd, p.pattern
			}
			if !strings.Contains(hay, needle) {
				continue
			}
			res.Findings = append(res.Findings, watchtower.ScriptFinding{
				Script:   name,
				Category: p.category,
				Pattern:  p.pattern,
			})
			seen[p.category] = true
		}
	}

	switch {
	case seen[categoryDangerous]:
		f := firstFinding(res.Findings, categoryDangerous)
		res.Status = watchtower.CheckFail
		res.Reason = fmt.Sprintf("script %q matches dangerous pattern %q", f.Script, f.Pattern)
	case seen[categoryNetwork] && seen[categoryShell]:
		f := firstFinding(res.Findings, categoryNetwork)
		res.Status = watchtower.CheckFail
		res.Reason = fmt.Sprintf("script %q combines network access and shell execution", f.Script)
	case len(hooks) == 0:
		res.Status = watchtower.CheckPass
	case allAllowlisted(hooks):
		res.Status = watchtower.CheckWarning
		res.Reason = "install hooks limited to known build tools"
	default:
		res.Status = watchtower.CheckFail
		res.Reason = fmt.Sprintf("unrecognized install hook command in %q", unlistedHook(hooks))
	}
	zlog.Debug(ctx).
		Int("hooks", len(hooks)).
		Int("findings", len(res.Findings)).
		Str("status", res.Status.String()).
		Msg("script check done")
	return res, nil
}

func firstFinding(fs []watchtower.ScriptFinding, category string) watchtower.ScriptFinding {
	for _, f := range fs {
		if f.Category == category {
			return f
		}
	}
	return watchtower.ScriptFinding{}
}

// readPackageScripts parses the scripts table out of dir/package.json.
func readPackageScripts(dir string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("analyzer: unable to read package.json: %w", err)
	}
	var doc struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("analyzer: unable to parse package.json: %w", err)
	}
	return doc.Scripts, nil
}

// allAllowlisted reports whether every hook command resolves entirely
// to safe-builder invocations.
func allAllowlisted(hooks map[string]string) bool {
	for _, cmd := range hooks {
		if !commandAllowlisted(cmd) {
			return false
		}
	}
	return true
}

func unlistedHook(hooks map[string]string) string {
	names := make([]string, 0, len(hooks))
	for k := range hooks {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		if !commandAllowlisted(hooks[n]) {
			return n
		}
	}
	return ""
}

// commandAllowlisted splits a compound command on shell separators and
// requires every part to start with a safe builder.
func commandAllowlisted(cmd string) bool {
	cmd = strings.NewReplacer("&&", ";", "||", ";", "|", ";").Replace(cmd)
	parts := strings.Split(cmd, ";")
	matched := false
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ok := false
		for _, b := range safeBuilders {
			if part == b || strings.HasPrefix(part, b+" ") {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
		matched = true
	}
	return matched
}
