package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// defaultEntryFile is the fallback entry point when a manifest resolves
// nothing (or there is no manifest at all).
const defaultEntryFile = "index.js"

// installTreeDir is the directory name of the package installation tree
// under the base directory.
const installTreeDir = "node_modules"

// packageManifest is the subset of a package.json the sandbox cares about.
// Exports stays raw because the "exports" field is polymorphic: a bare
// string, a subpath map, or a condition map, with nesting.
type packageManifest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Exports json.RawMessage `json:"exports"`
}

// readManifest loads a package's manifest from the installation tree.
// A missing or unparsable manifest returns nil without error: callers fall
// back to default resolution rather than failing hard.
func readManifest(baseDir, pkg string) *packageManifest {
	data, err := os.ReadFile(filepath.Join(packageDir(baseDir, pkg), "package.json"))
	if err != nil {
		return nil
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

// packageDir returns the on-disk directory of an installed package. Scoped
// names ("@scope/pkg") map to nested directories.
func packageDir(baseDir, pkg string) string {
	return filepath.Join(baseDir, installTreeDir, filepath.FromSlash(pkg))
}

// resolveEntry locates a package's preferred entry point file, or "" when the
// package directory does not exist. Precedence mirrors real dual-format
// package conventions: the root export's require condition, then default,
// then import, then the legacy "module" field, then "main", then index.js.
func resolveEntry(baseDir, pkg string) string {
	dir := packageDir(baseDir, pkg)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}

	rel := defaultEntryFile
	if m := readManifest(baseDir, pkg); m != nil {
		switch {
		case m.rootExportEntry() != "":
			rel = m.rootExportEntry()
		case m.Module != "":
			rel = m.Module
		case m.Main != "":
			rel = m.Main
		}
	}
	return filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(rel, "./")))
}

// isAsyncOnly reports whether a package can only be loaded through the
// asynchronous module form: its root export defines an import (or default)
// condition with no require condition, or the manifest globally declares
// module-only semantics without an explicit synchronous mapping. Such
// packages are preloaded at sandbox construction because they cannot be
// required synchronously from inside a running script otherwise.
func isAsyncOnly(baseDir, pkg string) bool {
	m := readManifest(baseDir, pkg)
	if m == nil {
		return false
	}

	if root, ok := m.rootExport(); ok {
		switch v := root.(type) {
		case string:
			return m.Type == "module"
		case map[string]any:
			if _, hasRequire := conditionValue(v, "require"); hasRequire {
				return false
			}
			_, hasImport := conditionValue(v, "import")
			_, hasDefault := conditionValue(v, "default")
			return hasImport || hasDefault
		}
	}

	return m.Type == "module"
}

// rootExportEntry resolves the root export ("." entry) of the exports map to
// a relative entry path, honoring require > default > import precedence.
func (m *packageManifest) rootExportEntry() string {
	root, ok := m.rootExport()
	if !ok {
		return ""
	}
	switch v := root.(type) {
	case string:
		return v
	case map[string]any:
		for _, cond := range []string{"require", "default", "import"} {
			if entry, ok := conditionValue(v, cond); ok {
				return entry
			}
		}
	}
	return ""
}

// rootExport extracts the value describing the package root from the exports
// field. Per convention, a map whose keys start with "." is a subpath map
// (the root lives under "."); otherwise the map itself is a condition map.
func (m *packageManifest) rootExport() (any, bool) {
	if len(m.Exports) == 0 {
		return nil, false
	}
	var exports any
	if err := json.Unmarshal(m.Exports, &exports); err != nil {
		return nil, false
	}
	switch v := exports.(type) {
	case string:
		return v, true
	case map[string]any:
		subpaths := false
		for key := range v {
			if strings.HasPrefix(key, ".") {
				subpaths = true
				break
			}
		}
		if !subpaths {
			return v, true
		}
		if root, ok := v["."]; ok {
			return root, true
		}
	}
	return nil, false
}

// conditionValue resolves a condition inside an export condition map to its
// entry path, descending through nested condition objects.
func conditionValue(conditions map[string]any, name string) (string, bool) {
	value, ok := conditions[name]
	if !ok {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case map[string]any:
		for _, cond := range []string{"require", "default", "import"} {
			if entry, ok := conditionValue(v, cond); ok {
				return entry, true
			}
		}
	}
	return "", false
}

// normalizeInstallDir maps a configured installation directory to the base
// directory packages resolve from. A path naming the installation tree
// itself is normalized to its parent; a path without an installation tree is
// substituted by the nearest ancestor that has one, when any does.
func normalizeInstallDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if filepath.Base(dir) == installTreeDir {
		dir = filepath.Dir(dir)
	}
	for d := dir; ; {
		if info, err := os.Stat(filepath.Join(d, installTreeDir)); err == nil && info.IsDir() {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}
