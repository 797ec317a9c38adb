package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModuleNotAvailable is the uniform denial for any module reference the
// sandbox refuses to load. The message never distinguishes why a reference
// was rejected, so probing the allowlist leaks nothing.
var ErrModuleNotAvailable = errors.New("module not available in sandbox")

func moduleNotAvailable(ref string) error {
	return fmt.Errorf("cannot load module %q: %w", ref, ErrModuleNotAvailable)
}

// moduleKind is the classification of a module reference.
type moduleKind int

const (
	moduleDenied moduleKind = iota
	moduleBuiltin
	moduleAllowed
)

// builtinScheme is the canonical prefix for host-runtime builtin modules.
const builtinScheme = "node:"

// builtinModules lists the host-runtime builtin module names. Builtins are
// always loadable regardless of the allowlist because allowlisted packages
// frequently require them internally. What a builtin resolves to inside the
// sandbox is decided in builtins.go; most are inert shims.
var builtinModules = map[string]bool{
	"assert": true, "async_hooks": true, "buffer": true, "child_process": true,
	"cluster": true, "console": true, "constants": true, "crypto": true,
	"dgram": true, "dns": true, "domain": true, "events": true, "fs": true,
	"http": true, "http2": true, "https": true, "inspector": true,
	"module": true, "net": true, "os": true, "path": true, "perf_hooks": true,
	"process": true, "punycode": true, "querystring": true, "readline": true,
	"repl": true, "stream": true, "string_decoder": true, "timers": true,
	"tls": true, "tty": true, "url": true, "util": true, "v8": true,
	"vm": true, "worker_threads": true, "zlib": true,
}

// classify decides how a module reference may be loaded: as a builtin, as an
// allowlisted package, or not at all. Path-like references are always denied;
// they are the primary defense against sandboxed code reaching the
// filesystem through module loading.
func classify(ref string, allowed map[string]bool) moduleKind {
	if ref == "" {
		return moduleDenied
	}

	stripped := strings.TrimPrefix(ref, builtinScheme)
	if builtinModules[stripped] || builtinModules[ref] {
		return moduleBuiltin
	}
	// Sub-paths of builtins ("fs/promises") are builtins too.
	if !strings.HasPrefix(stripped, "@") && builtinModules[topLevelPackage(stripped)] {
		return moduleBuiltin
	}

	// An unknown name under the builtin scheme is not a package reference.
	if strings.HasPrefix(ref, builtinScheme) {
		return moduleDenied
	}

	if isPathLike(ref) {
		return moduleDenied
	}

	if allowed[topLevelPackage(ref)] {
		return moduleAllowed
	}

	return moduleDenied
}

// isPathLike reports whether a reference names a filesystem location rather
// than an installed package: relative or absolute path markers, Windows
// drive-letter paths, and scheme separators other than the builtin scheme.
func isPathLike(ref string) bool {
	if ref == "." || ref == ".." {
		return true
	}
	for _, prefix := range []string{"./", "../", "/", ".\\", "..\\", "\\", "~"} {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	// "C:\..." and any "scheme:..." form. The builtin scheme was already
	// handled by classify before this point.
	if strings.Contains(ref, ":") {
		return true
	}
	return false
}

// topLevelPackage computes the owning package name of a reference, so that
// sub-path references collapse to their package: "lodash/fp/merge" belongs
// to "lodash", "@scope/pkg/util" to "@scope/pkg".
func topLevelPackage(ref string) string {
	parts := strings.Split(ref, "/")
	if strings.HasPrefix(ref, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// normalizeAllowlist builds the membership set used by classify, collapsing
// each configured entry to its top-level package name.
func normalizeAllowlist(packages []string) map[string]bool {
	allowed := make(map[string]bool, len(packages))
	for _, pkg := range packages {
		if pkg == "" {
			continue
		}
		allowed[topLevelPackage(pkg)] = true
	}
	return allowed
}
