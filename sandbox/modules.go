package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

// moduleSourceRe detects ES module syntax at a statement boundary. Files
// matching it (and .mjs files unconditionally) are converted to CommonJS
// before compilation, since the synchronous loader only evaluates CommonJS.
var moduleSourceRe = regexp.MustCompile(`(?m)^\s*(import|export)\b`)

// compileModule reads, converts and compiles an installed module file,
// caching the compiled program on the Sandbox. Programs are immutable and
// shared across executions; each execution instantiates its own module value
// from the program. The cache is what makes repeated executions cheap while
// keeping their isolation intact.
func (s *Sandbox) compileModule(path string) (*goja.Program, error) {
	s.mu.RLock()
	prog, ok := s.programs[path]
	s.mu.RUnlock()
	if ok {
		return prog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module %s: %w", path, err)
	}
	src := string(data)

	if strings.HasSuffix(path, ".mjs") || moduleSourceRe.MatchString(src) {
		converted, convErr := convertToCommonJS(src)
		if convErr != nil {
			return nil, fmt.Errorf("converting module %s: %w", path, convErr)
		}
		src = converted
	}

	wrapped := "(function (module, exports, require, __filename, __dirname) {\n" + src + "\n})"
	prog, err = goja.Compile(path, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("compiling module %s: %w", path, err)
	}

	s.mu.Lock()
	s.programs[path] = prog
	s.mu.Unlock()

	s.logger.Debug("compiled module", zap.String("path", path))
	return prog, nil
}

// convertToCommonJS rewrites an ES module source into CommonJS so the
// synchronous loader can evaluate it.
func convertToCommonJS(src string) (string, error) {
	result := api.Transform(src, api.TransformOptions{
		Loader:   api.LoaderJS,
		Format:   api.FormatCommonJS,
		Target:   api.ES2017,
		LogLevel: api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("module conversion failed: %s", formatMessages(result.Errors))
	}
	return string(result.Code), nil
}

// resolveFile applies file resolution to a candidate path: the exact file,
// common extensions, then a directory index. Returns "" when nothing exists.
func resolveFile(path string) string {
	if path == "" {
		return ""
	}
	candidates := []string{
		path,
		path + ".js",
		path + ".cjs",
		path + ".mjs",
		path + ".json",
		filepath.Join(path, "index.js"),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

// resolveInstalled maps a bare module reference to a file within the
// installation tree: the package entry for a plain name, file resolution
// under the package directory for a sub-path reference.
func resolveInstalled(baseDir, ref string) string {
	pkg := topLevelPackage(ref)
	if ref == pkg {
		return resolveFile(resolveEntry(baseDir, pkg))
	}
	return resolveFile(filepath.Join(baseDir, installTreeDir, filepath.FromSlash(ref)))
}

// within reports whether target stays inside base after cleaning. Relative
// requires made by installed package code are confined to the installation
// base this way.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
