package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Declarative import forms recognized by the rewriter. Matching is textual,
// not a full parse: unusual but valid import syntax outside these shapes is
// left untouched and surfaces as a compile error. Type-only imports and
// top-level export keywords are erased, since neither is legal inside the
// wrapping function body.
var (
	importTypeRe      = regexp.MustCompile(`(?m)^\s*import\s+type\s[^\n]*$`)
	exportTypeRe      = regexp.MustCompile(`(?m)^\s*export\s+type\s[^\n]*$`)
	importNamespaceRe = regexp.MustCompile(`(?m)^\s*import\s+\*\s+as\s+(\w+)\s+from\s+['"]([^'"]+)['"]\s*;?`)
	importDefNamedRe  = regexp.MustCompile(`(?m)^\s*import\s+(\w+)\s*,\s*\{([^}]*)\}\s+from\s+['"]([^'"]+)['"]\s*;?`)
	importNamedRe     = regexp.MustCompile(`(?m)^\s*import\s+\{([^}]*)\}\s+from\s+['"]([^'"]+)['"]\s*;?`)
	importDefaultRe   = regexp.MustCompile(`(?m)^\s*import\s+(\w+)\s+from\s+['"]([^'"]+)['"]\s*;?`)
	importBareRe      = regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"]+)['"]\s*;?`)
	exportDefaultRe   = regexp.MustCompile(`(?m)^export\s+default\s+`)
	exportRe          = regexp.MustCompile(`(?m)^export\s+`)
)

// Transform rewrites untrusted TypeScript or JavaScript source into a single
// expression producing a promise: declarative imports become synchronous
// require calls (imports are only legal at the top of a compilation unit,
// while require is legal inside the wrapper), the body is wrapped in an
// immediately-invoked async function so top-level await works, and type
// annotations are stripped. Pure function of its input.
func Transform(source string) (string, error) {
	rewritten := rewriteImports(source)

	wrapped := "(async () => {\n" + rewritten + "\n})()"

	result := api.Transform(wrapped, api.TransformOptions{
		Loader:     api.LoaderTS,
		Target:     api.ES2017,
		Sourcefile: "script.ts",
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("compilation failed: %s", formatMessages(result.Errors))
	}

	return string(result.Code), nil
}

// rewriteImports converts declarative import statements into require calls,
// preserving binding shape and the literal module reference.
func rewriteImports(source string) string {
	out := importTypeRe.ReplaceAllString(source, "")
	out = exportTypeRe.ReplaceAllString(out, "")

	out = importNamespaceRe.ReplaceAllString(out, `const $1 = require("$2");`)
	out = importDefNamedRe.ReplaceAllStringFunc(out, func(stmt string) string {
		m := importDefNamedRe.FindStringSubmatch(stmt)
		return fmt.Sprintf("const %s = require(%q); const {%s} = require(%q);",
			m[1], m[3], rewriteBindings(m[2]), m[3])
	})
	out = importNamedRe.ReplaceAllStringFunc(out, func(stmt string) string {
		m := importNamedRe.FindStringSubmatch(stmt)
		return fmt.Sprintf("const {%s} = require(%q);", rewriteBindings(m[1]), m[2])
	})
	out = importDefaultRe.ReplaceAllString(out, `const $1 = require("$2");`)
	out = importBareRe.ReplaceAllString(out, `require("$1");`)

	out = exportDefaultRe.ReplaceAllString(out, "")
	out = exportRe.ReplaceAllString(out, "")

	return out
}

// rewriteBindings converts an import binding list into destructuring form:
// "a, b as c" becomes "a, b: c".
func rewriteBindings(bindings string) string {
	parts := strings.Split(bindings, ",")
	for i, part := range parts {
		name := strings.TrimSpace(part)
		if before, after, found := strings.Cut(name, " as "); found {
			name = strings.TrimSpace(before) + ": " + strings.TrimSpace(after)
		}
		parts[i] = name
	}
	return strings.Join(parts, ", ")
}

func formatMessages(messages []api.Message) string {
	texts := make([]string, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text
		if msg.Location != nil {
			text = fmt.Sprintf("%s (line %d)", text, msg.Location.Line)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "; ")
}
