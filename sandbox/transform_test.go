package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteImports(t *testing.T) {
	t.Run("NamespaceImport", func(t *testing.T) {
		out := rewriteImports(`import * as pad from "left-pad";`)
		assert.Contains(t, out, `const pad = require("left-pad");`)
	})

	t.Run("DefaultImport", func(t *testing.T) {
		out := rewriteImports(`import leftPad from "left-pad";`)
		assert.Contains(t, out, `const leftPad = require("left-pad");`)
	})

	t.Run("NamedImport", func(t *testing.T) {
		out := rewriteImports(`import { pad, trim as cut } from "strkit";`)
		assert.Contains(t, out, `const {pad, trim: cut} = require("strkit");`)
	})

	t.Run("DefaultAndNamedImport", func(t *testing.T) {
		out := rewriteImports(`import main, { helper } from "toolbox";`)
		assert.Contains(t, out, `const main = require("toolbox");`)
		assert.Contains(t, out, `const {helper} = require("toolbox");`)
	})

	t.Run("SideEffectImport", func(t *testing.T) {
		out := rewriteImports(`import "polyfill";`)
		assert.Contains(t, out, `require("polyfill");`)
	})

	t.Run("TypeOnlyImportErased", func(t *testing.T) {
		out := rewriteImports(`import type { Config } from "toolbox";` + "\n" + `console.log(1);`)
		assert.NotContains(t, out, "Config")
		assert.Contains(t, out, "console.log(1);")
	})

	t.Run("SingleQuotes", func(t *testing.T) {
		out := rewriteImports(`import leftPad from 'left-pad'`)
		assert.Contains(t, out, `const leftPad = require("left-pad");`)
	})

	t.Run("ExportKeywordErased", func(t *testing.T) {
		out := rewriteImports("export const answer = 42;\nexport default answer;")
		assert.NotContains(t, out, "export")
		assert.Contains(t, out, "const answer = 42;")
	})

	t.Run("UnrecognizedSyntaxLeftAlone", func(t *testing.T) {
		src := `const x = "import nothing";`
		assert.Equal(t, src, rewriteImports(src))
	})
}

func TestTransform(t *testing.T) {
	t.Run("WrapsInAsyncCall", func(t *testing.T) {
		out, err := Transform(`console.log("hi");`)
		require.NoError(t, err)
		assert.Contains(t, out, "async")
		assert.Contains(t, out, `console.log("hi");`)
	})

	t.Run("StripsTypeAnnotations", func(t *testing.T) {
		out, err := Transform(`
interface Point { x: number; y: number }
const p: Point = { x: 1, y: 2 };
function dist(a: Point): number { return a.x + a.y; }
console.log(dist(p));
`)
		require.NoError(t, err)
		assert.NotContains(t, out, "interface")
		assert.NotContains(t, out, ": number")
		assert.NotContains(t, out, ": Point")
	})

	t.Run("RewritesImportsBeforeCompiling", func(t *testing.T) {
		out, err := Transform(`import leftPad from "left-pad";` + "\n" + `console.log(leftPad("5", 3, "0"));`)
		require.NoError(t, err)
		assert.Contains(t, out, `require("left-pad")`)
		assert.False(t, strings.Contains(out, "import leftPad"), "declarative import must be rewritten")
	})

	t.Run("TopLevelAwaitAccepted", func(t *testing.T) {
		_, err := Transform(`const v = await Promise.resolve(1); console.log(v);`)
		require.NoError(t, err)
	})

	t.Run("SyntaxErrorSurfacesCompilerMessage", func(t *testing.T) {
		_, err := Transform(`const = ;`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compilation failed")
	})

	t.Run("PureFunction", func(t *testing.T) {
		src := `console.log(1 + 1);`
		first, err := Transform(src)
		require.NoError(t, err)
		second, err := Transform(src)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
