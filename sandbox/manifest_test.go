package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePackage installs a fixture package under dir/node_modules.
func writePackage(t *testing.T, baseDir, name string, files map[string]string) {
	t.Helper()
	pkgDir := filepath.Join(baseDir, installTreeDir, filepath.FromSlash(name))
	for rel, content := range files {
		path := filepath.Join(pkgDir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestResolveEntry(t *testing.T) {
	t.Run("ExportsRequireCondition", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "dual", map[string]string{
			"package.json": `{"name":"dual","main":"legacy.js","exports":{".":{"require":"./cjs/index.js","import":"./esm/index.mjs"}}}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "dual", "cjs", "index.js"), resolveEntry(dir, "dual"))
	})

	t.Run("ExportsDefaultBeforeImport", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","exports":{".":{"import":"./esm.mjs","default":"./dist.js"}}}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "dist.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("ExportsBareString", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","exports":"./entry.js"}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "entry.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("ExportsRootConditionMap", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","exports":{"require":"./cjs.js","import":"./esm.mjs"}}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "cjs.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("ModuleFieldBeforeMain", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","module":"esm.js","main":"cjs.js"}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "esm.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("MainField", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","main":"lib/main.js"}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "lib", "main.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("DefaultsToIndex", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"index.js": `module.exports = 1;`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("MalformedManifestFallsBack", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{not json`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), resolveEntry(dir, "pkg"))
	})

	t.Run("MissingPackage", func(t *testing.T) {
		assert.Equal(t, "", resolveEntry(t.TempDir(), "nope"))
	})

	t.Run("ScopedPackage", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "@scope/pkg", map[string]string{
			"package.json": `{"name":"@scope/pkg","main":"main.js"}`,
		})
		assert.Equal(t, filepath.Join(dir, "node_modules", "@scope", "pkg", "main.js"), resolveEntry(dir, "@scope/pkg"))
	})
}

func TestIsAsyncOnly(t *testing.T) {
	t.Run("ImportOnlyExports", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","exports":{".":{"import":"./esm.mjs"}}}`,
		})
		assert.True(t, isAsyncOnly(dir, "pkg"))
	})

	t.Run("DefaultOnlyExports", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","exports":{".":{"default":"./dist.js"}}}`,
		})
		assert.True(t, isAsyncOnly(dir, "pkg"))
	})

	t.Run("DualExports", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","exports":{".":{"require":"./cjs.js","import":"./esm.mjs"}}}`,
		})
		assert.False(t, isAsyncOnly(dir, "pkg"))
	})

	t.Run("ModuleTypeWithoutRequireMapping", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","type":"module","main":"index.js"}`,
		})
		assert.True(t, isAsyncOnly(dir, "pkg"))
	})

	t.Run("CommonJSType", func(t *testing.T) {
		dir := t.TempDir()
		writePackage(t, dir, "pkg", map[string]string{
			"package.json": `{"name":"pkg","main":"index.js"}`,
		})
		assert.False(t, isAsyncOnly(dir, "pkg"))
	})

	t.Run("MissingManifest", func(t *testing.T) {
		assert.False(t, isAsyncOnly(t.TempDir(), "pkg"))
	})
}

func TestNormalizeInstallDir(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "node_modules"), 0o755))

	t.Run("BaseWithInstallTree", func(t *testing.T) {
		assert.Equal(t, base, normalizeInstallDir(base))
	})

	t.Run("InstallTreeItself", func(t *testing.T) {
		assert.Equal(t, base, normalizeInstallDir(filepath.Join(base, "node_modules")))
	})

	t.Run("DescendantWithoutInstallTree", func(t *testing.T) {
		sub := filepath.Join(base, "a", "b")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		assert.Equal(t, base, normalizeInstallDir(sub))
	})
}
