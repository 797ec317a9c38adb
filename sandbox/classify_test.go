package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPathLikeReferences(t *testing.T) {
	allowed := normalizeAllowlist([]string{"left-pad", "lodash"})

	pathLike := []string{
		"./local",
		"../escape",
		"../../etc/passwd",
		"/etc/passwd",
		".\\local",
		"..\\escape",
		"\\\\share\\file",
		"C:\\Windows\\System32",
		"c:/windows",
		"file:///etc/passwd",
		"https://evil.example/mod.js",
		".",
		"..",
		"~/secrets",
	}

	for _, ref := range pathLike {
		t.Run(ref, func(t *testing.T) {
			assert.Equal(t, moduleDenied, classify(ref, allowed), "reference %q must be denied", ref)
		})
	}
}

func TestClassifyBuiltins(t *testing.T) {
	empty := normalizeAllowlist(nil)

	t.Run("BareBuiltinName", func(t *testing.T) {
		assert.Equal(t, moduleBuiltin, classify("fs", empty))
		assert.Equal(t, moduleBuiltin, classify("path", empty))
		assert.Equal(t, moduleBuiltin, classify("util", empty))
	})

	t.Run("PrefixedBuiltinName", func(t *testing.T) {
		assert.Equal(t, moduleBuiltin, classify("node:path", empty))
		assert.Equal(t, moduleBuiltin, classify("node:fs", empty))
	})

	t.Run("BuiltinSubPath", func(t *testing.T) {
		assert.Equal(t, moduleBuiltin, classify("fs/promises", empty))
		assert.Equal(t, moduleBuiltin, classify("node:fs/promises", empty))
	})

	t.Run("UnknownPrefixedName", func(t *testing.T) {
		assert.Equal(t, moduleDenied, classify("node:left-pad", empty))
		assert.Equal(t, moduleDenied, classify("node:nonsense", empty))
	})

	// Builtins never depend on the allowlist
	t.Run("BuiltinWithPopulatedAllowlist", func(t *testing.T) {
		allowed := normalizeAllowlist([]string{"left-pad"})
		assert.Equal(t, moduleBuiltin, classify("fs", allowed))
	})
}

func TestClassifyAllowlist(t *testing.T) {
	allowed := normalizeAllowlist([]string{"left-pad", "@scope/pkg"})

	t.Run("AllowedPackage", func(t *testing.T) {
		assert.Equal(t, moduleAllowed, classify("left-pad", allowed))
	})

	t.Run("AllowedSubPath", func(t *testing.T) {
		assert.Equal(t, moduleAllowed, classify("left-pad/extra", allowed))
		assert.Equal(t, moduleAllowed, classify("left-pad/lib/deep/util", allowed))
	})

	t.Run("AllowedScopedPackage", func(t *testing.T) {
		assert.Equal(t, moduleAllowed, classify("@scope/pkg", allowed))
		assert.Equal(t, moduleAllowed, classify("@scope/pkg/util", allowed))
	})

	t.Run("DeniedPackage", func(t *testing.T) {
		assert.Equal(t, moduleDenied, classify("lodash", allowed))
		assert.Equal(t, moduleDenied, classify("@scope/other", allowed))
		assert.Equal(t, moduleDenied, classify("@other/pkg", allowed))
	})

	t.Run("EmptyReference", func(t *testing.T) {
		assert.Equal(t, moduleDenied, classify("", allowed))
	})
}

func TestTopLevelPackage(t *testing.T) {
	assert.Equal(t, "left-pad", topLevelPackage("left-pad"))
	assert.Equal(t, "left-pad", topLevelPackage("left-pad/extra"))
	assert.Equal(t, "@scope/pkg", topLevelPackage("@scope/pkg"))
	assert.Equal(t, "@scope/pkg", topLevelPackage("@scope/pkg/deep/util"))
}

func TestNormalizeAllowlist(t *testing.T) {
	allowed := normalizeAllowlist([]string{"lodash/fp", "@scope/pkg/util", ""})
	assert.True(t, allowed["lodash"])
	assert.True(t, allowed["@scope/pkg"])
	assert.Len(t, allowed, 2)
}
