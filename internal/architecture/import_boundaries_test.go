package architecture_test

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productionFiles(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, dir := range []string{"internal", "pkg", "cmd"} {
		files, err := collectGoFiles(filepath.Join(repoRootDir(), dir))
		require.NoError(t, err)
		for _, f := range files {
			if !isTestFile(f) {
				out = append(out, f)
			}
		}
	}
	require.NotEmpty(t, out)
	return out
}

func TestImportBoundaries(t *testing.T) {
	violations := make([]string, 0)
	for _, file := range productionFiles(t) {
		sourcePkg := packageImportPath(file)
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}
		for _, imp := range parseImports(t, file) {
			if prefix := matchingForbiddenPrefix(imp, rule.forbidden); prefix != "" {
				violations = append(violations,
					"governance: "+sourcePkg+" imports "+imp+" via "+relToRepoRoot(file)+"; allowed direction: "+rule.hint,
				)
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

func TestTestutil_OnlyImportedByTests(t *testing.T) {
	for _, file := range productionFiles(t) {
		if strings.Contains(relToRepoRoot(file), "internal/testutil/") {
			continue
		}
		for _, imp := range parseImports(t, file) {
			assert.NotEqualf(t, modulePath+"/internal/testutil", imp, "%s imports testutil outside a test", relToRepoRoot(file))
		}
	}
}

func TestFindRule_PrefersSpecificPrefix(t *testing.T) {
	rule, ok := findRule(modulePath + "/internal/service/runner")
	require.True(t, ok)
	assert.Equal(t, modulePath+"/internal/service/runner", rule.sourcePrefix)

	rule, ok = findRule(modulePath + "/internal/service/masking")
	require.True(t, ok)
	assert.Equal(t, modulePath+"/internal/service", rule.sourcePrefix)

	_, ok = findRule(modulePath + "/internal/domainx")
	assert.False(t, ok)
}
