package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "maskflow"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func internal(pkgs ...string) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, modulePath+"/"+p)
	}
	return out
}

// architectureRules are matched by the first sourcePrefix that fits, so more
// specific prefixes come first.
var architectureRules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: internal(
			"internal/api", "internal/app", "internal/config", "internal/connector", "internal/db",
			"internal/ddl", "internal/filter", "internal/hyperscale", "internal/metrics",
			"internal/middleware", "internal/partition", "internal/service", "internal/testutil",
			"cmd", "pkg/cli",
		),
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden: internal(
			"internal/api", "internal/app", "internal/service", "internal/middleware",
			"internal/connector", "internal/hyperscale",
		),
		hint: "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/connector",
		forbidden: internal(
			"internal/api", "internal/app", "internal/service", "internal/db",
			"internal/middleware", "internal/hyperscale",
		),
		hint: "connectors implement domain ports and know nothing of the metadata store",
	},
	{
		sourcePrefix: modulePath + "/internal/hyperscale",
		forbidden: internal(
			"internal/api", "internal/app", "internal/service", "internal/db",
			"internal/connector", "internal/middleware",
		),
		hint: "the service client depends on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/service/runner",
		forbidden: internal(
			"internal/api", "internal/app", "internal/middleware", "internal/connector",
			"internal/hyperscale", "cmd", "pkg/cli",
		),
		hint: "runner builds per-run repositories but receives connectors and the service client",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: internal(
			"internal/api", "internal/app", "internal/db", "internal/middleware",
			"internal/connector", "internal/hyperscale", "cmd", "pkg/cli",
		),
		hint: "services depend on domain ports, not on their implementations",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: internal(
			"internal/db", "internal/connector", "internal/hyperscale", "internal/app", "cmd", "pkg/cli",
		),
		hint: "api should depend on service/domain/middleware packages",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden: internal(
			"internal/service", "internal/db", "internal/api", "internal/app", "internal/connector",
		),
		hint: "middleware should depend on middleware-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/partition",
		forbidden:    internal("internal/service", "internal/db", "internal/connector", "internal/api", "internal/app"),
		hint:         "partitioning is pure and depends on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/filter",
		forbidden:    internal("internal/service", "internal/db", "internal/connector", "internal/api", "internal/app"),
		hint:         "filter resolution is pure and depends on domain and ddl only",
	},
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") || d.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	return files, err
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

// packageImportPath derives the import path of the package holding file.
func packageImportPath(file string) string {
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(relToRepoRoot(file)))
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
