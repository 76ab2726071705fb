package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/exalt/pkg/bytecode"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func checkBindings(t *testing.T, what string, got []Binding, want []Binding) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", what, got, want)
	}
	for i := range want {
		if got[i].Name != want[i].Name || !bytecode.Equal(got[i].Value, want[i].Value) ||
			bytecode.TypeName(got[i].Value) != bytecode.TypeName(want[i].Value) {
			t.Errorf("%s[%d] = %s=%s, want %s=%s", what, i,
				got[i].Name, bytecode.FormatValue(got[i].Value),
				want[i].Name, bytecode.FormatValue(want[i].Value))
		}
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "exalt.toml", `
[target]
source = "lib.exasm"
function = "foo"

[overrides]
zeta = 10
alpha = "text"
mid = [1, 2.5]

[globals]
scale = 3
flag = true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Target.Source != "lib.exasm" || m.Target.Function != "foo" {
		t.Errorf("target = %+v", m.Target)
	}
	// Declared order, not alphabetical.
	checkBindings(t, "overrides", m.Overrides, []Binding{
		{"zeta", int64(10)},
		{"alpha", "text"},
		{"mid", bytecode.Tuple{int64(1), 2.5}},
	})
	checkBindings(t, "globals", m.Globals, []Binding{
		{"scale", int64(3)},
		{"flag", true},
	})

	names := m.OverrideNames()
	if strings.Join(names, ",") != "zeta,alpha,mid" {
		t.Errorf("OverrideNames = %v", names)
	}
	if m.SourcePath() != filepath.Join(m.Dir, "lib.exasm") {
		t.Errorf("SourcePath = %s", m.SourcePath())
	}
	if !filepath.IsAbs(m.Path) || filepath.Base(m.Path) != "exalt.toml" {
		t.Errorf("Path = %s", m.Path)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "promote.yaml", `
target:
  source: /abs/lib.exasm
  function: bar_then_scale
overrides:
  scale: 5
  bar: -1
  none: null
globals:
  nested: [1, [true, "x"]]
`)

	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if m.Target.Function != "bar_then_scale" {
		t.Errorf("target = %+v", m.Target)
	}
	if m.SourcePath() != "/abs/lib.exasm" {
		t.Errorf("absolute source should be kept, got %s", m.SourcePath())
	}
	checkBindings(t, "overrides", m.Overrides, []Binding{
		{"scale", int64(5)},
		{"bar", int64(-1)},
		{"none", nil},
	})
	checkBindings(t, "globals", m.Globals, []Binding{
		{"nested", bytecode.Tuple{int64(1), bytecode.Tuple{true, "x"}}},
	})
}

func TestLoadPrefersTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "exalt.yaml", "overrides:\n  from: yaml\n")
	writeFile(t, dir, "exalt.toml", "[overrides]\nfrom = \"toml\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	checkBindings(t, "overrides", m.Overrides, []Binding{{"from", "toml"}})
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "exalt.toml") {
		t.Errorf("expected missing manifest error, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"toml unknown key", "a.toml", "[target]\nsource = \"x\"\ncolour = \"red\"\n", "unknown key"},
		{"toml unknown table", "b.toml", "[extras]\nx = 1\n", "unknown key"},
		{"toml nested table", "c.toml", "[overrides]\nbar = { a = 1 }\n", "unsupported value type"},
		{"toml syntax", "d.toml", "[overrides\n", "parse error"},
		{"yaml unknown key", "e.yaml", "target:\n  source: x\nextra: 1\n", "unknown key"},
		{"yaml not mapping", "f.yaml", "- a\n- b\n", "top level must be a mapping"},
		{"yaml overrides list", "g.yaml", "overrides:\n  - bar\n", "expected a mapping"},
		{"yaml map value", "h.yaml", "overrides:\n  bar:\n    a: 1\n", "unsupported value type"},
		{"extension", "i.json", "{}", "unknown manifest extension"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)
			_, err := LoadFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestLoadEmptyYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "exalt.yml", "")
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(m.Overrides) != 0 || len(m.Globals) != 0 {
		t.Errorf("empty manifest has bindings: %+v", m)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "exalt.toml", "[overrides]\nbar = 10\n")
	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil, expected manifest")
	}
	if m.Dir != root {
		t.Errorf("Dir = %s, want %s", m.Dir, root)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	// Unless a parent of the temp dir carries a manifest, nothing is found.
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil && strings.HasPrefix(m.Dir, dir) {
		t.Errorf("found unexpected manifest %s", m.Path)
	}
}
