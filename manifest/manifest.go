// Package manifest handles exalt.toml / exalt.yaml promotion configuration.
//
//	[target]
//	source = "lib.exasm"
//	function = "foo"
//
//	[overrides]
//	bar = 10
//
//	[globals]
//	scale = 2
//
// Overrides and globals keep the order they are declared in; that order is the
// order in which overrides are bound.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/chazu/exalt/pkg/bytecode"
)

// FileNames are the manifest names Load looks for, in order.
var FileNames = []string{"exalt.toml", "exalt.yaml", "exalt.yml"}

// Manifest represents one promotion configuration.
type Manifest struct {
	Target    Target
	Overrides []Binding
	Globals   []Binding

	// Path is the manifest file, Dir its directory (set at load time).
	Path string
	Dir  string
}

// Target names the function to promote.
type Target struct {
	Source   string `toml:"source" yaml:"source"`
	Function string `toml:"function" yaml:"function"`
}

// Binding is one name = value entry.
type Binding struct {
	Name  string
	Value bytecode.Value
}

// Load parses the first manifest file found in the given directory.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no %s in %s", strings.Join(FileNames, " or "), dir)
}

// LoadFile parses a manifest, choosing the syntax by extension.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m *Manifest
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		m, err = parseTOML(data)
	case ".yaml", ".yml":
		m, err = parseYAML(data)
	default:
		return nil, fmt.Errorf("%s: unknown manifest extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	m.Dir = filepath.Dir(m.Path)
	return m, nil
}

// FindAndLoad walks up from startDir to find a manifest file,
// then loads and returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourcePath returns the absolute path of the target source.
func (m *Manifest) SourcePath() string {
	if m.Target.Source == "" || filepath.IsAbs(m.Target.Source) {
		return m.Target.Source
	}
	return filepath.Join(m.Dir, m.Target.Source)
}

// OverrideNames returns the override names in declared order.
func (m *Manifest) OverrideNames() []string {
	names := make([]string, len(m.Overrides))
	for i, b := range m.Overrides {
		names[i] = b.Name
	}
	return names
}

type tomlManifest struct {
	Target    Target         `toml:"target"`
	Overrides map[string]any `toml:"overrides"`
	Globals   map[string]any `toml:"globals"`
}

func parseTOML(data []byte) (*Manifest, error) {
	var raw tomlManifest
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Target: raw.Target}
	// MetaData.Keys is in document order; the maps are not.
	for _, key := range md.Keys() {
		if len(key) != 2 {
			continue
		}
		var table map[string]any
		var dst *[]Binding
		switch key[0] {
		case "overrides":
			table, dst = raw.Overrides, &m.Overrides
		case "globals":
			table, dst = raw.Globals, &m.Globals
		default:
			continue
		}
		v, err := bytecode.Normalize(table[key[1]])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*dst = append(*dst, Binding{Name: key[1], Value: v})
	}
	// Bindings are checked first so a table value reports its type, not
	// its inner keys.
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return m, nil
}

func parseYAML(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	m := &Manifest{}
	if len(doc.Content) == 0 {
		return m, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "target":
			if err := val.Decode(&m.Target); err != nil {
				return nil, err
			}
		case "overrides":
			b, err := yamlBindings(val)
			if err != nil {
				return nil, err
			}
			m.Overrides = b
		case "globals":
			b, err := yamlBindings(val)
			if err != nil {
				return nil, err
			}
			m.Globals = b
		default:
			return nil, fmt.Errorf("line %d: unknown key %q", key.Line, key.Value)
		}
	}
	return m, nil
}

func yamlBindings(node *yaml.Node) ([]Binding, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	var out []Binding
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var raw any
		if err := val.Decode(&raw); err != nil {
			return nil, err
		}
		v, err := bytecode.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", key.Line, key.Value, err)
		}
		out = append(out, Binding{Name: key.Value, Value: v})
	}
	return out, nil
}
