// exalt CLI - promotes globals of an assembled function into closure cells
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/exalt/manifest"
	"github.com/chazu/exalt/pkg/bytecode"
	"github.com/chazu/exalt/pkg/promote"
)

var log = commonlog.GetLogger("exalt.cli")

// bindingList collects repeated name=value flags in order.
type bindingList []manifest.Binding

func (l *bindingList) String() string {
	parts := make([]string, len(*l))
	for i, b := range *l {
		parts[i] = b.Name + "=" + bytecode.FormatValue(b.Value)
	}
	return strings.Join(parts, ",")
}

func (l *bindingList) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	*l = append(*l, manifest.Binding{Name: name, Value: bytecode.ParseValue(value)})
	return nil
}

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return fmt.Sprint(int(*v)) }
func (v *verbosity) Set(string) error { *v++; return nil }
func (v *verbosity) IsBoolFlag() bool { return true }

type options struct {
	config   string
	function string
	sets     bindingList
	globals  bindingList
	dis      bool
	run      bool
	trace    bool
	output   string
	verbose  verbosity
	source   string
	callArgs []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	commonlog.Configure(int(opts.verbose), nil)

	if err := execute(opts, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("exalt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.config, "config", "", "Manifest file (default: nearest exalt.toml/exalt.yaml)")
	fs.StringVar(&opts.function, "f", "", "Function to promote (default: manifest target, or the first function)")
	fs.Var(&opts.sets, "set", "Override name=value (repeatable, applied after the manifest)")
	fs.Var(&opts.globals, "global", "Global name=value for -run (repeatable)")
	fs.BoolVar(&opts.dis, "dis", false, "Print original and promoted disassembly")
	fs.BoolVar(&opts.run, "run", false, "Call the promoted function with the remaining arguments")
	fs.BoolVar(&opts.trace, "trace", false, "Log every executed instruction (needs -v -v)")
	fs.StringVar(&opts.output, "o", "", "Write the promoted chunk as .exbc")
	fs.Var(&opts.verbose, "v", "Increase log verbosity (repeatable)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: exalt [options] [file.exasm|file.exbc] [args...]\n\n")
		fmt.Fprintf(stderr, "Rewrites LOAD_GLOBAL of the overridden names into closure cell loads.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  exalt -set bar=10 -dis lib.exasm           # Show the rewrite\n")
		fmt.Fprintf(stderr, "  exalt -f foo -set bar=10 -run lib.exasm 1  # Call foo(1)\n")
		fmt.Fprintf(stderr, "  exalt -config exalt.toml -o foo.exbc       # Promote as configured, save\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		opts.source = rest[0]
		opts.callArgs = rest[1:]
	}
	return opts, nil
}

func execute(opts *options, stdout io.Writer) error {
	m, err := loadManifest(opts)
	if err != nil {
		return err
	}

	source := opts.source
	function := opts.function
	overrides := bindingList{}
	globals := bindingList{}
	if m != nil {
		log.Infof("using manifest %s", m.Path)
		if source == "" {
			source = m.SourcePath()
		}
		if function == "" {
			function = m.Target.Function
		}
		overrides = append(overrides, m.Overrides...)
		globals = append(globals, m.Globals...)
	}
	if source == "" {
		return errors.New("no source file given and no manifest target")
	}
	overrides = mergeBindings(overrides, opts.sets)
	globals = mergeBindings(globals, opts.globals)

	mod, err := loadModule(source)
	if err != nil {
		return err
	}
	if function == "" {
		if len(mod.Order) == 0 {
			return fmt.Errorf("%s defines no functions", source)
		}
		function = mod.Order[0]
	}

	ns := bytecode.NewNamespace(strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)))
	mod.Bind(ns)
	for _, g := range globals {
		ns.Set(g.Name, g.Value)
	}
	log.Debugf("namespace %s: %d globals (%s)", ns.Name, ns.Len(), strings.Join(ns.Names(), ", "))
	fn, err := mod.Function(function, ns)
	if err != nil {
		return err
	}

	list := make([]promote.Override, len(overrides))
	for i, o := range overrides {
		list[i] = promote.Override{Name: o.Name, Value: o.Value}
	}
	promoted, err := promote.Promote(fn, list...)
	if err != nil {
		return err
	}
	log.Infof("promoted %s with %d overrides", function, len(list))

	if opts.dis {
		fmt.Fprintln(stdout, fn.Chunk.Disassemble())
		fmt.Fprintln(stdout, promoted.Chunk.Disassemble())
	}

	if opts.output != "" {
		data, err := bytecode.MarshalChunk(promoted.Chunk)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.output, data, 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", opts.output, err)
		}
		log.Infof("wrote %s (%d bytes)", opts.output, len(data))
	}

	if opts.run {
		args := make([]bytecode.Value, len(opts.callArgs))
		for i, a := range opts.callArgs {
			args[i] = bytecode.ParseValue(a)
		}
		vm := bytecode.NewVM()
		vm.Out = stdout
		vm.Trace = opts.trace
		result, err := vm.Call(promoted, args...)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, bytecode.FormatValue(result))
	}
	return nil
}

func loadManifest(opts *options) (*manifest.Manifest, error) {
	if opts.config != "" {
		return manifest.LoadFile(opts.config)
	}
	if opts.source != "" {
		// An explicit source file is enough; only an explicit -config adds a manifest.
		return nil, nil
	}
	return manifest.FindAndLoad(".")
}

// loadModule reads an .exasm source or a single .exbc chunk.
func loadModule(path string) (*bytecode.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".exasm":
		return bytecode.Assemble(path, data)
	case ".exbc":
		c, err := bytecode.UnmarshalChunk(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &bytecode.Module{
			Filename: path,
			Order:    []string{c.Name},
			Chunks:   map[string]*bytecode.Chunk{c.Name: c},
		}, nil
	}
	return nil, fmt.Errorf("%s: expected .exasm or .exbc", path)
}

// mergeBindings applies later bindings over earlier ones, keeping the
// position of the first occurrence of each name.
func mergeBindings(base, later bindingList) bindingList {
	out := append(bindingList{}, base...)
	for _, b := range later {
		replaced := false
		for i := range out {
			if out[i].Name == b.Name {
				out[i].Value = b.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, b)
		}
	}
	return out
}
