// Fern CLI - runs fern scripts, precompiled modules, and an interactive REPL.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/fernlang/fern/manifest"
	"github.com/fernlang/fern/modstore"
	"github.com/fernlang/fern/pkg/bytecode"
	"github.com/fernlang/fern/vm"
)

var log = commonlog.GetLogger("fern.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	evalExpr := flag.String("e", "", "Evaluate an expression and print the result")
	disasmPath := flag.String("disasm", "", "Disassemble a module file and exit")
	installPath := flag.String("install-module", "", "Install a module file into the module store")
	runModule := flag.String("run-module", "", "Load a module from the store by name and run it")
	listModules := flag.Bool("list-modules", false, "List installed modules")
	saveImage := flag.String("save-image", "", "After running, save a globals snapshot to this file")
	loadImage := flag.String("load-image", "", "Before running, restore a globals snapshot from this file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fern [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs fern scripts against a fresh runtime. A fern.toml found in or above\n")
		fmt.Fprintf(os.Stderr, "the working directory supplies host constants, the module store path, and\n")
		fmt.Fprintf(os.Stderr, "a default entry script.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  fern -i                      # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  fern -e '(+ 1 2 3)'          # Evaluate one expression\n")
		fmt.Fprintf(os.Stderr, "  fern main.lisp               # Run a script\n")
		fmt.Fprintf(os.Stderr, "  fern -install-module m.fmod  # Install a compiled module\n")
		fmt.Fprintf(os.Stderr, "  fern -run-module m           # Run an installed module\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	if *disasmPath != "" {
		if err := disassembleFile(*disasmPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *installPath != "" || *listModules {
		if err := moduleCommand(m, *installPath, *listModules); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx := vm.NewContext(vm.NewBasicPlatform())
	ctx.SetConsole(os.Stdout)

	if m != nil && len(m.Constants) > 0 {
		constants := make([]vm.IntegralConstant, len(m.Constants))
		for i, k := range m.Constants {
			constants[i] = vm.IntegralConstant{Name: k.Name, Value: k.Value}
		}
		ctx.SetConstants(constants)
		log.Infof("registered %d host constants from %s", len(constants), m.Dir)
	}

	if *loadImage != "" {
		f, err := os.Open(*loadImage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n, err := ctx.LoadImage(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error restoring image: %v\n", err)
			os.Exit(1)
		}
		log.Infof("restored %d bindings from %s", n, *loadImage)
	}

	failed := false
	onError := func(errCell *vm.Value) {
		fmt.Fprintln(os.Stderr, ctx.Format(errCell))
		failed = true
	}

	if *runModule != "" {
		if err := runStoredModule(ctx, m, *runModule); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *evalExpr != "" {
		result := ctx.DoString(*evalExpr, onError)
		if !failed {
			fmt.Println(ctx.Format(result))
		}
	}

	scripts := flag.Args()
	if len(scripts) == 0 && *evalExpr == "" && *runModule == "" && !*interactive {
		if m != nil && m.EntryPath() != "" {
			scripts = []string{m.EntryPath()}
		} else {
			flag.Usage()
			os.Exit(2)
		}
	}

	for _, path := range scripts {
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ctx.DoString(string(source), onError)
		if failed {
			os.Exit(1)
		}
	}

	if *interactive {
		runREPL(ctx)
	}

	if *saveImage != "" {
		f, err := os.Create(*saveImage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n, err := ctx.SaveImage(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving image: %v\n", err)
			os.Exit(1)
		}
		log.Infof("saved %d bindings to %s", n, *saveImage)
	}

	if failed {
		os.Exit(1)
	}
}

func disassembleFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := bytecode.DecodeModule(data)
	if err != nil {
		return err
	}
	names := func(offset uint16) string {
		if int(offset) < len(m.Symbols) {
			return m.Symbols[offset]
		}
		return fmt.Sprintf("@%d", offset)
	}
	return bytecode.Disassemble(os.Stdout, m.Code, 0, names)
}

func openStore(m *manifest.Manifest) (*modstore.Store, error) {
	path := filepath.Join(".fern", "modules.db")
	if m != nil {
		path = m.StorePath()
	}
	return modstore.Open(path)
}

func moduleCommand(m *manifest.Manifest, installPath string, list bool) error {
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	if installPath != "" {
		data, err := os.ReadFile(installPath)
		if err != nil {
			return err
		}
		// Reject files that don't decode before they reach the store.
		if _, err := bytecode.DecodeModule(data); err != nil {
			return fmt.Errorf("%s is not a valid module: %w", installPath, err)
		}
		name := strings.TrimSuffix(filepath.Base(installPath), filepath.Ext(installPath))
		rec, err := store.Install(name, data)
		if err != nil {
			return err
		}
		fmt.Printf("installed %s (%s)\n", rec.Name, rec.Hash[:12])
	}

	if list {
		modules, err := store.List()
		if err != nil {
			return err
		}
		for _, mod := range modules {
			fmt.Printf("%-24s %s  %s\n", mod.Name, mod.Hash[:12],
				mod.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func runStoredModule(ctx *vm.Context, m *manifest.Manifest, name string) error {
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Lookup(name)
	if err != nil {
		return err
	}

	fn, err := ctx.LoadModuleBytes(rec.Data)
	if err != nil {
		return err
	}
	if fn.IsError() {
		return fmt.Errorf("loading module %q: %s", name, ctx.Format(fn))
	}

	ctx.PushOp(fn)
	ctx.Funcall(fn, 0)
	result := ctx.Op0()
	ctx.PopOp()
	ctx.PopOp() // fn

	if result.IsError() {
		return fmt.Errorf("running module %q: %s", name, ctx.Format(result))
	}
	fmt.Println(ctx.Format(result))
	return nil
}
