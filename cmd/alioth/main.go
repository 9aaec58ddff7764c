// Alioth CLI - analyzes bytecode functions and reports what the JIT
// front end learned about them.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/alioth/absint"
	"github.com/chazu/alioth/bytecode"
	"github.com/chazu/alioth/manifest"
	"github.com/chazu/alioth/pipeline"
	"github.com/chazu/alioth/wire"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	manifestDir := flag.String("manifest", ".", "Directory to search for alioth.toml")
	demo := flag.String("demo", "", "Analyze a built-in demo function (arith, loop, maybe, except)")
	listDemos := flag.Bool("list-demos", false, "List built-in demo functions")
	dump := flag.Bool("dump", false, "Print disassembly")
	states := flag.Bool("states", false, "Print the abstract state before each instruction")
	dot := flag.Bool("dot", false, "Print the instruction graph in Graphviz dot form")
	summary := flag.Bool("summary", true, "Print the analysis summary")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: alioth [options] [function.cbor...]\n\n")
		fmt.Fprintf(os.Stderr, "Analyzes serialized bytecode functions, or a built-in demo.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  alioth -demo arith -dump -dot   # Analyze a demo, show listing and graph\n")
		fmt.Fprintf(os.Stderr, "  alioth fn.cbor -states          # Analyze a serialized function\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	if *listDemos {
		names := make([]string, 0, len(demos))
		for name := range demos {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println(strings.Join(names, "\n"))
		return
	}

	cfg, err := manifest.FindAndLoad(*manifestDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}

	analyzer, err := pipeline.NewAnalyzer(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer analyzer.Close()

	var fns []*bytecode.Function
	if *demo != "" {
		build, ok := demos[*demo]
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown demo %q (try -list-demos)\n", *demo)
			os.Exit(1)
		}
		fns = append(fns, build())
	}
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
			os.Exit(1)
		}
		fn, err := wire.UnmarshalFunction(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", path, err)
			os.Exit(1)
		}
		fns = append(fns, fn)
	}
	if len(fns) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	exit := 0
	for _, fn := range fns {
		if err := analyzeOne(analyzer, cfg, fn, *dump, *states, *dot, *summary); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", fn.Name, err)
			exit = 1
		}
	}
	os.Exit(exit)
}

func analyzeOne(analyzer *pipeline.Analyzer, cfg *manifest.Manifest, fn *bytecode.Function, dump, states, dot, summary bool) error {
	if dump {
		fmt.Printf("== %s ==\n%s\n", fn.Name, bytecode.Disassemble(fn))
	}

	// The pipeline handles caching and backend delivery; the diagnostic
	// views below need the interpreter itself, so run it directly too.
	result, err := analyzer.Analyze(fn)
	if err != nil {
		return err
	}
	if result.Boxed {
		fmt.Printf("%s: analysis failed, function compiles fully boxed\n", fn.Name)
		return nil
	}

	var interp *absint.Interpreter
	var g *absint.Graph
	if states || dot {
		interp = absint.NewInterpreter(fn)
		if err := interp.Interpret(); err != nil {
			return err
		}
		if g, err = absint.NewGraph(interp); err != nil {
			return err
		}
	}

	if states {
		printStates(interp)
	}
	if dot {
		out := g.Dot()
		if cfg.Dump.Dir != "" {
			path := filepath.Join(cfg.Dump.Dir, fn.Name+".dot")
			if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
		} else {
			fmt.Print(out)
		}
	}
	if summary {
		printSummary(result.Summary)
	}
	return nil
}

func printStates(interp *absint.Interpreter) {
	for _, in := range interp.Instructions() {
		stack, ok := interp.StackAt(in.Index)
		if !ok {
			fmt.Printf("%04d  %-24s unreachable\n", in.Index, in.Op)
			continue
		}
		var parts []string
		for _, v := range stack {
			parts = append(parts, v.Value.Describe())
		}
		fmt.Printf("%04d  %-24s [%s]\n", in.Index, in.Op, strings.Join(parts, " "))
	}
}

func printSummary(s *wire.AnalysisSummary) {
	fmt.Printf("%s: %d instructions, returns %s\n", s.FunctionName, s.Instructions, s.ReturnKind)
	if len(s.Unboxed) > 0 {
		fmt.Printf("  unboxed at %v\n", s.Unboxed)
	}
	if len(s.SkipLasti) > 0 {
		fmt.Printf("  ip update elided at %d of %d instructions\n", len(s.SkipLasti), s.Instructions)
	}
	for _, e := range s.Edges {
		from := fmt.Sprintf("%d", e.From)
		if e.From < 0 {
			from = "frame"
		}
		fmt.Printf("  %s -> %d pos %d (%s)\n", from, e.To, e.Position, absint.EdgeKind(e.Kind))
	}
}
