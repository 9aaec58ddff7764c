// Package pipeline drives the analysis front end: hot functions come in
// from the profiler, are analyzed (or fetched from the summary cache),
// and their results are handed to a code-generation backend. A failed
// analysis is not an error for the caller; the function falls back to a
// fully boxed compilation.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/alioth/absint"
	"github.com/chazu/alioth/bytecode"
	"github.com/chazu/alioth/cache"
	"github.com/chazu/alioth/manifest"
	"github.com/chazu/alioth/wire"
)

var log = commonlog.GetLogger("alioth.pipeline")

// Backend consumes analysis results and produces machine code. The
// pipeline does not care what it emits; implementations decide how to
// use the summary's unboxing and provenance facts.
type Backend interface {
	Compile(fn *bytecode.Function, summary *wire.AnalysisSummary) error
}

// Result is what the pipeline learned about one function.
type Result struct {
	Function *bytecode.Function
	Summary  *wire.AnalysisSummary
	// Boxed is true when analysis failed or was skipped and the
	// function must compile with every value heap-allocated.
	Boxed bool
	// Cached is true when the summary came from the cache rather than
	// a fresh analysis.
	Cached bool
}

// ReturnKind returns the analyzed return kind name, or "any" for a
// boxed fallback.
func (r *Result) ReturnKind() string {
	if r.Boxed || r.Summary == nil {
		return "any"
	}
	return r.Summary.ReturnKind
}

// Analyzer runs the analysis front end for one process.
type Analyzer struct {
	cfg     *manifest.Manifest
	cache   *cache.Cache // nil when caching disabled
	backend Backend      // nil when no code generator is attached
}

// NewAnalyzer creates an analyzer from a configuration, opening the
// summary cache if one is enabled.
func NewAnalyzer(cfg *manifest.Manifest, backend Backend) (*Analyzer, error) {
	if cfg == nil {
		cfg = manifest.Default()
	}
	a := &Analyzer{cfg: cfg, backend: backend}
	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.CachePath())
		if err != nil {
			return nil, fmt.Errorf("pipeline: open summary cache: %w", err)
		}
		a.cache = c
		log.Infof("summary cache open at %s (run %s)", cfg.CachePath(), c.RunID())
	}
	return a, nil
}

// Close releases the analyzer's resources.
func (a *Analyzer) Close() error {
	if a.cache != nil {
		return a.cache.Close()
	}
	return nil
}

// Analyze produces the analysis result for a function, consulting the
// summary cache first and feeding the backend on success. It returns an
// error only for infrastructure failures; an unanalyzable function
// yields a boxed Result and a nil error.
func (a *Analyzer) Analyze(fn *bytecode.Function) (*Result, error) {
	if len(fn.Code) > a.cfg.Analysis.MaxCodeBytes {
		log.Infof("%s: %d code bytes exceeds limit %d, compiling boxed",
			fn.Name, len(fn.Code), a.cfg.Analysis.MaxCodeBytes)
		return a.deliver(&Result{Function: fn, Boxed: true})
	}

	hash := fn.ContentHash()
	if a.cache != nil {
		if s, err := a.cache.Get(hash); err == nil {
			log.Debugf("%s: summary cache hit", fn.Name)
			return a.deliver(&Result{Function: fn, Summary: s, Cached: true})
		} else if !errors.Is(err, cache.ErrNotFound) {
			log.Errorf("%s: summary cache read: %s", fn.Name, err.Error())
		}
	}

	interp := absint.NewInterpreter(fn)
	if err := interp.Interpret(); err != nil {
		if errors.Is(err, absint.ErrAnalysisFailed) {
			log.Warningf("%s: %s, compiling boxed", fn.Name, err.Error())
			return a.deliver(&Result{Function: fn, Boxed: true})
		}
		return nil, err
	}
	g, err := absint.NewGraph(interp)
	if err != nil {
		return nil, err
	}

	s := wire.Summarize(interp, g)
	if a.cache != nil {
		if err := a.cache.Put(s); err != nil {
			log.Errorf("%s: summary cache write: %s", fn.Name, err.Error())
		}
	}
	log.Infof("%s: analyzed, %d instructions, %d unboxed, returns %s",
		fn.Name, s.Instructions, len(s.Unboxed), s.ReturnKind)
	return a.deliver(&Result{Function: fn, Summary: s})
}

func (a *Analyzer) deliver(r *Result) (*Result, error) {
	if a.backend != nil {
		if err := a.backend.Compile(r.Function, r.Summary); err != nil {
			return nil, fmt.Errorf("pipeline: backend: %w", err)
		}
	}
	return r, nil
}

// AttachProfiler wires a profiler so that functions crossing the hot
// threshold are analyzed automatically. The resolve callback maps a
// content hash back to its function; analysis errors are logged, not
// propagated, since the hot path cannot stall on them.
func (a *Analyzer) AttachProfiler(p *Profiler, resolve func(hash [32]byte) *bytecode.Function) {
	p.OnHot = func(hash [32]byte, profile *FunctionProfile) {
		fn := resolve(hash)
		if fn == nil {
			log.Errorf("hot function %x has no registered body", hash[:8])
			return
		}
		if _, err := a.Analyze(fn); err != nil {
			log.Errorf("%s: %s", fn.Name, err.Error())
		}
	}
}
