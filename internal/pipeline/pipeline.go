// Package pipeline chains the compilation stages for one unit: analysis,
// lowering for execution, and emission.
package pipeline

import (
	"fmt"

	"github.com/pylift/pylift/internal/analyzer"
	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/cache"
	"github.com/pylift/pylift/internal/codegen"
	"github.com/pylift/pylift/internal/lowering"
)

// Context carries one unit through the stages, accumulating results and
// errors.
type Context struct {
	Unit *asyncir.Unit

	// Strategy is valid once Classified is set.
	Strategy   asyncir.Strategy
	Classified bool

	// Program is the executable form, set by LowerProcessor.
	Program *lowering.Program

	// Files are the emitted artifacts, set by EmitProcessor.
	Files     []codegen.GeneratedFile
	CacheHits int

	Errors []error
}

// NewContext starts a context for the unit.
func NewContext(u *asyncir.Unit) *Context {
	return &Context{Unit: u}
}

// Processor is one pipeline stage.
type Processor interface {
	Process(ctx *Context) *Context
}

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the pipeline.
func (p *Pipeline) Run(initialCtx *Context) *Context {
	ctx := initialCtx
	for _, processor := range p.processors {
		ctx = processor.Process(ctx)
		// Continue on errors to collect diagnostics from all stages.
	}
	return ctx
}

// AnalyzeProcessor validates the unit and classifies its strategy.
type AnalyzeProcessor struct{}

func (AnalyzeProcessor) Process(ctx *Context) *Context {
	ctx.Errors = append(ctx.Errors, analyzer.Validate(ctx.Unit)...)
	ctx.Strategy = analyzer.Classify(ctx.Unit)
	ctx.Classified = true
	return ctx
}

// LowerProcessor lowers an executable unit into a runnable program. Units
// loaded from manifests (shape-only) skip this stage.
type LowerProcessor struct{}

func (LowerProcessor) Process(ctx *Context) *Context {
	if !ctx.Classified {
		ctx.Errors = append(ctx.Errors, fmt.Errorf("pipeline: lowering before classification"))
		return ctx
	}
	prog, err := lowering.Lower(ctx.Unit, ctx.Strategy)
	if err != nil {
		ctx.Errors = append(ctx.Errors, err)
		return ctx
	}
	ctx.Program = prog
	return ctx
}

// EmitProcessor renders the unit's C artifacts, consulting the cache per
// function when one is attached.
type EmitProcessor struct {
	Cache *cache.Cache
}

func (e EmitProcessor) Process(ctx *Context) *Context {
	if !ctx.Classified {
		ctx.Errors = append(ctx.Errors, fmt.Errorf("pipeline: emission before classification"))
		return ctx
	}
	cg := codegen.New(ctx.Unit.Name)

	for _, fn := range ctx.Unit.Funcs {
		// A function that cannot be fingerprinted (shapeless blocks) is
		// emitted without cache participation.
		var key string
		if e.Cache != nil {
			k, err := cache.Fingerprint(ctx.Unit.Name, fn, ctx.Strategy)
			if err == nil {
				key = k
				filename, content, ok, err := e.Cache.Get(key)
				if err != nil {
					ctx.Errors = append(ctx.Errors, err)
				} else if ok {
					ctx.Files = append(ctx.Files, codegen.GeneratedFile{Filename: filename, Content: content})
					ctx.CacheHits++
					continue
				}
			}
		}
		file, err := cg.GenerateFunc(fn, ctx.Strategy)
		if err != nil {
			ctx.Errors = append(ctx.Errors, fmt.Errorf("pipeline: emitting %s: %w", fn.Name, err))
			continue
		}
		ctx.Files = append(ctx.Files, file)
		if e.Cache != nil && key != "" {
			if err := e.Cache.Put(key, file.Filename, file.Content); err != nil {
				ctx.Errors = append(ctx.Errors, err)
			}
		}
	}

	// The unit file is tiny and strategy-dependent; always regenerated.
	unitFile, err := cg.GenerateUnitFile(ctx.Unit, ctx.Strategy)
	if err != nil {
		ctx.Errors = append(ctx.Errors, fmt.Errorf("pipeline: emitting unit file: %w", err))
		return ctx
	}
	ctx.Files = append(ctx.Files, unitFile)
	return ctx
}
