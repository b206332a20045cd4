package pipeline

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/cache"
)

func executableUnit() *asyncir.Unit {
	return &asyncir.Unit{
		Name:        "demo",
		TraitsKnown: true,
		Funcs: []*asyncir.FuncDesc{
			{
				Name:  "napper",
				HasIO: true,
				Blocks: []asyncir.BasicBlock{
					{
						Body: func(rt asyncir.Runtime, env asyncir.Env) (asyncir.Terminator, error) {
							return asyncir.AwaitSleepFor(time.Millisecond)
						},
						Shape: &asyncir.TermShape{Kind: asyncir.TermAwait, Await: asyncir.AwaitSleep},
					},
					{
						Body: func(rt asyncir.Runtime, env asyncir.Env) (asyncir.Terminator, error) {
							return asyncir.Return("rested")
						},
						Shape: &asyncir.TermShape{Kind: asyncir.TermReturn},
					},
				},
			},
		},
	}
}

func TestAnalyzeThenLowerThenRun(t *testing.T) {
	ctx := New(AnalyzeProcessor{}, LowerProcessor{}).Run(NewContext(executableUnit()))
	if len(ctx.Errors) != 0 {
		t.Fatalf("pipeline errors: %v", ctx.Errors)
	}
	if ctx.Strategy != asyncir.StrategyStateMachine {
		t.Fatalf("strategy = %s, want STATE_MACHINE (napper has io)", ctx.Strategy)
	}
	if ctx.Program == nil {
		t.Fatal("no program lowered")
	}

	v, err := ctx.Program.Run("napper")
	if err != nil {
		t.Fatalf("run failed: %s", err)
	}
	if v != "rested" {
		t.Errorf("result = %v, want rested", v)
	}
}

func TestEmitProducesFiles(t *testing.T) {
	ctx := New(AnalyzeProcessor{}, EmitProcessor{}).Run(NewContext(executableUnit()))
	if len(ctx.Errors) != 0 {
		t.Fatalf("pipeline errors: %v", ctx.Errors)
	}
	if len(ctx.Files) != 2 {
		t.Fatalf("emitted %d files, want 2 (function + unit)", len(ctx.Files))
	}
	var names []string
	for _, f := range ctx.Files {
		names = append(names, f.Filename)
	}
	joined := strings.Join(names, " ")
	if !strings.Contains(joined, "demo_napper.gen.c") || !strings.Contains(joined, "demo_unit.gen.c") {
		t.Errorf("unexpected filenames: %v", names)
	}
}

func TestEmitUsesCacheOnSecondRun(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "artifacts.db"))
	if err != nil {
		t.Fatalf("cache open failed: %s", err)
	}
	defer c.Close()

	first := New(AnalyzeProcessor{}, EmitProcessor{Cache: c}).Run(NewContext(executableUnit()))
	if len(first.Errors) != 0 {
		t.Fatalf("first run errors: %v", first.Errors)
	}
	if first.CacheHits != 0 {
		t.Errorf("first run cache hits = %d, want 0", first.CacheHits)
	}

	second := New(AnalyzeProcessor{}, EmitProcessor{Cache: c}).Run(NewContext(executableUnit()))
	if len(second.Errors) != 0 {
		t.Fatalf("second run errors: %v", second.Errors)
	}
	if second.CacheHits != 1 {
		t.Errorf("second run cache hits = %d, want 1", second.CacheHits)
	}
	for i := range first.Files {
		if first.Files[i] != second.Files[i] {
			t.Errorf("file %d differs between cached and fresh emission", i)
		}
	}
}

func TestValidationErrorsAreCollected(t *testing.T) {
	u := &asyncir.Unit{
		Name:        "broken",
		TraitsKnown: true,
		Funcs:       []*asyncir.FuncDesc{{Name: "empty"}},
	}
	ctx := New(AnalyzeProcessor{}, LowerProcessor{}).Run(NewContext(u))
	if len(ctx.Errors) == 0 {
		t.Fatal("no errors collected for a function without blocks")
	}
}
