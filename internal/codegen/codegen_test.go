package codegen

import (
	"strings"
	"testing"

	"github.com/pylift/pylift/internal/asyncir"
)

func demoUnit() *asyncir.Unit {
	return &asyncir.Unit{
		Name:        "demo",
		TraitsKnown: true,
		Funcs: []*asyncir.FuncDesc{
			{
				Name:   "fetch",
				Params: []string{"url"},
				Blocks: []asyncir.BasicBlock{
					{Shape: &asyncir.TermShape{Kind: asyncir.TermAwait, Await: asyncir.AwaitSleep}},
					{Shape: &asyncir.TermShape{Kind: asyncir.TermReturn}},
				},
			},
			{
				Name: "main",
				Blocks: []asyncir.BasicBlock{
					{Shape: &asyncir.TermShape{Kind: asyncir.TermAwait, Await: asyncir.AwaitUserCall, Callee: "fetch", Bind: "body"}},
					{Shape: &asyncir.TermShape{Kind: asyncir.TermAwait, Await: asyncir.AwaitGather, Bind: "all"}},
					{Shape: &asyncir.TermShape{Kind: asyncir.TermReturn}},
				},
			},
		},
	}
}

func find(t *testing.T, files []GeneratedFile, name string) GeneratedFile {
	t.Helper()
	for _, f := range files {
		if f.Filename == name {
			return f
		}
	}
	t.Fatalf("no file %q in %d generated files", name, len(files))
	return GeneratedFile{}
}

func TestGenerateStateMachine(t *testing.T) {
	files, err := New("demo").Generate(demoUnit(), asyncir.StrategyStateMachine)
	if err != nil {
		t.Fatalf("generate failed: %s", err)
	}
	if len(files) != 3 {
		t.Fatalf("generated %d files, want 3", len(files))
	}

	mainFile := find(t, files, "demo_main.gen.c")
	for _, want := range []string{
		"struct main_frame",
		"py_frame *main_spawn(",
		"py_status main_poll(",
		"switch (hp->resume)",
		"case 0:",
		"case 1:",
		"fetch_spawn(",
		"fetch_poll(",
		"py_gather_tick(",
		`py_env_set(&f->locals, "body"`,
		"return PY_PENDING; /* resume point unchanged */",
		"re-poll after completion is idempotent",
	} {
		if !strings.Contains(mainFile.Content, want) {
			t.Errorf("main file missing %q", want)
		}
	}

	fetchFile := find(t, files, "demo_fetch.gen.c")
	for _, want := range []string{
		"struct fetch_frame",
		"f->deadline = py_now() + d;",
		"if (py_now() < f->deadline)",
	} {
		if !strings.Contains(fetchFile.Content, want) {
			t.Errorf("fetch file missing %q", want)
		}
	}

	unitFile := find(t, files, "demo_unit.gen.c")
	if !strings.Contains(unitFile.Content, "PY_STRATEGY_STATE_MACHINE") {
		t.Errorf("unit file does not declare the strategy:\n%s", unitFile.Content)
	}
}

func TestGenerateThreadSpawn(t *testing.T) {
	files, err := New("demo").Generate(demoUnit(), asyncir.StrategyThreadSpawn)
	if err != nil {
		t.Fatalf("generate failed: %s", err)
	}

	mainFile := find(t, files, "demo_main.gen.c")
	for _, want := range []string{
		"py_result main_impl(",
		"py_green *main_spawn(",
		"py_sched_init_lazy();",
		"py_sched_wait(",
		"py_gather_blocking(",
		"fetch_spawn(",
	} {
		if !strings.Contains(mainFile.Content, want) {
			t.Errorf("main file missing %q", want)
		}
	}
	if strings.Contains(mainFile.Content, "hp->resume") {
		t.Error("thread-spawn output contains state-machine dispatch")
	}

	unitFile := find(t, files, "demo_unit.gen.c")
	if !strings.Contains(unitFile.Content, "PY_STRATEGY_THREAD_SPAWN") {
		t.Errorf("unit file does not declare the strategy:\n%s", unitFile.Content)
	}
}

func TestGenerateRuntimeHandleAwait(t *testing.T) {
	// A call await with no callee consumes a handle the block body computes
	// at run time (a created task or a queue frame). Emission must go through
	// the generic handle dispatch, never interpolate an empty symbol prefix.
	u := &asyncir.Unit{
		Name:        "demo",
		TraitsKnown: true,
		Funcs: []*asyncir.FuncDesc{
			{
				Name: "consumer",
				Blocks: []asyncir.BasicBlock{
					{Shape: &asyncir.TermShape{Kind: asyncir.TermAwait, Await: asyncir.AwaitUserCall, Bind: "v"}},
					{Shape: &asyncir.TermShape{Kind: asyncir.TermReturn}},
				},
			},
		},
	}

	files, err := New("demo").Generate(u, asyncir.StrategyStateMachine)
	if err != nil {
		t.Fatalf("generate failed: %s", err)
	}
	sm := find(t, files, "demo_consumer.gen.c")
	for _, want := range []string{
		"py_handle_frame(",
		"py_frame_poll(f->child)",
		`py_env_set(&f->locals, "v"`,
	} {
		if !strings.Contains(sm.Content, want) {
			t.Errorf("state-machine file missing %q", want)
		}
	}
	for _, broken := range []string{"= _spawn(", "switch (_poll("} {
		if strings.Contains(sm.Content, broken) {
			t.Errorf("state-machine file references an empty callee symbol: %q", broken)
		}
	}

	files, err = New("demo").Generate(u, asyncir.StrategyThreadSpawn)
	if err != nil {
		t.Fatalf("generate failed: %s", err)
	}
	ts := find(t, files, "demo_consumer.gen.c")
	if !strings.Contains(ts.Content, "py_await_handle(") {
		t.Error("thread-spawn file missing the generic handle await")
	}
	if strings.Contains(ts.Content, "= _spawn(") {
		t.Error("thread-spawn file references an empty callee symbol")
	}
}

func TestGenerateDeterministicOrder(t *testing.T) {
	first, err := New("demo").Generate(demoUnit(), asyncir.StrategyStateMachine)
	if err != nil {
		t.Fatalf("generate failed: %s", err)
	}
	second, err := New("demo").Generate(demoUnit(), asyncir.StrategyStateMachine)
	if err != nil {
		t.Fatalf("generate failed: %s", err)
	}
	for i := range first {
		if first[i].Filename != second[i].Filename || first[i].Content != second[i].Content {
			t.Fatalf("output %d differs between runs", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Filename >= first[i].Filename {
			t.Errorf("files not sorted: %s before %s", first[i-1].Filename, first[i].Filename)
		}
	}
}

func TestGenerateRequiresShapes(t *testing.T) {
	u := &asyncir.Unit{
		Name:  "demo",
		Funcs: []*asyncir.FuncDesc{{Name: "opaque", Blocks: []asyncir.BasicBlock{{}}}},
	}
	if _, err := New("demo").Generate(u, asyncir.StrategyStateMachine); err == nil {
		t.Error("generating a shapeless block did not fail")
	}
}
