// Package codegen renders a classified unit as C source: one file per async
// function containing its frame struct and poll function (STATE_MACHINE) or
// its blocking worker and spawn wrapper (THREAD_SPAWN). Block bodies are
// emitted as calls to externally generated block functions; only the async
// skeleton is produced here.
package codegen

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/config"
)

// CodeGenerator produces C source for lowered async functions.
type CodeGenerator struct {
	unitName string
}

// New creates a code generator for the named unit.
func New(unitName string) *CodeGenerator {
	return &CodeGenerator{unitName: unitName}
}

// GeneratedFile represents one emitted source file.
type GeneratedFile struct {
	// Filename is the relative path within the generated tree.
	Filename string

	// Content is the full source text.
	Content string
}

// Generate emits one file per function plus the unit file carrying the
// strategy constant. Output order is deterministic.
func (cg *CodeGenerator) Generate(u *asyncir.Unit, strategy asyncir.Strategy) ([]GeneratedFile, error) {
	var files []GeneratedFile

	for _, fn := range u.Funcs {
		file, err := cg.generateFunc(fn, strategy)
		if err != nil {
			return nil, fmt.Errorf("generating %s: %w", fn.Name, err)
		}
		files = append(files, file)
	}

	unitFile, err := cg.generateUnitFile(u, strategy)
	if err != nil {
		return nil, fmt.Errorf("generating unit file: %w", err)
	}
	files = append(files, unitFile)

	// Sort for deterministic output
	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// GenerateFunc emits the file for a single function.
func (cg *CodeGenerator) GenerateFunc(fn *asyncir.FuncDesc, strategy asyncir.Strategy) (GeneratedFile, error) {
	return cg.generateFunc(fn, strategy)
}

// GenerateUnitFile emits the unit file carrying the strategy constant.
func (cg *CodeGenerator) GenerateUnitFile(u *asyncir.Unit, strategy asyncir.Strategy) (GeneratedFile, error) {
	return cg.generateUnitFile(u, strategy)
}

type armContext struct {
	Index  int
	Kind   string // "return", "sleep", "call", "handle", "gather"
	Callee string
	Bind   string
	Fn     string
	Next   int
}

type funcContext struct {
	Fn     string
	Header string
	Params []string
	Arms   []armContext
}

func (cg *CodeGenerator) generateFunc(fn *asyncir.FuncDesc, strategy asyncir.Strategy) (GeneratedFile, error) {
	ctx := funcContext{
		Fn:     fn.Name,
		Header: config.GeneratedRuntimeHeader,
		Params: fn.Params,
	}
	for i, b := range fn.Blocks {
		if b.Shape == nil {
			return GeneratedFile{}, fmt.Errorf("block %d has no shape", i)
		}
		arm := armContext{Index: i, Fn: fn.Name, Bind: b.Shape.Bind, Next: i + 1}
		switch b.Shape.Kind {
		case asyncir.TermReturn:
			arm.Kind = "return"
		case asyncir.TermAwait:
			switch b.Shape.Await {
			case asyncir.AwaitSleep:
				arm.Kind = "sleep"
			case asyncir.AwaitGather:
				arm.Kind = "gather"
			case asyncir.AwaitUserCall:
				if b.Shape.Callee == "" {
					// The awaited handle is computed at run time by the
					// block body (a created task or a queue frame); emission
					// goes through the generic handle dispatch.
					arm.Kind = "handle"
				} else {
					arm.Kind = "call"
					arm.Callee = b.Shape.Callee
				}
			}
		}
		ctx.Arms = append(ctx.Arms, arm)
	}

	tmpl := stateMachineTmpl
	if strategy == asyncir.StrategyThreadSpawn {
		tmpl = threadSpawnTmpl
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return GeneratedFile{}, err
	}
	return GeneratedFile{
		Filename: fmt.Sprintf("%s_%s%s", cg.unitName, fn.Name, config.GeneratedFileSuffix),
		Content:  buf.String(),
	}, nil
}

func (cg *CodeGenerator) generateUnitFile(u *asyncir.Unit, strategy asyncir.Strategy) (GeneratedFile, error) {
	var buf strings.Builder
	err := unitTmpl.Execute(&buf, struct {
		Unit     string
		Header   string
		Strategy string
	}{cg.unitName, config.GeneratedRuntimeHeader, strategy.String()})
	if err != nil {
		return GeneratedFile{}, err
	}
	return GeneratedFile{
		Filename: fmt.Sprintf("%s_unit%s", cg.unitName, config.GeneratedFileSuffix),
		Content:  buf.String(),
	}, nil
}

var unitTmpl = template.Must(template.New("unit").Parse(`/* unit {{.Unit}} — generated, do not edit */
#include "{{.Header}}"

const py_strategy {{.Unit}}_strategy = PY_STRATEGY_{{.Strategy}};
`))

var stateMachineTmpl = template.Must(template.New("statemachine").Parse(`/* async {{.Fn}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p}}{{end}}) — state machine lowering, generated, do not edit */
#include "{{.Header}}"

struct {{.Fn}}_frame {
    py_frame hdr;          /* resume point, completion slot */
    py_frame *child;       /* pending nested await */
    py_frame **children;   /* pending gather children */
    unsigned char *done;   /* gather completion bitmap */
    py_value *results;     /* gather results, input order */
    py_time deadline;      /* inline sleep deadline */
    int armed;
    py_env locals;
};

py_frame *{{.Fn}}_spawn(py_value *args, int argc) {
    struct {{.Fn}}_frame *f = py_frame_alloc(sizeof(struct {{.Fn}}_frame));
    if (f == NULL) {
        return NULL; /* allocation failure must reach the caller */
    }
    py_frame_init(&f->hdr, {{.Fn}}_poll);
    if (py_env_bind(&f->locals, args, argc, {{len .Params}}) != PY_OK) {
        py_frame_free(&f->hdr);
        return NULL;
    }
    return &f->hdr;
}

py_status {{.Fn}}_poll(py_frame *hp) {
    struct {{.Fn}}_frame *f = (struct {{.Fn}}_frame *)hp;
    if (hp->status != PY_PENDING) {
        return hp->status; /* re-poll after completion is idempotent */
    }
    for (;;) {
        switch (hp->resume) {
{{- range .Arms}}
        case {{.Index}}: {
{{- if eq .Kind "return"}}
            py_value v = {{.Fn}}_block_{{.Index}}(&f->locals);
            py_frame_complete(hp, v);
            return hp->status;
{{- end}}
{{- if eq .Kind "sleep"}}
            if (!f->armed) {
                py_duration d = {{.Fn}}_block_{{.Index}}(&f->locals);
                f->deadline = py_now() + d;
                f->armed = 1;
            }
            if (py_now() < f->deadline) {
                return PY_PENDING; /* resume point unchanged */
            }
            f->armed = 0;
            hp->resume = {{.Next}};
            break;
{{- end}}
{{- if eq .Kind "call"}}
            if (f->child == NULL) {
                /* lazy spawn, idempotent across re-entries: the block body
                 * already ran, so only the child is (re)checked here */
                py_args a = {{.Fn}}_block_{{.Index}}(&f->locals);
                f->child = {{.Callee}}_spawn(a.argv, a.argc);
                if (f->child == NULL) {
                    py_frame_fail(hp, py_alloc_error());
                    return hp->status;
                }
            }
            switch ({{.Callee}}_poll(f->child)) {
            case PY_COMPLETED:
{{- if .Bind}}
                py_env_set(&f->locals, "{{.Bind}}", py_frame_value(f->child));
{{- end}}
                f->child = NULL;
                hp->resume = {{.Next}};
                break;
            case PY_FAILED:
                py_frame_fail(hp, py_frame_err(f->child));
                return hp->status;
            default:
                return PY_PENDING; /* resume point unchanged */
            }
            break;
{{- end}}
{{- if eq .Kind "handle"}}
            if (f->child == NULL) {
                /* the block body computes the awaited handle at run time */
                py_handle h = {{.Fn}}_block_{{.Index}}(&f->locals);
                f->child = py_handle_frame(h);
                if (f->child == NULL) {
                    py_frame_fail(hp, py_handle_error(h));
                    return hp->status;
                }
            }
            switch (py_frame_poll(f->child)) {
            case PY_COMPLETED:
{{- if .Bind}}
                py_env_set(&f->locals, "{{.Bind}}", py_frame_value(f->child));
{{- end}}
                f->child = NULL;
                hp->resume = {{.Next}};
                break;
            case PY_FAILED:
                py_frame_fail(hp, py_frame_err(f->child));
                return hp->status;
            default:
                return PY_PENDING; /* resume point unchanged */
            }
            break;
{{- end}}
{{- if eq .Kind "gather"}}
            if (!f->armed) {
                py_awaitables aw = {{.Fn}}_block_{{.Index}}(&f->locals);
                if (py_gather_arm(&f->children, &f->done, &f->results, aw) != PY_OK) {
                    py_frame_fail(hp, py_alloc_error());
                    return hp->status;
                }
                f->armed = 1;
            }
            switch (py_gather_tick(f->children, f->done, f->results)) {
            case PY_COMPLETED:
{{- if .Bind}}
                py_env_set(&f->locals, "{{.Bind}}", py_gather_collect(f->results));
{{- end}}
                f->armed = 0;
                hp->resume = {{.Next}};
                break;
            case PY_FAILED:
                py_frame_fail(hp, py_gather_err(f->children));
                return hp->status;
            default:
                return PY_PENDING; /* resume point unchanged */
            }
            break;
{{- end}}
        }
{{- end}}
        default:
            py_frame_complete(hp, py_none()); /* fell off the end */
            return hp->status;
        }
    }
}
`))

var threadSpawnTmpl = template.Must(template.New("threadspawn").Parse(`/* async {{.Fn}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p}}{{end}}) — thread spawn lowering, generated, do not edit */
#include "{{.Header}}"

py_result {{.Fn}}_impl(py_env *locals) {
{{- range .Arms}}
{{- if eq .Kind "return"}}
    return py_ok({{.Fn}}_block_{{.Index}}(locals));
{{- end}}
{{- if eq .Kind "sleep"}}
    py_sleep_blocking({{.Fn}}_block_{{.Index}}(locals)); /* worker is dedicated */
{{- end}}
{{- if eq .Kind "call"}}
    {
        py_args a = {{.Fn}}_block_{{.Index}}(locals);
        py_green *g = {{.Callee}}_spawn(a.argv, a.argc);
        py_result r = py_sched_wait(g);
        if (py_is_err(r)) {
            return r;
        }
{{- if .Bind}}
        py_env_set(locals, "{{.Bind}}", py_result_value(r));
{{- end}}
    }
{{- end}}
{{- if eq .Kind "handle"}}
    {
        py_handle h = {{.Fn}}_block_{{.Index}}(locals);
        py_result r = py_await_handle(h); /* blocks this worker */
        if (py_is_err(r)) {
            return r;
        }
{{- if .Bind}}
        py_env_set(locals, "{{.Bind}}", py_result_value(r));
{{- end}}
    }
{{- end}}
{{- if eq .Kind "gather"}}
    {
        py_awaitables aw = {{.Fn}}_block_{{.Index}}(locals);
        py_result r = py_gather_blocking(aw); /* eager spawn, input-order waits */
        if (py_is_err(r)) {
            return r;
        }
{{- if .Bind}}
        py_env_set(locals, "{{.Bind}}", py_result_value(r));
{{- end}}
    }
{{- end}}
{{- end}}
    return py_ok(py_none()); /* fell off the end */
}

py_green *{{.Fn}}_spawn(py_value *args, int argc) {
    py_sched_init_lazy(); /* idempotent, sized to logical CPUs */
    return py_sched_spawn({{.Fn}}_impl, args, argc, {{len .Params}});
}
`))
