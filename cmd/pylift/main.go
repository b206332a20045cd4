// Command pylift is the async-lowering driver: it reads unit manifests,
// classifies each unit's lowering strategy, and emits the C skeletons for
// every async function.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/pylift/pylift/internal/cache"
	"github.com/pylift/pylift/internal/green"
	"github.com/pylift/pylift/internal/manifest"
	"github.com/pylift/pylift/internal/pipeline"
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorDim   = "\033[2m"
)

type reporter struct {
	color bool
}

func (r reporter) paint(c, s string) string {
	if !r.color {
		return s
	}
	return c + s + colorReset
}

func main() {
	outDir := flag.String("o", "pylift-out", "output directory for emitted files")
	cachePath := flag.String("cache", "", "path to the artifact cache database (disabled when empty)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: pylift [flags] manifest.yaml ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			green.SetLogger(logger)
			defer logger.Sync()
		}
	}

	rep := reporter{color: isatty.IsTerminal(os.Stdout.Fd())}

	var artifactCache *cache.Cache
	if *cachePath != "" {
		c, err := cache.Open(*cachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pylift: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		artifactCache = c
	}

	failed := false
	for _, path := range flag.Args() {
		if err := compileManifest(path, *outDir, artifactCache, rep); err != nil {
			fmt.Fprintf(os.Stderr, "pylift: %s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func compileManifest(path, outDir string, artifactCache *cache.Cache, rep reporter) error {
	unit, err := manifest.Load(path)
	if err != nil {
		return err
	}

	ctx := pipeline.New(
		pipeline.AnalyzeProcessor{},
		pipeline.EmitProcessor{Cache: artifactCache},
	).Run(pipeline.NewContext(unit))

	if len(ctx.Errors) > 0 {
		for _, e := range ctx.Errors {
			fmt.Fprintf(os.Stderr, "  %s %v\n", rep.paint(colorRed, "error:"), e)
		}
		return fmt.Errorf("%d error(s)", len(ctx.Errors))
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}
	for _, f := range ctx.Files {
		dest := filepath.Join(outDir, f.Filename)
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
	}

	fmt.Printf("%s unit %s: strategy %s, %d function(s), %d file(s)",
		rep.paint(colorGreen, "ok"), unit.Name, ctx.Strategy, len(unit.Funcs), len(ctx.Files))
	if artifactCache != nil {
		fmt.Printf(" %s", rep.paint(colorDim, fmt.Sprintf("(%d cached)", ctx.CacheHits)))
	}
	fmt.Println()
	return nil
}
