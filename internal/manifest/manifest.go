// Package manifest loads unit descriptions from YAML: function names,
// parameters, trait records and await shapes. Manifest-loaded units carry
// no executable blocks; they exist for classification and emission.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/config"
)

// File is the YAML document shape.
type File struct {
	Unit        string     `yaml:"unit"`
	TraitsKnown bool       `yaml:"traits_known"`
	Functions   []Function `yaml:"functions"`
}

// Function describes one async function.
type Function struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	HasIO  bool     `yaml:"has_io"`
	Blocks []Block  `yaml:"blocks"`
}

// Block describes one basic block by its terminator. Exactly one of Return
// and Await must be set.
type Block struct {
	Return bool   `yaml:"return"`
	Await  *Await `yaml:"await"`
}

// Await describes an await terminator.
type Await struct {
	Kind     string  `yaml:"kind"`
	Callee   string  `yaml:"callee"`
	Bind     string  `yaml:"bind"`
	Children []Await `yaml:"children"`
}

// Load reads and parses a manifest file into a unit.
func Load(path string) (*asyncir.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	u, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return u, nil
}

// Parse parses manifest YAML into a unit with shape-only blocks.
func Parse(data []byte) (*asyncir.Unit, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if f.Unit == "" {
		return nil, fmt.Errorf("manifest has no unit name")
	}

	u := &asyncir.Unit{Name: f.Unit, TraitsKnown: f.TraitsKnown}
	for _, fn := range f.Functions {
		desc := &asyncir.FuncDesc{
			Name:   fn.Name,
			Params: fn.Params,
			HasIO:  fn.HasIO,
		}
		for i, blk := range fn.Blocks {
			shape, err := blockShape(blk)
			if err != nil {
				return nil, fmt.Errorf("%s block %d: %w", fn.Name, i, err)
			}
			desc.Blocks = append(desc.Blocks, asyncir.BasicBlock{Shape: shape})
		}
		u.Funcs = append(u.Funcs, desc)
	}
	return u, nil
}

func blockShape(blk Block) (*asyncir.TermShape, error) {
	if blk.Return && blk.Await != nil {
		return nil, fmt.Errorf("block is both return and await")
	}
	if blk.Return {
		return &asyncir.TermShape{Kind: asyncir.TermReturn}, nil
	}
	if blk.Await == nil {
		return nil, fmt.Errorf("block is neither return nor await")
	}
	return awaitShape(*blk.Await)
}

func awaitShape(a Await) (*asyncir.TermShape, error) {
	kind, err := awaitKind(a.Kind)
	if err != nil {
		return nil, err
	}
	s := &asyncir.TermShape{
		Kind:   asyncir.TermAwait,
		Await:  kind,
		Callee: a.Callee,
		Bind:   a.Bind,
	}
	for _, child := range a.Children {
		cs, err := awaitShape(child)
		if err != nil {
			return nil, err
		}
		s.Children = append(s.Children, *cs)
	}
	return s, nil
}

// awaitKind accepts the short kind names and the qualified asyncio forms the
// front-end emits.
func awaitKind(kind string) (asyncir.AwaitKind, error) {
	switch kind {
	case "sleep", config.SleepFuncName:
		return asyncir.AwaitSleep, nil
	case "gather", config.GatherFuncName:
		return asyncir.AwaitGather, nil
	case "call":
		return asyncir.AwaitUserCall, nil
	default:
		return 0, fmt.Errorf("unknown await kind %q", kind)
	}
}
