package shader

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"
	"golang.org/x/sync/errgroup"
)

// stageModule is one compiled stage.
type stageModule struct {
	source string
	module *ir.Module
	entry  string
	spirv  []uint32
}

type sourceKey struct {
	target Target
	stage  Stage
}

// Program is an immutable, compiled vertex+fragment pair.
//
// SPIR-V is produced at compile time. Text targets are generated on the
// first request and cached. A Program is safe for concurrent use.
type Program struct {
	opts       Options
	stages     [2]stageModule
	reflection *Reflection

	mu      sync.Mutex
	sources map[sourceKey]string
}

// Compile parses, validates and lowers both stages. The stages compile
// concurrently; the first failure is returned as a *CompileError.
func Compile(vs, fs string, opts Options) (*Program, error) {
	opts = normalize(opts)
	p := &Program{opts: opts, sources: make(map[sourceKey]string)}

	var g errgroup.Group
	for i, src := range [2]string{vs, fs} {
		g.Go(func() error {
			st, err := compileStage(Stage(i), src, opts)
			if err != nil {
				return err
			}
			p.stages[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r, err := reflectProgram(p.stages[StageVertex], p.stages[StageFragment])
	if err != nil {
		return nil, err
	}
	p.reflection = r
	return p, nil
}

func normalize(opts Options) Options {
	if opts.SPIRVVersion == (spirv.Version{}) {
		opts.SPIRVVersion = spirv.Version1_3
	}
	if opts.GLSLVersion == (glsl.Version{}) {
		opts.GLSLVersion = glsl.VersionES300
	}
	return opts
}

func compileStage(stage Stage, src string, opts Options) (stageModule, error) {
	fail := func(err error) (stageModule, error) {
		return stageModule{}, &CompileError{Stage: stage, Err: err}
	}
	if strings.TrimSpace(src) == "" {
		return fail(errors.New("empty source"))
	}

	ast, err := naga.Parse(src)
	if err != nil {
		return fail(err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return fail(fmt.Errorf("lowering: %w", err))
	}
	if !opts.SkipValidation {
		verrs, err := naga.Validate(module)
		if err != nil {
			return fail(fmt.Errorf("validation: %w", err))
		}
		if len(verrs) > 0 {
			return fail(fmt.Errorf("validation: %w", verrs[0]))
		}
	}

	entry, err := findEntry(module, stage)
	if err != nil {
		return fail(err)
	}

	bin, err := naga.GenerateSPIRV(module, spirv.Options{Version: opts.SPIRVVersion, Debug: opts.Debug})
	if err != nil {
		return fail(err)
	}

	return stageModule{
		source: src,
		module: module,
		entry:  entry.Name,
		spirv:  toWords(bin),
	}, nil
}

func findEntry(m *ir.Module, stage Stage) (*ir.EntryPoint, error) {
	want := ir.StageVertex
	if stage == StageFragment {
		want = ir.StageFragment
	}
	for i := range m.EntryPoints {
		if m.EntryPoints[i].Stage == want {
			return &m.EntryPoints[i], nil
		}
	}
	return nil, fmt.Errorf("no @%s entry point", stage)
}

// toWords converts SPIR-V bytes to little-endian 32-bit words.
func toWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words
}

func (p *Program) stage(s Stage) *stageModule {
	if s > StageFragment {
		return nil
	}
	return &p.stages[s]
}

// SPIRV returns the SPIR-V words of a stage, or nil for StageGeometry.
// The slice is shared and must not be modified.
func (p *Program) SPIRV(s Stage) []uint32 {
	if st := p.stage(s); st != nil {
		return st.spirv
	}
	return nil
}

// WGSL returns the original source of a stage.
func (p *Program) WGSL(s Stage) string {
	if st := p.stage(s); st != nil {
		return st.source
	}
	return ""
}

// EntryPoint returns the entry point name of a stage.
func (p *Program) EntryPoint(s Stage) string {
	if st := p.stage(s); st != nil {
		return st.entry
	}
	return ""
}

// Reflection returns the merged reflection of both stages.
func (p *Program) Reflection() *Reflection { return p.reflection }

// Source returns the stage translated to a text target.
func (p *Program) Source(t Target, s Stage) (string, error) {
	st := p.stage(s)
	if st == nil {
		return "", &CompileError{Stage: s, Err: ErrGeometryUnsupported}
	}
	switch t {
	case TargetWGSL:
		return st.source, nil
	case TargetMSL, TargetHLSL, TargetGLSL:
	default:
		return "", fmt.Errorf("%w: %v has no text form", ErrUnknownTarget, t)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	key := sourceKey{t, s}
	if src, ok := p.sources[key]; ok {
		return src, nil
	}

	var (
		src string
		err error
	)
	switch t {
	case TargetMSL:
		src, _, err = msl.Compile(st.module, msl.DefaultOptions())
	case TargetHLSL:
		opts := hlsl.DefaultOptions()
		opts.ShaderModel = p.opts.HLSLModel
		src, _, err = hlsl.Compile(st.module, opts)
	case TargetGLSL:
		opts := glsl.DefaultOptions()
		opts.LangVersion = p.opts.GLSLVersion
		opts.EntryPoint = st.entry
		src, _, err = glsl.Compile(st.module, opts)
	}
	if err != nil {
		return "", &CompileError{Stage: s, Err: fmt.Errorf("%v: %w", t, err)}
	}
	p.sources[key] = src
	return src, nil
}

// CrossCompiler holds the most recent program passed to SetInput.
// It is not safe for concurrent use; share the resulting Program instead.
type CrossCompiler struct {
	opts Options
	prog *Program
}

// NewCrossCompiler returns a compiler using opts.
func NewCrossCompiler(opts Options) *CrossCompiler {
	return &CrossCompiler{opts: normalize(opts)}
}

// SetInput compiles the given stages. A non-empty geometry source fails
// with ErrGeometryUnsupported. On failure the previous program is dropped.
func (c *CrossCompiler) SetInput(vs, fs, geom string) error {
	c.prog = nil
	if strings.TrimSpace(geom) != "" {
		return &CompileError{Stage: StageGeometry, Err: ErrGeometryUnsupported}
	}
	p, err := Compile(vs, fs, c.opts)
	if err != nil {
		return err
	}
	c.prog = p
	return nil
}

// SPIRV returns the SPIR-V of a stage, or nil when nothing is compiled.
func (c *CrossCompiler) SPIRV(s Stage) []uint32 {
	if c.prog == nil {
		return nil
	}
	return c.prog.SPIRV(s)
}

// Source returns a stage in a text target language.
func (c *CrossCompiler) Source(t Target, s Stage) (string, error) {
	if c.prog == nil {
		return "", ErrNoInput
	}
	return c.prog.Source(t, s)
}

// Reflection returns the reflection of the compiled program, or nil.
func (c *CrossCompiler) Reflection() *Reflection {
	if c.prog == nil {
		return nil
	}
	return c.prog.reflection
}

// Program returns the compiled program, or nil.
func (c *CrossCompiler) Program() *Program { return c.prog }
