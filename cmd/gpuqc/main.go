// Command gpuqc cross-compiles a WGSL vertex and fragment shader pair for
// every gpuq backend and prints the program reflection.
//
// Usage:
//
//	gpuqc -vs sprite.vert.wgsl -fs sprite.frag.wgsl -out build/shaders
//
// For each stage it writes <name>.<stage>.spv, .metal, .hlsl and .glsl,
// where name is the vertex file name without extensions.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gpuq"
	"github.com/gogpu/gpuq/shader"
)

var extensions = map[shader.Target]string{
	shader.TargetSPIRV: ".spv",
	shader.TargetMSL:   ".metal",
	shader.TargetHLSL:  ".hlsl",
	shader.TargetGLSL:  ".glsl",
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("gpuqc: %v", err)
	}
}

type config struct {
	vs, fs  string
	out     string
	targets []shader.Target
	reflect bool
	debug   bool
}

func parseFlags(args []string) (config, error) {
	fset := flag.NewFlagSet("gpuqc", flag.ContinueOnError)
	var (
		vs      = fset.String("vs", "", "vertex shader WGSL file")
		fs      = fset.String("fs", "", "fragment shader WGSL file")
		out     = fset.String("out", "", "output directory (empty: reflection only)")
		targets = fset.String("targets", "spirv,msl,hlsl,glsl", "comma-separated output languages")
		reflect = fset.Bool("reflect", true, "print reflection")
		debug   = fset.Bool("debug", false, "keep debug names and log diagnostics")
	)
	if err := fset.Parse(args); err != nil {
		return config{}, err
	}
	if *vs == "" || *fs == "" {
		return config{}, errors.New("both -vs and -fs are required")
	}
	cfg := config{vs: *vs, fs: *fs, out: *out, reflect: *reflect, debug: *debug}
	for _, name := range strings.Split(*targets, ",") {
		t, err := parseTarget(strings.TrimSpace(name))
		if err != nil {
			return config{}, err
		}
		cfg.targets = append(cfg.targets, t)
	}
	return cfg, nil
}

func parseTarget(name string) (shader.Target, error) {
	for t := range extensions {
		if t.String() == strings.ToLower(name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", shader.ErrUnknownTarget, name)
}

func run(args []string, stdout io.Writer) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if cfg.debug {
		gpuq.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	vs, err := os.ReadFile(cfg.vs)
	if err != nil {
		return err
	}
	fs, err := os.ReadFile(cfg.fs)
	if err != nil {
		return err
	}

	opts := shader.DefaultOptions()
	opts.Debug = cfg.debug
	cc := shader.NewCrossCompiler(opts)
	if err := cc.SetInput(string(vs), string(fs), ""); err != nil {
		return err
	}

	if cfg.reflect {
		printReflection(stdout, cc.Reflection())
	}
	if cfg.out == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.out, 0o755); err != nil {
		return err
	}
	name := baseName(cfg.vs)
	for _, stage := range []shader.Stage{shader.StageVertex, shader.StageFragment} {
		for _, t := range cfg.targets {
			data, err := output(cc, t, stage)
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.out, name+"."+stage.String()+extensions[t])
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", path, len(data))
		}
	}
	return nil
}

func output(cc *shader.CrossCompiler, t shader.Target, stage shader.Stage) ([]byte, error) {
	if t == shader.TargetSPIRV {
		words := cc.SPIRV(stage)
		buf := make([]byte, 0, 4*len(words))
		for _, w := range words {
			buf = binary.LittleEndian.AppendUint32(buf, w)
		}
		return buf, nil
	}
	src, err := cc.Source(t, stage)
	if err != nil {
		return nil, err
	}
	return []byte(src), nil
}

// baseName strips directories and every extension: "a/sprite.vert.wgsl"
// becomes "sprite".
func baseName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

func printReflection(w io.Writer, r *shader.Reflection) {
	fmt.Fprintf(w, "entry points: vertex %s, fragment %s\n", r.VertexEntry, r.FragmentEntry)
	fmt.Fprintf(w, "color targets: %d\n", r.ColorTargets)
	for _, in := range r.VertexInputs {
		fmt.Fprintf(w, "input @location(%d) %s: %v (%d bytes)\n", in.Location, in.Name, in.Format, in.Size)
	}
	for _, b := range r.Bindings {
		fmt.Fprintf(w, "binding @group(%d) @binding(%d) %s: %v", b.Group, b.Binding, b.Name, b.Kind)
		if b.IsBuffer() {
			fmt.Fprintf(w, " (%d bytes)", b.Size)
		}
		fmt.Fprintln(w)
		for _, m := range b.Members {
			fmt.Fprintf(w, "  %s +%d (%d bytes)\n", m.Name, m.Offset, m.Size)
		}
	}
}
