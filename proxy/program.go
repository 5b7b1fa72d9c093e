package proxy

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuq/backend"
	"github.com/gogpu/gpuq/internal/logging"
	"github.com/gogpu/gpuq/shader"
)

// MaxVertexAttributes is the number of vertex attribute locations a
// VertexLayout can describe.
const MaxVertexAttributes = 16

// VertexAttribute is one attribute of an interleaved vertex buffer.
type VertexAttribute struct {
	Enabled bool
	Format  gputypes.VertexFormat
	Offset  uint64
}

// VertexLayout is a comparable description of one interleaved vertex
// buffer, indexed by shader location.
type VertexLayout struct {
	Stride     uint64
	Attributes [MaxVertexAttributes]VertexAttribute
}

// Empty reports whether no attribute is enabled.
func (l VertexLayout) Empty() bool {
	for _, a := range l.Attributes {
		if a.Enabled {
			return false
		}
	}
	return true
}

// Buffer converts l to a HAL vertex buffer layout.
func (l VertexLayout) Buffer() gputypes.VertexBufferLayout {
	out := gputypes.VertexBufferLayout{ArrayStride: l.Stride, StepMode: gputypes.VertexStepModeVertex}
	for loc, a := range l.Attributes {
		if a.Enabled {
			out.Attributes = append(out.Attributes, gputypes.VertexAttribute{
				Format:         a.Format,
				Offset:         a.Offset,
				ShaderLocation: uint32(loc),
			})
		}
	}
	return out
}

// PipelineKey selects a cached render pipeline of a program.
type PipelineKey struct {
	Topology    gputypes.PrimitiveTopology
	ColorFormat gputypes.TextureFormat
	// DepthFormat is TextureFormatUndefined when the pass has no depth.
	DepthFormat gputypes.TextureFormat
	// Layout is the vertex layout set through VertexAttribPointer. An
	// empty layout uses the program's tightly packed reflected layout.
	Layout VertexLayout
}

type slot struct{ group, binding uint32 }

// uniformBlock is a uniform or storage buffer owned by a program, with
// its CPU shadow.
type uniformBlock struct {
	binding shader.Binding
	buf     hal.Buffer
	shadow  []byte
	dirty   bool
}

type textureRef struct {
	res Sampled
}

type groupState struct {
	layout hal.BindGroupLayout
	group  hal.BindGroup
	// bound records the texture generations the group was built with.
	bound map[slot]uint64
	dirty bool
}

// Program is a linked shader program proxy: shader modules, bind group
// layouts, the pipeline layout, uniform buffers and the pipelines built
// for it so far.
type Program struct {
	base
	prog *shader.Program

	modules   [2]hal.ShaderModule
	groups    []groupState
	layout    hal.PipelineLayout
	uniforms  map[slot]*uniformBlock
	textures  map[slot]textureRef
	pipelines map[PipelineKey]hal.RenderPipeline
	linked    int
}

// NewProgram allocates an Uncreated program proxy for a compiled program.
func NewProgram(prog *shader.Program, label string) *Program {
	return &Program{base: newBase(KindProgram, label), prog: prog}
}

// Source returns the compiled program last linked, or the one passed to
// NewProgram before the first link.
func (p *Program) Source() *shader.Program { return p.prog }

// Reflection returns the reflection of the linked program.
func (p *Program) Reflection() *shader.Reflection {
	if p.prog == nil {
		return nil
	}
	return p.prog.Reflection()
}

// Links returns how many times the program was linked successfully.
func (p *Program) Links() int { return p.linked }

// Link creates the native objects for prog. Relinking a Created program
// replaces them; on failure the previous objects stay in use. Uniform
// values and texture assignments carry over by name.
func (p *Program) Link(dev *backend.Device, prog *shader.Program) error {
	if err := p.canCreate(); err != nil {
		return err
	}
	if prog == nil {
		prog = p.prog
	}
	if prog == nil {
		return p.fail(fmt.Errorf("proxy: %s has no compiled program", p))
	}

	next := &Program{base: base{id: p.id, kind: p.kind, label: p.label}, prog: prog}
	if err := next.build(dev); err != nil {
		next.releaseNative(dev)
		logging.L().Warn("proxy: program link failed", "program", p.String(), "err", err)
		if p.State() == Created {
			return fmt.Errorf("%w: %w", ErrCreationFailed, err)
		}
		return p.fail(err)
	}

	if p.State() == Created {
		next.inherit(p)
		p.releaseNative(dev)
	}
	p.prog = next.prog
	p.modules = next.modules
	p.groups = next.groups
	p.layout = next.layout
	p.uniforms = next.uniforms
	p.textures = next.textures
	p.pipelines = next.pipelines
	p.linked++
	p.created()
	logging.L().Debug("proxy: program linked", "program", p.String(), "groups", len(p.groups), "links", p.linked)
	return nil
}

func (p *Program) build(dev *backend.Device) error {
	refl := p.prog.Reflection()
	p.uniforms = make(map[slot]*uniformBlock)
	p.textures = make(map[slot]textureRef)
	p.pipelines = make(map[PipelineKey]hal.RenderPipeline)

	for i, stage := range [2]shader.Stage{shader.StageVertex, shader.StageFragment} {
		m, err := dev.CreateShaderModule(fmt.Sprintf("%s-%s", p.label, stage), p.prog.WGSL(stage), p.prog.SPIRV(stage))
		if err != nil {
			return fmt.Errorf("%s module: %w", stage, err)
		}
		p.modules[i] = m
	}

	n := refl.GroupCount()
	p.groups = make([]groupState, n)
	layouts := make([]hal.BindGroupLayout, n)
	for g := range n {
		layout, err := dev.HAL().CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s-group%d", p.label, g),
			Entries: refl.BindGroupLayoutEntries(g),
		})
		if err != nil {
			return fmt.Errorf("bind group layout %d: %w", g, err)
		}
		p.groups[g] = groupState{layout: layout, dirty: true}
		layouts[g] = layout
	}
	layout, err := dev.HAL().CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return fmt.Errorf("pipeline layout: %w", err)
	}
	p.layout = layout

	for _, b := range refl.Bindings {
		if !b.IsBuffer() {
			continue
		}
		usage := gputypes.BufferUsageUniform
		if b.Kind == shader.BindingStorage {
			usage = gputypes.BufferUsageStorage
		}
		size := uniformSize(b.Size)
		buf, err := dev.CreateBuffer(p.label+"-"+b.Name, size, usage)
		if err != nil {
			return fmt.Errorf("buffer %q: %w", b.Name, err)
		}
		p.uniforms[slot{b.Group, b.Binding}] = &uniformBlock{binding: b, buf: buf, shadow: make([]byte, size), dirty: true}
	}
	return nil
}

// uniformSize rounds a block size up to 16 bytes, the uniform layout
// alignment.
func uniformSize(n uint32) uint64 { return max(uint64(n+15)&^15, 16) }

// inherit copies uniform values and texture assignments from old by name.
func (p *Program) inherit(old *Program) {
	for _, ub := range p.uniforms {
		for _, prev := range old.uniforms {
			if prev.binding.Name == ub.binding.Name {
				copy(ub.shadow, prev.shadow)
			}
		}
	}
	oldRefl := old.Reflection()
	for s, ref := range old.textures {
		name := bindingName(oldRefl, s)
		if b, ok := p.Reflection().Binding(name); ok && (b.Kind == shader.BindingTexture || b.Kind == shader.BindingSampler) {
			p.textures[slot{b.Group, b.Binding}] = textureRef{res: ref.res}
		}
	}
}

func bindingName(r *shader.Reflection, s slot) string {
	for _, b := range r.Bindings {
		if b.Group == s.group && b.Binding == s.binding {
			return b.Name
		}
	}
	return ""
}

// SetUniform writes data into the CPU shadow of a uniform. name is
// resolved by shader.Reflection.Lookup. The GPU copy is updated by the
// next Bind.
func (p *Program) SetUniform(name string, data []byte) error {
	if err := p.Usable(); err != nil {
		return err
	}
	b, m, ok := p.Reflection().Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrUnknownUniform, name, p)
	}
	if uint64(len(data)) > uint64(m.Size) {
		return fmt.Errorf("%w: %d bytes for %q of size %d", backend.ErrOutOfRange, len(data), name, m.Size)
	}
	ub := p.uniforms[slot{b.Group, b.Binding}]
	copy(ub.shadow[m.Offset:], data)
	ub.dirty = true
	return nil
}

// Uniform returns a copy of the CPU shadow of a uniform.
func (p *Program) Uniform(name string) ([]byte, bool) {
	if p.State() != Created {
		return nil, false
	}
	b, m, ok := p.Reflection().Lookup(name)
	if !ok {
		return nil, false
	}
	ub := p.uniforms[slot{b.Group, b.Binding}]
	out := make([]byte, m.Size)
	copy(out, ub.shadow[m.Offset:])
	return out, true
}

// SetTexture binds tex to the texture or sampler binding called name.
// A sampler binding with no assignment of its own takes the sampler of
// the texture at the preceding binding of the same group. A nil tex
// clears the binding.
func (p *Program) SetTexture(name string, tex Sampled) error {
	if err := p.Usable(); err != nil {
		return err
	}
	b, ok := p.Reflection().Binding(name)
	if !ok || (b.Kind != shader.BindingTexture && b.Kind != shader.BindingSampler) {
		return fmt.Errorf("%w: texture %q in %s", ErrUnknownUniform, name, p)
	}
	s := slot{b.Group, b.Binding}
	if IsNil(tex) {
		delete(p.textures, s)
	} else {
		p.textures[s] = textureRef{res: tex}
	}
	p.groups[b.Group].dirty = true
	return nil
}

// Bind flushes dirty uniforms, rebuilds stale bind groups and sets every
// group on pass.
func (p *Program) Bind(dev *backend.Device, pass hal.RenderPassEncoder) error {
	if err := p.Usable(); err != nil {
		return err
	}
	for _, ub := range p.uniforms {
		if !ub.dirty {
			continue
		}
		if err := dev.WriteBuffer(ub.buf, uint64(len(ub.shadow)), 0, ub.shadow); err != nil {
			return fmt.Errorf("proxy: flush %q: %w", ub.binding.Name, err)
		}
		ub.dirty = false
	}
	for g := range p.groups {
		gs := &p.groups[g]
		if gs.group == nil || gs.dirty || p.staleTextures(uint32(g), gs) {
			if err := p.rebuildGroup(dev, uint32(g)); err != nil {
				return err
			}
		}
		if pass != nil {
			pass.SetBindGroup(uint32(g), gs.group, nil)
		}
	}
	return nil
}

func (p *Program) staleTextures(group uint32, gs *groupState) bool {
	for s, ref := range p.textures {
		if s.group != group {
			continue
		}
		if gs.bound[s] != ref.res.Generation() || ref.res.State() != Created {
			return true
		}
	}
	return false
}

// resolveSampled returns the proxy feeding a texture or sampler slot.
func (p *Program) resolveSampled(b shader.Binding) (Sampled, error) {
	s := slot{b.Group, b.Binding}
	if ref, ok := p.textures[s]; ok {
		return ref.res, nil
	}
	if b.Kind == shader.BindingSampler && b.Binding > 0 {
		if ref, ok := p.textures[slot{b.Group, b.Binding - 1}]; ok {
			return ref.res, nil
		}
	}
	return nil, fmt.Errorf("proxy: %s: %s %q is unbound", p, b.Kind, b.Name)
}

func (p *Program) rebuildGroup(dev *backend.Device, group uint32) error {
	gs := &p.groups[group]
	var (
		entries []gputypes.BindGroupEntry
		bound   = make(map[slot]uint64)
	)
	for _, b := range p.Reflection().Bindings {
		if b.Group != group {
			continue
		}
		entry := gputypes.BindGroupEntry{Binding: b.Binding}
		switch b.Kind {
		case shader.BindingUniform, shader.BindingStorage:
			ub := p.uniforms[slot{b.Group, b.Binding}]
			entry.Resource = gputypes.BufferBinding{Buffer: ub.buf.NativeHandle(), Size: uint64(len(ub.shadow))}
		case shader.BindingTexture, shader.BindingStorageTexture, shader.BindingSampler:
			res, err := p.resolveSampled(b)
			if err != nil {
				return err
			}
			if err := res.Usable(); err != nil {
				return fmt.Errorf("proxy: %s %q: %w", b.Kind, b.Name, err)
			}
			if b.Kind == shader.BindingSampler {
				entry.Resource = gputypes.SamplerBinding{Sampler: res.Sampler().NativeHandle()}
			} else {
				entry.Resource = gputypes.TextureViewBinding{TextureView: res.View().NativeHandle()}
			}
			if ref, ok := p.textures[slot{b.Group, b.Binding}]; ok {
				bound[slot{b.Group, b.Binding}] = ref.res.Generation()
			}
		}
		entries = append(entries, entry)
	}

	bg, err := dev.HAL().CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s-group%d", p.label, group),
		Layout:  gs.layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("proxy: %s bind group %d: %w", p, group, err)
	}
	if gs.group != nil {
		dev.HAL().DestroyBindGroup(gs.group)
	}
	gs.group, gs.bound, gs.dirty = bg, bound, false
	return nil
}

// Pipeline returns the render pipeline for key, creating and caching it
// on first use.
func (p *Program) Pipeline(dev *backend.Device, key PipelineKey) (hal.RenderPipeline, error) {
	if err := p.Usable(); err != nil {
		return nil, err
	}
	if rp, ok := p.pipelines[key]; ok {
		return rp, nil
	}

	refl := p.Reflection()
	vertexLayout := refl.VertexLayout()
	if !key.Layout.Empty() {
		vertexLayout = key.Layout.Buffer()
	}
	var buffers []gputypes.VertexBufferLayout
	if len(vertexLayout.Attributes) > 0 {
		buffers = []gputypes.VertexBufferLayout{vertexLayout}
	}

	blend := gputypes.BlendStateAlpha()
	targets := make([]gputypes.ColorTargetState, max(refl.ColorTargets, 1))
	for i := range targets {
		targets[i] = gputypes.ColorTargetState{Format: key.ColorFormat, Blend: &blend, WriteMask: gputypes.ColorWriteMaskAll}
	}

	desc := &hal.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("%s-%s", p.label, topologyName(key.Topology)),
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     p.modules[0],
			EntryPoint: refl.VertexEntry,
			Buffers:    buffers,
		},
		Fragment: &hal.FragmentState{
			Module:     p.modules[1],
			EntryPoint: refl.FragmentEntry,
			Targets:    targets,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  key.Topology,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  gputypes.CullModeNone,
		},
		Multisample: gputypes.DefaultMultisampleState(),
	}
	if key.DepthFormat != gputypes.TextureFormatUndefined {
		desc.DepthStencil = &hal.DepthStencilState{
			Format:            key.DepthFormat,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLess,
			StencilFront:      hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways, FailOp: hal.StencilOperationKeep, DepthFailOp: hal.StencilOperationKeep, PassOp: hal.StencilOperationKeep},
			StencilBack:       hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways, FailOp: hal.StencilOperationKeep, DepthFailOp: hal.StencilOperationKeep, PassOp: hal.StencilOperationKeep},
		}
	}

	rp, err := dev.HAL().CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s pipeline: %w", p, err)
	}
	p.pipelines[key] = rp
	logging.L().Debug("proxy: pipeline created", "program", p.String(), "topology", topologyName(key.Topology), "cached", len(p.pipelines))
	return rp, nil
}

// Pipelines returns the number of cached pipelines.
func (p *Program) Pipelines() int { return len(p.pipelines) }

func topologyName(t gputypes.PrimitiveTopology) string {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return "points"
	case gputypes.PrimitiveTopologyLineList:
		return "lines"
	case gputypes.PrimitiveTopologyLineStrip:
		return "line-strip"
	case gputypes.PrimitiveTopologyTriangleStrip:
		return "triangle-strip"
	default:
		return "triangles"
	}
}

// releaseNative destroys every native object without changing state.
func (p *Program) releaseNative(dev *backend.Device) {
	h := dev.HAL()
	for key, rp := range p.pipelines {
		h.DestroyRenderPipeline(rp)
		delete(p.pipelines, key)
	}
	for _, ub := range p.uniforms {
		if ub.buf != nil {
			h.DestroyBuffer(ub.buf)
		}
	}
	p.uniforms = nil
	for _, gs := range p.groups {
		if gs.group != nil {
			h.DestroyBindGroup(gs.group)
		}
		if gs.layout != nil {
			h.DestroyBindGroupLayout(gs.layout)
		}
	}
	p.groups = nil
	if p.layout != nil {
		h.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	for i, m := range p.modules {
		if m != nil {
			h.DestroyShaderModule(m)
			p.modules[i] = nil
		}
	}
}

// Release destroys every native object of the program.
func (p *Program) Release(dev *backend.Device) {
	if !p.released() {
		return
	}
	p.releaseNative(dev)
	p.textures = nil
}

