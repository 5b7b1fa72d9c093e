package shader

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"
)

// BindingKind classifies a resource binding.
type BindingKind uint8

const (
	// BindingUniform is a uniform buffer.
	BindingUniform BindingKind = iota
	// BindingStorage is a storage buffer.
	BindingStorage
	// BindingTexture is a sampled texture.
	BindingTexture
	// BindingStorageTexture is a storage texture.
	BindingStorageTexture
	// BindingSampler is a sampler.
	BindingSampler
)

// String returns the binding kind name.
func (k BindingKind) String() string {
	switch k {
	case BindingUniform:
		return "uniform"
	case BindingStorage:
		return "storage"
	case BindingTexture:
		return "texture"
	case BindingStorageTexture:
		return "storage_texture"
	case BindingSampler:
		return "sampler"
	default:
		return fmt.Sprintf("BindingKind(%d)", k)
	}
}

// Member is a field of a uniform or storage block.
type Member struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Binding is one @group/@binding resource.
type Binding struct {
	Name       string
	Group      uint32
	Binding    uint32
	Kind       BindingKind
	Visibility gputypes.ShaderStages

	// Buffer bindings.
	Size     uint32
	Members  []Member
	ReadOnly bool

	// Texture and sampler bindings.
	ViewDimension gputypes.TextureViewDimension
	SampleType    gputypes.TextureSampleType
	Multisampled  bool
	Comparison    bool
}

// IsBuffer reports whether b is a uniform or storage buffer.
func (b Binding) IsBuffer() bool {
	return b.Kind == BindingUniform || b.Kind == BindingStorage
}

// LayoutEntry returns the bind group layout entry for b.
func (b Binding) LayoutEntry() gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: b.Binding, Visibility: b.Visibility}
	switch b.Kind {
	case BindingUniform:
		e.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: uint64(b.Size),
		}
	case BindingStorage:
		typ := gputypes.BufferBindingTypeStorage
		if b.ReadOnly {
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		e.Buffer = &gputypes.BufferBindingLayout{Type: typ, MinBindingSize: uint64(b.Size)}
	case BindingTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    b.SampleType,
			ViewDimension: b.ViewDimension,
			Multisampled:  b.Multisampled,
		}
	case BindingStorageTexture:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessWriteOnly,
			ViewDimension: b.ViewDimension,
		}
	case BindingSampler:
		typ := gputypes.SamplerBindingTypeFiltering
		if b.Comparison {
			typ = gputypes.SamplerBindingTypeComparison
		}
		e.Sampler = &gputypes.SamplerBindingLayout{Type: typ}
	}
	return e
}

// VertexInput is a vertex shader input attribute.
type VertexInput struct {
	Name     string
	Location uint32
	Format   gputypes.VertexFormat
	Size     uint32
}

// Reflection describes the interface of a compiled program.
type Reflection struct {
	VertexEntry   string
	FragmentEntry string

	// Bindings is sorted by group, then binding.
	Bindings []Binding

	// VertexInputs is sorted by location.
	VertexInputs []VertexInput

	// ColorTargets is the number of fragment color outputs.
	ColorTargets int
}

// GroupCount returns one past the highest bind group index in use.
func (r *Reflection) GroupCount() uint32 {
	var n uint32
	for _, b := range r.Bindings {
		n = max(n, b.Group+1)
	}
	return n
}

// BindGroupLayoutEntries returns the layout entries of one group.
func (r *Reflection) BindGroupLayoutEntries(group uint32) []gputypes.BindGroupLayoutEntry {
	var entries []gputypes.BindGroupLayoutEntry
	for _, b := range r.Bindings {
		if b.Group == group {
			entries = append(entries, b.LayoutEntry())
		}
	}
	return entries
}

// VertexLayout returns a single interleaved, tightly packed vertex buffer
// layout covering every vertex input in location order.
func (r *Reflection) VertexLayout() gputypes.VertexBufferLayout {
	layout := gputypes.VertexBufferLayout{StepMode: gputypes.VertexStepModeVertex}
	var offset uint64
	for _, in := range r.VertexInputs {
		layout.Attributes = append(layout.Attributes, gputypes.VertexAttribute{
			Format:         in.Format,
			Offset:         offset,
			ShaderLocation: in.Location,
		})
		offset += uint64(in.Size)
	}
	layout.ArrayStride = offset
	return layout
}

// Binding returns the binding named name.
func (r *Reflection) Binding(name string) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Lookup resolves a uniform name to its buffer binding and byte range.
//
// Accepted forms are "block" (the whole buffer), "block.member", and a
// bare member name when exactly one buffer declares it.
func (r *Reflection) Lookup(name string) (Binding, Member, bool) {
	block, field, dotted := strings.Cut(name, ".")
	if b, ok := r.Binding(block); ok && b.IsBuffer() {
		if !dotted {
			return b, Member{Name: b.Name, Size: b.Size}, true
		}
		for _, m := range b.Members {
			if m.Name == field {
				return b, m, true
			}
		}
		return Binding{}, Member{}, false
	}
	if dotted {
		return Binding{}, Member{}, false
	}

	var (
		found   Binding
		member  Member
		matches int
	)
	for _, b := range r.Bindings {
		if !b.IsBuffer() {
			continue
		}
		for _, m := range b.Members {
			if m.Name == name {
				found, member = b, m
				matches++
			}
		}
	}
	return found, member, matches == 1
}

type bindingKey struct{ group, binding uint32 }

func reflectProgram(vs, fs stageModule) (*Reflection, error) {
	r := &Reflection{VertexEntry: vs.entry, FragmentEntry: fs.entry}

	merged := make(map[bindingKey]*Binding)
	for _, st := range []struct {
		mod        *ir.Module
		visibility gputypes.ShaderStages
	}{
		{vs.module, gputypes.ShaderStageVertex},
		{fs.module, gputypes.ShaderStageFragment},
	} {
		for _, gv := range st.mod.GlobalVariables {
			if gv.Binding == nil {
				continue
			}
			b, ok := reflectGlobal(st.mod, gv)
			if !ok {
				continue
			}
			key := bindingKey{b.Group, b.Binding}
			if prev, dup := merged[key]; dup {
				if prev.Kind != b.Kind {
					return nil, fmt.Errorf("%w: @group(%d) @binding(%d) is %v in one stage and %v in another",
						ErrCompile, b.Group, b.Binding, prev.Kind, b.Kind)
				}
				prev.Visibility |= st.visibility
				continue
			}
			b.Visibility = st.visibility
			merged[key] = &b
		}
	}
	for _, b := range merged {
		r.Bindings = append(r.Bindings, *b)
	}
	slices.SortFunc(r.Bindings, func(a, b Binding) int {
		if c := cmp.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.Binding, b.Binding)
	})

	if ep, err := findEntry(vs.module, StageVertex); err == nil {
		r.VertexInputs = vertexInputs(vs.module, ep)
	}
	if ep, err := findEntry(fs.module, StageFragment); err == nil {
		r.ColorTargets = colorTargets(fs.module, ep)
	}
	return r, nil
}

func reflectGlobal(m *ir.Module, gv ir.GlobalVariable) (Binding, bool) {
	b := Binding{Name: gv.Name, Group: gv.Binding.Group, Binding: gv.Binding.Binding}
	switch gv.Space {
	case ir.SpaceUniform, ir.SpaceStorage:
		b.Kind = BindingUniform
		if gv.Space == ir.SpaceStorage {
			b.Kind = BindingStorage
			b.ReadOnly = gv.Access == ir.StorageRead
		}
		b.Size = ir.TypeSize(m, gv.Type)
		if st, ok := typeInner(m, gv.Type).(ir.StructType); ok {
			for _, mem := range st.Members {
				b.Members = append(b.Members, Member{
					Name:   mem.Name,
					Offset: mem.Offset,
					Size:   ir.TypeSize(m, mem.Type),
				})
			}
			b.Size = max(b.Size, st.Span)
		}
		return b, true
	case ir.SpaceHandle:
		switch t := typeInner(m, gv.Type).(type) {
		case ir.SamplerType:
			b.Kind = BindingSampler
			b.Comparison = t.Comparison
			return b, true
		case ir.ImageType:
			b.Kind = BindingTexture
			if t.Class == ir.ImageClassStorage {
				b.Kind = BindingStorageTexture
			}
			b.ViewDimension = viewDimension(t)
			b.SampleType = sampleType(t)
			b.Multisampled = t.Multisampled
			return b, true
		}
	}
	return Binding{}, false
}

func typeInner(m *ir.Module, h ir.TypeHandle) ir.TypeInner {
	if int(h) >= len(m.Types) {
		return nil
	}
	return m.Types[h].Inner
}

func viewDimension(t ir.ImageType) gputypes.TextureViewDimension {
	switch t.Dim {
	case ir.Dim1D:
		return gputypes.TextureViewDimension1D
	case ir.Dim3D:
		return gputypes.TextureViewDimension3D
	case ir.DimCube:
		if t.Arrayed {
			return gputypes.TextureViewDimensionCubeArray
		}
		return gputypes.TextureViewDimensionCube
	default:
		if t.Arrayed {
			return gputypes.TextureViewDimension2DArray
		}
		return gputypes.TextureViewDimension2D
	}
}

func sampleType(t ir.ImageType) gputypes.TextureSampleType {
	switch t.Class {
	case ir.ImageClassDepth:
		return gputypes.TextureSampleTypeDepth
	case ir.ImageClassSampled:
		switch t.SampledKind {
		case ir.ScalarSint:
			return gputypes.TextureSampleTypeSint
		case ir.ScalarUint:
			return gputypes.TextureSampleTypeUint
		}
		return gputypes.TextureSampleTypeFloat
	}
	return gputypes.TextureSampleTypeUndefined
}

// location extracts a @location index from an optional IR binding.
func location(b *ir.Binding) (uint32, bool) {
	if b == nil || *b == nil {
		return 0, false
	}
	switch lb := (*b).(type) {
	case ir.LocationBinding:
		return lb.Location, true
	case *ir.LocationBinding:
		return lb.Location, true
	}
	return 0, false
}

func vertexInputs(m *ir.Module, ep *ir.EntryPoint) []VertexInput {
	var inputs []VertexInput
	add := func(name string, loc uint32, h ir.TypeHandle) {
		if f, ok := vertexFormat(typeInner(m, h)); ok {
			inputs = append(inputs, VertexInput{Name: name, Location: loc, Format: f, Size: ir.TypeSize(m, h)})
		}
	}
	for _, arg := range ep.Function.Arguments {
		if loc, ok := location(arg.Binding); ok {
			add(arg.Name, loc, arg.Type)
			continue
		}
		if st, ok := typeInner(m, arg.Type).(ir.StructType); ok {
			for _, mem := range st.Members {
				if loc, ok := location(mem.Binding); ok {
					add(mem.Name, loc, mem.Type)
				}
			}
		}
	}
	slices.SortFunc(inputs, func(a, b VertexInput) int { return cmp.Compare(a.Location, b.Location) })
	return inputs
}

func colorTargets(m *ir.Module, ep *ir.EntryPoint) int {
	res := ep.Function.Result
	if res == nil {
		return 0
	}
	if loc, ok := location(res.Binding); ok {
		return int(loc) + 1
	}
	n := 0
	if st, ok := typeInner(m, res.Type).(ir.StructType); ok {
		for _, mem := range st.Members {
			if loc, ok := location(mem.Binding); ok {
				n = max(n, int(loc)+1)
			}
		}
	}
	return n
}

var vertexFormats = map[ir.ScalarKind][5]gputypes.VertexFormat{
	ir.ScalarFloat: {0, gputypes.VertexFormatFloat32, gputypes.VertexFormatFloat32x2, gputypes.VertexFormatFloat32x3, gputypes.VertexFormatFloat32x4},
	ir.ScalarSint:  {0, gputypes.VertexFormatSint32, gputypes.VertexFormatSint32x2, gputypes.VertexFormatSint32x3, gputypes.VertexFormatSint32x4},
	ir.ScalarUint:  {0, gputypes.VertexFormatUint32, gputypes.VertexFormatUint32x2, gputypes.VertexFormatUint32x3, gputypes.VertexFormatUint32x4},
}

// vertexFormat maps 32-bit scalar and vector types to vertex formats.
func vertexFormat(t ir.TypeInner) (gputypes.VertexFormat, bool) {
	var (
		scalar ir.ScalarType
		n      int
	)
	switch v := t.(type) {
	case ir.ScalarType:
		scalar, n = v, 1
	case ir.VectorType:
		scalar, n = v.Scalar, int(v.Size)
	default:
		return 0, false
	}
	if scalar.Width != 4 {
		return 0, false
	}
	row, ok := vertexFormats[scalar.Kind]
	if !ok {
		return 0, false
	}
	return row[n], true
}
