package backend

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// Kind identifies a graphics API.
type Kind uint8

const (
	// Auto selects the best registered backend by priority.
	Auto Kind = iota
	// GLES2 is OpenGL ES.
	GLES2
	// Vulkan is Vulkan 1.x.
	Vulkan
	// Metal is Apple Metal.
	Metal
	// D3D11 is Direct3D. It is served by the HAL's DX12 driver with
	// shader model 5.0 shaders.
	D3D11
	// Headless runs every call against an in-memory device with no GPU.
	Headless
)

var kindNames = [...]string{
	Auto:     "auto",
	GLES2:    "gles2",
	Vulkan:   "vulkan",
	Metal:    "metal",
	D3D11:    "d3d11",
	Headless: "headless",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind parses a kind name. Matching ignores case; "gl", "gles",
// "d3d" and "dx12" are accepted as aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "gles2", "gles", "gl", "opengl":
		return GLES2, nil
	case "vulkan", "vk":
		return Vulkan, nil
	case "metal", "mtl":
		return Metal, nil
	case "d3d11", "d3d", "dx11", "dx12", "direct3d":
		return D3D11, nil
	case "headless", "noop", "none":
		return Headless, nil
	}
	return Auto, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	v, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Variant returns the HAL backend variant that serves k.
func (k Kind) Variant() gputypes.Backend {
	switch k {
	case GLES2:
		return gputypes.BackendGL
	case Vulkan:
		return gputypes.BackendVulkan
	case Metal:
		return gputypes.BackendMetal
	case D3D11:
		return gputypes.BackendDX12
	default:
		return gputypes.BackendEmpty
	}
}

// PolygonMode controls how primitives are rasterized.
type PolygonMode uint8

const (
	// PolygonFill rasterizes filled triangles.
	PolygonFill PolygonMode = iota
	// PolygonLine rasterizes edges only.
	PolygonLine
	// PolygonPoint rasterizes vertices only.
	PolygonPoint
)

var polygonModeNames = [...]string{
	PolygonFill:  "fill",
	PolygonLine:  "line",
	PolygonPoint: "point",
}

// String returns the mode name.
func (m PolygonMode) String() string {
	if int(m) < len(polygonModeNames) {
		return polygonModeNames[m]
	}
	return fmt.Sprintf("PolygonMode(%d)", m)
}

// MarshalText implements encoding.TextMarshaler.
func (m PolygonMode) MarshalText() ([]byte, error) {
	if int(m) >= len(polygonModeNames) {
		return nil, fmt.Errorf("backend: unknown polygon mode %d", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PolygonMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range polygonModeNames {
		if name == s {
			*m = PolygonMode(i)
			return nil
		}
	}
	if s == "wireframe" {
		*m = PolygonLine
		return nil
	}
	return fmt.Errorf("backend: unknown polygon mode %q", text)
}

// Topology maps the mode onto a primitive topology. Portable WebGPU-style
// pipelines have no polygon fill mode, so line and point modes draw the
// vertex stream as line or point lists instead.
func (m PolygonMode) Topology() gputypes.PrimitiveTopology {
	switch m {
	case PolygonLine:
		return gputypes.PrimitiveTopologyLineList
	case PolygonPoint:
		return gputypes.PrimitiveTopologyPointList
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}
