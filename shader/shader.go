// Package shader cross-compiles WGSL programs for every gpuq backend.
//
// A vertex and a fragment stage are parsed and validated with the pure Go
// naga compiler, lowered to SPIR-V eagerly, and translated on demand to
// MSL (Metal), HLSL shader model 5.0 (Direct3D 11) and GLSL ES 3.00
// (OpenGL ES). Reflection data (bind groups, uniform block layouts,
// vertex inputs) is extracted from the naga IR.
//
// Compilation is synchronous and never touches a GPU device, so it may run
// on any goroutine.
package shader

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/spirv"
)

// Shader errors.
var (
	// ErrCompile is wrapped by every compilation failure.
	ErrCompile = errors.New("shader: compilation failed")

	// ErrGeometryUnsupported is returned when a geometry stage is supplied.
	// None of the target languages reachable from WGSL has geometry shaders.
	ErrGeometryUnsupported = errors.New("shader: geometry stage is not supported")

	// ErrNoInput is returned when output is requested before SetInput.
	ErrNoInput = errors.New("shader: no program compiled")

	// ErrUnknownTarget is returned for an unrecognized Target.
	ErrUnknownTarget = errors.New("shader: unknown target")
)

// Stage identifies a programmable pipeline stage.
type Stage uint8

const (
	// StageVertex is the vertex stage.
	StageVertex Stage = iota
	// StageFragment is the fragment stage.
	StageFragment
	// StageGeometry is accepted by SetInput only to be rejected.
	StageGeometry
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageGeometry:
		return "geometry"
	default:
		return fmt.Sprintf("Stage(%d)", s)
	}
}

// Target is an output shading language.
type Target uint8

const (
	// TargetSPIRV is SPIR-V binary (Vulkan).
	TargetSPIRV Target = iota
	// TargetMSL is Metal Shading Language.
	TargetMSL
	// TargetHLSL is HLSL for Direct3D 11.
	TargetHLSL
	// TargetGLSL is GLSL ES for OpenGL ES.
	TargetGLSL
	// TargetWGSL is the untranslated input.
	TargetWGSL
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case TargetSPIRV:
		return "spirv"
	case TargetMSL:
		return "msl"
	case TargetHLSL:
		return "hlsl"
	case TargetGLSL:
		return "glsl"
	case TargetWGSL:
		return "wgsl"
	default:
		return fmt.Sprintf("Target(%d)", t)
	}
}

// CompileError reports a failure in one stage.
type CompileError struct {
	Stage Stage
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader: %s stage: %v", e.Stage, e.Err)
}

// Unwrap returns both ErrCompile and the underlying cause.
func (e *CompileError) Unwrap() []error { return []error{ErrCompile, e.Err} }

// Options configures compilation.
type Options struct {
	// SPIRVVersion is the SPIR-V version emitted for Vulkan.
	SPIRVVersion spirv.Version

	// Debug keeps debug names in SPIR-V output.
	Debug bool

	// SkipValidation disables naga IR validation.
	SkipValidation bool

	// GLSLVersion is the GLSL dialect for the GLES backend.
	GLSLVersion glsl.Version

	// HLSLModel is the HLSL shader model for the D3D11 backend.
	HLSLModel hlsl.ShaderModel
}

// DefaultOptions returns options suited to every backend: SPIR-V 1.3,
// GLSL ES 3.00 and shader model 5.0.
func DefaultOptions() Options {
	return Options{
		SPIRVVersion: spirv.Version1_3,
		GLSLVersion:  glsl.VersionES300,
		HLSLModel:    hlsl.ShaderModel5_0,
	}
}
