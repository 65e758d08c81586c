package renderer

import (
	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/gogpu/gputypes"
)

// Backend is the GPU capability set the passes and the pipeline are written against. A backend
// owns every buffer, texture and program it hands out; handles are only meaningful to the backend
// that created them.
//
// Errors returned by a backend are passed through the pipeline unmodified.
type Backend interface {
	// Limits returns the limits the backend enforces. Configurations and interface specs are
	// validated against them.
	//
	// Returns:
	//   - gputypes.Limits: the backend limits
	Limits() gputypes.Limits

	// CompileShader compiles a program from a reflected shader and its fixed pipeline inputs.
	//
	// Parameters:
	//   - desc: the program descriptor
	//
	// Returns:
	//   - common.ShaderHandle: the compiled program
	//   - error: an error if the shader does not compile or the descriptor is inconsistent
	CompileShader(desc ProgramDescriptor) (common.ShaderHandle, error)

	// CreateBuffer creates a buffer holding a copy of data.
	//
	// Parameters:
	//   - label: a debug label
	//   - usage: how the buffer is bound
	//   - data: the initial contents, which also fix the buffer size
	//
	// Returns:
	//   - common.BufferHandle: the new buffer
	//   - error: an error if the buffer could not be created
	CreateBuffer(label string, usage BufferUsage, data []byte) (common.BufferHandle, error)

	// WriteBuffer overwrites part of a buffer.
	//
	// Parameters:
	//   - h: the buffer to write
	//   - offset: the byte offset to write at
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: an error if the handle is unknown or the write is out of range
	WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error

	// ReleaseBuffer destroys a buffer. Unknown handles are ignored.
	//
	// Parameters:
	//   - h: the buffer to release
	ReleaseBuffer(h common.BufferHandle)

	// CreateTexture creates a render target texture that can later be sampled.
	//
	// Parameters:
	//   - desc: the texture descriptor
	//
	// Returns:
	//   - common.TextureHandle: the new texture
	//   - error: an error if the texture could not be created
	CreateTexture(desc TextureDescriptor) (common.TextureHandle, error)

	// ReleaseTexture destroys a texture. Unknown handles are ignored.
	//
	// Parameters:
	//   - h: the texture to release
	ReleaseTexture(h common.TextureHandle)

	// Clear clears the attachments of a target.
	//
	// Parameters:
	//   - target: the target to clear; zero handles are skipped
	//   - color: the color the color attachment is cleared to
	//   - depth: the value the depth attachment is cleared to
	//
	// Returns:
	//   - error: an error if a handle is unknown
	Clear(target Target, color gputypes.Color, depth float32) error

	// Draw records a single draw. The draw parameters are applied exactly as given.
	//
	// Parameters:
	//   - cmd: the draw command
	//
	// Returns:
	//   - error: an error if the command references unknown handles or does not match its program
	Draw(cmd DrawCommand) error

	// Present shows a color texture on the backend's output surface and ends the frame.
	//
	// Parameters:
	//   - color: the texture holding the final frame
	//
	// Returns:
	//   - error: an error if the texture is unknown or the surface could not be presented
	Present(color common.TextureHandle) error

	// DiscardFrame drops every clear and draw recorded since the last Present, along with the
	// per-frame resources they hold. It is a no-op when nothing is recorded.
	DiscardFrame()

	// Resize changes the size of the output surface.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	//
	// Returns:
	//   - error: an error if the surface could not be reconfigured
	Resize(width, height int) error

	// Close releases every resource the backend owns.
	Close()
}

// ProgramKind selects the fixed-function behavior and pipeline shape of a program.
type ProgramKind int

const (
	// ProgramShadowDepth renders depth only from the main light's view.
	ProgramShadowDepth ProgramKind = iota

	// ProgramLit renders lit geometry, sampling the shadow map.
	ProgramLit

	// ProgramUnlit renders geometry in its record color without lighting.
	ProgramUnlit

	// ProgramLine renders line lists in vertex color.
	ProgramLine

	// ProgramGlowExtract writes the pixels of a source texture brighter than a threshold.
	ProgramGlowExtract

	// ProgramBlur applies one direction of a separable blur to a source texture.
	ProgramBlur

	// ProgramComposite adds a glow texture onto a scene texture.
	ProgramComposite
)

func (k ProgramKind) String() string {
	switch k {
	case ProgramShadowDepth:
		return "shadow_depth"
	case ProgramLit:
		return "lit"
	case ProgramUnlit:
		return "unlit"
	case ProgramLine:
		return "line"
	case ProgramGlowExtract:
		return "glow_extract"
	case ProgramBlur:
		return "blur"
	case ProgramComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// Fullscreen reports whether programs of this kind draw a single fullscreen triangle instead of
// mesh geometry.
func (k ProgramKind) Fullscreen() bool {
	return k == ProgramGlowExtract || k == ProgramBlur || k == ProgramComposite
}

// ProgramDescriptor describes a program to compile: its reflected shader and the pipeline inputs
// that do not change per draw.
type ProgramDescriptor struct {
	Label  string
	Kind   ProgramKind
	Shader shader.Shader

	// VertexLayouts are the vertex buffer layouts in slot order: the mesh buffer first, then the
	// instance buffer for instanced programs.
	VertexLayouts []gputypes.VertexBufferLayout

	Topology gputypes.PrimitiveTopology

	// ColorFormat is TextureFormatUndefined for depth-only programs.
	ColorFormat gputypes.TextureFormat

	// DepthFormat is TextureFormatUndefined for programs without a depth attachment.
	DepthFormat gputypes.TextureFormat
}

// DrawParameters is the per-draw raster state. Backends apply it unmodified.
type DrawParameters struct {
	CullMode  gputypes.CullMode
	FrontFace gputypes.FrontFace

	DepthTest    bool
	DepthCompare gputypes.CompareFunction
	DepthWrite   bool

	// Blend is nil for opaque draws that replace the destination color.
	Blend *gputypes.BlendState

	DepthBias           int32
	DepthBiasSlopeScale float32
}

// DefaultDrawParameters returns the default opaque draw state: back faces culled with
// counter-clockwise front faces, depth tested with less and written.
//
// Returns:
//   - DrawParameters: the default parameters
func DefaultDrawParameters() DrawParameters {
	return DrawParameters{
		CullMode:     gputypes.CullModeBack,
		FrontFace:    gputypes.FrontFaceCCW,
		DepthTest:    true,
		DepthCompare: gputypes.CompareFunctionLess,
		DepthWrite:   true,
	}
}

// BufferUsage describes how a buffer is bound.
type BufferUsage int

const (
	BufferUsageVertex BufferUsage = iota
	BufferUsageIndex
	BufferUsageUniform
)

// TextureDescriptor describes a render target texture. Depth formats create depth attachments,
// every other format a color attachment.
type TextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Format gputypes.TextureFormat
}

// Target is the attachment set a draw renders into.
type Target struct {
	Color common.TextureHandle
	Depth common.TextureHandle
}

// TextureBinding binds a texture, and optionally its sampler, to shader bindings.
type TextureBinding struct {
	Group   uint32
	Binding uint32
	Texture common.TextureHandle

	// SamplerBinding is used when HasSampler is set. Depth textures get a comparison sampler.
	SamplerBinding uint32
	HasSampler     bool
}

// DrawCommand is a single draw submitted to a Backend.
type DrawCommand struct {
	Label   string
	Program common.ShaderHandle
	Target  Target
	Params  DrawParameters

	// VertexBuffers are bound in slot order, matching the program's VertexLayouts.
	VertexBuffers []common.BufferHandle

	// IndexBuffer holds uint32 indices. A zero handle draws VertexCount vertices unindexed.
	IndexBuffer common.BufferHandle
	IndexCount  uint32
	VertexCount uint32

	InstanceCount uint32

	Uniforms []shader.UniformData
	Textures []TextureBinding
}
