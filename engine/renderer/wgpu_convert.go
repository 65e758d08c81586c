package renderer

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gputypes"
)

// The renderer describes GPU state with gputypes so the software backend and the shader
// reflection do not depend on the native bindings. These helpers translate that state into the
// wgpu enums the device expects.

func wgpuTextureFormat(f gputypes.TextureFormat) (wgpu.TextureFormat, error) {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm, nil
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return wgpu.TextureFormatRGBA8UnormSrgb, nil
	case gputypes.TextureFormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm, nil
	case gputypes.TextureFormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float, nil
	case gputypes.TextureFormatRGBA32Float:
		return wgpu.TextureFormatRGBA32Float, nil
	case gputypes.TextureFormatR32Float:
		return wgpu.TextureFormatR32Float, nil
	case gputypes.TextureFormatDepth16Unorm:
		return wgpu.TextureFormatDepth16Unorm, nil
	case gputypes.TextureFormatDepth24Plus:
		return wgpu.TextureFormatDepth24Plus, nil
	case gputypes.TextureFormatDepth24PlusStencil8:
		return wgpu.TextureFormatDepth24PlusStencil8, nil
	case gputypes.TextureFormatDepth32Float:
		return wgpu.TextureFormatDepth32Float, nil
	default:
		return 0, fmt.Errorf("texture format %v is not supported by the wgpu backend", f)
	}
}

func wgpuVertexFormat(f gputypes.VertexFormat) (wgpu.VertexFormat, error) {
	switch f {
	case gputypes.VertexFormatFloat32:
		return wgpu.VertexFormatFloat32, nil
	case gputypes.VertexFormatFloat32x2:
		return wgpu.VertexFormatFloat32x2, nil
	case gputypes.VertexFormatFloat32x3:
		return wgpu.VertexFormatFloat32x3, nil
	case gputypes.VertexFormatFloat32x4:
		return wgpu.VertexFormatFloat32x4, nil
	case gputypes.VertexFormatFloat16x2:
		return wgpu.VertexFormatFloat16x2, nil
	case gputypes.VertexFormatFloat16x4:
		return wgpu.VertexFormatFloat16x4, nil
	case gputypes.VertexFormatSint32:
		return wgpu.VertexFormatSint32, nil
	case gputypes.VertexFormatSint32x2:
		return wgpu.VertexFormatSint32x2, nil
	case gputypes.VertexFormatSint32x3:
		return wgpu.VertexFormatSint32x3, nil
	case gputypes.VertexFormatSint32x4:
		return wgpu.VertexFormatSint32x4, nil
	case gputypes.VertexFormatUint32:
		return wgpu.VertexFormatUint32, nil
	case gputypes.VertexFormatUint32x2:
		return wgpu.VertexFormatUint32x2, nil
	case gputypes.VertexFormatUint32x3:
		return wgpu.VertexFormatUint32x3, nil
	case gputypes.VertexFormatUint32x4:
		return wgpu.VertexFormatUint32x4, nil
	default:
		return 0, fmt.Errorf("vertex format %v is not supported by the wgpu backend", f)
	}
}

func wgpuVertexLayouts(layouts []gputypes.VertexBufferLayout) ([]wgpu.VertexBufferLayout, error) {
	out := make([]wgpu.VertexBufferLayout, 0, len(layouts))
	for _, l := range layouts {
		attrs := make([]wgpu.VertexAttribute, 0, len(l.Attributes))
		for _, a := range l.Attributes {
			format, err := wgpuVertexFormat(a.Format)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, wgpu.VertexAttribute{
				Format:         format,
				Offset:         a.Offset,
				ShaderLocation: a.ShaderLocation,
			})
		}
		step := wgpu.VertexStepModeVertex
		if l.StepMode == gputypes.VertexStepModeInstance {
			step = wgpu.VertexStepModeInstance
		}
		out = append(out, wgpu.VertexBufferLayout{
			ArrayStride: l.ArrayStride,
			StepMode:    step,
			Attributes:  attrs,
		})
	}
	return out, nil
}

func wgpuTopology(t gputypes.PrimitiveTopology) wgpu.PrimitiveTopology {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return wgpu.PrimitiveTopologyPointList
	case gputypes.PrimitiveTopologyLineList:
		return wgpu.PrimitiveTopologyLineList
	case gputypes.PrimitiveTopologyLineStrip:
		return wgpu.PrimitiveTopologyLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return wgpu.PrimitiveTopologyTriangleStrip
	default:
		return wgpu.PrimitiveTopologyTriangleList
	}
}

func wgpuCullMode(m gputypes.CullMode) wgpu.CullMode {
	switch m {
	case gputypes.CullModeFront:
		return wgpu.CullModeFront
	case gputypes.CullModeBack:
		return wgpu.CullModeBack
	default:
		return wgpu.CullModeNone
	}
}

func wgpuFrontFace(f gputypes.FrontFace) wgpu.FrontFace {
	if f == gputypes.FrontFaceCW {
		return wgpu.FrontFaceCW
	}
	return wgpu.FrontFaceCCW
}

func wgpuCompare(c gputypes.CompareFunction) wgpu.CompareFunction {
	switch c {
	case gputypes.CompareFunctionNever:
		return wgpu.CompareFunctionNever
	case gputypes.CompareFunctionEqual:
		return wgpu.CompareFunctionEqual
	case gputypes.CompareFunctionLessEqual:
		return wgpu.CompareFunctionLessEqual
	case gputypes.CompareFunctionGreater:
		return wgpu.CompareFunctionGreater
	case gputypes.CompareFunctionNotEqual:
		return wgpu.CompareFunctionNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return wgpu.CompareFunctionGreaterEqual
	case gputypes.CompareFunctionAlways:
		return wgpu.CompareFunctionAlways
	default:
		return wgpu.CompareFunctionLess
	}
}

// wgpuBlendFactor maps an undefined factor to fallback, matching the software rasterizer.
func wgpuBlendFactor(f gputypes.BlendFactor, fallback wgpu.BlendFactor) wgpu.BlendFactor {
	switch f {
	case gputypes.BlendFactorZero:
		return wgpu.BlendFactorZero
	case gputypes.BlendFactorOne:
		return wgpu.BlendFactorOne
	case gputypes.BlendFactorSrc:
		return wgpu.BlendFactorSrc
	case gputypes.BlendFactorOneMinusSrc:
		return wgpu.BlendFactorOneMinusSrc
	case gputypes.BlendFactorSrcAlpha:
		return wgpu.BlendFactorSrcAlpha
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return wgpu.BlendFactorOneMinusSrcAlpha
	case gputypes.BlendFactorDst:
		return wgpu.BlendFactorDst
	case gputypes.BlendFactorOneMinusDst:
		return wgpu.BlendFactorOneMinusDst
	case gputypes.BlendFactorDstAlpha:
		return wgpu.BlendFactorDstAlpha
	case gputypes.BlendFactorOneMinusDstAlpha:
		return wgpu.BlendFactorOneMinusDstAlpha
	case gputypes.BlendFactorSrcAlphaSaturated:
		return wgpu.BlendFactorSrcAlphaSaturated
	case gputypes.BlendFactorConstant:
		return wgpu.BlendFactorConstant
	case gputypes.BlendFactorOneMinusConstant:
		return wgpu.BlendFactorOneMinusConstant
	default:
		return fallback
	}
}

func wgpuBlendOperation(op gputypes.BlendOperation) wgpu.BlendOperation {
	switch op {
	case gputypes.BlendOperationSubtract:
		return wgpu.BlendOperationSubtract
	case gputypes.BlendOperationReverseSubtract:
		return wgpu.BlendOperationReverseSubtract
	case gputypes.BlendOperationMin:
		return wgpu.BlendOperationMin
	case gputypes.BlendOperationMax:
		return wgpu.BlendOperationMax
	default:
		return wgpu.BlendOperationAdd
	}
}

func wgpuBlendComponent(c gputypes.BlendComponent) wgpu.BlendComponent {
	return wgpu.BlendComponent{
		Operation: wgpuBlendOperation(c.Operation),
		SrcFactor: wgpuBlendFactor(c.SrcFactor, wgpu.BlendFactorOne),
		DstFactor: wgpuBlendFactor(c.DstFactor, wgpu.BlendFactorZero),
	}
}

func wgpuBlendState(s *gputypes.BlendState) *wgpu.BlendState {
	if s == nil {
		return nil
	}
	return &wgpu.BlendState{
		Color: wgpuBlendComponent(s.Color),
		Alpha: wgpuBlendComponent(s.Alpha),
	}
}

func wgpuShaderStage(s gputypes.ShaderStages) wgpu.ShaderStage {
	out := wgpu.ShaderStageNone
	if s&gputypes.ShaderStageVertex != 0 {
		out |= wgpu.ShaderStageVertex
	}
	if s&gputypes.ShaderStageFragment != 0 {
		out |= wgpu.ShaderStageFragment
	}
	if s&gputypes.ShaderStageCompute != 0 {
		out |= wgpu.ShaderStageCompute
	}
	return out
}

func wgpuViewDimension(d gputypes.TextureViewDimension) wgpu.TextureViewDimension {
	switch d {
	case gputypes.TextureViewDimension1D:
		return wgpu.TextureViewDimension1D
	case gputypes.TextureViewDimension2DArray:
		return wgpu.TextureViewDimension2DArray
	case gputypes.TextureViewDimensionCube:
		return wgpu.TextureViewDimensionCube
	case gputypes.TextureViewDimensionCubeArray:
		return wgpu.TextureViewDimensionCubeArray
	case gputypes.TextureViewDimension3D:
		return wgpu.TextureViewDimension3D
	default:
		return wgpu.TextureViewDimension2D
	}
}

func wgpuSampleType(t gputypes.TextureSampleType) wgpu.TextureSampleType {
	switch t {
	case gputypes.TextureSampleTypeDepth:
		return wgpu.TextureSampleTypeDepth
	case gputypes.TextureSampleTypeSint:
		return wgpu.TextureSampleTypeSint
	case gputypes.TextureSampleTypeUint:
		return wgpu.TextureSampleTypeUint
	default:
		return wgpu.TextureSampleTypeFloat
	}
}

func wgpuBindGroupLayout(desc gputypes.BindGroupLayoutDescriptor) wgpu.BindGroupLayoutDescriptor {
	out := wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: make([]wgpu.BindGroupLayoutEntry, 0, len(desc.Entries)),
	}
	for _, e := range desc.Entries {
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: wgpuShaderStage(e.Visibility),
		}
		switch {
		case e.Buffer != nil:
			switch e.Buffer.Type {
			case gputypes.BufferBindingTypeStorage:
				entry.Buffer.Type = wgpu.BufferBindingTypeStorage
			case gputypes.BufferBindingTypeReadOnlyStorage:
				entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
			default:
				entry.Buffer.Type = wgpu.BufferBindingTypeUniform
			}
			entry.Buffer.MinBindingSize = e.Buffer.MinBindingSize
		case e.Sampler != nil:
			entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
			if e.Sampler.Type == gputypes.SamplerBindingTypeComparison {
				entry.Sampler.Type = wgpu.SamplerBindingTypeComparison
			}
		case e.Texture != nil:
			entry.Texture.SampleType = wgpuSampleType(e.Texture.SampleType)
			entry.Texture.ViewDimension = wgpuViewDimension(e.Texture.ViewDimension)
			entry.Texture.Multisampled = e.Texture.Multisampled
		}
		out.Entries = append(out.Entries, entry)
	}
	return out
}
