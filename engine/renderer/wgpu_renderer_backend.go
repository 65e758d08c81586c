package renderer

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/logger"
	"github.com/Carmen-Shannon/conduit/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

// blitSource copies an offscreen color texture onto the surface with a fullscreen triangle.
const blitSource = `
@group(0) @binding(0) var source: texture_2d<f32>;
@group(0) @binding(1) var source_sampler: sampler;

struct BlitOut {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> BlitOut {
    let uv = vec2<f32>(f32((index << 1u) & 2u), f32(index & 2u));
    var out: BlitOut;
    out.position = vec4<f32>(uv.x * 2.0 - 1.0, 1.0 - uv.y * 2.0, 0.0, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: BlitOut) -> @location(0) vec4<f32> {
    return textureSample(source, source_sampler, in.uv);
}
`

// drawStateKey identifies the render pipeline a program needs for one set of draw parameters.
type drawStateKey struct {
	cull         gputypes.CullMode
	front        gputypes.FrontFace
	depthTest    bool
	depthCompare gputypes.CompareFunction
	depthWrite   bool
	hasBlend     bool
	blend        gputypes.BlendState
	depthBias    int32
	slopeScale   float32
}

func newDrawStateKey(p DrawParameters) drawStateKey {
	k := drawStateKey{
		cull:         p.CullMode,
		front:        p.FrontFace,
		depthTest:    p.DepthTest,
		depthCompare: p.DepthCompare,
		depthWrite:   p.DepthWrite,
		depthBias:    p.DepthBias,
		slopeScale:   p.DepthBiasSlopeScale,
	}
	if p.Blend != nil {
		k.hasBlend = true
		k.blend = *p.Blend
	}
	return k
}

type wgpuProgram struct {
	desc       ProgramDescriptor
	module     *wgpu.ShaderModule
	layout     *wgpu.PipelineLayout
	groups     []*wgpu.BindGroupLayout
	groupDescs []gputypes.BindGroupLayoutDescriptor
	buffers    []wgpu.VertexBufferLayout
	color      wgpu.TextureFormat
	depth      wgpu.TextureFormat
	colored    bool
	depthed    bool
	pipelines  map[drawStateKey]*wgpu.RenderPipeline
}

func (p *wgpuProgram) release() {
	for _, rp := range p.pipelines {
		rp.Release()
	}
	if p.layout != nil {
		p.layout.Release()
	}
	for _, g := range p.groups {
		g.Release()
	}
	if p.module != nil {
		p.module.Release()
	}
}

type wgpuBuffer struct {
	label  string
	size   uint64
	buffer *wgpu.Buffer
}

type wgpuTexture struct {
	desc    TextureDescriptor
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

// wgpuBackend is the Backend implementation on top of the native WebGPU bindings. Draws are
// recorded into one command encoder per frame; render passes stay open while consecutive draws
// share a target and the encoder is submitted on Present.
type wgpuBackend struct {
	mu *sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
	device   *wgpu.Device
	queue    *wgpu.Queue

	surfaceFormat wgpu.TextureFormat
	presentMode   wgpu.PresentMode
	limits        gputypes.Limits
	validate      bool
	width         int
	height        int

	next     uint64
	programs map[common.ShaderHandle]*wgpuProgram
	buffers  map[common.BufferHandle]*wgpuBuffer
	textures map[common.TextureHandle]*wgpuTexture

	linear     *wgpu.Sampler
	comparison *wgpu.Sampler
	blit       *wgpuProgram

	encoder    *wgpu.CommandEncoder
	pass       *wgpu.RenderPassEncoder
	passTarget Target

	// transient holds the release funcs of per-draw objects that live until the frame is submitted.
	transient []func()
}

var _ Backend = &wgpuBackend{}

func newWGPUBackend(surface SurfaceProvider, o *backendOptions) (Backend, error) {
	runtime.LockOSThread()

	desc := surface.SurfaceDescriptor()
	if desc == nil {
		return nil, fmt.Errorf("%s backend: window has no surface", BackendTypeWGPU)
	}

	b := &wgpuBackend{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeImmediate,
		limits:      o.limits,
		validate:    o.validateShaders,
		programs:    make(map[common.ShaderHandle]*wgpuProgram),
		buffers:     make(map[common.BufferHandle]*wgpuBuffer),
		textures:    make(map[common.TextureHandle]*wgpuTexture),
	}
	if o.presentMode == PresentModeVSync {
		b.presentMode = wgpu.PresentModeFifo
	}
	b.surface = b.instance.CreateSurface(desc)

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: o.forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%s backend: failed to request adapter: %w", BackendTypeWGPU, err)
	}
	b.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Conduit Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%s backend: failed to request device: %w", BackendTypeWGPU, err)
	}
	b.device = d
	b.queue = d.GetQueue()

	if err := b.createSamplers(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.configureSurface(surface.Width(), surface.Height()); err != nil {
		b.Close()
		return nil, err
	}

	logger.Logger().Info("renderer backend created", "backend", BackendTypeWGPU, "width", b.width, "height", b.height, "format", b.surfaceFormat)
	return b, nil
}

func (b *wgpuBackend) createSamplers() error {
	var err error
	b.linear, err = b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Linear Clamp Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create linear sampler: %w", err)
	}
	b.comparison, err = b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Shadow Comparison Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
		Compare:       wgpu.CompareFunctionLess,
	})
	if err != nil {
		return fmt.Errorf("failed to create comparison sampler: %w", err)
	}
	return nil
}

// configureSurface (re)configures the swapchain. The blit program targets the surface format,
// so it is rebuilt when the format changes.
func (b *wgpuBackend) configureSurface(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	capabilities := b.surface.GetCapabilities(b.adapter)
	if len(capabilities.Formats) == 0 || len(capabilities.AlphaModes) == 0 {
		return fmt.Errorf("%s backend: surface reports no supported formats", BackendTypeWGPU)
	}
	format := capabilities.Formats[0]

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	b.width, b.height = width, height

	if b.blit != nil && b.surfaceFormat == format {
		return nil
	}
	if b.blit != nil {
		b.blit.release()
		b.blit = nil
	}
	b.surfaceFormat = format

	sh, err := shader.NewShader("conduit.blit", blitSource, nil)
	if err != nil {
		return err
	}
	blit, err := b.buildProgram(ProgramDescriptor{Label: "Surface Blit", Kind: ProgramComposite, Shader: sh})
	if err != nil {
		return fmt.Errorf("failed to build surface blit: %w", err)
	}
	blit.color, blit.colored = format, true
	b.blit = blit
	return nil
}

func (b *wgpuBackend) Limits() gputypes.Limits {
	return b.limits
}

func (b *wgpuBackend) CompileShader(desc ProgramDescriptor) (common.ShaderHandle, error) {
	if desc.Shader == nil {
		return 0, fmt.Errorf("program %s has no shader", desc.Label)
	}
	if desc.Shader.EntryPoint(gputypes.ShaderStageVertex) == "" {
		return 0, fmt.Errorf("program %s: shader %s has no vertex entry point", desc.Label, desc.Shader.Key())
	}
	if !desc.Kind.Fullscreen() && len(desc.VertexLayouts) == 0 {
		return 0, fmt.Errorf("program %s: %s programs need at least one vertex buffer layout", desc.Label, desc.Kind)
	}
	if b.validate {
		if _, err := naga.Compile(desc.Shader.Source()); err != nil {
			return 0, fmt.Errorf("program %s: failed to compile shader %s: %w", desc.Label, desc.Shader.Key(), err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.buildProgram(desc)
	if err != nil {
		return 0, err
	}
	b.next++
	h := common.ShaderHandle(b.next)
	b.programs[h] = p
	logger.Logger().Debug("program compiled", "label", desc.Label, "kind", desc.Kind, "handle", h)
	return h, nil
}

// buildProgram creates the shader module and the pipeline layout of a program. Render pipelines
// are created on first use for each set of draw parameters.
func (b *wgpuBackend) buildProgram(desc ProgramDescriptor) (*wgpuProgram, error) {
	p := &wgpuProgram{desc: desc, pipelines: make(map[drawStateKey]*wgpu.RenderPipeline)}

	var err error
	if desc.ColorFormat != gputypes.TextureFormatUndefined {
		if p.color, err = wgpuTextureFormat(desc.ColorFormat); err != nil {
			return nil, fmt.Errorf("program %s: %w", desc.Label, err)
		}
		p.colored = true
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		if p.depth, err = wgpuTextureFormat(desc.DepthFormat); err != nil {
			return nil, fmt.Errorf("program %s: %w", desc.Label, err)
		}
		p.depthed = true
	}
	if p.buffers, err = wgpuVertexLayouts(desc.VertexLayouts); err != nil {
		return nil, fmt.Errorf("program %s: %w", desc.Label, err)
	}

	p.module, err = b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label + " Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Shader.Source(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("program %s: failed to create shader module: %w", desc.Label, err)
	}

	descs := desc.Shader.BindGroupLayoutDescriptors()
	groupCount := 0
	for g := range descs {
		groupCount = max(groupCount, int(g)+1)
	}
	if uint32(groupCount) > b.limits.MaxBindGroups {
		p.release()
		return nil, common.Errorf(common.ErrLimitExceeded, "program %s uses %d bind groups, the limit is %d", desc.Label, groupCount, b.limits.MaxBindGroups)
	}

	p.groupDescs = make([]gputypes.BindGroupLayoutDescriptor, groupCount)
	p.groups = make([]*wgpu.BindGroupLayout, 0, groupCount)
	for g := range groupCount {
		gd := descs[uint32(g)]
		gd.Label = fmt.Sprintf("%s Group %d", desc.Label, g)
		p.groupDescs[g] = gd
		wd := wgpuBindGroupLayout(gd)
		layout, err := b.device.CreateBindGroupLayout(&wd)
		if err != nil {
			p.release()
			return nil, fmt.Errorf("program %s: failed to create bind group layout %d: %w", desc.Label, g, err)
		}
		p.groups = append(p.groups, layout)
	}

	p.layout, err = b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label + " Pipeline Layout",
		BindGroupLayouts: p.groups,
	})
	if err != nil {
		p.release()
		return nil, fmt.Errorf("program %s: failed to create pipeline layout: %w", desc.Label, err)
	}
	return p, nil
}

func (b *wgpuBackend) pipelineFor(p *wgpuProgram, params DrawParameters) (*wgpu.RenderPipeline, error) {
	key := newDrawStateKey(params)
	if rp, ok := p.pipelines[key]; ok {
		return rp, nil
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  p.desc.Label + " Render Pipeline",
		Layout: p.layout,
		Vertex: wgpu.VertexState{
			Module:     p.module,
			EntryPoint: p.desc.Shader.EntryPoint(gputypes.ShaderStageVertex),
			Buffers:    p.buffers,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpuTopology(p.desc.Topology),
			FrontFace: wgpuFrontFace(params.FrontFace),
			CullMode:  wgpuCullMode(params.CullMode),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if p.desc.Topology == gputypes.PrimitiveTopologyTriangleStrip || p.desc.Topology == gputypes.PrimitiveTopologyLineStrip {
		desc.Primitive.StripIndexFormat = wgpu.IndexFormatUint32
	}

	if entry := p.desc.Shader.EntryPoint(gputypes.ShaderStageFragment); entry != "" {
		desc.Fragment = &wgpu.FragmentState{
			Module:     p.module,
			EntryPoint: entry,
		}
		if p.colored {
			desc.Fragment.Targets = []wgpu.ColorTargetState{{
				Format:    p.color,
				WriteMask: wgpu.ColorWriteMaskAll,
				Blend:     wgpuBlendState(params.Blend),
			}}
		}
	}

	if p.depthed {
		compare := wgpuCompare(params.DepthCompare)
		if !params.DepthTest {
			compare = wgpu.CompareFunctionAlways
		}
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:              p.depth,
			DepthWriteEnabled:   params.DepthWrite,
			DepthCompare:        compare,
			DepthBias:           params.DepthBias,
			DepthBiasSlopeScale: params.DepthBiasSlopeScale,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		}
	}

	rp, err := b.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("program %s: failed to create render pipeline: %w", p.desc.Label, err)
	}
	p.pipelines[key] = rp
	return rp, nil
}

func (b *wgpuBackend) CreateBuffer(label string, usage BufferUsage, data []byte) (common.BufferHandle, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("buffer %s: size must be positive", label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var u wgpu.BufferUsage
	switch usage {
	case BufferUsageIndex:
		u = wgpu.BufferUsageIndex
	case BufferUsageUniform:
		u = wgpu.BufferUsageUniform
	default:
		u = wgpu.BufferUsageVertex
	}
	buf, err := b.newBuffer(label, u|wgpu.BufferUsageCopyDst, data, 4)
	if err != nil {
		return 0, err
	}
	b.next++
	h := common.BufferHandle(b.next)
	b.buffers[h] = &wgpuBuffer{label: label, size: uint64(len(data)), buffer: buf}
	return h, nil
}

// newBuffer creates a buffer holding data padded to a multiple of align bytes.
func (b *wgpuBackend) newBuffer(label string, usage wgpu.BufferUsage, data []byte, align int) (*wgpu.Buffer, error) {
	padded := padBytes(data, align)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             uint64(len(padded)),
		Usage:            usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("buffer %s: %w", label, err)
	}
	b.queue.WriteBuffer(buf, 0, padded)
	return buf, nil
}

func padBytes(data []byte, align int) []byte {
	n := max(len(data), align)
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	if n == len(data) {
		return data
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

func (b *wgpuBackend) WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		return fmt.Errorf("unknown buffer %d", h)
	}
	if offset+uint64(len(data)) > buf.size {
		return fmt.Errorf("buffer %s: write of %d bytes at %d exceeds size %d", buf.label, len(data), offset, buf.size)
	}
	if offset%4 != 0 {
		return fmt.Errorf("buffer %s: write offset %d is not 4-byte aligned", buf.label, offset)
	}
	b.queue.WriteBuffer(buf.buffer, offset, padBytes(data, 4))
	return nil
}

func (b *wgpuBackend) ReleaseBuffer(h common.BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[h]; ok {
		b.releaseAfterFrame(buf.buffer.Release)
		delete(b.buffers, h)
	}
}

func (b *wgpuBackend) CreateTexture(desc TextureDescriptor) (common.TextureHandle, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return 0, fmt.Errorf("texture %s: invalid size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if uint32(desc.Width) > b.limits.MaxTextureDimension2D || uint32(desc.Height) > b.limits.MaxTextureDimension2D {
		return 0, fmt.Errorf("texture %s: size %dx%d exceeds the %d texel limit", desc.Label, desc.Width, desc.Height, b.limits.MaxTextureDimension2D)
	}
	format, err := wgpuTextureFormat(desc.Format)
	if err != nil {
		return 0, fmt.Errorf("texture %s: %w", desc.Label, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return 0, fmt.Errorf("texture %s: %w", desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("texture %s: %w", desc.Label, err)
	}

	b.next++
	h := common.TextureHandle(b.next)
	b.textures[h] = &wgpuTexture{desc: desc, texture: tex, view: view}
	return h, nil
}

func (b *wgpuBackend) ReleaseTexture(h common.TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.textures[h]; ok {
		b.releaseAfterFrame(t.view.Release)
		b.releaseAfterFrame(t.texture.Release)
		delete(b.textures, h)
	}
}

// releaseAfterFrame releases an object right away between frames, or after the frame is submitted when a
// recorded command may still reference it.
func (b *wgpuBackend) releaseAfterFrame(release func()) {
	if b.encoder == nil {
		release()
		return
	}
	b.transient = append(b.transient, release)
}

func (b *wgpuBackend) Clear(target Target, color gputypes.Color, depth float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	desc := &wgpu.RenderPassDescriptor{}
	if target.Color != 0 {
		t, err := b.texture(target.Color, false)
		if err != nil {
			return err
		}
		desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
			View:       t.view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: color.R, G: color.G, B: color.B, A: color.A},
		}}
	}
	if target.Depth != 0 {
		t, err := b.texture(target.Depth, true)
		if err != nil {
			return err
		}
		desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            t.view,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: depth,
		}
	}
	if desc.ColorAttachments == nil && desc.DepthStencilAttachment == nil {
		return nil
	}

	b.endPass()
	enc, err := b.frameEncoder()
	if err != nil {
		return err
	}
	pass := enc.BeginRenderPass(desc)
	pass.End()
	pass.Release()
	return nil
}

func (b *wgpuBackend) Draw(cmd DrawCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.programs[cmd.Program]
	if !ok {
		return fmt.Errorf("draw %s: unknown program %d", cmd.Label, cmd.Program)
	}

	var target Target
	var color, depth *wgpuTexture
	var err error
	if cmd.Target.Color != 0 && p.colored {
		if color, err = b.texture(cmd.Target.Color, false); err != nil {
			return fmt.Errorf("draw %s: %w", cmd.Label, err)
		}
		target.Color = cmd.Target.Color
	}
	if cmd.Target.Depth != 0 && p.depthed {
		if depth, err = b.texture(cmd.Target.Depth, true); err != nil {
			return fmt.Errorf("draw %s: %w", cmd.Label, err)
		}
		target.Depth = cmd.Target.Depth
	}
	if color == nil && depth == nil {
		return fmt.Errorf("draw %s: target has no attachment for program %s", cmd.Label, p.desc.Label)
	}
	if len(cmd.VertexBuffers) < len(p.desc.VertexLayouts) {
		return fmt.Errorf("draw %s: program %s needs %d vertex buffers, got %d", cmd.Label, p.desc.Label, len(p.desc.VertexLayouts), len(cmd.VertexBuffers))
	}
	vertexBuffers := make([]*wgpu.Buffer, len(cmd.VertexBuffers))
	for i, h := range cmd.VertexBuffers {
		buf, ok := b.buffers[h]
		if !ok {
			return fmt.Errorf("draw %s: unknown vertex buffer %d", cmd.Label, h)
		}
		vertexBuffers[i] = buf.buffer
	}
	var indexBuffer *wgpu.Buffer
	if cmd.IndexBuffer != 0 {
		buf, ok := b.buffers[cmd.IndexBuffer]
		if !ok {
			return fmt.Errorf("draw %s: unknown index buffer %d", cmd.Label, cmd.IndexBuffer)
		}
		if uint64(cmd.IndexCount)*4 > buf.size {
			return fmt.Errorf("draw %s: index count %d exceeds index buffer %s", cmd.Label, cmd.IndexCount, buf.label)
		}
		indexBuffer = buf.buffer
	}

	rp, err := b.pipelineFor(p, cmd.Params)
	if err != nil {
		return fmt.Errorf("draw %s: %w", cmd.Label, err)
	}
	groups, err := b.bindGroups(p, &cmd)
	if err != nil {
		return fmt.Errorf("draw %s: %w", cmd.Label, err)
	}
	pass, err := b.beginPass(target, color, depth)
	if err != nil {
		return fmt.Errorf("draw %s: %w", cmd.Label, err)
	}

	pass.SetPipeline(rp)
	for i, g := range groups {
		pass.SetBindGroup(uint32(i), g, nil)
	}
	for slot, buf := range vertexBuffers {
		pass.SetVertexBuffer(uint32(slot), buf, 0, wgpu.WholeSize)
	}

	instances := max(cmd.InstanceCount, 1)
	switch {
	case p.desc.Kind.Fullscreen():
		pass.Draw(3, 1, 0, 0)
	case indexBuffer != nil:
		pass.SetIndexBuffer(indexBuffer, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		pass.DrawIndexed(cmd.IndexCount, instances, 0, 0, 0)
	default:
		pass.Draw(cmd.VertexCount, instances, 0, 0)
	}
	return nil
}

// bindGroups creates the bind groups of one draw from its uniform data and texture bindings.
// Uniform buffers and bind groups are released once the frame is submitted.
func (b *wgpuBackend) bindGroups(p *wgpuProgram, cmd *DrawCommand) ([]*wgpu.BindGroup, error) {
	uniforms := make(map[[2]uint32][]byte, len(cmd.Uniforms))
	for _, u := range cmd.Uniforms {
		uniforms[[2]uint32{u.Group, u.Binding}] = u.Data
	}
	textures := make(map[[2]uint32]common.TextureHandle, len(cmd.Textures))
	for _, t := range cmd.Textures {
		textures[[2]uint32{t.Group, t.Binding}] = t.Texture
	}

	out := make([]*wgpu.BindGroup, len(p.groups))
	for g, desc := range p.groupDescs {
		group := uint32(g)
		entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
		for _, e := range desc.Entries {
			key := [2]uint32{group, e.Binding}
			switch {
			case e.Buffer != nil:
				data, ok := uniforms[key]
				if !ok {
					return nil, fmt.Errorf("no uniform data for group %d binding %d", group, e.Binding)
				}
				buf, err := b.newBuffer(fmt.Sprintf("%s Uniform %d.%d", cmd.Label, group, e.Binding), wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, data, 16)
				if err != nil {
					return nil, err
				}
				b.transient = append(b.transient, buf.Release)
				entries = append(entries, wgpu.BindGroupEntry{
					Binding: e.Binding,
					Buffer:  buf,
					Offset:  0,
					Size:    wgpu.WholeSize,
				})
			case e.Texture != nil:
				h, ok := textures[key]
				if !ok {
					return nil, fmt.Errorf("no texture bound to group %d binding %d", group, e.Binding)
				}
				t, err := b.texture(h, e.Texture.SampleType == gputypes.TextureSampleTypeDepth)
				if err != nil {
					return nil, err
				}
				entries = append(entries, wgpu.BindGroupEntry{
					Binding:     e.Binding,
					TextureView: t.view,
				})
			case e.Sampler != nil:
				sampler := b.linear
				if e.Sampler.Type == gputypes.SamplerBindingTypeComparison {
					sampler = b.comparison
				}
				entries = append(entries, wgpu.BindGroupEntry{
					Binding: e.Binding,
					Sampler: sampler,
				})
			}
		}

		bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   desc.Label,
			Layout:  p.groups[g],
			Entries: entries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bind group %d: %w", group, err)
		}
		b.transient = append(b.transient, bg.Release)
		out[g] = bg
	}
	return out, nil
}

func (b *wgpuBackend) frameEncoder() (*wgpu.CommandEncoder, error) {
	if b.encoder != nil {
		return b.encoder, nil
	}
	enc, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	b.encoder = enc
	return enc, nil
}

// beginPass returns the open render pass when it already renders into target, or ends it and
// opens a new one that loads the existing attachment contents.
func (b *wgpuBackend) beginPass(target Target, color, depth *wgpuTexture) (*wgpu.RenderPassEncoder, error) {
	if b.pass != nil && b.passTarget == target {
		return b.pass, nil
	}
	b.endPass()

	enc, err := b.frameEncoder()
	if err != nil {
		return nil, err
	}
	desc := &wgpu.RenderPassDescriptor{}
	if color != nil {
		desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
			View:    color.view,
			LoadOp:  wgpu.LoadOpLoad,
			StoreOp: wgpu.StoreOpStore,
		}}
	}
	if depth != nil {
		desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:         depth.view,
			DepthLoadOp:  wgpu.LoadOpLoad,
			DepthStoreOp: wgpu.StoreOpStore,
		}
	}
	b.pass = enc.BeginRenderPass(desc)
	b.passTarget = target
	return b.pass, nil
}

func (b *wgpuBackend) endPass() {
	if b.pass == nil {
		return
	}
	b.pass.End()
	b.pass.Release()
	b.pass = nil
	b.passTarget = Target{}
}

func (b *wgpuBackend) Present(color common.TextureHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := b.texture(color, false)
	if err != nil {
		b.discardFrame()
		return fmt.Errorf("present: %w", err)
	}
	b.endPass()

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		b.discardFrame()
		return fmt.Errorf("present: failed to acquire surface texture: %w", err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		b.discardFrame()
		return fmt.Errorf("present: %w", err)
	}
	defer surfaceTexture.Release()
	defer view.Release()

	enc, err := b.frameEncoder()
	if err != nil {
		b.discardFrame()
		return fmt.Errorf("present: %w", err)
	}

	rp, err := b.pipelineFor(b.blit, DrawParameters{CullMode: gputypes.CullModeNone})
	if err != nil {
		b.discardFrame()
		return fmt.Errorf("present: %w", err)
	}
	bg, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Surface Blit Group",
		Layout: b.blit.groups[0],
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: src.view},
			{Binding: 1, Sampler: b.linear},
		},
	})
	if err != nil {
		b.discardFrame()
		return fmt.Errorf("present: failed to create blit bind group: %w", err)
	}
	b.transient = append(b.transient, bg.Release)

	pass := enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{A: 1},
		}},
	})
	pass.SetPipeline(rp)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()
	pass.Release()

	commandBuffer, err := enc.Finish(nil)
	if err != nil {
		b.discardFrame()
		return fmt.Errorf("present: failed to finish frame: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	b.surface.Present()

	b.encoder.Release()
	b.encoder = nil
	b.releaseTransient()
	return nil
}

func (b *wgpuBackend) DiscardFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encoder != nil {
		logger.Logger().Debug("frame discarded", "backend", BackendTypeWGPU)
	}
	b.discardFrame()
}

// discardFrame drops everything recorded since the last Present.
func (b *wgpuBackend) discardFrame() {
	b.endPass()
	if b.encoder != nil {
		b.encoder.Release()
		b.encoder = nil
	}
	b.releaseTransient()
}

func (b *wgpuBackend) releaseTransient() {
	for _, release := range b.transient {
		release()
	}
	b.transient = b.transient[:0]
}

func (b *wgpuBackend) Resize(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encoder != nil {
		return fmt.Errorf("resize: a frame is being recorded")
	}
	if err := b.configureSurface(width, height); err != nil {
		return err
	}
	logger.Logger().Info("surface resized", "backend", BackendTypeWGPU, "width", width, "height", height)
	return nil
}

func (b *wgpuBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.discardFrame()
	for h, p := range b.programs {
		p.release()
		delete(b.programs, h)
	}
	if b.blit != nil {
		b.blit.release()
		b.blit = nil
	}
	for h, buf := range b.buffers {
		buf.buffer.Release()
		delete(b.buffers, h)
	}
	for h, t := range b.textures {
		t.view.Release()
		t.texture.Release()
		delete(b.textures, h)
	}
	if b.linear != nil {
		b.linear.Release()
		b.linear = nil
	}
	if b.comparison != nil {
		b.comparison.Release()
		b.comparison = nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

// texture looks up a texture and checks that it is the expected kind of attachment.
func (b *wgpuBackend) texture(h common.TextureHandle, depth bool) (*wgpuTexture, error) {
	t, ok := b.textures[h]
	if !ok {
		return nil, fmt.Errorf("unknown texture %d", h)
	}
	if IsDepthFormat(t.desc.Format) != depth {
		kind := "color"
		if depth {
			kind = "depth"
		}
		return nil, fmt.Errorf("texture %s is not a %s texture", t.desc.Label, kind)
	}
	return t, nil
}
