package renderer

import (
	"encoding/binary"
	"fmt"
	"image"
	"sync"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/logger"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	xdraw "golang.org/x/image/draw"
)

// swProgram is a compiled software program. Software programs are executed by kind; the shader
// reflection tells the backend where each named input lives.
type swProgram struct {
	desc ProgramDescriptor
}

type swBuffer struct {
	label string
	usage BufferUsage
	data  []byte
}

type swTexture struct {
	desc  TextureDescriptor
	color *image.RGBA
	depth []float32
}

// softwareBackend is the implementation of the SoftwareBackend interface.
type softwareBackend struct {
	mu       *sync.Mutex
	limits   gputypes.Limits
	width    int
	height   int
	validate bool

	next     uint64
	programs map[common.ShaderHandle]*swProgram
	buffers  map[common.BufferHandle]*swBuffer
	textures map[common.TextureHandle]*swTexture

	frame   *image.RGBA
	drawLog []DrawCommand
}

// SoftwareBackend is a Backend that rasterizes on the CPU into image.RGBA targets. It executes
// the same draw commands as a GPU backend and exposes the resulting pixels, which makes it the
// backend of choice for tests and offscreen rendering.
type SoftwareBackend interface {
	Backend

	// Snapshot copies the pixels of a color texture.
	//
	// Parameters:
	//   - h: the color texture to copy
	//
	// Returns:
	//   - *image.RGBA: a copy of the texture contents
	//   - error: an error if h is unknown or not a color texture
	Snapshot(h common.TextureHandle) (*image.RGBA, error)

	// DepthSnapshot copies the values of a depth texture in row-major order.
	//
	// Parameters:
	//   - h: the depth texture to copy
	//
	// Returns:
	//   - []float32: a copy of the depth values
	//   - error: an error if h is unknown or not a depth texture
	DepthSnapshot(h common.TextureHandle) ([]float32, error)

	// Frame returns a copy of the last presented frame, sized to the surface.
	//
	// Returns:
	//   - *image.RGBA: the presented frame, or nil before the first Present
	Frame() *image.RGBA

	// BufferData copies the contents of a buffer.
	//
	// Parameters:
	//   - h: the buffer to copy
	//
	// Returns:
	//   - []byte: a copy of the buffer contents
	//   - error: an error if h is unknown
	BufferData(h common.BufferHandle) ([]byte, error)

	// DrawLog returns the draws executed since the last ResetDrawLog, in submission order.
	//
	// Returns:
	//   - []DrawCommand: the executed draws
	DrawLog() []DrawCommand

	// ResetDrawLog clears the draw log.
	ResetDrawLog()
}

var _ SoftwareBackend = &softwareBackend{}

// NewSoftwareBackend creates a software backend with a 1280x720 surface and the default limits.
//
// Parameters:
//   - opts: options configuring the surface size, limits and shader validation
//
// Returns:
//   - SoftwareBackend: the new backend
func NewSoftwareBackend(opts ...SoftwareBackendOption) SoftwareBackend {
	b := &softwareBackend{
		mu:       &sync.Mutex{},
		limits:   gputypes.DefaultLimits(),
		width:    1280,
		height:   720,
		programs: make(map[common.ShaderHandle]*swProgram),
		buffers:  make(map[common.BufferHandle]*swBuffer),
		textures: make(map[common.TextureHandle]*swTexture),
	}
	for _, opt := range opts {
		opt(b)
	}
	logger.Logger().Info("renderer backend created", "backend", BackendTypeSoftware, "width", b.width, "height", b.height)
	return b
}

func (b *softwareBackend) Limits() gputypes.Limits {
	return b.limits
}

func (b *softwareBackend) CompileShader(desc ProgramDescriptor) (common.ShaderHandle, error) {
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
	b.next++
	h := common.ShaderHandle(b.next)
	b.programs[h] = &swProgram{desc: desc}
	logger.Logger().Debug("program compiled", "label", desc.Label, "kind", desc.Kind, "handle", h)
	return h, nil
}

func (b *softwareBackend) CreateBuffer(label string, usage BufferUsage, data []byte) (common.BufferHandle, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("buffer %s: size must be positive", label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	h := common.BufferHandle(b.next)
	b.buffers[h] = &swBuffer{label: label, usage: usage, data: append([]byte(nil), data...)}
	return h, nil
}

func (b *softwareBackend) WriteBuffer(h common.BufferHandle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		return fmt.Errorf("unknown buffer %d", h)
	}
	if offset+uint64(len(data)) > uint64(len(buf.data)) {
		return fmt.Errorf("buffer %s: write of %d bytes at %d exceeds size %d", buf.label, len(data), offset, len(buf.data))
	}
	copy(buf.data[offset:], data)
	return nil
}

func (b *softwareBackend) ReleaseBuffer(h common.BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, h)
}

func (b *softwareBackend) CreateTexture(desc TextureDescriptor) (common.TextureHandle, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return 0, fmt.Errorf("texture %s: invalid size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if uint32(desc.Width) > b.limits.MaxTextureDimension2D || uint32(desc.Height) > b.limits.MaxTextureDimension2D {
		return 0, fmt.Errorf("texture %s: size %dx%d exceeds the %d texel limit", desc.Label, desc.Width, desc.Height, b.limits.MaxTextureDimension2D)
	}

	t := &swTexture{desc: desc}
	if IsDepthFormat(desc.Format) {
		t.depth = make([]float32, desc.Width*desc.Height)
		for i := range t.depth {
			t.depth[i] = 1
		}
	} else {
		t.color = image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	h := common.TextureHandle(b.next)
	b.textures[h] = t
	return h, nil
}

func (b *softwareBackend) ReleaseTexture(h common.TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.textures, h)
}

func (b *softwareBackend) Clear(target Target, color gputypes.Color, depth float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if target.Color != 0 {
		t, err := b.colorTexture(target.Color)
		if err != nil {
			return err
		}
		c := common.Vec4{float32(color.R), float32(color.G), float32(color.B), float32(color.A)}
		var px [4]uint8
		writePixel(px[:], c)
		for i := 0; i < len(t.color.Pix); i += 4 {
			copy(t.color.Pix[i:i+4], px[:])
		}
	}
	if target.Depth != 0 {
		t, err := b.depthTexture(target.Depth)
		if err != nil {
			return err
		}
		for i := range t.depth {
			t.depth[i] = depth
		}
	}
	return nil
}

func (b *softwareBackend) Draw(cmd DrawCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.programs[cmd.Program]
	if !ok {
		return fmt.Errorf("draw %s: unknown program %d", cmd.Label, cmd.Program)
	}

	var color, depth *swTexture
	var err error
	if cmd.Target.Color != 0 && p.desc.ColorFormat != gputypes.TextureFormatUndefined {
		if color, err = b.colorTexture(cmd.Target.Color); err != nil {
			return fmt.Errorf("draw %s: %w", cmd.Label, err)
		}
	}
	if cmd.Target.Depth != 0 && p.desc.DepthFormat != gputypes.TextureFormatUndefined {
		if depth, err = b.depthTexture(cmd.Target.Depth); err != nil {
			return fmt.Errorf("draw %s: %w", cmd.Label, err)
		}
	}
	if color == nil && depth == nil {
		return fmt.Errorf("draw %s: target has no attachment for program %s", cmd.Label, p.desc.Label)
	}
	if color != nil && depth != nil && (color.desc.Width != depth.desc.Width || color.desc.Height != depth.desc.Height) {
		return fmt.Errorf("draw %s: color %dx%d and depth %dx%d attachments differ in size",
			cmd.Label, color.desc.Width, color.desc.Height, depth.desc.Width, depth.desc.Height)
	}

	buffers := make([][]byte, len(cmd.VertexBuffers))
	for i, h := range cmd.VertexBuffers {
		buf, ok := b.buffers[h]
		if !ok {
			return fmt.Errorf("draw %s: unknown vertex buffer %d", cmd.Label, h)
		}
		buffers[i] = buf.data
	}
	if len(buffers) < len(p.desc.VertexLayouts) {
		return fmt.Errorf("draw %s: program %s needs %d vertex buffers, got %d", cmd.Label, p.desc.Label, len(p.desc.VertexLayouts), len(buffers))
	}

	in, err := newSWInputs(p, &cmd, buffers)
	if err != nil {
		return fmt.Errorf("draw %s: %w", cmd.Label, err)
	}

	if p.desc.Kind.Fullscreen() {
		if color == nil {
			return fmt.Errorf("draw %s: %s needs a color attachment", cmd.Label, p.desc.Kind)
		}
		err = b.drawFullscreen(p, in, color)
	} else {
		err = b.drawMesh(p, &cmd, in, color, depth)
	}
	if err != nil {
		return fmt.Errorf("draw %s: %w", cmd.Label, err)
	}

	b.drawLog = append(b.drawLog, cmd)
	return nil
}

func (b *softwareBackend) drawMesh(p *swProgram, cmd *DrawCommand, in *swInputs, color, depth *swTexture) error {
	var indices []uint32
	count := cmd.VertexCount
	if cmd.IndexBuffer != 0 {
		buf, ok := b.buffers[cmd.IndexBuffer]
		if !ok {
			return fmt.Errorf("unknown index buffer %d", cmd.IndexBuffer)
		}
		if uint64(cmd.IndexCount)*4 > uint64(len(buf.data)) {
			return fmt.Errorf("index count %d exceeds index buffer %s", cmd.IndexCount, buf.label)
		}
		indices = make([]uint32, cmd.IndexCount)
		for i := range indices {
			indices[i] = binary.LittleEndian.Uint32(buf.data[i*4:])
		}
		count = cmd.IndexCount
	}

	r := &swRaster{params: cmd.Params}
	if color != nil {
		r.color, r.width, r.height = color.color, color.desc.Width, color.desc.Height
	}
	if depth != nil {
		r.depth, r.width, r.height = depth.depth, depth.desc.Width, depth.desc.Height
	}

	shading, err := b.newShading(p, in)
	if err != nil {
		return err
	}
	r.fragment = shading.fragment

	for instance := uint32(0); instance < max(cmd.InstanceCount, 1); instance++ {
		cache := make(map[uint32]swVertex)
		vertex := func(i uint32) (swVertex, error) {
			index := i
			if indices != nil {
				index = indices[i]
			}
			if v, ok := cache[index]; ok {
				return v, nil
			}
			v, err := shading.vertex(index, instance)
			if err != nil {
				return swVertex{}, err
			}
			cache[index] = v
			return v, nil
		}

		if err := assemble(p.desc.Topology, count, vertex, r); err != nil {
			return err
		}
	}
	return nil
}

// assemble walks the primitives of a draw and rasterizes them.
func assemble(topology gputypes.PrimitiveTopology, count uint32, vertex func(uint32) (swVertex, error), r *swRaster) error {
	fetch := func(ids ...uint32) ([]swVertex, error) {
		out := make([]swVertex, len(ids))
		for i, id := range ids {
			v, err := vertex(id)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	switch topology {
	case gputypes.PrimitiveTopologyTriangleStrip:
		for i := uint32(0); i+2 < count; i++ {
			ids := []uint32{i, i + 1, i + 2}
			if i%2 == 1 {
				ids[0], ids[1] = ids[1], ids[0]
			}
			v, err := fetch(ids...)
			if err != nil {
				return err
			}
			r.triangle(v[0], v[1], v[2])
		}
	case gputypes.PrimitiveTopologyLineList:
		for i := uint32(0); i+1 < count; i += 2 {
			v, err := fetch(i, i+1)
			if err != nil {
				return err
			}
			r.line(v[0], v[1])
		}
	case gputypes.PrimitiveTopologyLineStrip:
		for i := uint32(0); i+1 < count; i++ {
			v, err := fetch(i, i+1)
			if err != nil {
				return err
			}
			r.line(v[0], v[1])
		}
	case gputypes.PrimitiveTopologyPointList:
		for i := uint32(0); i < count; i++ {
			v, err := fetch(i)
			if err != nil {
				return err
			}
			r.line(v[0], v[0])
		}
	default:
		for i := uint32(0); i+2 < count; i += 3 {
			v, err := fetch(i, i+1, i+2)
			if err != nil {
				return err
			}
			r.triangle(v[0], v[1], v[2])
		}
	}
	return nil
}

func (b *softwareBackend) Present(color common.TextureHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.colorTexture(color)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	frame := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	if t.desc.Width == b.width && t.desc.Height == b.height {
		copy(frame.Pix, t.color.Pix)
	} else {
		xdraw.BiLinear.Scale(frame, frame.Bounds(), t.color, t.color.Bounds(), xdraw.Src, nil)
	}
	b.frame = frame
	return nil
}

// DiscardFrame is a no-op: draws are rasterized as they are issued and nothing is queued.
func (b *softwareBackend) DiscardFrame() {}

func (b *softwareBackend) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
	logger.Logger().Info("surface resized", "backend", BackendTypeSoftware, "width", width, "height", height)
	return nil
}

func (b *softwareBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.programs)
	clear(b.buffers)
	clear(b.textures)
	b.drawLog = nil
}

func (b *softwareBackend) Snapshot(h common.TextureHandle) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.colorTexture(h)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(t.color.Rect)
	copy(out.Pix, t.color.Pix)
	return out, nil
}

func (b *softwareBackend) DepthSnapshot(h common.TextureHandle) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.depthTexture(h)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), t.depth...), nil
}

func (b *softwareBackend) Frame() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return nil
	}
	out := image.NewRGBA(b.frame.Rect)
	copy(out.Pix, b.frame.Pix)
	return out
}

func (b *softwareBackend) BufferData(h common.BufferHandle) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		return nil, fmt.Errorf("unknown buffer %d", h)
	}
	return append([]byte(nil), buf.data...), nil
}

func (b *softwareBackend) DrawLog() []DrawCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DrawCommand(nil), b.drawLog...)
}

func (b *softwareBackend) ResetDrawLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drawLog = nil
}

func (b *softwareBackend) colorTexture(h common.TextureHandle) (*swTexture, error) {
	t, ok := b.textures[h]
	if !ok {
		return nil, fmt.Errorf("unknown texture %d", h)
	}
	if t.color == nil {
		return nil, fmt.Errorf("texture %s is not a color texture", t.desc.Label)
	}
	return t, nil
}

func (b *softwareBackend) depthTexture(h common.TextureHandle) (*swTexture, error) {
	t, ok := b.textures[h]
	if !ok {
		return nil, fmt.Errorf("unknown texture %d", h)
	}
	if t.depth == nil {
		return nil, fmt.Errorf("texture %s is not a depth texture", t.desc.Label)
	}
	return t, nil
}

// IsDepthFormat reports whether a texture format is a depth or depth-stencil format.
//
// Parameters:
//   - f: the texture format
//
// Returns:
//   - bool: true for depth formats
func IsDepthFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth16Unorm, gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return true
	default:
		return false
	}
}
