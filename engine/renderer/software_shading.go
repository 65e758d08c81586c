package renderer

import (
	"fmt"
	"image"
	"image/color"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/fcolor"
	"github.com/chewxy/math32"
	xdraw "golang.org/x/image/draw"
)

// pointLightKind is the light_kind value of point lights; every other value is directional.
const pointLightKind = 1

// swShading is the vertex and fragment stage of a mesh program bound to the inputs of one draw.
type swShading struct {
	vertex   func(index, instance uint32) (swVertex, error)
	fragment swFragment
}

// swFrame holds the frame uniforms a mesh program reads, resolved once per draw.
type swFrame struct {
	viewProj      common.Mat4
	lightViewProj common.Mat4
	lightPosition common.Vec3
	lightDir      common.Vec3
	lightKind     uint32
	lightColor    common.Vec3
	attenuation   common.Vec3
	ambient       common.Vec3
	shadowBias    float32
	shadowRadius  int
	shadowMap     *swTexture
}

func (b *softwareBackend) readFrame(in *swInputs) swFrame {
	f := swFrame{
		viewProj:      common.Identity4(),
		lightViewProj: common.Identity4(),
		lightColor:    common.Vec3{1, 1, 1},
		attenuation:   common.Vec3{1, 0, 0},
	}
	if m, ok := in.uniformMat4("view_proj"); ok {
		f.viewProj = m
	}
	if m, ok := in.uniformMat4("light_view_proj"); ok {
		f.lightViewProj = m
	}
	if v, ok := in.uniformVec3("light_position"); ok {
		f.lightPosition = v
	}
	if v, ok := in.uniformVec3("light_direction"); ok {
		f.lightDir = v
	}
	if v, ok := in.uniformVec3("light_color"); ok {
		f.lightColor = v
	}
	if v, ok := in.uniformVec3("light_attenuation"); ok {
		f.attenuation = v
	}
	if v, ok := in.uniformVec3("ambient"); ok {
		f.ambient = v
	}
	f.lightKind = in.uniformUint("light_kind")
	f.shadowBias = in.uniformFloat("shadow_bias", 0)
	f.shadowRadius = int(int32(in.uniformUint("shadow_radius")))

	if in.uniformUint("shadows_enabled") != 0 {
		if h, ok := in.texture("shadow_map"); ok {
			if t, ok := b.textures[h]; ok && t.depth != nil {
				f.shadowMap = t
			}
		}
	}
	return f
}

func (b *softwareBackend) newShading(p *swProgram, in *swInputs) (*swShading, error) {
	if _, ok := in.attrs["position"]; !ok {
		return nil, fmt.Errorf("program %s reads no position input", p.desc.Label)
	}
	frame := b.readFrame(in)

	position := func(index, instance uint32) (common.Vec4, common.Mat4, error) {
		pos, ok := in.vertexVec3("position", index)
		if !ok {
			return common.Vec4{}, common.Mat4{}, fmt.Errorf("vertex %d is out of range of the vertex buffer", index)
		}
		model := in.recordMat4("model", instance)
		return model.Transform(common.Vec4{pos[0], pos[1], pos[2], 1}), model, nil
	}

	s := &swShading{}
	switch p.desc.Kind {
	case ProgramShadowDepth:
		s.vertex = func(index, instance uint32) (swVertex, error) {
			world, _, err := position(index, instance)
			if err != nil {
				return swVertex{}, err
			}
			return swVertex{clip: frame.lightViewProj.Transform(world)}, nil
		}
		s.fragment = func(*[varyCount]float32) (common.Vec4, bool) {
			return common.Vec4{}, true
		}

	case ProgramLit:
		s.vertex = func(index, instance uint32) (swVertex, error) {
			world, model, err := position(index, instance)
			if err != nil {
				return swVertex{}, err
			}
			v := swVertex{clip: frame.viewProj.Transform(world)}
			copy(v.vary[varyWorld:], world[:3])
			if n, ok := in.vertexVec3("normal", index); ok {
				wn := model.TransformDirection(n)
				copy(v.vary[varyNormal:], wn[:])
			}
			c := in.recordVec4("color", instance, common.White)
			copy(v.vary[varyColor:], c[:])
			lc := frame.lightViewProj.Transform(world)
			copy(v.vary[varyLight:], lc[:])
			return v, nil
		}
		s.fragment = frame.lit

	default:
		s.vertex = func(index, instance uint32) (swVertex, error) {
			world, _, err := position(index, instance)
			if err != nil {
				return swVertex{}, err
			}
			v := swVertex{clip: frame.viewProj.Transform(world)}
			c := in.recordVec4("color", instance, common.White)
			if vc, ok := in.attribute("vertex_color", index, instance); ok && len(vc) == 4 {
				for i := range c {
					c[i] *= vc[i]
				}
			}
			copy(v.vary[varyColor:], c[:])
			return v, nil
		}
		s.fragment = func(vary *[varyCount]float32) (common.Vec4, bool) {
			return common.Vec4{vary[varyColor], vary[varyColor+1], vary[varyColor+2], vary[varyColor+3]}, true
		}
	}
	return s, nil
}

// lit shades a fragment with ambient plus diffuse light from the main light, attenuated by
// distance for point lights and by the percentage-closer shadow factor.
func (f swFrame) lit(vary *[varyCount]float32) (common.Vec4, bool) {
	world := common.Vec3{vary[varyWorld], vary[varyWorld+1], vary[varyWorld+2]}
	n := common.Normalize3(common.Vec3{vary[varyNormal], vary[varyNormal+1], vary[varyNormal+2]})

	var l common.Vec3
	atten := float32(1)
	if f.lightKind == pointLightKind {
		d := common.Sub3(f.lightPosition, world)
		dist := common.Length3(d)
		l = common.Normalize3(d)
		if denom := f.attenuation[0] + f.attenuation[1]*dist + f.attenuation[2]*dist*dist; denom > 0 {
			atten = 1 / denom
		}
	} else {
		l = common.Normalize3(common.Vec3{-f.lightDir[0], -f.lightDir[1], -f.lightDir[2]})
	}
	diffuse := math32.Max(common.Dot3(n, l), 0)

	shadow := float32(1)
	if f.shadowMap != nil && diffuse > 0 {
		if w := vary[varyLight+3]; w > 0 {
			uv := common.Vec2{vary[varyLight]/w*0.5 + 0.5, 0.5 - vary[varyLight+1]/w*0.5}
			ref := vary[varyLight+2]/w - f.shadowBias
			sm := f.shadowMap
			shadow = ShadowFactor(sm.depth, sm.desc.Width, sm.desc.Height, uv, ref, f.shadowRadius)
		}
	}

	var out common.Vec4
	for i := range 3 {
		light := f.ambient[i] + f.lightColor[i]*diffuse*atten*shadow
		out[i] = vary[varyColor+i] * light
	}
	out[3] = vary[varyColor+3]
	return out, true
}

// ShadowFactor computes the percentage-closer filtered visibility of a point against a shadow
// depth map. The (2r+1)² texels around uv are compared with ref; a texel lights the point when
// ref is less than the stored depth. Texel coordinates are clamped to the map edge, and points
// outside the map or beyond the far plane are fully lit. A radius of zero is a single
// comparison sample.
//
// Parameters:
//   - depth: the depth map in row-major order
//   - width: the depth map width in texels
//   - height: the depth map height in texels
//   - uv: the texture coordinate of the point, origin at the top left
//   - ref: the biased depth of the point in light space
//   - radius: the filter radius in texels; negative values are treated as zero
//
// Returns:
//   - float32: the lit fraction in [0, 1]
func ShadowFactor(depth []float32, width, height int, uv common.Vec2, ref float32, radius int) float32 {
	if width <= 0 || height <= 0 || len(depth) < width*height {
		return 1
	}
	if uv[0] < 0 || uv[0] > 1 || uv[1] < 0 || uv[1] > 1 || ref > 1 {
		return 1
	}
	radius = max(radius, 0)

	cx := common.Clamp(int(uv[0]*float32(width)), 0, width-1)
	cy := common.Clamp(int(uv[1]*float32(height)), 0, height-1)
	lit := 0
	for dy := -radius; dy <= radius; dy++ {
		y := common.Clamp(cy+dy, 0, height-1)
		for dx := -radius; dx <= radius; dx++ {
			x := common.Clamp(cx+dx, 0, width-1)
			if ref < depth[y*width+x] {
				lit++
			}
		}
	}
	side := 2*radius + 1
	return float32(lit) / float32(side*side)
}

func (b *softwareBackend) drawFullscreen(p *swProgram, in *swInputs, target *swTexture) error {
	source := func(name string) (*image.RGBA, error) {
		h, ok := in.texture(name)
		if !ok {
			return nil, fmt.Errorf("program %s: texture %s is not bound", p.desc.Label, name)
		}
		t, err := b.colorTexture(h)
		if err != nil {
			return nil, err
		}
		return t.color, nil
	}

	var out *image.RGBA
	switch p.desc.Kind {
	case ProgramGlowExtract:
		src, err := source("source")
		if err != nil {
			return err
		}
		out = extractBright(src, in.uniformFloat("threshold", 1))
	case ProgramBlur:
		src, err := source("source")
		if err != nil {
			return err
		}
		vertical := false
		if dir, ok := in.uniformFloats("direction", 2); ok {
			vertical = dir[1] != 0
		}
		out = blurAxis(src, int(int32(in.uniformUint("radius"))), vertical)
	case ProgramComposite:
		scene, err := source("scene")
		if err != nil {
			return err
		}
		glow, err := source("glow")
		if err != nil {
			return err
		}
		out = compositeAdd(scene, glow, in.uniformFloat("intensity", 1))
	default:
		return fmt.Errorf("program %s: %s is not a fullscreen program", p.desc.Label, p.desc.Kind)
	}

	if out.Rect.Eq(target.color.Rect) {
		copy(target.color.Pix, out.Pix)
	} else {
		xdraw.BiLinear.Scale(target.color, target.color.Rect, out, out.Rect, xdraw.Src, nil)
	}
	return nil
}

// extractBright keeps the pixels whose luminance exceeds threshold and turns the rest black.
func extractBright(src *image.RGBA, threshold float32) *image.RGBA {
	return adjust.Apply(src, func(c color.RGBA) color.RGBA {
		lum := (0.2126*float32(c.R) + 0.7152*float32(c.G) + 0.0722*float32(c.B)) / 255
		if lum <= threshold {
			return color.RGBA{A: c.A}
		}
		return c
	})
}

// blurAxis applies a one-dimensional gaussian of the given radius along x, or along y when
// vertical is set. Alpha is kept from the source.
func blurAxis(src *image.RGBA, radius int, vertical bool) *image.RGBA {
	if radius <= 0 {
		out := image.NewRGBA(src.Rect)
		copy(out.Pix, src.Pix)
		return out
	}
	size := 2*radius + 1
	k := convolution.NewKernel(size, 1)
	if vertical {
		k = convolution.NewKernel(1, size)
	}
	sigma := math32.Max(float32(radius)/2, 1)
	for i := range size {
		x := float32(i - radius)
		k.Matrix[i] = float64(math32.Exp(-(x * x) / (2 * sigma * sigma)))
	}
	return convolution.Convolve(src, k.Normalized(), &convolution.Options{KeepAlpha: true})
}

// compositeAdd adds glow, scaled by intensity, onto scene. The glow is resampled to the scene
// size first; alpha is kept from the scene.
func compositeAdd(scene, glow *image.RGBA, intensity float32) *image.RGBA {
	if !glow.Rect.Size().Eq(scene.Rect.Size()) {
		scaled := image.NewRGBA(scene.Rect)
		xdraw.BiLinear.Scale(scaled, scaled.Rect, glow, glow.Rect, xdraw.Src, nil)
		glow = scaled
	}
	k := float64(intensity)
	return blend.Blend(scene, glow, func(bg, fg fcolor.RGBAF64) fcolor.RGBAF64 {
		return fcolor.RGBAF64{R: bg.R + fg.R*k, G: bg.G + fg.G*k, B: bg.B + fg.B*k, A: bg.A}
	})
}
