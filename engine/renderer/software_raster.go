package renderer

import (
	"image"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
)

// Varying slots interpolated across primitives.
const (
	varyWorld  = 0
	varyNormal = 3
	varyColor  = 6
	varyLight  = 10
	varyCount  = 14
)

// clipEpsilon keeps clipped vertices strictly in front of the eye.
const clipEpsilon = 1e-6

type swVertex struct {
	clip common.Vec4
	vary [varyCount]float32
}

// swFragment shades one fragment from its interpolated varyings. Returning false discards it.
type swFragment func(vary *[varyCount]float32) (common.Vec4, bool)

// swRaster scan-converts primitives into a color and depth attachment. Either attachment may be
// absent.
type swRaster struct {
	color    *image.RGBA
	depth    []float32
	width    int
	height   int
	params   DrawParameters
	fragment swFragment
}

type screenVertex struct {
	x, y, z float32
	invW    float32
}

func lerpVertex(a, b swVertex, t float32) swVertex {
	var out swVertex
	for i := range out.clip {
		out.clip[i] = a.clip[i] + (b.clip[i]-a.clip[i])*t
	}
	for i := range out.vary {
		out.vary[i] = a.vary[i] + (b.vary[i]-a.vary[i])*t
	}
	return out
}

// clipPolygon clips a convex polygon against the near (z >= 0) and far (z <= w) planes of the
// clip volume.
func clipPolygon(poly []swVertex) []swVertex {
	planes := []func(v swVertex) float32{
		func(v swVertex) float32 { return v.clip[2] - clipEpsilon*v.clip[3] },
		func(v swVertex) float32 { return v.clip[3] - v.clip[2] },
		func(v swVertex) float32 { return v.clip[3] - clipEpsilon },
	}
	for _, dist := range planes {
		if len(poly) == 0 {
			return nil
		}
		out := make([]swVertex, 0, len(poly)+2)
		for i := range poly {
			cur, next := poly[i], poly[(i+1)%len(poly)]
			dc, dn := dist(cur), dist(next)
			if dc >= 0 {
				out = append(out, cur)
			}
			if (dc >= 0) != (dn >= 0) {
				out = append(out, lerpVertex(cur, next, dc/(dc-dn)))
			}
		}
		poly = out
	}
	return poly
}

func (r *swRaster) project(v swVertex) screenVertex {
	invW := 1 / v.clip[3]
	return screenVertex{
		x:    (v.clip[0]*invW*0.5 + 0.5) * float32(r.width),
		y:    (0.5 - v.clip[1]*invW*0.5) * float32(r.height),
		z:    v.clip[2] * invW,
		invW: invW,
	}
}

func (r *swRaster) triangle(a, b, c swVertex) {
	poly := clipPolygon([]swVertex{a, b, c})
	for i := 1; i+1 < len(poly); i++ {
		r.fill(poly[0], poly[i], poly[i+1])
	}
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func (r *swRaster) fill(v0, v1, v2 swVertex) {
	s0, s1, s2 := r.project(v0), r.project(v1), r.project(v2)
	area := edge(s0.x, s0.y, s1.x, s1.y, s2.x, s2.y)
	if area == 0 {
		return
	}

	// screen space flips y, so a counter-clockwise triangle in NDC has negative area here
	front := area < 0
	if r.params.FrontFace == gputypes.FrontFaceCW {
		front = !front
	}
	switch r.params.CullMode {
	case gputypes.CullModeBack:
		if !front {
			return
		}
	case gputypes.CullModeFront:
		if front {
			return
		}
	}

	dzdx := ((s1.z-s0.z)*(s2.y-s0.y) - (s2.z-s0.z)*(s1.y-s0.y)) / area
	dzdy := ((s2.z-s0.z)*(s1.x-s0.x) - (s1.z-s0.z)*(s2.x-s0.x)) / area
	bias := float32(r.params.DepthBias)/(1<<24) + r.params.DepthBiasSlopeScale*math32.Max(math32.Abs(dzdx), math32.Abs(dzdy))

	minX := max(int(math32.Floor(min(s0.x, s1.x, s2.x))), 0)
	maxX := min(int(math32.Ceil(max(s0.x, s1.x, s2.x))), r.width-1)
	minY := max(int(math32.Floor(min(s0.y, s1.y, s2.y))), 0)
	maxY := min(int(math32.Ceil(max(s0.y, s1.y, s2.y))), r.height-1)

	for y := minY; y <= maxY; y++ {
		py := float32(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float32(x) + 0.5
			b0 := edge(s1.x, s1.y, s2.x, s2.y, px, py) / area
			b1 := edge(s2.x, s2.y, s0.x, s0.y, px, py) / area
			b2 := edge(s0.x, s0.y, s1.x, s1.y, px, py) / area
			if b0 < 0 || b1 < 0 || b2 < 0 {
				continue
			}

			z := b0*s0.z + b1*s1.z + b2*s2.z + bias
			if !r.depthPasses(x, y, z) {
				continue
			}

			p0, p1, p2 := b0*s0.invW, b1*s1.invW, b2*s2.invW
			sum := p0 + p1 + p2
			var vary [varyCount]float32
			for i := range vary {
				vary[i] = (p0*v0.vary[i] + p1*v1.vary[i] + p2*v2.vary[i]) / sum
			}
			r.shade(x, y, z, &vary)
		}
	}
}

func (r *swRaster) line(a, b swVertex) {
	seg := []swVertex{a, b}
	for _, dist := range []func(v swVertex) float32{
		func(v swVertex) float32 { return v.clip[2] - clipEpsilon*v.clip[3] },
		func(v swVertex) float32 { return v.clip[3] - v.clip[2] },
		func(v swVertex) float32 { return v.clip[3] - clipEpsilon },
	} {
		da, db := dist(seg[0]), dist(seg[1])
		switch {
		case da < 0 && db < 0:
			return
		case da < 0:
			seg[0] = lerpVertex(seg[0], seg[1], da/(da-db))
		case db < 0:
			seg[1] = lerpVertex(seg[0], seg[1], da/(da-db))
		}
	}

	s0, s1 := r.project(seg[0]), r.project(seg[1])
	steps := int(math32.Ceil(math32.Max(math32.Abs(s1.x-s0.x), math32.Abs(s1.y-s0.y))))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float32(i) / float32(steps)
		x := int(math32.Floor(s0.x + (s1.x-s0.x)*t))
		y := int(math32.Floor(s0.y + (s1.y-s0.y)*t))
		if x < 0 || y < 0 || x >= r.width || y >= r.height {
			continue
		}
		z := s0.z + (s1.z-s0.z)*t
		if !r.depthPasses(x, y, z) {
			continue
		}
		v := lerpVertex(seg[0], seg[1], t)
		r.shade(x, y, z, &v.vary)
	}
}

func (r *swRaster) depthPasses(x, y int, z float32) bool {
	if z < 0 || z > 1 {
		return false
	}
	if r.depth == nil || !r.params.DepthTest {
		return true
	}
	return compareDepth(r.params.DepthCompare, z, r.depth[y*r.width+x])
}

func (r *swRaster) shade(x, y int, z float32, vary *[varyCount]float32) {
	c, keep := r.fragment(vary)
	if !keep {
		return
	}
	if r.depth != nil && r.params.DepthWrite {
		r.depth[y*r.width+x] = z
	}
	if r.color == nil {
		return
	}
	i := r.color.PixOffset(x, y)
	if r.params.Blend != nil {
		c = blendColor(r.params.Blend, c, readPixel(r.color.Pix[i:i+4]))
	}
	writePixel(r.color.Pix[i:i+4], c)
}

func compareDepth(fn gputypes.CompareFunction, ref, stored float32) bool {
	switch fn {
	case gputypes.CompareFunctionNever:
		return false
	case gputypes.CompareFunctionEqual:
		return ref == stored
	case gputypes.CompareFunctionLessEqual:
		return ref <= stored
	case gputypes.CompareFunctionGreater:
		return ref > stored
	case gputypes.CompareFunctionNotEqual:
		return ref != stored
	case gputypes.CompareFunctionGreaterEqual:
		return ref >= stored
	case gputypes.CompareFunctionAlways:
		return true
	default:
		return ref < stored
	}
}

func readPixel(p []uint8) common.Vec4 {
	return common.Vec4{float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255, float32(p[3]) / 255}
}

func writePixel(p []uint8, c common.Vec4) {
	for i := range 4 {
		p[i] = uint8(common.Clamp(c[i], 0, 1)*255 + 0.5)
	}
}

func blendColor(bs *gputypes.BlendState, src, dst common.Vec4) common.Vec4 {
	var out common.Vec4
	for i := range 4 {
		comp := bs.Color
		if i == 3 {
			comp = bs.Alpha
		}
		sf := blendFactor(comp.SrcFactor, gputypes.BlendFactorOne, src, dst, i)
		df := blendFactor(comp.DstFactor, gputypes.BlendFactorZero, src, dst, i)
		s, d := src[i]*sf, dst[i]*df
		switch comp.Operation {
		case gputypes.BlendOperationSubtract:
			out[i] = s - d
		case gputypes.BlendOperationReverseSubtract:
			out[i] = d - s
		case gputypes.BlendOperationMin:
			out[i] = min(src[i], dst[i])
		case gputypes.BlendOperationMax:
			out[i] = max(src[i], dst[i])
		default:
			out[i] = s + d
		}
	}
	return out
}

func blendFactor(f, undefined gputypes.BlendFactor, src, dst common.Vec4, channel int) float32 {
	if f == gputypes.BlendFactorUndefined {
		f = undefined
	}
	switch f {
	case gputypes.BlendFactorZero:
		return 0
	case gputypes.BlendFactorSrc:
		return src[channel]
	case gputypes.BlendFactorOneMinusSrc:
		return 1 - src[channel]
	case gputypes.BlendFactorSrcAlpha:
		return src[3]
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return 1 - src[3]
	case gputypes.BlendFactorDst:
		return dst[channel]
	case gputypes.BlendFactorOneMinusDst:
		return 1 - dst[channel]
	case gputypes.BlendFactorDstAlpha:
		return dst[3]
	case gputypes.BlendFactorOneMinusDstAlpha:
		return 1 - dst[3]
	case gputypes.BlendFactorSrcAlphaSaturated:
		if channel == 3 {
			return 1
		}
		return min(src[3], 1-dst[3])
	case gputypes.BlendFactorConstant:
		return 0
	default:
		return 1
	}
}
