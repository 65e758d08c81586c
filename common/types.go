// package common contains common types that are used throughout this module. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

// Vec2 is a two-component float32 vector. It encodes as a WGSL vec2<f32>.
type Vec2 [2]float32

// Vec3 is a three-component float32 vector. It encodes as a WGSL vec3<f32>.
type Vec3 [3]float32

// Vec4 is a four-component float32 vector. It encodes as a WGSL vec4<f32>.
type Vec4 [4]float32

// Mat4 is a 4x4 float32 matrix stored in column-major order. It encodes as a WGSL mat4x4<f32>.
type Mat4 [16]float32

// BufferHandle is an opaque reference to a GPU buffer owned by a renderer backend.
// The zero value never refers to a live buffer.
type BufferHandle uint64

// TextureHandle is an opaque reference to a GPU texture owned by a renderer backend.
// The zero value never refers to a live texture.
type TextureHandle uint64

// ShaderHandle is an opaque reference to a compiled shader program owned by a renderer backend.
// The zero value never refers to a live program.
type ShaderHandle uint64

// Identity4 returns a new identity matrix.
//
// Returns:
//   - Mat4: the 4x4 identity matrix
func Identity4() Mat4 {
	var m Mat4
	Identity(m[:])
	return m
}

// White is the opaque white color used as the default instance color.
var White = Vec4{1, 1, 1, 1}
