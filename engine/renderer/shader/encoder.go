package shader

import (
	"encoding/binary"
	"math"
	"reflect"
	"slices"

	"github.com/Carmen-Shannon/conduit/common"
)

// Encode encodes a record into the byte layout described by spec. Encoding is deterministic:
// the same value and spec always produce identical bytes, with padding zeroed.
//
// Parameters:
//   - spec: the spec of the record type
//   - value: the record, or a pointer to it
//
// Returns:
//   - []byte: the encoded record, spec.Stride() bytes long
//   - error: ErrFieldTypeMismatch if value is not of the spec's record type
func Encode(spec *InterfaceSpec, value any) ([]byte, error) {
	return AppendEncode(make([]byte, 0, spec.stride), spec, value)
}

// AppendEncode appends the encoding of value to dst. Instance batches are built by appending
// the records of a batch one after another.
//
// Parameters:
//   - dst: the buffer to append to
//   - spec: the spec of the record type
//   - value: the record, or a pointer to it
//
// Returns:
//   - []byte: the extended buffer
//   - error: ErrFieldTypeMismatch if value is not of the spec's record type
func AppendEncode(dst []byte, spec *InterfaceSpec, value any) ([]byte, error) {
	v, err := spec.valueOf(value)
	if err != nil {
		return dst, err
	}

	start := len(dst)
	dst = slices.Grow(dst, int(spec.stride))[:start+int(spec.stride)]
	buf := dst[start:]
	clear(buf)

	for _, f := range spec.fields {
		if f.Kind == FieldKindSampler {
			continue
		}
		putValue(buf[f.Offset:], f.Type, v.FieldByIndex(f.index))
	}
	return dst, nil
}

// Decode decodes the data fields of one encoded record into out. Sampler fields are left
// untouched; DecodeRecord restores them too.
//
// Parameters:
//   - spec: the spec of the record type
//   - data: the encoded record, at least spec.Stride() bytes
//   - out: a non-nil pointer to a record of the spec's type
//
// Returns:
//   - error: ErrFieldTypeMismatch if out is not a pointer to the spec's record type, or an
//     error if data is too short
func Decode(spec *InterfaceSpec, data []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != spec.goType {
		return common.Errorf(common.ErrFieldTypeMismatch, "decode target %T is not *%s", out, spec.goType)
	}
	if uint64(len(data)) < spec.stride {
		return common.Errorf(common.ErrFieldTypeMismatch, "%d bytes cannot hold a %d byte %s record", len(data), spec.stride, spec.goType)
	}

	v := rv.Elem()
	for _, f := range spec.fields {
		if f.Kind == FieldKindSampler {
			continue
		}
		getValue(data[f.Offset:], f.Type, v.FieldByIndex(f.index))
	}
	return nil
}

// Record is a complete encoding of a record: the bytes of its data fields, laid out as the GPU
// reads them, and the handles of its sampler fields in field order. Texture handles are bound
// to the draw rather than written to memory, so they travel beside the bytes.
type Record struct {
	Data     []byte
	Textures []common.TextureHandle
}

// EncodeRecord encodes every field of a record, sampler fields included.
//
// Parameters:
//   - spec: the spec of the record type
//   - value: the record, or a pointer to it
//
// Returns:
//   - Record: the encoded data fields and the sampler handles
//   - error: ErrFieldTypeMismatch if value is not of the spec's record type
func EncodeRecord(spec *InterfaceSpec, value any) (Record, error) {
	data, err := Encode(spec, value)
	if err != nil {
		return Record{}, err
	}
	textures, err := Textures(spec, value)
	if err != nil {
		return Record{}, err
	}
	return Record{Data: data, Textures: textures}, nil
}

// DecodeRecord restores every field of a record from its encoding. It is the inverse of
// EncodeRecord.
//
// Parameters:
//   - spec: the spec of the record type
//   - rec: the encoded record
//   - out: a non-nil pointer to a record of the spec's type
//
// Returns:
//   - error: ErrFieldTypeMismatch if out does not match the spec, the data is too short or
//     the handle count differs from the spec's sampler count
func DecodeRecord(spec *InterfaceSpec, rec Record, out any) error {
	if len(rec.Textures) != spec.samplers {
		return common.Errorf(common.ErrFieldTypeMismatch, "%s record has %d samplers, got %d handles", spec.goType, spec.samplers, len(rec.Textures))
	}
	if err := Decode(spec, rec.Data, out); err != nil {
		return err
	}
	v := reflect.ValueOf(out).Elem()
	i := 0
	for _, f := range spec.fields {
		if f.Kind == FieldKindSampler {
			v.FieldByIndex(f.index).SetUint(uint64(rec.Textures[i]))
			i++
		}
	}
	return nil
}

// Textures returns the texture handles held by the sampler fields of a record, in field order.
//
// Parameters:
//   - spec: the spec of the record type
//   - value: the record, or a pointer to it
//
// Returns:
//   - []common.TextureHandle: one handle per sampler field
//   - error: ErrFieldTypeMismatch if value is not of the spec's record type
func Textures(spec *InterfaceSpec, value any) ([]common.TextureHandle, error) {
	v, err := spec.valueOf(value)
	if err != nil {
		return nil, err
	}
	handles := make([]common.TextureHandle, 0, spec.samplers)
	for _, f := range spec.fields {
		if f.Kind == FieldKindSampler {
			handles = append(handles, common.TextureHandle(v.FieldByIndex(f.index).Uint()))
		}
	}
	return handles, nil
}

// valueOf returns the struct value of a record, dereferencing pointers.
func (s *InterfaceSpec) valueOf(value any) (reflect.Value, error) {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, common.Errorf(common.ErrFieldTypeMismatch, "nil %T record", value)
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Type() != s.goType {
		return reflect.Value{}, common.Errorf(common.ErrFieldTypeMismatch, "record %T does not match spec %s", value, s.goType)
	}
	return v, nil
}

// putValue writes a field value little-endian at the start of b.
func putValue(b []byte, t ValueType, fv reflect.Value) {
	switch t {
	case ValueTypeFloat:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(fv.Float())))
	case ValueTypeVec2, ValueTypeVec3, ValueTypeVec4, ValueTypeMat4:
		for i := 0; i < fv.Len(); i++ {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(fv.Index(i).Float())))
		}
	case ValueTypeInt:
		binary.LittleEndian.PutUint32(b, uint32(int32(fv.Int())))
	case ValueTypeUint:
		binary.LittleEndian.PutUint32(b, uint32(fv.Uint()))
	case ValueTypeBool:
		var u uint32
		if fv.Bool() {
			u = 1
		}
		binary.LittleEndian.PutUint32(b, u)
	}
}

// getValue reads a little-endian field value from the start of b.
func getValue(b []byte, t ValueType, fv reflect.Value) {
	switch t {
	case ValueTypeFloat:
		fv.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
	case ValueTypeVec2, ValueTypeVec3, ValueTypeVec4, ValueTypeMat4:
		for i := 0; i < fv.Len(); i++ {
			fv.Index(i).SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))))
		}
	case ValueTypeInt:
		fv.SetInt(int64(int32(binary.LittleEndian.Uint32(b))))
	case ValueTypeUint:
		fv.SetUint(uint64(binary.LittleEndian.Uint32(b)))
	case ValueTypeBool:
		fv.SetBool(binary.LittleEndian.Uint32(b) != 0)
	}
}
