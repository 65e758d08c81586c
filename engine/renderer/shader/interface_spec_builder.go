package shader

import "github.com/gogpu/gputypes"

// specOptions holds the settings applied while deriving an InterfaceSpec.
type specOptions struct {
	defaultKind FieldKind
	limits      gputypes.Limits
	tagKey      string
}

// SpecBuilderOption is a functional option for configuring InterfaceSpec derivation.
type SpecBuilderOption func(*specOptions)

// WithDefaultKind sets the kind assigned to fields whose tag does not name one.
// Texture handle fields always default to FieldKindSampler.
//
// Parameters:
//   - kind: the default field kind
//
// Returns:
//   - SpecBuilderOption: a function that applies the default kind
func WithDefaultKind(kind FieldKind) SpecBuilderOption {
	return func(o *specOptions) {
		o.defaultKind = kind
	}
}

// WithLimits sets the backend limits the derived layout is checked against.
// Defaults to gputypes.DefaultLimits().
//
// Parameters:
//   - limits: the backend limits
//
// Returns:
//   - SpecBuilderOption: a function that applies the limits
func WithLimits(limits gputypes.Limits) SpecBuilderOption {
	return func(o *specOptions) {
		o.limits = limits
	}
}

// WithTagKey sets the struct tag key read for field names and kinds. Defaults to "shader".
//
// Parameters:
//   - key: the struct tag key
//
// Returns:
//   - SpecBuilderOption: a function that applies the tag key
func WithTagKey(key string) SpecBuilderOption {
	return func(o *specOptions) {
		if key != "" {
			o.tagKey = key
		}
	}
}
