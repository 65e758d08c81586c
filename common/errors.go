package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure into the pipeline's error taxonomy.
type ErrorKind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy, such as backend failures.
	KindUnknown ErrorKind = iota

	// KindConfig marks invalid or conflicting configuration detected at construction.
	KindConfig

	// KindBinding marks failures deriving or binding a shader interface.
	KindBinding

	// KindState marks submissions made in the wrong pipeline state or with incompatible batches.
	KindState
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindBinding:
		return "BindingError"
	case KindState:
		return "StateError"
	default:
		return "UnknownError"
	}
}

var (
	// ErrInvalidConfig reports an invalid PipelineConfig value or a conflicting option set.
	ErrInvalidConfig = &Error{Kind: KindConfig, Name: "InvalidConfig"}

	// ErrUnsupportedFieldType reports a host record field whose type has no GPU encoding.
	ErrUnsupportedFieldType = &Error{Kind: KindBinding, Name: "UnsupportedFieldType"}

	// ErrDuplicateFieldName reports two fields of the same kind sharing a name.
	ErrDuplicateFieldName = &Error{Kind: KindBinding, Name: "DuplicateFieldName"}

	// ErrMissingShaderInput reports a spec field the shader does not declare.
	ErrMissingShaderInput = &Error{Kind: KindBinding, Name: "MissingShaderInput"}

	// ErrFieldTypeMismatch reports a spec field whose type differs from the shader declaration.
	ErrFieldTypeMismatch = &Error{Kind: KindBinding, Name: "FieldTypeMismatch"}

	// ErrMixedFieldKinds reports a host record mixing vertex, instance and uniform data fields.
	ErrMixedFieldKinds = &Error{Kind: KindBinding, Name: "MixedFieldKinds"}

	// ErrLimitExceeded reports a layout that does not fit the backend limits.
	ErrLimitExceeded = &Error{Kind: KindBinding, Name: "LimitExceeded"}

	// ErrInvalidPipelineState reports a pipeline call made out of order.
	ErrInvalidPipelineState = &Error{Kind: KindState, Name: "InvalidPipelineState"}

	// ErrIncompatibleInstanceBatch reports a RenderList entry that cannot join its batch.
	ErrIncompatibleInstanceBatch = &Error{Kind: KindState, Name: "IncompatibleInstanceBatch"}
)

// Error is a named failure of the pipeline's error taxonomy. The package-level Err* values are
// the only instances; callers wrap them with fmt.Errorf("...: %w") to add detail and match them
// with errors.Is.
type Error struct {
	Kind ErrorKind
	Name string
}

func (e *Error) Error() string {
	return e.Name
}

// KindOf returns the taxonomy kind of err, or KindUnknown if err does not wrap one of the
// package-level Err* values.
//
// Parameters:
//   - err: the error to classify
//
// Returns:
//   - ErrorKind: the kind of the wrapped taxonomy error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Errorf wraps a taxonomy error with a formatted detail message.
//
// Parameters:
//   - kind: the taxonomy error to wrap (one of the Err* values)
//   - format: the detail format string
//   - args: the format arguments
//
// Returns:
//   - error: an error matching kind under errors.Is
func Errorf(kind *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
