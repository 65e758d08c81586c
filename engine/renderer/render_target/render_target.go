package render_target

import (
	"fmt"

	"github.com/Carmen-Shannon/conduit/common"
	"github.com/Carmen-Shannon/conduit/engine/logger"
	"github.com/Carmen-Shannon/conduit/engine/renderer"
	"github.com/gogpu/gputypes"
)

// Purpose names the role a render target plays in a frame. The manager holds at most one
// target per purpose.
type Purpose int

const (
	PurposeScene Purpose = iota
	PurposeShadow
	PurposeGlowPing
	PurposeGlowPong
	PurposeComposite
)

func (p Purpose) String() string {
	switch p {
	case PurposeScene:
		return "scene"
	case PurposeShadow:
		return "shadow"
	case PurposeGlowPing:
		return "glow ping"
	case PurposeGlowPong:
		return "glow pong"
	case PurposeComposite:
		return "composite"
	default:
		return fmt.Sprintf("Purpose(%d)", int(p))
	}
}

// Key identifies a render target allocation. An undefined format means the target has no
// attachment of that kind.
type Key struct {
	Purpose     Purpose
	Width       int
	Height      int
	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat
}

func (k Key) validate() error {
	if k.Width <= 0 || k.Height <= 0 {
		return common.Errorf(common.ErrInvalidConfig, "%s target size %dx%d must be positive", k.Purpose, k.Width, k.Height)
	}
	if k.ColorFormat == gputypes.TextureFormatUndefined && k.DepthFormat == gputypes.TextureFormatUndefined {
		return common.Errorf(common.ErrInvalidConfig, "%s target has neither a color nor a depth format", k.Purpose)
	}
	if k.ColorFormat != gputypes.TextureFormatUndefined && renderer.IsDepthFormat(k.ColorFormat) {
		return common.Errorf(common.ErrInvalidConfig, "%s target color format %s is a depth format", k.Purpose, k.ColorFormat)
	}
	if k.DepthFormat != gputypes.TextureFormatUndefined && !renderer.IsDepthFormat(k.DepthFormat) {
		return common.Errorf(common.ErrInvalidConfig, "%s target depth format %s is not a depth format", k.Purpose, k.DepthFormat)
	}
	return nil
}

// RenderTarget is an allocated set of color and depth attachments. A target stays valid until
// the manager reallocates its purpose with a different key or releases it.
type RenderTarget struct {
	key   Key
	color common.TextureHandle
	depth common.TextureHandle
	valid bool
}

// Key returns the key the target was allocated for.
func (t *RenderTarget) Key() Key {
	return t.key
}

// Target returns the attachments as a draw target.
func (t *RenderTarget) Target() renderer.Target {
	return renderer.Target{Color: t.color, Depth: t.depth}
}

// Color returns the color attachment, or zero if the target has none.
func (t *RenderTarget) Color() common.TextureHandle {
	return t.color
}

// Depth returns the depth attachment, or zero if the target has none.
func (t *RenderTarget) Depth() common.TextureHandle {
	return t.depth
}

// Valid reports whether the target's textures are still allocated.
func (t *RenderTarget) Valid() bool {
	return t.valid
}

// manager is the implementation of the Manager interface.
type manager struct {
	backend renderer.Backend
	targets map[Purpose]*RenderTarget
}

// Manager allocates render targets lazily and keeps one per purpose. It is used from the frame
// submission goroutine only and does no locking.
type Manager interface {
	// GetOrCreate returns the target for key.Purpose, allocating it on first use. A call with
	// the same key returns the same target; a call with a changed key releases the old target,
	// marks it invalid and allocates a new one.
	//
	// Parameters:
	//   - key: the purpose, size and formats of the target
	//
	// Returns:
	//   - *RenderTarget: the target for the key
	//   - error: ErrInvalidConfig for a malformed key, or the backend error if allocation fails
	GetOrCreate(key Key) (*RenderTarget, error)

	// Get returns the current target of a purpose without allocating.
	//
	// Parameters:
	//   - purpose: the purpose to look up
	//
	// Returns:
	//   - *RenderTarget: the target
	//   - bool: false if no target is allocated for the purpose
	Get(purpose Purpose) (*RenderTarget, bool)

	// Invalidate releases every target. The next GetOrCreate allocates anew.
	Invalidate()

	// Len returns the number of allocated targets.
	Len() int
}

var _ Manager = &manager{}

// NewManager creates an empty Manager allocating through backend.
//
// Parameters:
//   - backend: the backend that owns the textures
//
// Returns:
//   - Manager: the new manager
func NewManager(backend renderer.Backend) Manager {
	return &manager{
		backend: backend,
		targets: make(map[Purpose]*RenderTarget),
	}
}

func (m *manager) GetOrCreate(key Key) (*RenderTarget, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if t, ok := m.targets[key.Purpose]; ok {
		if t.key == key {
			return t, nil
		}
		m.release(t)
		delete(m.targets, key.Purpose)
		logger.Logger().Debug("render target reallocating", "purpose", key.Purpose, "width", key.Width, "height", key.Height)
	}

	t := &RenderTarget{key: key, valid: true}
	var err error
	if key.ColorFormat != gputypes.TextureFormatUndefined {
		t.color, err = m.backend.CreateTexture(renderer.TextureDescriptor{
			Label:  key.Purpose.String() + " Color",
			Width:  key.Width,
			Height: key.Height,
			Format: key.ColorFormat,
		})
		if err != nil {
			return nil, err
		}
	}
	if key.DepthFormat != gputypes.TextureFormatUndefined {
		t.depth, err = m.backend.CreateTexture(renderer.TextureDescriptor{
			Label:  key.Purpose.String() + " Depth",
			Width:  key.Width,
			Height: key.Height,
			Format: key.DepthFormat,
		})
		if err != nil {
			if t.color != 0 {
				m.backend.ReleaseTexture(t.color)
			}
			return nil, err
		}
	}
	m.targets[key.Purpose] = t
	logger.Logger().Debug("render target allocated", "purpose", key.Purpose, "width", key.Width, "height", key.Height)
	return t, nil
}

func (m *manager) Get(purpose Purpose) (*RenderTarget, bool) {
	t, ok := m.targets[purpose]
	return t, ok
}

func (m *manager) Invalidate() {
	for p, t := range m.targets {
		m.release(t)
		delete(m.targets, p)
	}
}

func (m *manager) Len() int {
	return len(m.targets)
}

func (m *manager) release(t *RenderTarget) {
	if t.color != 0 {
		m.backend.ReleaseTexture(t.color)
	}
	if t.depth != 0 {
		m.backend.ReleaseTexture(t.depth)
	}
	t.valid = false
}
