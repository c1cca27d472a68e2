// Package gpu models the shared rendering context as an explicitly owned
// resource. Exactly one holder may touch it at a time; background work reaches
// it either through a dedicated core.SerialQueue or through a queue leased
// from a core.QueuePool.
package gpu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/Swind/go-movie-writer/core"
)

// ErrContextDestroyed is returned by Use after Destroy.
var ErrContextDestroyed = errors.New("gpu context destroyed")

// Context guards the device behind a gpucontext.DeviceProvider. A nil
// provider gives a software context that still enforces exclusive use.
type Context struct {
	provider gpucontext.DeviceProvider
	format   gputypes.TextureFormat

	mu        sync.Mutex
	holder    atomic.Pointer[string]
	destroyed atomic.Bool
}

// NewContext wraps provider. The render-target format follows the provider's
// surface format, falling back to RGBA8 for software contexts.
func NewContext(provider gpucontext.DeviceProvider) *Context {
	format := gputypes.TextureFormatRGBA8Unorm
	if provider != nil {
		if f := provider.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
			format = f
		}
	}
	return &Context{provider: provider, format: format}
}

var (
	sharedContextOnce sync.Once
	sharedContext     *Context
)

// SharedContext returns the process-wide software context.
func SharedContext() *Context {
	sharedContextOnce.Do(func() {
		sharedContext = NewContext(nil)
	})
	return sharedContext
}

// Provider returns the wrapped device provider, or nil.
func (c *Context) Provider() gpucontext.DeviceProvider { return c.provider }

// Format returns the pixel format of textures created by this context.
func (c *Context) Format() gputypes.TextureFormat { return c.format }

// Holder returns the name of the current holder, or "" when idle.
func (c *Context) Holder() string {
	if p := c.holder.Load(); p != nil {
		return *p
	}
	return ""
}

// Use runs fn with exclusive access to the context. Pending device work is
// flushed before the context is handed back.
func (c *Context) Use(holder string, fn func() error) error {
	if c.destroyed.Load() {
		return ErrContextDestroyed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holder.Store(&holder)
	defer c.holder.Store(nil)

	err := fn()
	if d, ok := c.device().(poller); ok {
		d.Poll(false)
	}
	return err
}

// UseOn runs fn on queue q with exclusive access and waits for it.
func (c *Context) UseOn(ctx context.Context, q core.Queue, holder string, fn func() error) error {
	var useErr error
	if err := q.Sync(ctx, func(context.Context) {
		useErr = c.Use(holder, fn)
	}); err != nil {
		return err
	}
	return useErr
}

// UseLeased leases a queue from pool, runs fn there with exclusive access,
// and releases the lease on every path.
func (c *Context) UseLeased(ctx context.Context, pool *core.QueuePool, holder string, fn func() error) error {
	return pool.WithLease(ctx, func(context.Context) error {
		return c.Use(holder, fn)
	})
}

// NewTexture allocates a w×h texture in the context's format.
func (c *Context) NewTexture(w, h int) *Texture {
	return &Texture{
		width:  w,
		height: h,
		format: c.format,
		data:   make([]byte, w*h*4),
	}
}

// Destroy releases the device. Further Use calls fail.
func (c *Context) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.device().(destroyer); ok {
		d.Destroy()
	}
}

// gpucontext.Device is an opaque token; concrete devices such as *wgpu.Device
// expose these methods.
type (
	poller    interface{ Poll(wait bool) }
	destroyer interface{ Destroy() }
)

func (c *Context) device() gpucontext.Device {
	if c.provider == nil {
		return nil
	}
	return c.provider.Device()
}
