package controller

import (
	"context"
	"net/http"

	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/params"
	"github.com/conneroisu/convey/internal/registry"
)

// Routing is the resolved controller and action of a request.
type Routing struct {
	ControllerPath string
	ControllerName string
	ActionPath     string
	ActionName     string
	Module         string
}

// Context is injected into every controller instance. It is owned by a single
// request and must not be retained after the action returns.
type Context struct {
	Request  *http.Request
	Response http.ResponseWriter
	Params   *params.Params
	Routing  Routing

	// View is the view model handed to the renderer.
	View map[string]any

	Helpers  *registry.Helpers
	Registry *registry.Registry
	Logger   logging.Logger

	layout           string
	rendererDisabled bool
}

// NewContext creates the context for one dispatch cycle. layout is the
// configured default layout, "" for none.
func NewContext(w http.ResponseWriter, r *http.Request, p *params.Params, routing Routing, helpers *registry.Helpers, layout string, logger logging.Logger) *Context {
	if p == nil {
		p = params.New()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if helpers == nil {
		helpers = registry.NewHelpers(nil)
	}
	return &Context{
		Request:  r,
		Response: w,
		Params:   p,
		Routing:  routing,
		View:     make(map[string]any),
		Helpers:  helpers,
		Registry: helpers.Registry(),
		Logger:   logger,
		layout:   layout,
	}
}

// Context returns the request context.
func (c *Context) Context() context.Context {
	if c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// Param returns a request parameter or "".
func (c *Context) Param(key string) string {
	return c.Params.Value(key)
}

// SetLayout selects the layout rendered around the view.
func (c *Context) SetLayout(name string) {
	c.layout = name
}

// DisableLayout renders the view without a layout.
func (c *Context) DisableLayout() {
	c.layout = ""
}

// Layout returns the selected layout and whether one is set.
func (c *Context) Layout() (string, bool) {
	return c.layout, c.layout != ""
}

// DisableRenderer skips rendering; the action writes the response itself.
func (c *Context) DisableRenderer() {
	c.rendererDisabled = true
}

// RendererDisabled reports whether DisableRenderer was called.
func (c *Context) RendererDisabled() bool {
	return c.rendererDisabled
}
