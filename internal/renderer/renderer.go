// Package renderer renders a view and, optionally, a layout around it.
//
// Rendering is two-stage: the view is rendered with the view model, then the
// layout, if any, is rendered with the same model plus "content", the view's
// output. Engines produce trusted markup; the caller writes the response.
package renderer

import (
	"context"
	"html/template"

	"github.com/conneroisu/convey/internal/logging"
)

// ContentKey is the layout data key holding the rendered view.
const ContentKey = "content"

// Engine renders named templates.
type Engine interface {
	Render(ctx context.Context, name string, data map[string]any) (template.HTML, error)
}

// Request describes one render.
type Request struct {
	// View is the logical view name, "<controller>/<action>".
	View string
	// Layout is the layout name, "" for none.
	Layout string
	// Data is the view model.
	Data map[string]any
}

// Renderer performs the view then layout protocol.
type Renderer struct {
	views   Engine
	layouts Engine
	logger  logging.Logger
}

// New creates a renderer. layouts may be the same engine as views.
func New(views, layouts Engine, logger logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	if layouts == nil {
		layouts = views
	}
	return &Renderer{
		views:   views,
		layouts: layouts,
		logger:  logger.WithComponent("renderer"),
	}
}

// Render renders req.View and wraps it in req.Layout when one is set.
func (r *Renderer) Render(ctx context.Context, req Request) (template.HTML, error) {
	content, err := r.views.Render(ctx, req.View, req.Data)
	if err != nil {
		return "", err
	}

	if req.Layout == "" {
		return content, nil
	}

	data := make(map[string]any, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	data[ContentKey] = content

	r.logger.Debug(ctx, "rendering layout", "view", req.View, "layout", req.Layout)

	return r.layouts.Render(ctx, req.Layout, data)
}
