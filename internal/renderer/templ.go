package renderer

import (
	"bytes"
	"context"
	"html/template"
	"sort"
	"sync"

	"github.com/a-h/templ"

	"github.com/conneroisu/convey/internal/errors"
)

// ComponentFunc builds a templ component from the view model.
type ComponentFunc func(data map[string]any) templ.Component

// TemplEngine renders registered templ components by name.
type TemplEngine struct {
	components map[string]ComponentFunc
	mutex      sync.RWMutex
}

// NewTemplEngine creates an empty templ engine.
func NewTemplEngine() *TemplEngine {
	return &TemplEngine{components: make(map[string]ComponentFunc)}
}

// Register adds or replaces the component for name ("post/show", "main").
func (e *TemplEngine) Register(name string, fn ComponentFunc) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.components[name] = fn
}

// Names returns the registered names in sorted order.
func (e *TemplEngine) Names() []string {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	names := make([]string, 0, len(e.components))
	for name := range e.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render renders the component registered under name.
func (e *TemplEngine) Render(ctx context.Context, name string, data map[string]any) (template.HTML, error) {
	e.mutex.RLock()
	fn, ok := e.components[name]
	e.mutex.RUnlock()

	if !ok {
		return "", errors.NewTemplateNotFound(name)
	}

	var buf bytes.Buffer
	if err := fn(data).Render(ctx, &buf); err != nil {
		return "", errors.NewTemplateRenderError(name, err)
	}

	return template.HTML(buf.String()), nil
}

// Content returns the rendered view inside layout data as a component, for
// use from templ layouts.
func Content(data map[string]any) templ.Component {
	html, _ := data[ContentKey].(template.HTML)
	return templ.Raw(string(html))
}
