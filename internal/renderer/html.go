package renderer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/conneroisu/convey/internal/errors"
	"github.com/conneroisu/convey/internal/modcache"
)

// PartialsDir is the directory under the scripts root holding partials.
const PartialsDir = "partials"

// Templates is a set of html/template files sharing one compiled-template
// cache and one function map. Views, layouts and partials are engines over
// different roots of the same set.
type Templates struct {
	cache    *modcache.Cache[*template.Template]
	partials string
	funcs    template.FuncMap
}

// NewTemplates creates a template set. scriptsDir holds the views and the
// partials directory; ext is the template file extension (".html").
// funcs are added to every template next to the built-in "partial".
func NewTemplates(scriptsDir, ext string, funcs template.FuncMap) *Templates {
	t := &Templates{
		partials: filepath.Join(scriptsDir, PartialsDir),
		funcs:    template.FuncMap{},
	}
	for name, fn := range funcs {
		t.funcs[name] = fn
	}
	t.funcs["partial"] = t.partial(context.Background())
	t.cache = modcache.New("templates", ext, t.parse)
	return t
}

// Cache returns the compiled-template cache for invalidation.
func (t *Templates) Cache() *modcache.Cache[*template.Template] {
	return t.cache
}

// Engine returns an engine resolving names under root.
func (t *Templates) Engine(root string) *HTMLEngine {
	return &HTMLEngine{templates: t, root: root}
}

func (t *Templates) parse(_ context.Context, path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return template.New(filepath.Base(path)).Funcs(t.funcs).Parse(string(data))
}

func (t *Templates) execute(ctx context.Context, dir, name string, data any) (template.HTML, error) {
	path, _ := t.cache.Path(dir, name)

	tmpl, err := t.cache.Load(ctx, dir, name)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return "", errors.NewTemplateNotFound(path)
		}
		return "", errors.NewTemplateRenderError(path, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The cached template is only ever cloned, so each execution binds
	// partial to its own context.
	run, err := tmpl.Clone()
	if err != nil {
		return "", errors.NewTemplateRenderError(path, err)
	}
	run.Funcs(template.FuncMap{"partial": t.partial(ctx)})

	var buf bytes.Buffer
	if err := run.Execute(&buf, data); err != nil {
		return "", errors.NewTemplateRenderError(path, err)
	}

	return template.HTML(buf.String()), nil
}

// partial returns the "partial" template func for ctx. It renders
// <scripts>/partials/<name> with the given key/value pairs, or with a single
// map argument as its data. A failure is returned in place of the markup so
// that the enclosing template still renders.
func (t *Templates) partial(ctx context.Context) func(name string, args ...any) any {
	return func(name string, args ...any) any {
		return t.renderPartial(ctx, name, args...)
	}
}

func (t *Templates) renderPartial(ctx context.Context, name string, args ...any) any {
	data := make(map[string]any)

	if len(args) == 1 {
		if m, ok := args[0].(map[string]any); ok {
			for k, v := range m {
				data[k] = v
			}
			args = nil
		}
	}

	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			return errors.NewPartialRenderError(name, fmt.Errorf("argument %d: key must be a string, got %T", i, args[i]))
		}
		var value any
		if i+1 < len(args) {
			value = args[i+1]
		}
		data[key] = value
	}

	out, err := t.execute(ctx, t.partials, name, data)
	if err != nil {
		return errors.NewPartialRenderError(name, err)
	}
	return out
}

// HTMLEngine renders html/template files under a root directory.
type HTMLEngine struct {
	templates *Templates
	root      string
}

// Render renders <root>/<name><ext>.
func (e *HTMLEngine) Render(ctx context.Context, name string, data map[string]any) (template.HTML, error) {
	return e.templates.execute(ctx, e.root, name, data)
}

// Root returns the engine's root directory.
func (e *HTMLEngine) Root() string {
	return e.root
}
