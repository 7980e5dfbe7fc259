package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/dispatcher"
	"github.com/conneroisu/convey/internal/livereload"
	"github.com/conneroisu/convey/internal/modcache"
	"github.com/conneroisu/convey/internal/registry"
	"github.com/conneroisu/convey/internal/renderer"
	"github.com/conneroisu/convey/internal/routes"
	"github.com/conneroisu/convey/internal/script"
)

// state is everything derived from one configuration.
type state struct {
	config      *config.Config
	table       *routes.Table
	routeErrors error
	registry    *registry.Registry
	loader      *script.Loader
	scripts     *modcache.Cache[controller.Definition]
	// templates is nil for the templ engine.
	templates  *renderer.Templates
	dispatcher *dispatcher.Dispatcher
}

func (a *App) build(ctx context.Context, cfg *config.Config) (*state, error) {
	st := &state{
		config:   cfg,
		registry: registry.New(),
	}

	entries, err := routes.Load(cfg.Resolve(cfg.Paths.Routes))
	if err != nil {
		return nil, fmt.Errorf("loading routes: %w", err)
	}
	st.table, st.routeErrors = routes.Compile(entries)
	if merr, ok := st.routeErrors.(*multierror.Error); ok {
		for _, err := range merr.Errors {
			a.logger.Warn(ctx, err, "skipping route entry")
		}
	}

	st.loader = script.NewLoader(cfg.Resolve(cfg.Paths.Models), cfg.Resolve(cfg.Paths.Library), a.logger)
	st.scripts = modcache.New("controllers", script.Ext, st.loader.LoadController)

	rend, err := a.renderer(st)
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		st.scripts.SetObserver(a.metrics)
		st.loader.Models().SetObserver(a.metrics)
		st.loader.Library().SetObserver(a.metrics)
		if st.templates != nil {
			st.templates.Cache().SetObserver(a.metrics)
		}
	}

	boot := &Boot{
		Config:      cfg,
		Registry:    st.registry,
		Controllers: a.controllers,
		Logger:      a.logger,
	}
	if err := a.runBootstraps(ctx, boot); err != nil {
		return nil, err
	}

	opts := dispatcher.Options{
		Routes:         st.table,
		Controllers:    a.controllers,
		Scripts:        st.scripts,
		Directories:    cfg.ControllerDir,
		Renderer:       rend,
		Registry:       st.registry,
		StaticPrefixes: cfg.StaticPrefixes(),
		DefaultLayout:  cfg.Layout.Default,
		ErrorReporting: cfg.Error.Reporting,
		Logger:         a.logger,
	}
	if a.liveLoad != nil && cfg.Development.HotReload && cfg.Development.LiveReload {
		opts.LiveReloadScript = livereload.ScriptPath
	}
	if a.metrics != nil {
		opts.Recorder = a.metrics
	}
	st.dispatcher = dispatcher.New(opts)

	return st, nil
}

func (a *App) renderer(st *state) (*renderer.Renderer, error) {
	cfg := st.config
	switch cfg.Template.Engine {
	case "html":
		st.templates = renderer.NewTemplates(cfg.Resolve(cfg.Paths.Scripts), cfg.Template.Extension, a.funcs)
		return renderer.New(
			st.templates.Engine(cfg.Resolve(cfg.Paths.Scripts)),
			st.templates.Engine(cfg.Resolve(cfg.Paths.Layouts)),
			a.logger,
		), nil
	case "templ":
		return renderer.New(a.templViews, a.templLayouts, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown template engine %q", cfg.Template.Engine)
	}
}
