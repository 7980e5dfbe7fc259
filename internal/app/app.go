// Package app wires a convey application together: configuration, route
// table, controller and template caches, renderer and dispatcher.
//
// Everything derived from configuration lives in one immutable state value
// that is swapped atomically on a full reload; requests in flight keep the
// state they started with.
package app

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/livereload"
	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/metrics"
	"github.com/conneroisu/convey/internal/renderer"
	"github.com/conneroisu/convey/internal/routes"
)

// Options configures an App.
type Options struct {
	// Viper holds the configuration; the global instance when nil.
	Viper   *viper.Viper
	Logger  logging.Logger
	Metrics *metrics.Collector
	// LiveReload receives a reload request after every invalidation.
	LiveReload *livereload.Hub
}

// App is a running application.
type App struct {
	viper    *viper.Viper
	logger   logging.Logger
	metrics  *metrics.Collector
	liveLoad *livereload.Hub

	// Registered by the application; they survive reloads.
	controllers  *controller.Registry
	templViews   *renderer.TemplEngine
	templLayouts *renderer.TemplEngine
	funcs        template.FuncMap
	bootstraps   []Bootstrap

	state    atomic.Pointer[state]
	reloadMu sync.Mutex
}

// New creates an application. Register controllers, views and bootstraps,
// then call Init.
func New(opts Options) *App {
	if opts.Viper == nil {
		opts.Viper = viper.GetViper()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &App{
		viper:        opts.Viper,
		logger:       opts.Logger.WithComponent("app"),
		metrics:      opts.Metrics,
		liveLoad:     opts.LiveReload,
		controllers:  controller.NewRegistry(),
		templViews:   renderer.NewTemplEngine(),
		templLayouts: renderer.NewTemplEngine(),
		funcs:        template.FuncMap{},
	}
}

// RegisterController registers a Go controller under module ("" for the
// application) and its full name, e.g. "PostController". Go controllers
// shadow scripted ones of the same name.
func (a *App) RegisterController(module, name string, def controller.Definition) {
	a.controllers.Register(module, name, def)
}

// RegisterView registers a templ view such as "post/show".
func (a *App) RegisterView(name string, fn renderer.ComponentFunc) {
	a.templViews.Register(name, fn)
}

// RegisterLayout registers a templ layout.
func (a *App) RegisterLayout(name string, fn renderer.ComponentFunc) {
	a.templLayouts.Register(name, fn)
}

// AddFuncs adds html/template functions; they apply from the next state built.
func (a *App) AddFuncs(funcs template.FuncMap) {
	for name, fn := range funcs {
		a.funcs[name] = fn
	}
}

// Controllers returns the Go controller registry.
func (a *App) Controllers() *controller.Registry {
	return a.controllers
}

// Init loads the configuration and builds the first state.
func (a *App) Init(ctx context.Context) error {
	cfg, err := config.LoadFrom(a.viper)
	if err != nil {
		return err
	}
	st, err := a.build(ctx, cfg)
	if err != nil {
		return err
	}
	a.state.Store(st)
	a.logger.Info(ctx, "application initialized",
		"routes", st.table.Len(),
		"engine", cfg.Template.Engine,
		"go_controllers", a.controllers.Count(),
	)
	return nil
}

// Reload re-reads the configuration file, rebuilds the route table, registry
// and caches, re-runs the bootstraps and swaps the new state in. On failure
// the current state stays active.
func (a *App) Reload(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	err := a.reload(ctx)
	if a.metrics != nil {
		a.metrics.ObserveReload(err)
	}
	if err != nil {
		a.logger.Error(ctx, err, "reload failed, keeping previous configuration")
		return err
	}
	if a.liveLoad != nil {
		a.liveLoad.Reload("config")
	}
	return nil
}

func (a *App) reload(ctx context.Context) error {
	if a.viper.ConfigFileUsed() != "" {
		if err := a.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", a.viper.ConfigFileUsed(), err)
		}
	}
	cfg, err := config.LoadFrom(a.viper)
	if err != nil {
		return err
	}

	st, err := a.build(ctx, cfg)
	if err != nil {
		return err
	}

	if old := a.state.Load(); old != nil {
		for _, change := range old.config.RequiresRestart(cfg) {
			a.logger.Warn(ctx, nil, "setting changed, restart required to apply", "change", change)
		}
	}

	a.state.Store(st)
	a.logger.Info(ctx, "application reloaded", "routes", st.table.Len())
	return nil
}

// ServeHTTP dispatches through the current state's route table.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := a.state.Load()
	if st == nil {
		http.Error(w, "application not initialized", http.StatusServiceUnavailable)
		return
	}
	st.dispatcher.CustomRoute(w, r)
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	if st := a.state.Load(); st != nil {
		return st.config
	}
	return nil
}

// Routes returns the active route table and the errors of entries that were
// skipped when it was compiled.
func (a *App) Routes() (*routes.Table, error) {
	st := a.state.Load()
	if st == nil {
		return nil, nil
	}
	return st.table, st.routeErrors
}

var errNotInitialized = fmt.Errorf("application not initialized")
