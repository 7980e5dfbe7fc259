// Package dispatcher turns a request path into a controller action and a
// rendered response.
//
// CustomRoute is the entry point mounted by the server: it consults the
// explicit route table and then continues with convention dispatch in
// ServeHTTP. Every error, including panics, is logged and published as an
// error page; nothing raised while dispatching terminates the process.
package dispatcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/errors"
	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/modcache"
	"github.com/conneroisu/convey/internal/params"
	"github.com/conneroisu/convey/internal/registry"
	"github.com/conneroisu/convey/internal/renderer"
	"github.com/conneroisu/convey/internal/routes"
)

// TracerName is the instrumentation name of dispatch spans.
const TracerName = "github.com/conneroisu/convey/internal/dispatcher"

// DirectoryResolver returns the controller directory for a module. The empty
// module is the application itself.
type DirectoryResolver func(module string) string

// Recorder receives dispatch measurements.
type Recorder interface {
	ObserveDispatch(controller, action string, status int, elapsed time.Duration)
	ObserveError(kind string)
}

// Options configures a Dispatcher.
type Options struct {
	Routes      *routes.Table
	Controllers *controller.Registry
	Scripts     *modcache.Cache[controller.Definition]
	Directories DirectoryResolver
	Renderer    *renderer.Renderer
	Registry    *registry.Registry

	// StaticPrefixes are URL prefixes served as files; dispatch refuses them.
	StaticPrefixes []string
	DefaultLayout  string
	ErrorReporting bool
	// LiveReloadScript is appended to the head scripts of every page when set.
	LiveReloadScript string

	Recorder Recorder
	Logger   logging.Logger
}

// Dispatcher resolves and invokes controller actions.
type Dispatcher struct {
	table       *routes.Table
	controllers *controller.Registry
	scripts     *modcache.Cache[controller.Definition]
	directories DirectoryResolver
	renderer    *renderer.Renderer
	registry    *registry.Registry

	staticPrefixes   []string
	defaultLayout    string
	reporting        bool
	liveReloadScript string

	recorder Recorder
	tracer   trace.Tracer
	logger   logging.Logger
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Controllers == nil {
		opts.Controllers = controller.NewRegistry()
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Directories == nil {
		opts.Directories = func(string) string { return "controllers" }
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	return &Dispatcher{
		table:            opts.Routes,
		controllers:      opts.Controllers,
		scripts:          opts.Scripts,
		directories:      opts.Directories,
		renderer:         opts.Renderer,
		registry:         opts.Registry,
		staticPrefixes:   opts.StaticPrefixes,
		defaultLayout:    opts.DefaultLayout,
		reporting:        opts.ErrorReporting,
		liveReloadScript: opts.LiveReloadScript,
		recorder:         opts.Recorder,
		tracer:           otel.Tracer(TracerName),
		logger:           opts.Logger.WithComponent("dispatcher"),
	}
}

// Routes returns the route table.
func (d *Dispatcher) Routes() *routes.Table {
	return d.table
}

type moduleKey struct{}

// CustomRoute dispatches r through the route table. A matching entry
// rewrites the path to "/<controller>/<action>", seeds the parameters with
// the pattern variables and may select a module; otherwise the request is
// dispatched by convention unchanged.
func (d *Dispatcher) CustomRoute(w http.ResponseWriter, r *http.Request) {
	match := d.table.Match(r)
	if match == nil {
		d.ServeHTTP(w, r)
		return
	}

	if _, ok := params.FromContext(r.Context()); !ok {
		p := params.Build(match.Params, nil, r.URL.RawQuery)
		r = r.WithContext(params.NewContext(r.Context(), p))
	}
	if match.Entry.Module != "" {
		r = r.WithContext(context.WithValue(r.Context(), moduleKey{}, match.Entry.Module))
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = match.LogicalPath(r.URL.Path)
	r2.URL.RawPath = ""

	d.logger.Debug(r.Context(), "route matched",
		"pattern", match.Entry.Pattern,
		"path", r.URL.Path,
		"rewritten", r2.URL.Path,
		"module", match.Entry.Module,
	)

	d.ServeHTTP(w, r2)
}

// ServeHTTP dispatches r by convention.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

	var (
		routing controller.Routing
		labels  dispatchLabels
	)

	ctx, span := d.tracer.Start(r.Context(), "convey.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("convey.path", r.URL.Path),
			attribute.String("convey.request_id", requestID),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			err := errors.Recovered(v)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.publish(ww, r, routing, requestID, err)
		}
		if d.recorder != nil {
			d.recorder.ObserveDispatch(labels.controller, labels.action, status(ww), time.Since(start))
		}
	}()

	if d.isStatic(r.URL.Path) {
		d.logger.Debug(ctx, "refusing static path", "path", r.URL.Path)
		http.NotFound(ww, r)
		return
	}

	routing, rest := Resolve(r.URL.EscapedPath())
	if module, ok := r.Context().Value(moduleKey{}).(string); ok {
		routing.Module = module
	}
	span.SetAttributes(
		attribute.String("convey.controller", routing.ControllerName),
		attribute.String("convey.action", routing.ActionName),
		attribute.String("convey.module", routing.Module),
	)

	p, ok := params.FromContext(ctx)
	if !ok {
		p = params.Build(nil, rest, r.URL.RawQuery)
		r = r.WithContext(params.NewContext(ctx, p))
	}

	err := d.dispatch(ww, r, routing, p, &labels)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.publish(ww, r, routing, requestID, err)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// dispatchLabels are the metric labels of one dispatch. They stay empty
// until a controller and action were actually found, so that request paths
// never become label values.
type dispatchLabels struct {
	controller string
	action     string
}

func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, routing controller.Routing, p *params.Params, labels *dispatchLabels) error {
	if !ValidSegment(routing.ControllerPath) || !ValidSegment(routing.ActionPath) {
		return errors.NewControllerNotFound(routing.ControllerName, d.directories(routing.Module), nil)
	}

	def, err := d.lookup(r.Context(), routing)
	if err != nil {
		return err
	}
	labels.controller = routing.ControllerName
	return d.forward(w, r, routing, p, def, labels)
}

// lookup finds the definition for routing: registered Go controllers first,
// then the scripted controller file in the controller directory.
func (d *Dispatcher) lookup(ctx context.Context, routing controller.Routing) (controller.Definition, error) {
	if def, ok := d.controllers.Lookup(routing.Module, routing.ControllerName); ok {
		return def, nil
	}

	dir := d.directories(routing.Module)
	if d.scripts == nil {
		return nil, errors.NewControllerNotFound(routing.ControllerName, dir, nil)
	}

	def, err := d.scripts.Load(ctx, dir, routing.ControllerName)
	if err != nil {
		path, _ := d.scripts.Path(dir, routing.ControllerName)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewControllerNotFound(routing.ControllerName, path, nil)
		}
		return nil, errors.Wrap(err, errors.KindInternal, "CONTROLLER_LOAD", "loading "+path)
	}
	return def, nil
}

// forward runs one dispatch cycle against def: fresh helpers, a fresh
// controller instance, the action, then rendering.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, routing controller.Routing, p *params.Params, def controller.Definition, labels *dispatchLabels) error {
	ctx := r.Context()

	helpers := registry.NewHelpers(d.registry)
	helpers.Init()
	if d.liveReloadScript != "" {
		helpers.HeadScript.Append(d.liveReloadScript, nil)
	}

	logger := d.logger.With("controller", routing.ControllerName, "action", routing.ActionName)
	cc := controller.NewContext(w, r, p, routing, helpers, d.defaultLayout, logger)

	inst, err := def.New(cc)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "CONTROLLER_INIT", "creating "+routing.ControllerName)
	}
	defer func() {
		if err := controller.Close(inst); err != nil {
			logger.Warn(ctx, err, "closing controller instance")
		}
	}()

	action, ok := inst.Action(routing.ActionName)
	if !ok {
		return errors.NewActionNotFound(routing.ActionName, routing.ControllerName, d.directories(routing.Module))
	}
	labels.action = routing.ActionName

	if err := action(cc); err != nil {
		return err
	}

	if cc.RendererDisabled() {
		return nil
	}
	view := routing.ControllerPath + "/" + routing.ActionPath
	if d.renderer == nil {
		return errors.NewTemplateNotFound(view)
	}

	cc.View[registry.HelpersKey] = helpers.Snapshot()
	layout, _ := cc.Layout()

	out, err := d.renderer.Render(ctx, renderer.Request{
		View:   view,
		Layout: layout,
		Data:   cc.View,
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	_, err = io.WriteString(w, string(out))
	return err
}

func (d *Dispatcher) isStatic(path string) bool {
	for _, prefix := range d.staticPrefixes {
		prefix = "/" + strings.Trim(prefix, "/")
		if prefix == "/" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func status(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}
