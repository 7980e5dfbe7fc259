package dispatcher

import (
	"bytes"
	"html/template"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/modcache"
	"github.com/conneroisu/convey/internal/params"
	"github.com/conneroisu/convey/internal/registry"
	"github.com/conneroisu/convey/internal/renderer"
	"github.com/conneroisu/convey/internal/routes"
	"github.com/conneroisu/convey/internal/script"
)

type app struct {
	root        string
	scripts     string
	layouts     string
	controllers *controller.Registry
	cache       *modcache.Cache[controller.Definition]
	registry    *registry.Registry
	logs        *bytes.Buffer
	recorder    *recorder
}

type recorder struct {
	mu         sync.Mutex
	dispatches []string
	statuses   []int
	errors     []string
}

func (r *recorder) ObserveDispatch(c, a string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, c+"/"+a)
	r.statuses = append(r.statuses, status)
}

func (r *recorder) ObserveError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, kind)
}

func newApp(t *testing.T) *app {
	t.Helper()
	root := t.TempDir()
	a := &app{
		root:        root,
		scripts:     filepath.Join(root, "views", "scripts"),
		layouts:     filepath.Join(root, "views", "layouts"),
		controllers: controller.NewRegistry(),
		registry:    registry.New(),
		logs:        &bytes.Buffer{},
		recorder:    &recorder{},
	}
	loader := script.NewLoader(filepath.Join(root, "models"), filepath.Join(root, "library"), nil)
	a.cache = modcache.New[controller.Definition]("controllers", script.Ext, loader.LoadController)
	return a
}

func (a *app) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(a.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (a *app) dispatcher(t *testing.T, mutate func(*Options)) *Dispatcher {
	t.Helper()
	set := renderer.NewTemplates(a.scripts, ".html", nil)
	opts := Options{
		Controllers: a.controllers,
		Scripts:     a.cache,
		Directories: func(module string) string {
			if module != "" {
				return filepath.Join(a.root, "modules", module, "controllers")
			}
			return filepath.Join(a.root, "controllers")
		},
		Renderer:       renderer.New(set.Engine(a.scripts), set.Engine(a.layouts), nil),
		Registry:       a.registry,
		StaticPrefixes: []string{"public"},
		ErrorReporting: true,
		Recorder:       a.recorder,
		Logger: logging.NewLogger(&logging.LoggerConfig{
			Level:  logging.LevelDebug,
			Format: "json",
			Output: a.logs,
		}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func serve(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestResolve(t *testing.T) {
	tests := []struct {
		path       string
		controller string
		name       string
		action     string
		actionName string
		rest       []string
	}{
		{"/", "index", "IndexController", "index", "indexAction", nil},
		{"", "index", "IndexController", "index", "indexAction", nil},
		{"/blog", "blog", "BlogController", "index", "indexAction", nil},
		{"/Blog-Post/show-all", "blog-post", "BlogPostController", "show-all", "showAllAction", nil},
		{"/a/b/c/d", "a", "AController", "b", "bAction", []string{"c", "d"}},
		{"//a///b/", "a", "AController", "b", "bAction", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			routing, rest := Resolve(tt.path)
			assert.Equal(t, tt.controller, routing.ControllerPath)
			assert.Equal(t, tt.name, routing.ControllerName)
			assert.Equal(t, tt.action, routing.ActionPath)
			assert.Equal(t, tt.actionName, routing.ActionName)
			if diff := cmp.Diff(tt.rest, rest, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("rest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServeHTTP_ConventionDispatch(t *testing.T) {
	a := newApp(t)
	var got map[string]string
	a.controllers.Register("", "AController", controller.Static(controller.Actions{
		"bAction": func(ctx *controller.Context) error {
			got = ctx.Params.Map()
			ctx.View["title"] = "B"
			return nil
		},
	}))
	a.write(t, "views/scripts/a/b.html", `<p>{{.title}}</p>`)

	rec := serve(a.dispatcher(t, nil).ServeHTTP, "/a/b/c/d?e=f")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>B</p>", rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"c": "d", "e": "f"}, got)
	assert.Equal(t, []string{"AController/bAction"}, a.recorder.dispatches)
	assert.Equal(t, []int{http.StatusOK}, a.recorder.statuses)
}

func TestServeHTTP_RootDefaultsToIndex(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error {
			ctx.View["ok"] = "yes"
			return nil
		},
	}))
	a.write(t, "views/scripts/index/index.html", `home {{.ok}}`)

	rec := serve(a.dispatcher(t, nil).ServeHTTP, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "home yes", rec.Body.String())
}

func TestServeHTTP_QueryWinsOverPathPairs(t *testing.T) {
	a := newApp(t)
	var page string
	a.controllers.Register("", "BlogController", controller.Static(controller.Actions{
		"listAction": func(ctx *controller.Context) error {
			page = ctx.Param("page")
			ctx.DisableRenderer()
			return nil
		},
	}))

	serve(a.dispatcher(t, nil).ServeHTTP, "/blog/list/page/1?page=2")
	assert.Equal(t, "2", page)
}

func TestServeHTTP_ExistingParamsAreNotRebuilt(t *testing.T) {
	a := newApp(t)
	var got *params.Params
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error {
			got = ctx.Params
			ctx.DisableRenderer()
			return nil
		},
	}))

	preset := params.New()
	preset.Set("x", "1")
	req := httptest.NewRequest("GET", "/index/index/y/2", nil)
	req = req.WithContext(params.NewContext(req.Context(), preset))

	a.dispatcher(t, nil).ServeHTTP(httptest.NewRecorder(), req)
	assert.Same(t, preset, got)
}

func TestServeHTTP_LayoutWrapsView(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "PageController", controller.Static(controller.Actions{
		"showAction": func(ctx *controller.Context) error {
			ctx.View["title"] = "Page"
			ctx.Helpers.HeadLink.Append("/page.css", nil)
			return nil
		},
		"rawAction": func(ctx *controller.Context) error {
			ctx.View["title"] = "Raw"
			ctx.DisableLayout()
			return nil
		},
	}))
	a.write(t, "views/scripts/page/show.html", `<p>{{.title}}</p>`)
	a.write(t, "views/scripts/page/raw.html", `<p>{{.title}}</p>`)
	a.write(t, "views/layouts/main.html", `<head>{{.helpers.headLink}}</head><body>{{.content}}</body>`)

	d := a.dispatcher(t, func(o *Options) { o.DefaultLayout = "main" })

	rec := serve(d.ServeHTTP, "/page/show")
	assert.Equal(t,
		`<head><link href="/page.css" rel="stylesheet" type="text/css"/></head><body><p>Page</p></body>`,
		rec.Body.String())

	rec = serve(d.ServeHTTP, "/page/raw")
	assert.Equal(t, `<p>Raw</p>`, rec.Body.String())
}

func TestServeHTTP_HelpersDoNotLeakBetweenRequests(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "PageController", controller.Static(controller.Actions{
		"addAction": func(ctx *controller.Context) error {
			ctx.Helpers.HeadScript.Append("/added.js", nil)
			return nil
		},
		"plainAction": func(ctx *controller.Context) error { return nil },
	}))
	a.write(t, "views/scripts/page/add.html", `{{.helpers.headScript}}`)
	a.write(t, "views/scripts/page/plain.html", `[{{.helpers.headScript}}]`)

	d := a.dispatcher(t, nil)
	assert.Contains(t, serve(d.ServeHTTP, "/page/add").Body.String(), "/added.js")
	assert.Equal(t, "[]", serve(d.ServeHTTP, "/page/plain").Body.String())
}

func TestServeHTTP_LiveReloadScript(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error { return nil },
	}))
	a.write(t, "views/scripts/index/index.html", `{{.helpers.headScript}}`)

	d := a.dispatcher(t, func(o *Options) { o.LiveReloadScript = "/_convey/livereload.js" })
	assert.Contains(t, serve(d.ServeHTTP, "/").Body.String(), `src="/_convey/livereload.js"`)
}

func TestServeHTTP_RegistrySlotsReachView(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.registry.Set("site", "Convey"))
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error { return nil },
	}))
	a.write(t, "views/scripts/index/index.html", `{{.helpers.site}}`)

	assert.Equal(t, "Convey", serve(a.dispatcher(t, nil).ServeHTTP, "/").Body.String())
}

func TestServeHTTP_ControllerNotFound(t *testing.T) {
	a := newApp(t)
	d := a.dispatcher(t, nil)

	rec := serve(d.ServeHTTP, "/missing/thing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Convey Error</h1>")
	assert.Contains(t, rec.Body.String(), "MissingController")
	assert.Contains(t, a.logs.String(), "controller_not_found")
	assert.Equal(t, []string{"controller_not_found"}, a.recorder.errors)

	// The dispatcher keeps serving.
	rec = serve(d.ServeHTTP, "/missing/thing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTP_EncodedSeparatorsStayInControllerDir(t *testing.T) {
	a := newApp(t)
	a.write(t, "uploads/evilController.lua", `return { indexAction = function(self) self:disableRenderer() end }`)
	a.write(t, "views/scripts/index/index.html", `index`)
	a.write(t, "secret.html", `secret`)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error { return nil },
	}))
	d := a.dispatcher(t, nil)

	for _, target := range []string{
		"/..%2Fuploads%2Fevil/index",
		"/..%5Cuploads%5Cevil/index",
		"/index/..%2F..%2F..%2Fsecret",
		"/%2E%2E/index",
	} {
		t.Run(target, func(t *testing.T) {
			rec := serve(d.ServeHTTP, target)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.NotContains(t, rec.Body.String(), "secret")
		})
	}
	assert.Equal(t, 0, a.cache.Stats().Entries)
}

func TestValidSegment(t *testing.T) {
	tests := map[string]bool{
		"post":       true,
		"show-all":   true,
		"..":         false,
		".":          false,
		"":           false,
		"../uploads": false,
		`..\uploads`: false,
		"a\x00b":     false,
	}
	for segment, want := range tests {
		assert.Equal(t, want, ValidSegment(segment), "%q", segment)
	}
}

func TestServeHTTP_MetricLabelsAreBounded(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error {
			ctx.DisableRenderer()
			return nil
		},
	}))
	d := a.dispatcher(t, nil)

	serve(d.ServeHTTP, "/junk1/x1")
	serve(d.ServeHTTP, "/junk2/x2")
	serve(d.ServeHTTP, "/index/nope")
	serve(d.ServeHTTP, "/index/index")

	assert.Equal(t, []string{"/", "/", "IndexController/", "IndexController/indexAction"}, a.recorder.dispatches)
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusNotFound, http.StatusOK}, a.recorder.statuses)
}

func TestServeHTTP_ActionNotFound(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{}))

	rec := serve(a.dispatcher(t, nil).ServeHTTP, "/index/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nopeAction")
	assert.Contains(t, a.logs.String(), "action_not_found")
}

func TestServeHTTP_TemplateNotFound(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error { return nil },
	}))

	rec := serve(a.dispatcher(t, nil).ServeHTTP, "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not exist")
}

func TestServeHTTP_PanicIsRecovered(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error { panic("kaboom") },
	}))

	rec := serve(a.dispatcher(t, nil).ServeHTTP, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "kaboom")
	assert.Contains(t, a.logs.String(), "dispatch failed")
}

func TestServeHTTP_ReportingDisabled(t *testing.T) {
	a := newApp(t)
	d := a.dispatcher(t, func(o *Options) { o.ErrorReporting = false })

	rec := serve(d.ServeHTTP, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", rec.Body.String())
	assert.Contains(t, a.logs.String(), "controller_not_found")
}

func TestServeHTTP_StaticPrefixRefused(t *testing.T) {
	a := newApp(t)
	rec := serve(a.dispatcher(t, nil).ServeHTTP, "/public/app.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Convey Error")
}

func TestServeHTTP_ScriptedControllerIsCached(t *testing.T) {
	a := newApp(t)
	a.write(t, "controllers/HelloController.lua", `
return {
  indexAction = function(self)
    self.view.name = self:param("name") or "world"
  end
}
`)
	a.write(t, "views/scripts/hello/index.html", `hello {{.name}}`)

	d := a.dispatcher(t, nil)
	assert.Equal(t, "hello world", serve(d.ServeHTTP, "/hello").Body.String())
	assert.Equal(t, "hello ann", serve(d.ServeHTTP, "/hello/index/name/ann").Body.String())

	stats := a.cache.Stats()
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestServeHTTP_GoControllerShadowsScript(t *testing.T) {
	a := newApp(t)
	a.write(t, "controllers/HelloController.lua", `return { indexAction = function(self) self.view.from = "lua" end }`)
	a.write(t, "views/scripts/hello/index.html", `{{.from}}`)
	a.controllers.Register("", "HelloController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error {
			ctx.View["from"] = "go"
			return nil
		},
	}))

	assert.Equal(t, "go", serve(a.dispatcher(t, nil).ServeHTTP, "/hello").Body.String())
}

func TestCustomRoute(t *testing.T) {
	a := newApp(t)
	var slug, q string
	a.controllers.Register("", "PostController", controller.Static(controller.Actions{
		"showAction": func(ctx *controller.Context) error {
			slug = ctx.Param("slug")
			q = ctx.Param("q")
			ctx.View["slug"] = slug
			return nil
		},
	}))
	a.controllers.Register("admin", "AdminController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error {
			ctx.View["module"] = ctx.Routing.Module
			return nil
		},
	}))
	a.write(t, "views/scripts/post/show.html", `post {{.slug}}`)
	a.write(t, "views/scripts/admin/index.html", `module {{.module}}`)

	table, err := routes.Compile([]routes.Entry{
		{Pattern: "/blog/:slug", Controller: "post", Action: "show"},
		{Pattern: "/blog/special", Controller: "never"},
		{Pattern: "/admin", Module: "admin"},
	})
	require.NoError(t, err)

	d := a.dispatcher(t, func(o *Options) { o.Routes = table })

	rec := serve(d.CustomRoute, "/blog/special?q=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "post special", rec.Body.String())
	assert.Equal(t, "special", slug)
	assert.Equal(t, "1", q)

	rec = serve(d.CustomRoute, "/admin")
	assert.Equal(t, "module admin", rec.Body.String())
}

func TestCustomRoute_ModuleScriptDirectory(t *testing.T) {
	a := newApp(t)
	a.write(t, "modules/shop/controllers/CartController.lua", `return { indexAction = function(self) self.view.items = 3 end }`)
	a.write(t, "views/scripts/cart/index.html", `items {{.items}}`)

	table, err := routes.Compile([]routes.Entry{{Pattern: "/cart", Module: "shop"}})
	require.NoError(t, err)

	d := a.dispatcher(t, func(o *Options) { o.Routes = table })
	rec := serve(d.CustomRoute, "/cart")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "items 3", rec.Body.String())

	// Without the route the application controllers directory is used.
	rec = serve(d.ServeHTTP, "/cart")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomRoute_NoMatchFallsThrough(t *testing.T) {
	a := newApp(t)
	a.controllers.Register("", "IndexController", controller.Static(controller.Actions{
		"indexAction": func(ctx *controller.Context) error {
			ctx.View["v"] = template.HTML("<b>x</b>")
			return nil
		},
	}))
	a.write(t, "views/scripts/index/index.html", `{{.v}}`)

	table, err := routes.Compile(nil)
	require.NoError(t, err)

	d := a.dispatcher(t, func(o *Options) { o.Routes = table })
	assert.Equal(t, "<b>x</b>", serve(d.CustomRoute, "/").Body.String())
}
