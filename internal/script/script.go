package script

import (
	"bufio"
	"context"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/modcache"
)

// Ext is the extension of script files.
const Ext = ".lua"

// Chunk is a compiled script file.
type Chunk struct {
	Path  string
	Proto *lua.FunctionProto
}

// CompileFile parses and compiles the file at path. It satisfies
// modcache.LoaderFunc.
func CompileFile(_ context.Context, path string) (*Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stmts, err := parse.Parse(bufio.NewReader(file), path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	proto, err := lua.Compile(stmts, path)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", path, err)
	}

	return &Chunk{Path: path, Proto: proto}, nil
}

// Loader compiles controller files into definitions and resolves the
// model() and library() dependencies they request.
type Loader struct {
	models     *modcache.Cache[*Chunk]
	library    *modcache.Cache[*Chunk]
	modelsDir  string
	libraryDir string
	logger     logging.Logger
}

// NewLoader creates a loader for the given models and library directories.
func NewLoader(modelsDir, libraryDir string, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		models:     modcache.New("models", Ext, CompileFile),
		library:    modcache.New("library", Ext, CompileFile),
		modelsDir:  modelsDir,
		libraryDir: libraryDir,
		logger:     logger.WithComponent("script"),
	}
}

// Models returns the model chunk cache.
func (l *Loader) Models() *modcache.Cache[*Chunk] {
	return l.models
}

// Library returns the shared library chunk cache.
func (l *Loader) Library() *modcache.Cache[*Chunk] {
	return l.library
}

// ResetDependencies drops every cached model and library chunk.
func (l *Loader) ResetDependencies() int {
	return l.models.Reset() + l.library.Reset()
}

// LoadController compiles a controller file. It satisfies
// modcache.LoaderFunc for the controller cache.
func (l *Loader) LoadController(ctx context.Context, path string) (controller.Definition, error) {
	chunk, err := CompileFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Definition{chunk: chunk, loader: l}, nil
}

// Definition is a compiled controller file.
type Definition struct {
	chunk  *Chunk
	loader *Loader
}

// Path returns the source path.
func (d *Definition) Path() string {
	return d.chunk.Path
}

// New runs the controller file in a fresh state and returns an instance
// whose actions are the functions of the returned table.
func (d *Definition) New(cc *controller.Context) (controller.Controller, error) {
	L := newState(cc.Context(), cc.Logger)
	inst := &instance{
		L:      L,
		path:   d.chunk.Path,
		loader: d.loader,
		loaded: make(map[string]lua.LValue),
	}
	inst.installDependencies()

	L.Push(L.NewFunctionFromProto(d.chunk.Proto))
	if err := L.PCall(0, 1, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading %s: %w", d.chunk.Path, err)
	}
	class, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%s must return a table of actions", d.chunk.Path)
	}

	inst.self = inst.newSelf(cc, class)

	if init, ok := class.RawGetString("init").(*lua.LFunction); ok {
		if err := L.CallByParam(lua.P{Fn: init, NRet: 0, Protect: true}, inst.self); err != nil {
			L.Close()
			return nil, fmt.Errorf("%s init: %w", d.chunk.Path, err)
		}
	}

	return inst, nil
}

type instance struct {
	L      *lua.LState
	self   *lua.LTable
	path   string
	loader *Loader
	loaded map[string]lua.LValue
}

// Action returns the Lua function named name as an action.
func (i *instance) Action(name string) (controller.ActionFunc, bool) {
	fn, ok := i.L.GetField(i.self, name).(*lua.LFunction)
	if !ok {
		return nil, false
	}

	return func(cc *controller.Context) error {
		if err := i.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, i.self); err != nil {
			return fmt.Errorf("%s %s: %w", i.path, name, err)
		}
		ret := i.L.Get(-1)
		i.L.Pop(1)

		i.syncView(cc)
		if t, ok := ret.(*lua.LTable); ok {
			if m, ok := toGo(t).(map[string]any); ok {
				for k, v := range m {
					cc.View[k] = v
				}
			}
		}
		return nil
	}, true
}

// Close releases the Lua state.
func (i *instance) Close() error {
	i.L.Close()
	return nil
}

func (i *instance) syncView(cc *controller.Context) {
	view, ok := i.self.RawGetString("view").(*lua.LTable)
	if !ok {
		return
	}
	if m, ok := toGo(view).(map[string]any); ok {
		for k, v := range m {
			cc.View[k] = v
		}
	}
}

// newSelf builds the instance table handed to every action as self.
func (i *instance) newSelf(cc *controller.Context, class *lua.LTable) *lua.LTable {
	L := i.L
	self := L.NewTable()

	self.RawSetString("view", toLua(L, cc.View))
	self.RawSetString("params", toLua(L, cc.Params.Map()))
	self.RawSetString("request", i.requestTable(cc))
	self.RawSetString("controller", lua.LString(cc.Routing.ControllerPath))
	self.RawSetString("action", lua.LString(cc.Routing.ActionPath))
	self.RawSetString("module", lua.LString(cc.Routing.Module))

	L.SetFuncs(self, map[string]lua.LGFunction{
		"param": func(L *lua.LState) int {
			v, ok := cc.Params.Get(L.CheckString(2))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(v))
			return 1
		},
		"setLayout": func(L *lua.LState) int {
			cc.SetLayout(L.CheckString(2))
			return 0
		},
		"disableLayout": func(L *lua.LState) int {
			cc.DisableLayout()
			return 0
		},
		"disableRenderer": func(L *lua.LState) int {
			cc.DisableRenderer()
			return 0
		},
		"headScript": func(L *lua.LState) int {
			cc.Helpers.HeadScript.Append(L.CheckString(2), stringMap(L.OptTable(3, nil)))
			return 0
		},
		"headLink": func(L *lua.LState) int {
			cc.Helpers.HeadLink.Append(L.CheckString(2), stringMap(L.OptTable(3, nil)))
			return 0
		},
		"get": func(L *lua.LState) int {
			v, _ := cc.Registry.Get(L.CheckString(2))
			L.Push(toLua(L, v))
			return 1
		},
		"set": func(L *lua.LState) int {
			if err := cc.Registry.Set(L.CheckString(2), toGo(L.Get(3))); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"header": func(L *lua.LState) int {
			cc.Response.Header().Set(L.CheckString(2), L.CheckString(3))
			return 0
		},
		"status": func(L *lua.LState) int {
			cc.Response.WriteHeader(L.CheckInt(2))
			return 0
		},
		"write": func(L *lua.LState) int {
			n, err := cc.Response.Write([]byte(L.CheckString(2)))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			L.Push(lua.LNumber(n))
			return 1
		},
	})

	mt := L.NewTable()
	mt.RawSetString("__index", class)
	L.SetMetatable(self, mt)

	return self
}

func (i *instance) requestTable(cc *controller.Context) *lua.LTable {
	L := i.L
	t := L.NewTable()
	r := cc.Request
	if r == nil {
		return t
	}

	t.RawSetString("method", lua.LString(r.Method))
	t.RawSetString("path", lua.LString(r.URL.Path))
	t.RawSetString("query", lua.LString(r.URL.RawQuery))
	t.RawSetString("host", lua.LString(r.Host))
	t.RawSetString("remoteAddr", lua.LString(r.RemoteAddr))

	headers := L.NewTable()
	for name, values := range r.Header {
		if len(values) > 0 {
			headers.RawSetString(name, lua.LString(values[0]))
		}
	}
	t.RawSetString("headers", headers)

	return t
}

// installDependencies exposes model(name) and library(name). Each file runs
// at most once per state; the compiled chunk is shared through the caches.
func (i *instance) installDependencies() {
	i.L.SetGlobal("model", i.L.NewFunction(func(L *lua.LState) int {
		return i.require(L, "model", i.loader.models, i.loader.modelsDir)
	}))
	i.L.SetGlobal("library", i.L.NewFunction(func(L *lua.LState) int {
		return i.require(L, "library", i.loader.library, i.loader.libraryDir)
	}))
}

func (i *instance) require(L *lua.LState, kind string, cache *modcache.Cache[*Chunk], dir string) int {
	name := L.CheckString(1)
	key := kind + ":" + name

	if v, ok := i.loaded[key]; ok {
		L.Push(v)
		return 1
	}

	chunk, err := cache.Load(L.Context(), dir, name)
	if err != nil {
		L.RaiseError("%s %q: %s", kind, name, err.Error())
		return 0
	}

	L.Push(L.NewFunctionFromProto(chunk.Proto))
	L.Call(0, 1)
	v := L.Get(-1)
	L.Pop(1)

	i.loaded[key] = v
	L.Push(v)
	return 1
}
