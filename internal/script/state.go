// Package script loads controllers, models and shared libraries written in
// Lua.
//
// Source files are parsed and compiled once into function prototypes, which
// is what the module caches hold. Every request runs in its own Lua state
// because gopher-lua states are not goroutine-safe; the prototype is shared.
//
// A controller file returns a table of actions:
//
//	local Post = {}
//
//	function Post:init()
//	  self:setLayout("blog")
//	end
//
//	function Post:showAction()
//	  local posts = model("Post")
//	  self.view.post = posts.find(self:param("id"))
//	end
//
//	return Post
package script

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/conneroisu/convey/internal/logging"
)

// unsafeGlobals are removed from every state. Scripts only reach other files
// through model() and library().
var unsafeGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
}

// newState creates a sandboxed Lua state bound to ctx. Only the base, table,
// string and math libraries are opened.
func newState(ctx context.Context, logger logging.Logger) *lua.LState {
	if logger == nil {
		logger = logging.Nop()
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Info(ctx, strings.Join(parts, "\t"), "source", "lua")
		return 0
	}))

	L.SetContext(ctx)
	return L
}
