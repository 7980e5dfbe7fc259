// Package routes implements the explicit route table consulted before
// convention dispatch.
//
// Entries are matched in table order and the first entry whose pattern and
// verb accept the request wins. Patterns use gorilla/mux syntax
// ("/blog/{slug}", "/item/{id:[0-9]+}"); ":name" segments and a trailing "*"
// are accepted as shorthands.
package routes

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/convey/internal/convention"
	"github.com/conneroisu/convey/internal/errors"
	"github.com/conneroisu/convey/internal/params"
)

// VerbAll matches any request method.
const VerbAll = "all"

var supportedVerbs = map[string]string{
	VerbAll:   "",
	"get":     http.MethodGet,
	"head":    http.MethodHead,
	"post":    http.MethodPost,
	"put":     http.MethodPut,
	"patch":   http.MethodPatch,
	"delete":  http.MethodDelete,
	"options": http.MethodOptions,
	"connect": http.MethodConnect,
	"trace":   http.MethodTrace,
}

// Entry is one explicit route. Entries are immutable once loaded.
type Entry struct {
	Pattern    string `yaml:"route" json:"route"`
	Verb       string `yaml:"verb,omitempty" json:"verb,omitempty"`
	Controller string `yaml:"controller,omitempty" json:"controller,omitempty"`
	Action     string `yaml:"action,omitempty" json:"action,omitempty"`
	Module     string `yaml:"module,omitempty" json:"module,omitempty"`
}

// Normalize applies the defaults: verb "all" and action "index".
func (e Entry) Normalize() Entry {
	e.Verb = strings.ToLower(strings.TrimSpace(e.Verb))
	if e.Verb == "" {
		e.Verb = VerbAll
	}
	if e.Action == "" {
		e.Action = convention.DefaultSegment
	}
	return e
}

type compiled struct {
	entry Entry
	route *mux.Route
	vars  []string
}

// Table is a compiled, ordered route table. A Table is never mutated after
// Compile; reloads build a new one.
type Table struct {
	routes []compiled
}

// Match is the result of a successful table lookup.
type Match struct {
	Entry  Entry
	Params *params.Params
}

var (
	colonParam = regexp.MustCompile(`(^|/):([A-Za-z_][A-Za-z0-9_]*)`)
	varName    = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::[^}]*)?\}`)
)

// Compile builds a table from entries. Entries with an unsupported verb or an
// invalid pattern are skipped; their RouteConfigErrors are returned together
// while the rest of the table is still usable.
func Compile(entries []Entry) (*Table, error) {
	router := mux.NewRouter()
	table := &Table{routes: make([]compiled, 0, len(entries))}
	var result *multierror.Error

	for _, raw := range entries {
		entry := raw.Normalize()

		if strings.TrimSpace(entry.Pattern) == "" {
			result = multierror.Append(result, errors.NewRouteConfigError(entry.Pattern, "empty route pattern", nil))
			continue
		}

		method, ok := supportedVerbs[entry.Verb]
		if !ok {
			result = multierror.Append(result, errors.NewRouteConfigError(entry.Pattern, fmt.Sprintf("unsupported verb %q", raw.Verb), nil))
			continue
		}

		template := toTemplate(entry.Pattern)
		route := router.NewRoute().Path(template)
		if method != "" {
			route = route.Methods(method)
		}
		if err := route.GetError(); err != nil {
			result = multierror.Append(result, errors.NewRouteConfigError(entry.Pattern, "invalid pattern", err))
			continue
		}

		table.routes = append(table.routes, compiled{
			entry: entry,
			route: route,
			vars:  variables(template),
		})
	}

	return table, result.ErrorOrNil()
}

// Match returns the first entry accepting r, or nil.
func (t *Table) Match(r *http.Request) *Match {
	if t == nil {
		return nil
	}
	for _, c := range t.routes {
		var m mux.RouteMatch
		if !c.route.Match(r, &m) {
			continue
		}

		p := params.New()
		for _, name := range c.vars {
			if v, ok := m.Vars[name]; ok {
				p.Set(name, v)
			}
		}
		return &Match{Entry: c.entry, Params: p}
	}
	return nil
}

// Entries returns the compiled entries in table order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.routes))
	for i, c := range t.routes {
		out[i] = c.entry
	}
	return out
}

// Len returns the number of compiled entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// LogicalPath is the path convention dispatch continues with after a match:
// "/<controller>/<action>". Without an explicit controller the first segment
// of the request path is used.
func (m *Match) LogicalPath(requestPath string) string {
	controller := m.Entry.Controller
	if controller == "" {
		for _, seg := range strings.Split(requestPath, "/") {
			if seg != "" {
				controller = seg
				break
			}
		}
	}
	if controller == "" {
		controller = convention.DefaultSegment
	}

	action := m.Entry.Action
	if action == "" {
		action = convention.DefaultSegment
	}

	return "/" + controller + "/" + action
}

func toTemplate(pattern string) string {
	tpl := strings.TrimSpace(pattern)
	if !strings.HasPrefix(tpl, "/") {
		tpl = "/" + tpl
	}
	tpl = colonParam.ReplaceAllString(tpl, "$1{$2}")
	if strings.HasSuffix(tpl, "*") {
		tpl = strings.TrimSuffix(tpl, "*") + "{wildcard:.*}"
	}
	return tpl
}

func variables(template string) []string {
	matches := varName.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
