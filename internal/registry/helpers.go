package registry

import (
	"bytes"
	"html/template"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Tag is one accumulated head element.
type Tag struct {
	URL   string
	Attrs map[string]string
}

// HeadTags accumulates <script> or <link> elements for the document head.
// Entries are unique by URL: a later write replaces the attributes but keeps
// the position of the first write.
type HeadTags struct {
	element  atom.Atom
	urlAttr  string
	defaults map[string]string

	order []string
	tags  map[string]map[string]string
	mutex sync.Mutex
}

// NewHeadScript creates the head-script accumulator.
func NewHeadScript() *HeadTags {
	return &HeadTags{
		element:  atom.Script,
		urlAttr:  "src",
		defaults: map[string]string{"type": "text/javascript"},
		tags:     make(map[string]map[string]string),
	}
}

// NewHeadLink creates the head-link accumulator.
func NewHeadLink() *HeadTags {
	return &HeadTags{
		element:  atom.Link,
		urlAttr:  "href",
		defaults: map[string]string{"rel": "stylesheet", "type": "text/css"},
		tags:     make(map[string]map[string]string),
	}
}

// Init clears the accumulator for a new dispatch cycle.
func (h *HeadTags) Init() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.order = nil
	h.tags = make(map[string]map[string]string)
}

// Append adds url at the end. attrs override the element defaults.
func (h *HeadTags) Append(url string, attrs map[string]string) {
	h.add(url, attrs, false)
}

// Prepend adds url at the front.
func (h *HeadTags) Prepend(url string, attrs map[string]string) {
	h.add(url, attrs, true)
}

func (h *HeadTags) add(url string, attrs map[string]string, front bool) {
	merged := make(map[string]string, len(h.defaults)+len(attrs)+1)
	for k, v := range h.defaults {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	merged[h.urlAttr] = url

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.tags[url]; !ok {
		if front {
			h.order = append([]string{url}, h.order...)
		} else {
			h.order = append(h.order, url)
		}
	}
	h.tags[url] = merged
}

// Items returns the accumulated tags in order.
func (h *HeadTags) Items() []Tag {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	out := make([]Tag, 0, len(h.order))
	for _, url := range h.order {
		attrs := make(map[string]string, len(h.tags[url]))
		for k, v := range h.tags[url] {
			attrs[k] = v
		}
		out = append(out, Tag{URL: url, Attrs: attrs})
	}
	return out
}

// Len returns the number of accumulated tags.
func (h *HeadTags) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return len(h.order)
}

// Render returns the markup for every tag, one per line.
func (h *HeadTags) Render() template.HTML {
	items := h.Items()
	lines := make([]string, 0, len(items))

	for _, item := range items {
		keys := make([]string, 0, len(item.Attrs))
		for k := range item.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		node := &html.Node{
			Type:     html.ElementNode,
			DataAtom: h.element,
			Data:     h.element.String(),
		}
		for _, k := range keys {
			node.Attr = append(node.Attr, html.Attribute{Key: k, Val: item.Attrs[k]})
		}

		var buf bytes.Buffer
		if err := html.Render(&buf, node); err != nil {
			continue
		}
		lines = append(lines, buf.String())
	}

	return template.HTML(strings.Join(lines, "\n"))
}

// Helpers is the helper set of one dispatch cycle. A new set is created for
// every request, so accumulated tags never leak between requests.
type Helpers struct {
	HeadScript *HeadTags
	HeadLink   *HeadTags

	registry *Registry
}

// NewHelpers creates a helper set backed by the process registry.
func NewHelpers(reg *Registry) *Helpers {
	if reg == nil {
		reg = New()
	}
	return &Helpers{
		HeadScript: NewHeadScript(),
		HeadLink:   NewHeadLink(),
		registry:   reg,
	}
}

// Init initializes every built-in helper.
func (h *Helpers) Init() {
	h.HeadScript.Init()
	h.HeadLink.Init()
}

// Registry returns the process registry.
func (h *Helpers) Registry() *Registry {
	return h.registry
}

// Snapshot returns the helpers as exposed to views: registry slots plus the
// built-in accumulators in rendered form.
func (h *Helpers) Snapshot() map[string]any {
	out := h.registry.Snapshot()
	out[HeadScriptKey] = h.HeadScript.Render()
	out[HeadLinkKey] = h.HeadLink.Render()
	return out
}
