// Package params builds the request parameter map from explicit route
// variables, path segment pairs and the query string.
//
// Merge order, lowest precedence first:
//
//  1. variables captured by an explicit route pattern
//  2. key/value pairs from path segments after controller and action
//  3. query string pairs
//
// A later layer overwrites an earlier one key by key, so /blog/list/page/1?page=2
// yields page=2. Keys keep the position at which they were first set.
package params

import (
	"context"
	"net/url"
	"strings"
)

// Params is an ordered key/value map with unique keys. The last write wins.
type Params struct {
	keys   []string
	values map[string]string
}

// New returns an empty parameter map.
func New() *Params {
	return &Params{values: make(map[string]string)}
}

// Set stores value under key.
func (p *Params) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key.
func (p *Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Value returns the value for key or "".
func (p *Params) Value(key string) string {
	return p.values[key]
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of keys.
func (p *Params) Len() int {
	return len(p.keys)
}

// Map returns a copy of the parameters as a plain map.
func (p *Params) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Build merges the three layers. route may be nil; segments are the path
// segments that follow the controller and action segments; rawQuery is the
// undecoded query string.
func Build(route *Params, segments []string, rawQuery string) *Params {
	p := New()

	if route != nil {
		for _, key := range route.keys {
			p.Set(key, route.values[key])
		}
	}

	AddSegmentPairs(p, segments)
	AddQuery(p, rawQuery)

	return p
}

// AddSegmentPairs reads segments as key, value, key, value. A trailing key
// without a value is stored with an empty value.
func AddSegmentPairs(p *Params, segments []string) {
	for i := 0; i < len(segments); i += 2 {
		key := unescape(segments[i])
		value := ""
		if i+1 < len(segments) {
			value = unescape(segments[i+1])
		}
		p.Set(key, value)
	}
}

// AddQuery reads k=v pairs separated by '&'. Pairs are percent-decoded and
// applied in order; a key without '=' is stored with an empty value.
func AddQuery(p *Params, rawQuery string) {
	if rawQuery == "" {
		return
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		p.Set(unescapeQuery(key), unescapeQuery(value))
	}
}

func unescape(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

func unescapeQuery(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p *Params) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the parameters stored on ctx, if any.
func FromContext(ctx context.Context) (*Params, bool) {
	p, ok := ctx.Value(contextKey{}).(*Params)
	return p, ok
}
