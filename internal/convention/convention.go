// Package convention derives controller and action names from URL segments.
//
// A request for /blog-post/show-all resolves to the controller
// BlogPostController and the action showAllAction. The transforms are pure
// and perform no I/O, which keeps them usable from both the dispatcher and
// the route table.
package convention

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DefaultSegment is used when a URL does not carry a controller or action segment.
	DefaultSegment = "index"

	controllerSuffix = "-controller"
	actionSuffix     = "-action"
)

var (
	lower = cases.Lower(language.Und)
	upper = cases.Upper(language.Und)
)

// PascalCase lower-cases value, splits it on hyphens and upper-cases the first
// character of every piece.
func PascalCase(value string) string {
	if value == "" {
		return ""
	}

	parts := strings.Split(lower.String(value), "-")
	for i, part := range parts {
		parts[i] = upperFirst(part)
	}

	return strings.Join(parts, "")
}

// CamelCase splits value on hyphens and upper-cases the first character of
// every piece except the first. The first piece is left untouched.
func CamelCase(value string) string {
	if value == "" {
		return ""
	}

	parts := strings.Split(value, "-")
	for i := 1; i < len(parts); i++ {
		parts[i] = upperFirst(parts[i])
	}

	return strings.Join(parts, "")
}

// ControllerName returns the handler name for a controller path segment.
func ControllerName(segment string) string {
	if segment == "" {
		segment = DefaultSegment
	}
	return PascalCase(segment + controllerSuffix)
}

// ActionName returns the method name for an action path segment.
func ActionName(segment string) string {
	if segment == "" {
		segment = DefaultSegment
	}
	return CamelCase(segment + actionSuffix)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return upper.String(string(r)) + s[size:]
}
