package dispatcher

import (
	"net/url"
	"strings"

	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/convention"
)

// Resolve maps a path onto controller and action by convention. The first
// segment, lower-cased, is the controller and the second the action; both
// default to "index". The remaining segments are returned for parameter
// extraction.
func Resolve(path string) (controller.Routing, []string) {
	segments := Segments(path)

	controllerPath := convention.DefaultSegment
	actionPath := convention.DefaultSegment

	if len(segments) > 0 {
		controllerPath = strings.ToLower(unescape(segments[0]))
	}
	if len(segments) > 1 {
		actionPath = unescape(segments[1])
	}

	var rest []string
	if len(segments) > 2 {
		rest = segments[2:]
	}

	return controller.Routing{
		ControllerPath: controllerPath,
		ControllerName: convention.ControllerName(controllerPath),
		ActionPath:     actionPath,
		ActionName:     convention.ActionName(actionPath),
	}, rest
}

// Segments splits path on "/" and drops empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidSegment reports whether a decoded controller or action segment can
// name a file inside its directory. Separators, NUL and dot segments are
// refused.
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

func unescape(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}
