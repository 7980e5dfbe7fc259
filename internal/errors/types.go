package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind represents different categories of dispatch errors.
type Kind string

const (
	KindRouteConfig        Kind = "route_config"
	KindNotFound           Kind = "not_found"
	KindControllerNotFound Kind = "controller_not_found"
	KindActionNotFound     Kind = "action_not_found"
	KindTemplateNotFound   Kind = "template_not_found"
	KindTemplateRender     Kind = "template_render"
	KindPartialRender      Kind = "partial_render"
	KindConfig             Kind = "config"
	KindInternal           Kind = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrRouteConfig        = &Error{Kind: KindRouteConfig}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrControllerNotFound = &Error{Kind: KindControllerNotFound}
	ErrActionNotFound     = &Error{Kind: KindActionNotFound}
	ErrTemplateNotFound   = &Error{Kind: KindTemplateNotFound}
	ErrTemplateRender     = &Error{Kind: KindTemplateRender}
	ErrPartialRender      = &Error{Kind: KindPartialRender}
	ErrConfig             = &Error{Kind: KindConfig}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else {
		parts = append(parts, strings.ReplaceAll(string(e.Kind), "_", " "))
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same kind, and the same code when the
// target carries one.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// NewRouteConfigError reports a route table entry that could not be registered.
func NewRouteConfigError(pattern, message string, cause error) *Error {
	return (&Error{
		Kind:    KindRouteConfig,
		Code:    "ROUTE_CONFIG",
		Message: fmt.Sprintf("route %q: %s", pattern, message),
		Cause:   cause,
	}).WithContext("pattern", pattern)
}

// NewNotFound reports a handler source file that does not exist.
func NewNotFound(path string) *Error {
	return (&Error{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", path),
	}).WithContext("path", path)
}

// NewControllerNotFound reports a controller that is neither registered nor on disk.
func NewControllerNotFound(name, path string, cause error) *Error {
	return (&Error{
		Kind:    KindControllerNotFound,
		Code:    "CONTROLLER_NOT_FOUND",
		Message: fmt.Sprintf("%s (%s) not found", name, path),
		Cause:   cause,
	}).WithContext("controller", name).WithContext("path", path)
}

// NewActionNotFound reports a controller without the requested action.
func NewActionNotFound(action, controller, path string) *Error {
	return (&Error{
		Kind:    KindActionNotFound,
		Code:    "ACTION_NOT_FOUND",
		Message: fmt.Sprintf("%s not found in controller %s (%s)", action, controller, path),
	}).WithContext("action", action).WithContext("controller", controller)
}

// NewTemplateNotFound reports a missing view, layout or partial file.
func NewTemplateNotFound(path string) *Error {
	return (&Error{
		Kind:    KindTemplateNotFound,
		Code:    "TEMPLATE_NOT_FOUND",
		Message: fmt.Sprintf("view file %s does not exist", path),
	}).WithContext("path", path)
}

// NewTemplateRenderError reports a template that failed to compile or execute.
func NewTemplateRenderError(path string, cause error) *Error {
	return (&Error{
		Kind:    KindTemplateRender,
		Code:    "TEMPLATE_RENDER",
		Message: fmt.Sprintf("rendering %s failed", path),
		Cause:   cause,
	}).WithContext("path", path)
}

// NewPartialRenderError reports a partial include that failed. It is rendered
// inline in place of the partial's markup.
func NewPartialRenderError(name string, cause error) *Error {
	return (&Error{
		Kind:    KindPartialRender,
		Code:    "PARTIAL_RENDER",
		Message: fmt.Sprintf("partial %s", name),
		Cause:   cause,
	}).WithContext("partial", name)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *Error {
	return &Error{
		Kind:    KindConfig,
		Code:    "CONFIG",
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first structured error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCode maps an error to the HTTP status used when publishing it.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindControllerNotFound, KindActionNotFound, KindTemplateNotFound, KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
