package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/convey/internal/logging"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors.
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Err combines the errors, or returns nil.
func (vr *ValidationResult) Err() error {
	var result *multierror.Error
	for i := range vr.Errors {
		result = multierror.Append(result, &vr.Errors[i])
	}
	return result.ErrorOrNil()
}

func (vr *ValidationResult) addError(field string, value interface{}, format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}

// Validate checks every section.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.validateServer(result)
	c.validatePaths(result)

	switch c.Template.Engine {
	case "html", "templ":
	default:
		result.addError("template.engine", c.Template.Engine, "unknown engine %q, want html or templ", c.Template.Engine)
	}
	if c.Template.Engine == "html" && c.Template.Extension == "" {
		result.addError("template.extension", c.Template.Extension, "extension is required for the html engine")
	}
	if strings.ContainsAny(c.Layout.Default, `\`) || strings.Contains(c.Layout.Default, "..") {
		result.addError("layout.default", c.Layout.Default, "layout name contains path traversal")
	}

	if c.Development.Debounce < 0 {
		result.addError("development.debounce", c.Development.Debounce, "debounce must not be negative")
	}
	if c.Development.LiveReload && !c.Development.HotReload {
		result.addWarning("development.live_reload", true, "live reload has no effect without hot_reload")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		result.addError("log.level", c.Log.Level, "%v", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		result.addError("log.format", c.Log.Format, "unknown format %q, want text or json", c.Log.Format)
	}

	return result
}

func (c *Config) validateServer(result *ValidationResult) {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		result.addError("server.port", c.Server.Port, "port %d is not in valid range 0-65535", c.Server.Port)
	}
	for _, char := range append(dangerousChars, "\\") {
		if strings.Contains(c.Server.Host, char) {
			result.addError("server.host", c.Server.Host, "host contains dangerous character: %s", char)
			break
		}
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		result.addError("server.timeouts", nil, "timeouts must not be negative")
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		result.addError("server.metrics_path", c.Server.MetricsPath, "metrics path must start with /")
	}

	seen := make(map[string]bool)
	for _, s := range c.Server.Static {
		if s.Prefix == "/" {
			result.addError("server.static", s.Prefix, "static prefix must not be the root")
			continue
		}
		if seen[s.Prefix] {
			result.addError("server.static", s.Prefix, "duplicate static prefix %s", s.Prefix)
		}
		seen[s.Prefix] = true
		if err := validatePath(s.Dir); err != nil {
			result.addError("server.static", s.Dir, "%v", err)
		}
	}
}

func (c *Config) validatePaths(result *ValidationResult) {
	if c.Paths.Root == "" {
		result.addError("paths.root", "", "empty path")
	}

	fields := []struct {
		name  string
		value string
	}{
		{"paths.application", c.Paths.Application},
		{"paths.controllers", c.Paths.Controllers},
		{"paths.models", c.Paths.Models},
		{"paths.library", c.Paths.Library},
		{"paths.views", c.Paths.Views},
		{"paths.scripts", c.Paths.Scripts},
		{"paths.layouts", c.Paths.Layouts},
		{"paths.modules", c.Paths.Modules},
		{"paths.routes", c.Paths.Routes},
	}
	for _, f := range fields {
		if err := validatePath(f.value); err != nil {
			result.addError(f.name, f.value, "%v", err)
		}
	}
}

// validatePath validates a path relative to the root.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}
