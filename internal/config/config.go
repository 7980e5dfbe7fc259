// Package config loads the application configuration with Viper from a YAML
// file, CONVEY_ environment variables and command-line flags.
//
// Every directory is given relative to paths.root unless absolute. Defaults
// describe the conventional layout:
//
//	application/
//	  controllers/   PostController.lua, AdminUserController.lua
//	  models/        Post.lua
//	  modules/admin/controllers/
//	  views/scripts/ post/show.html, partials/
//	  views/layouts/ layout.html
//	library/
//	config/routes.yml
//	public/
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/conneroisu/convey/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. CONVEY_SERVER_PORT.
const EnvPrefix = "CONVEY"

// FileName is the configuration file looked up in the working directory.
const FileName = ".convey.yml"

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Paths       PathsConfig       `mapstructure:"paths" yaml:"paths"`
	Template    TemplateConfig    `mapstructure:"template" yaml:"template"`
	Layout      LayoutConfig      `mapstructure:"layout" yaml:"layout"`
	Error       ErrorConfig       `mapstructure:"error" yaml:"error"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Static         []StaticDir   `mapstructure:"static" yaml:"static"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MetricsPath    string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StaticDir serves Dir under the URL Prefix. In YAML a bare string "public"
// is short for {prefix: /public, dir: public}.
type StaticDir struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

type PathsConfig struct {
	Root        string `mapstructure:"root" yaml:"root"`
	Application string `mapstructure:"application" yaml:"application"`
	Controllers string `mapstructure:"controllers" yaml:"controllers"`
	Models      string `mapstructure:"models" yaml:"models"`
	Library     string `mapstructure:"library" yaml:"library"`
	Views       string `mapstructure:"views" yaml:"views"`
	Scripts     string `mapstructure:"scripts" yaml:"scripts"`
	Layouts     string `mapstructure:"layouts" yaml:"layouts"`
	Modules     string `mapstructure:"modules" yaml:"modules"`
	Routes      string `mapstructure:"routes" yaml:"routes"`
}

type TemplateConfig struct {
	// Engine is "html" (html/template files) or "templ" (registered components).
	Engine    string `mapstructure:"engine" yaml:"engine"`
	Extension string `mapstructure:"extension" yaml:"extension"`
}

type LayoutConfig struct {
	// Default is the layout applied unless an action disables or replaces it.
	// Empty means no layout.
	Default string `mapstructure:"default" yaml:"default"`
}

type ErrorConfig struct {
	// Reporting sends error details to the client.
	Reporting bool `mapstructure:"reporting" yaml:"reporting"`
}

type DevelopmentConfig struct {
	HotReload  bool          `mapstructure:"hot_reload" yaml:"hot_reload"`
	LiveReload bool          `mapstructure:"live_reload" yaml:"live_reload"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

// BindEnv makes v read CONVEY_ environment overrides, e.g.
// CONVEY_SERVER_PORT for server.port.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static", []string{"public"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.metrics_path", "/metrics")

	v.SetDefault("paths.root", ".")
	v.SetDefault("paths.application", "application")
	v.SetDefault("paths.controllers", "application/controllers")
	v.SetDefault("paths.models", "application/models")
	v.SetDefault("paths.library", "library")
	v.SetDefault("paths.views", "application/views")
	v.SetDefault("paths.scripts", "application/views/scripts")
	v.SetDefault("paths.layouts", "application/views/layouts")
	v.SetDefault("paths.modules", "application/modules")
	v.SetDefault("paths.routes", "config/routes.yml")

	v.SetDefault("template.engine", "html")
	v.SetDefault("template.extension", ".html")
	v.SetDefault("layout.default", "")
	v.SetDefault("error.reporting", true)

	v.SetDefault("development.hot_reload", true)
	v.SetDefault("development.live_reload", true)
	v.SetDefault("development.debounce", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		staticDirHook,
	)))
	if err != nil {
		return nil, errors.NewConfigError("decoding configuration", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.normalize()

	if result := cfg.Validate(); result.HasErrors() {
		return nil, errors.NewConfigError("invalid configuration", result.Err())
	}
	return &cfg, nil
}

func staticDirHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(StaticDir{}) || from.Kind() != reflect.String {
		return data, nil
	}
	dir := strings.TrimSpace(data.(string))
	return StaticDir{Prefix: dir, Dir: dir}, nil
}

func (c *Config) normalize() {
	for i, s := range c.Server.Static {
		if s.Dir == "" {
			s.Dir = strings.Trim(s.Prefix, "/")
		}
		s.Prefix = "/" + strings.Trim(s.Prefix, "/")
		c.Server.Static[i] = s
	}
	c.Template.Engine = strings.ToLower(strings.TrimSpace(c.Template.Engine))
	if c.Template.Extension != "" && !strings.HasPrefix(c.Template.Extension, ".") {
		c.Template.Extension = "." + c.Template.Extension
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Address is the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Resolve returns path made absolute against paths.root.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	root := c.Paths.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(filepath.Join(root, path))
	if err != nil {
		return filepath.Join(root, path)
	}
	return abs
}

// ControllerDir is the controller directory of module; the empty module is
// the application.
func (c *Config) ControllerDir(module string) string {
	if module == "" {
		return c.Resolve(c.Paths.Controllers)
	}
	return filepath.Join(c.Resolve(c.Paths.Modules), module, "controllers")
}

// StaticPrefixes lists the URL prefixes served as files.
func (c *Config) StaticPrefixes() []string {
	out := make([]string, 0, len(c.Server.Static))
	for _, s := range c.Server.Static {
		out = append(out, s.Prefix)
	}
	return out
}

// ReloadPaths are the files whose change requires a full reload.
func (c *Config) ReloadPaths() []string {
	paths := []string{c.Resolve(c.Paths.Routes)}
	if c.File != "" {
		if abs, err := filepath.Abs(c.File); err == nil {
			paths = append(paths, abs)
		}
	}
	return paths
}

// RequiresRestart reports settings changed between c and next that a reload
// cannot apply.
func (c *Config) RequiresRestart(next *Config) []string {
	var changed []string
	if c.Address() != next.Address() {
		changed = append(changed, fmt.Sprintf("server address %s -> %s", c.Address(), next.Address()))
	}
	if c.Server.MetricsPath != next.Server.MetricsPath {
		changed = append(changed, "server.metrics_path")
	}
	if !sameStatic(c.Server.Static, next.Server.Static) {
		changed = append(changed, "server.static")
	}
	if !slices.Equal(c.WatchDirs(), next.WatchDirs()) {
		changed = append(changed, "watched directories (paths.*)")
	}
	if c.Development.HotReload != next.Development.HotReload {
		changed = append(changed, "development.hot_reload")
	}
	if c.Development.Debounce != next.Development.Debounce {
		changed = append(changed, "development.debounce")
	}
	if c.Template.Extension != next.Template.Extension {
		changed = append(changed, "template.extension")
	}
	return changed
}

// WatchDirs returns the resolved directories the file watcher observes
// recursively.
func (c *Config) WatchDirs() []string {
	dirs := []string{
		c.Paths.Controllers,
		c.Paths.Modules,
		c.Paths.Models,
		c.Paths.Library,
		c.Paths.Views,
		c.Paths.Scripts,
		c.Paths.Layouts,
	}
	for i, dir := range dirs {
		dirs[i] = c.Resolve(dir)
	}
	return dirs
}

func sameStatic(a, b []StaticDir) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
