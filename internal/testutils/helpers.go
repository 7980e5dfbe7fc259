// Package testutils builds throwaway convey applications for tests.
package testutils

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// ProjectDirs is the conventional layout created by NewProject.
var ProjectDirs = []string{
	"application/controllers",
	"application/models",
	"application/views/scripts",
	"application/views/layouts",
	"library",
	"config",
	"public",
}

// Project is an application tree in a temporary directory. Viper holds the
// settings the application is loaded from; paths.root points at Root.
type Project struct {
	Root  string
	Viper *viper.Viper
}

// NewProject creates the standard directory layout and a viper instance
// seeded with settings.
func NewProject(t *testing.T, settings map[string]any) *Project {
	t.Helper()

	p := &Project{Root: t.TempDir(), Viper: viper.New()}
	for _, dir := range ProjectDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(p.Root, filepath.FromSlash(dir)), 0o755))
	}

	p.Viper.Set("paths.root", p.Root)
	for k, v := range settings {
		p.Viper.Set(k, v)
	}
	return p
}

// Path returns the absolute path of rel inside the project.
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Write creates or replaces the file rel and returns its absolute path.
func (p *Project) Write(t *testing.T, rel, content string) string {
	t.Helper()

	path := p.Path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// WriteConfig saves the current settings as .convey.yml in the project root
// and returns its path.
func (p *Project) WriteConfig(t *testing.T) string {
	t.Helper()

	path := p.Path(".convey.yml")
	require.NoError(t, p.Viper.WriteConfigAs(path))
	return path
}

// Get sends a GET request for target to h and returns the status and body.
func Get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}
