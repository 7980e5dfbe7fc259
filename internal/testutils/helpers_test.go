package testutils

import (
	"net/http"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/convey/internal/config"
)

func TestNewProjectLayout(t *testing.T) {
	p := NewProject(t, map[string]any{"layout.default": "main"})

	for _, dir := range ProjectDirs {
		info, err := os.Stat(p.Path(dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
	assert.Equal(t, p.Root, p.Viper.GetString("paths.root"))
	assert.Equal(t, "main", p.Viper.GetString("layout.default"))
}

func TestWriteConfigLoads(t *testing.T) {
	p := NewProject(t, map[string]any{
		"server.port":    8123,
		"layout.default": "main",
	})
	path := p.WriteConfig(t)

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "main", cfg.Layout.Default)
	assert.Equal(t, p.Root, cfg.Paths.Root)
}

func TestGet(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(r.URL.Path))
	})

	code, body := Get(t, h, "/brew")
	assert.Equal(t, http.StatusTeapot, code)
	assert.Equal(t, "/brew", body)
}
