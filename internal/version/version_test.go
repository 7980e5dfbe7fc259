package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"release", Info{Version: "v1.2.3", GitCommit: "abcdef0123"}, "v1.2.3 (abcdef0)"},
		{"dev", Info{Version: "dev", GitCommit: "abcdef0123"}, "dev-abcdef0"},
		{"no commit", Info{Version: "v1.0.0", GitCommit: "unknown"}, "v1.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestDetailed(t *testing.T) {
	info := Info{
		Version:   "v1.2.3",
		GitCommit: "abcdef0",
		Dirty:     true,
		BuildTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		GoVersion: "go1.24",
		Platform:  "linux/amd64",
	}
	want := "Version: v1.2.3\nCommit: abcdef0 (dirty)\nBuilt: 2024-01-02T03:04:05Z\nGo: go1.24\nPlatform: linux/amd64"
	assert.Equal(t, want, info.Detailed())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2024, parseTime("2024-05-06T07:08:09Z").Year())
	assert.Equal(t, 9, parseTime("2024-05-06 07:08:09").Second())
}
