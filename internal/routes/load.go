package routes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Load reads route entries from a YAML or JSON file. The file holds either a
// list of entries or an object with a "routes" list. A missing file yields an
// empty table definition.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading routes file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	default:
		return ParseYAML(data)
	}
}

// ParseJSON parses a JSON routes document.
func ParseJSON(data []byte) ([]Entry, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("routes: invalid JSON")
	}

	list := gjson.ParseBytes(data)
	if list.IsObject() {
		list = list.Get("routes")
	}
	if !list.Exists() {
		return nil, nil
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("routes: expected a list of routes")
	}

	var entries []Entry
	list.ForEach(func(_, v gjson.Result) bool {
		entries = append(entries, Entry{
			Pattern:    v.Get("route").String(),
			Verb:       v.Get("verb").String(),
			Controller: v.Get("controller").String(),
			Action:     v.Get("action").String(),
			Module:     v.Get("module").String(),
		})
		return true
	})

	return entries, nil
}

// ParseYAML parses a YAML routes document.
func ParseYAML(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	var entries []Entry

	switch root.Kind {
	case yaml.MappingNode:
		var wrapped struct {
			Routes []Entry `yaml:"routes"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("routes: %w", err)
		}
		entries = wrapped.Routes
	case yaml.SequenceNode:
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("routes: %w", err)
		}
	default:
		return nil, fmt.Errorf("routes: expected a list of routes")
	}

	return entries, nil
}
