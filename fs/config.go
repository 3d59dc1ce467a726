// Package fs reads model packages from disk: the config.json metadata and
// the checkpoint weights next to it.
package fs

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"os"
)

// Config holds model metadata decoded from a config.json.
type Config map[string]any

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return c, nil
}

// Architecture returns the registered architecture name of the model.
func (c Config) Architecture() string {
	return c.String("architecture", "unknown")
}

// String returns a string value.
func (c Config) String(key string, defaultValue ...string) string {
	if v, ok := c[key].(string); ok {
		return v
	}

	return append(defaultValue, "")[0]
}

// Int returns an integer value. JSON numbers arrive as float64 and are
// truncated.
func (c Config) Int(key string, defaultValue ...int) int {
	switch v := c[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}

	return append(defaultValue, 0)[0]
}

// Float returns a float value.
func (c Config) Float(key string, defaultValue ...float32) float32 {
	switch v := c[key].(type) {
	case float64:
		return float32(v)
	case float32:
		return v
	case int:
		return float32(v)
	}

	return append(defaultValue, 0)[0]
}

// Bool returns a boolean value.
func (c Config) Bool(key string, defaultValue ...bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}

	return append(defaultValue, false)[0]
}

// Strings returns a string array value.
func (c Config) Strings(key string, defaultValue ...[]string) []string {
	if vs, ok := c[key].([]any); ok {
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}

	return append(defaultValue, []string(nil))[0]
}

// Ints returns an integer array value.
func (c Config) Ints(key string, defaultValue ...[]int) []int {
	if vs, ok := c[key].([]any); ok {
		out := make([]int, 0, len(vs))
		for _, v := range vs {
			if f, ok := v.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out
	}

	return append(defaultValue, []int(nil))[0]
}

func (c Config) Len() int {
	return len(c)
}

func (c Config) Keys() iter.Seq[string] {
	return maps.Keys(c)
}

func (c Config) Value(key string) any {
	return c[key]
}
