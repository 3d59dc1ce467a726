package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{
		"architecture": "speech_transformer",
		"d_model": 512,
		"dropout_p": 0.3,
		"ffnet_style": "ff",
		"bidirectional": true,
		"extensions": ["pcm", "wav"]
	}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Architecture(); got != "speech_transformer" {
		t.Errorf("architecture: got %q", got)
	}
	if got := c.Int("d_model"); got != 512 {
		t.Errorf("d_model: got %d", got)
	}
	if got := c.Float("dropout_p"); got != 0.3 {
		t.Errorf("dropout_p: got %f", got)
	}
	if got := c.String("ffnet_style"); got != "ff" {
		t.Errorf("ffnet_style: got %q", got)
	}
	if !c.Bool("bidirectional") {
		t.Error("bidirectional: got false")
	}
	if diff := cmp.Diff([]string{"pcm", "wav"}, c.Strings("extensions")); diff != "" {
		t.Errorf("extensions mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}

	if got := c.Architecture(); got != "unknown" {
		t.Errorf("architecture: got %q", got)
	}
	if got := c.Int("num_heads", 8); got != 8 {
		t.Errorf("num_heads: got %d", got)
	}
	if got := c.Float("dropout_p", 0.3); got != 0.3 {
		t.Errorf("dropout_p: got %f", got)
	}
	if got := c.String("ffnet_style", "ff"); got != "ff" {
		t.Errorf("ffnet_style: got %q", got)
	}
	if got := c.Bool("missing"); got {
		t.Error("missing bool: got true")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed file")
	}
}
