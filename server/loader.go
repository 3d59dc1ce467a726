package server

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/recognizer"
)

var errInvalidName = errors.New("invalid model name")

// loader caches recognizers by model name. A name resolves to a directory
// under the configured model path.
type loader struct {
	dir string

	// mu also serializes loads, so only one model loads at a time while
	// requests for already loaded models are served from the cache.
	mu     sync.Mutex
	loaded map[string]*recognizer.Recognizer
}

func newLoader(dir string) *loader {
	return &loader{dir: dir, loaded: make(map[string]*recognizer.Recognizer)}
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, `/\`)
}

func (l *loader) get(name string) (*recognizer.Recognizer, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w %q", errInvalidName, name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.loaded[name]; ok {
		return r, nil
	}

	r, err := recognizer.Load(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}

	l.loaded[name] = r
	return r, nil
}

// list describes every model directory under the model path, loaded or not.
func (l *loader) list() ([]api.ModelInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var models []api.ModelInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		config, err := fs.LoadConfig(filepath.Join(l.dir, entry.Name(), "config.json"))
		if err != nil {
			slog.Warn("skipping model directory", "name", entry.Name(), "error", err)
			continue
		}

		models = append(models, api.ModelInfo{
			Name:         entry.Name(),
			Architecture: config.Architecture(),
			Classes:      config.Int("num_classes"),
			InputDim:     config.Int("input_dim"),
		})
	}

	slices.SortStableFunc(models, func(a, b api.ModelInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})

	return models, nil
}
