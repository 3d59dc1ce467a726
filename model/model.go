// Package model hosts the model registry. Architectures register a
// constructor under their config name; New builds an instance from a model
// directory and populates its weight fields from the checkpoint found there.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/fs/safetensors"
	"github.com/sooftware/End-to-end-Speech-Recognition/fs/torch"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

var (
	ErrUnsupportedModel = errors.New("model not supported")
	ErrNoCheckpoint     = errors.New("no checkpoint found")
)

// Model is implemented by every registered architecture.
type Model interface {
	// Forward runs a teacher-forced pass and returns per-step log
	// probabilities over the vocabulary, laid out as (batch, steps, classes).
	Forward(ctx ml.Context, batch Batch) (*ml.Tensor, error)

	Config() fs.Config
}

// Transcriber is implemented by encoder-decoder models that expose their two
// halves for stepwise decoding.
type Transcriber interface {
	Model

	// Encode consumes padded feature frames (batch, time, featDim) and
	// returns the encoder memory (batch, time, dModel).
	Encode(ctx ml.Context, features *ml.Tensor, lengths []int) (*ml.Tensor, error)

	// Decode scores target prefixes (batch, steps) against the encoder
	// memory and returns log probabilities (batch, steps, classes).
	Decode(ctx ml.Context, memory *ml.Tensor, memoryLengths []int, targets *ml.Tensor) (*ml.Tensor, error)
}

// Aligner is an optional interface for models that expose the cross
// attention between decoded tokens and input frames.
type Aligner interface {
	// Align scores targets (batch, steps) against the encoder memory and
	// returns attention weights (batch, heads, steps, frames).
	Align(ctx ml.Context, memory *ml.Tensor, memoryLengths []int, targets *ml.Tensor) (*ml.Tensor, error)
}

// Validator is an optional interface for post-load validation.
type Validator interface {
	Validate() error
}

// Batch carries one forward pass worth of inputs.
type Batch struct {
	// Features holds padded input frames laid out as (batch, time, featDim).
	Features *ml.Tensor

	// FeatureLengths gives the valid frame count of each sequence.
	FeatureLengths []int

	// Targets holds the token ids consumed by the decoder, one row per
	// sequence, each starting with SOS.
	Targets *ml.Tensor
}

// Base implements the common fields shared by every model.
type Base struct {
	config fs.Config

	weights fs.Weights
	used    map[string]bool
	missing []string
}

// Config returns the model metadata the instance was built from.
func (m *Base) Config() fs.Config {
	return m.config
}

var models = make(map[string]func(fs.Config) (Model, error))

// Register makes a model constructor available under an architecture name.
func Register(name string, f func(fs.Config) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// New builds the model described by dir's config.json and populates it from
// the checkpoint next to it.
func New(dir string) (Model, error) {
	c, err := fs.LoadConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}

	weights, err := LoadWeights(dir)
	if err != nil {
		return nil, err
	}

	return build(c, weights)
}

func build(c fs.Config, weights fs.Weights) (Model, error) {
	m, err := modelForArch(c)
	if err != nil {
		return nil, err
	}

	base := Base{config: c, weights: weights, used: make(map[string]bool)}
	v := reflect.ValueOf(m)
	v.Elem().Set(populateFields(&base, v.Elem()))

	if len(base.missing) > 0 {
		return nil, fmt.Errorf("model: checkpoint is missing tensors: %v", base.missing)
	}
	base.logUnused()

	if validator, ok := m.(Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func modelForArch(c fs.Config) (Model, error) {
	f, ok := models[c.Architecture()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, c.Architecture())
	}

	return f(c)
}

// LoadWeights reads the checkpoint in a model directory, preferring
// model.safetensors over model.pt.
func LoadWeights(dir string) (fs.Weights, error) {
	if path := filepath.Join(dir, "model.safetensors"); exists(path) {
		return safetensors.Load(path)
	}
	if path := filepath.Join(dir, "model.pt"); exists(path) {
		return torch.Load(path)
	}

	return nil, fmt.Errorf("%w in %s: expected model.safetensors or model.pt", ErrNoCheckpoint, dir)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Forward validates a batch and runs a teacher-forced pass through the model.
func Forward(ctx ml.Context, m Model, batch Batch) (*ml.Tensor, error) {
	if batch.Features == nil || batch.Targets == nil {
		return nil, errors.New("model: batch needs features and targets")
	}

	if n := batch.Features.Dim(0); len(batch.FeatureLengths) != n {
		return nil, fmt.Errorf("model: %d feature lengths for a batch of %d", len(batch.FeatureLengths), n)
	}

	if f, t := batch.Features.Dim(0), batch.Targets.Dim(0); f != t {
		return nil, fmt.Errorf("model: feature batch %d does not match target batch %d", f, t)
	}

	return m.Forward(ctx, batch)
}
