// Package recognizer turns a model directory into a transcription service:
// it loads the model and its vocabulary, owns the compute context and
// decodes feature batches into text.
package recognizer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sooftware/End-to-end-Speech-Recognition/decode"
	"github.com/sooftware/End-to-end-Speech-Recognition/envconfig"
	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
	"github.com/sooftware/End-to-end-Speech-Recognition/vocab"
)

// Options selects how a batch is decoded.
type Options struct {
	// BeamWidth enables beam search when greater than 1.
	BeamWidth int

	// Alignment attaches cross attention alignments to the transcriptions.
	Alignment bool
}

// Transcription is one decoded utterance.
type Transcription struct {
	Text     string
	TokenIDs []int32

	// Score is the length-normalized log probability of the token sequence.
	Score float64

	// Alignment holds the decoder cross attention from rescoring SOS plus
	// the decoded tokens, laid out as (heads, steps, frames). Nil unless
	// requested.
	Alignment *ml.Tensor
}

// Recognizer binds a loaded model to its vocabulary.
type Recognizer struct {
	model   model.Transcriber
	vocab   *vocab.Vocabulary
	compute ml.Context
}

// Load reads a model directory: config.json, the checkpoint next to it and
// vocab.csv.
func Load(dir string) (*Recognizer, error) {
	m, err := model.New(dir)
	if err != nil {
		return nil, err
	}

	t, ok := m.(model.Transcriber)
	if !ok {
		return nil, fmt.Errorf("recognizer: %s does not transcribe", m.Config().Architecture())
	}

	v, err := vocab.Load(filepath.Join(dir, "vocab.csv"))
	if err != nil {
		return nil, err
	}

	if err := check(m.Config(), v); err != nil {
		return nil, err
	}

	slog.Info("loaded model", "dir", dir, "architecture", m.Config().Architecture(), "classes", v.Len())

	return &Recognizer{
		model:   t,
		vocab:   v,
		compute: ml.NewContext(ml.WithThreads(envconfig.NumThreads())),
	}, nil
}

// check rejects model directories whose config and vocabulary disagree on
// the ids the decoder depends on.
func check(c fs.Config, v *vocab.Vocabulary) error {
	if classes := c.Int("num_classes"); classes != v.Len() {
		return fmt.Errorf("recognizer: model has %d classes but the vocabulary has %d units", classes, v.Len())
	}

	for _, s := range []struct {
		key     string
		def     int
		inVocab int32
	}{
		{"pad_id", 0, v.PadID()},
		{"sos_id", 1, v.SOSID()},
		{"eos_id", 2, v.EOSID()},
	} {
		if got := int32(c.Int(s.key, s.def)); got != s.inVocab {
			return fmt.Errorf("recognizer: config %s %d does not match the vocabulary's %d", s.key, got, s.inVocab)
		}
	}

	return nil
}

// Model returns the loaded model.
func (r *Recognizer) Model() model.Model {
	return r.model
}

// Vocab returns the vocabulary the model decodes into.
func (r *Recognizer) Vocab() *vocab.Vocabulary {
	return r.vocab
}

// Recognize transcribes a padded feature batch (batch, frames, featDim).
func (r *Recognizer) Recognize(ctx context.Context, features *ml.Tensor, lengths []int, opts Options) ([]Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	var results []decode.Result
	var err error
	if opts.BeamWidth > 1 {
		results, err = decode.Beam(r.compute, r.model, features, lengths, opts.BeamWidth)
	} else {
		results, err = decode.Greedy(r.compute, r.model, features, lengths)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("decoded batch", "utterances", len(results), "beam_width", opts.BeamWidth, "duration", time.Since(start))

	out := make([]Transcription, len(results))
	for i, res := range results {
		out[i] = Transcription{
			Text:     r.vocab.LabelToString(res.TokenIDs),
			TokenIDs: res.TokenIDs,
			Score:    res.Score,
		}
	}

	if opts.Alignment {
		if err := r.align(ctx, features, lengths, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Transcribe pads the utterances into a batch and runs Recognize over it.
func (r *Recognizer) Transcribe(ctx context.Context, utterances []*Features, opts Options) ([]Transcription, error) {
	features, lengths, err := BatchFeatures(r.compute, utterances)
	if err != nil {
		return nil, err
	}

	return r.Recognize(ctx, features, lengths, opts)
}

// align reruns the decoder over each decoded sequence and attaches the
// model's cross attention.
func (r *Recognizer) align(ctx context.Context, features *ml.Tensor, lengths []int, out []Transcription) error {
	a, ok := r.model.(model.Aligner)
	if !ok {
		return fmt.Errorf("recognizer: %s does not expose alignments", r.model.Config().Architecture())
	}

	memory, err := r.model.Encode(r.compute, features, lengths)
	if err != nil {
		return err
	}

	rows := memory.Floats()
	rowLen := memory.Dim(1) * memory.Dim(2)
	sos := int32(r.model.Config().Int("sos_id", 1))

	for i := range out {
		if err := ctx.Err(); err != nil {
			return err
		}

		targets := append([]int32{sos}, out[i].TokenIDs...)
		row := r.compute.FromFloats(rows[i*rowLen:(i+1)*rowLen], 1, memory.Dim(1), memory.Dim(2))

		attn, err := a.Align(r.compute, row, lengths[i:i+1], r.compute.FromInts(targets, 1, len(targets)))
		if err != nil {
			return err
		}

		out[i].Alignment = attn.Reshape(r.compute, attn.Dim(1), attn.Dim(2), attn.Dim(3))
	}

	return nil
}
