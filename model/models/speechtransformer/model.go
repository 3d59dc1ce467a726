// Package speechtransformer implements the speech transformer: a
// transformer encoder over acoustic feature frames and a transformer decoder
// producing character log probabilities, joined by cross-attention.
package speechtransformer

import (
	"errors"
	"fmt"

	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
)

type Model struct {
	model.Base

	Encoder *Encoder `pt:"encoder"`
	Decoder *Decoder `pt:"decoder"`

	*Options
}

func New(c fs.Config) (model.Model, error) {
	opts, err := newOptions(c)
	if err != nil {
		return nil, err
	}

	encoder, err := newEncoder(opts)
	if err != nil {
		return nil, err
	}

	decoder, err := newDecoder(opts)
	if err != nil {
		return nil, err
	}

	return &Model{Encoder: encoder, Decoder: decoder, Options: opts}, nil
}

// Validate checks the populated weights against the configured sizes.
func (m *Model) Validate() error {
	if w := m.Encoder.InputProj.Weight; w.Dim(0) != m.dModel || w.Dim(1) != m.inputDim {
		return fmt.Errorf("speechtransformer: input projection %v does not map input_dim %d to d_model %d", w.Shape(), m.inputDim, m.dModel)
	}
	if w := m.Decoder.Embedding.Lookup.Weight; w.Dim(0) != m.numClasses || w.Dim(1) != m.dModel {
		return fmt.Errorf("speechtransformer: embedding %v does not match num_classes %d and d_model %d", w.Shape(), m.numClasses, m.dModel)
	}
	if w := m.Decoder.Output.Weight; w.Dim(0) != m.numClasses {
		return fmt.Errorf("speechtransformer: classification head %v does not match num_classes %d", w.Shape(), m.numClasses)
	}

	return nil
}

// Encode runs the encoder over padded feature frames (batch, steps,
// inputDim) and returns the memory (batch, steps, dModel).
func (m *Model) Encode(ctx ml.Context, features *ml.Tensor, lengths []int) (*ml.Tensor, error) {
	if features == nil {
		return nil, errors.New("speechtransformer: encode needs features")
	}
	if got := len(features.Shape()); got != 3 {
		return nil, fmt.Errorf("speechtransformer: features have %d dimensions, want 3", got)
	}
	if got := features.Dim(2); got != m.inputDim {
		return nil, fmt.Errorf("speechtransformer: feature width %d does not match input_dim %d", got, m.inputDim)
	}
	if b := features.Dim(0); len(lengths) != b {
		return nil, fmt.Errorf("speechtransformer: %d lengths for a batch of %d", len(lengths), b)
	}
	for i, length := range lengths {
		if length <= 0 || length > features.Dim(1) {
			return nil, fmt.Errorf("speechtransformer: length %d of sequence %d outside (0, %d]", length, i, features.Dim(1))
		}
	}

	memory, _ := m.Encoder.Forward(ctx, features, lengths, m.Options)
	return memory, nil
}

// Decode scores target prefixes (batch, steps) against the encoder memory
// and returns log probabilities (batch, steps, numClasses).
func (m *Model) Decode(ctx ml.Context, memory *ml.Tensor, memoryLengths []int, targets *ml.Tensor) (*ml.Tensor, error) {
	if err := checkDecode(memory, memoryLengths, targets); err != nil {
		return nil, err
	}

	logProbs, _, _ := m.Decoder.Forward(ctx, targets, memory, memoryLengths, m.Options)
	return logProbs, nil
}

// Align scores targets against the encoder memory and returns the last
// decoder layer's memory attention (batch, heads, targetSteps, memorySteps).
func (m *Model) Align(ctx ml.Context, memory *ml.Tensor, memoryLengths []int, targets *ml.Tensor) (*ml.Tensor, error) {
	if err := checkDecode(memory, memoryLengths, targets); err != nil {
		return nil, err
	}

	_, _, memoryAttns := m.Decoder.Forward(ctx, targets, memory, memoryLengths, m.Options)
	return memoryAttns[len(memoryAttns)-1], nil
}

func checkDecode(memory *ml.Tensor, memoryLengths []int, targets *ml.Tensor) error {
	if memory == nil || targets == nil {
		return errors.New("speechtransformer: decode needs memory and targets")
	}
	if targets.DType() != ml.DTypeI32 {
		return fmt.Errorf("speechtransformer: target ids are %s, want %s", targets.DType(), ml.DTypeI32)
	}
	if mb, tb := memory.Dim(0), targets.Dim(0); mb != tb {
		return fmt.Errorf("speechtransformer: memory batch %d does not match target batch %d", mb, tb)
	}
	if b := memory.Dim(0); len(memoryLengths) != b {
		return fmt.Errorf("speechtransformer: %d memory lengths for a batch of %d", len(memoryLengths), b)
	}

	return nil
}

// Forward runs the teacher-forced pass: encode the features, then score the
// target sequences against the memory.
func (m *Model) Forward(ctx ml.Context, batch model.Batch) (*ml.Tensor, error) {
	memory, err := m.Encode(ctx, batch.Features, batch.FeatureLengths)
	if err != nil {
		return nil, err
	}

	return m.Decode(ctx, memory, batch.FeatureLengths, batch.Targets)
}

// Recognition is one decoded sequence. TokenIDs excludes the leading SOS and
// the terminating EOS. Alignment holds the last decoder layer's memory
// attention for the sequence, (heads, decodeSteps, memorySteps).
type Recognition struct {
	TokenIDs  []int32
	Alignment *ml.Tensor
}

// Recognize transcribes the feature batch by greedy decoding: starting from
// SOS, the decoder is rerun on the growing prefix and the best class of the
// newest step is appended, until EOS or maxLength. Finished sequences are
// padded so the batch stays rectangular.
func (m *Model) Recognize(ctx ml.Context, features *ml.Tensor, lengths []int) ([]Recognition, error) {
	memory, err := m.Encode(ctx, features, lengths)
	if err != nil {
		return nil, err
	}

	batch := memory.Dim(0)
	tokens := make([][]int32, batch)
	for b := range tokens {
		tokens[b] = []int32{m.sosID}
	}

	finished := make([]bool, batch)
	var alignment *ml.Tensor

	for steps := 1; steps <= m.maxLength; steps++ {
		flat := make([]int32, 0, batch*steps)
		for b := range tokens {
			flat = append(flat, tokens[b]...)
		}

		logProbs, _, memoryAttns := m.Decoder.Forward(ctx, ctx.FromInts(flat, batch, steps), memory, lengths, m.Options)
		alignment = memoryAttns[len(memoryAttns)-1]

		best := logProbs.TopK(ctx, 1)
		done := true
		for b := range tokens {
			if finished[b] {
				tokens[b] = append(tokens[b], m.padID)
				continue
			}

			next := best.IntAt(b, steps-1, 0)
			tokens[b] = append(tokens[b], next)
			if next == m.eosID {
				finished[b] = true
			} else {
				done = false
			}
		}

		if done {
			break
		}
	}

	alignments := splitBatch(ctx, alignment)

	results := make([]Recognition, batch)
	for b := range results {
		results[b].TokenIDs = trim(tokens[b][1:], m.eosID, m.padID)
		if alignments != nil {
			results[b].Alignment = alignments[b]
		}
	}

	return results, nil
}

// trim cuts a decoded sequence at the first EOS and drops padding.
func trim(ids []int32, eosID, padID int32) []int32 {
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if id == eosID {
			break
		}
		if id != padID {
			out = append(out, id)
		}
	}

	return out
}

// splitBatch splits a tensor along its leading batch dimension.
func splitBatch(ctx ml.Context, t *ml.Tensor) []*ml.Tensor {
	if t == nil {
		return nil
	}

	data := t.Floats()
	shape := t.Shape()[1:]
	size := 1
	for _, d := range shape {
		size *= d
	}

	out := make([]*ml.Tensor, t.Dim(0))
	for b := range out {
		out[b] = ctx.FromFloats(data[b*size:(b+1)*size], shape...)
	}

	return out
}

func init() {
	model.Register("speech_transformer", New)
}
