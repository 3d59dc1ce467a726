// Package decode implements search strategies over encoder-decoder
// transcription models.
package decode

import (
	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
)

// Result is one decoded hypothesis.
type Result struct {
	// TokenIDs is the emitted sequence without the leading SOS, cut at the
	// first EOS.
	TokenIDs []int32

	// Score is the length-normalized log probability of the sequence.
	Score float64
}

type params struct {
	pad, sos, eos int32
	maxLength     int
}

func newParams(c fs.Config) params {
	return params{
		pad:       int32(c.Int("pad_id", 0)),
		sos:       int32(c.Int("sos_id", 1)),
		eos:       int32(c.Int("eos_id", 2)),
		maxLength: c.Int("max_length", 400),
	}
}

// Greedy decodes each utterance by taking the most probable token at every
// step until EOS or the model's maximum length.
func Greedy(ctx ml.Context, m model.Transcriber, features *ml.Tensor, lengths []int) ([]Result, error) {
	memory, err := m.Encode(ctx, features, lengths)
	if err != nil {
		return nil, err
	}

	p := newParams(m.Config())
	batch := memory.Dim(0)

	tokens := make([][]int32, batch)
	for b := range tokens {
		tokens[b] = []int32{p.sos}
	}

	sums := make([]float64, batch)
	emitted := make([]int, batch)
	finished := make([]bool, batch)

	for steps := 1; steps <= p.maxLength; steps++ {
		targets := ctx.FromInts(flatten(tokens), batch, steps)
		logProbs, err := m.Decode(ctx, memory, lengths, targets)
		if err != nil {
			return nil, err
		}

		best := logProbs.TopK(ctx, 1)

		done := true
		for b := range tokens {
			if finished[b] {
				tokens[b] = append(tokens[b], p.pad)
				continue
			}

			next := best.IntAt(b, steps-1, 0)
			sums[b] += float64(logProbs.At(b, steps-1, int(next)))
			emitted[b]++

			tokens[b] = append(tokens[b], next)
			if next == p.eos {
				finished[b] = true
			} else {
				done = false
			}
		}

		if done {
			break
		}
	}

	results := make([]Result, batch)
	for b := range results {
		results[b] = Result{
			TokenIDs: trim(tokens[b][1:], p.eos, p.pad),
			Score:    normalize(sums[b], emitted[b]),
		}
	}

	return results, nil
}

// flatten lays out same-length token rows as one row-major slice.
func flatten(tokens [][]int32) []int32 {
	flat := make([]int32, 0, len(tokens)*len(tokens[0]))
	for _, row := range tokens {
		flat = append(flat, row...)
	}

	return flat
}

// trim cuts ids at the first EOS and drops padding.
func trim(ids []int32, eos, pad int32) []int32 {
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if id == eos {
			break
		}
		if id == pad {
			continue
		}

		out = append(out, id)
	}

	return out
}

func normalize(sum float64, length int) float64 {
	if length == 0 {
		return 0
	}

	return sum / float64(length)
}
