package decode

import (
	"cmp"
	"fmt"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
)

// hypothesis is one partial transcription on the beam.
type hypothesis struct {
	tokens []int32 // starts with SOS
	sum    float64
}

func (h *hypothesis) extend(token int32, logProb float64) *hypothesis {
	tokens := make([]int32, len(h.tokens)+1)
	copy(tokens, h.tokens)
	tokens[len(h.tokens)] = token

	return &hypothesis{tokens: tokens, sum: h.sum + logProb}
}

func (h *hypothesis) last() int32 {
	return h.tokens[len(h.tokens)-1]
}

// score is the length-normalized log probability, counting every emitted
// token including EOS.
func (h *hypothesis) score() float64 {
	return normalize(h.sum, len(h.tokens)-1)
}

// Beam decodes each utterance with a fixed-width beam. At every step each
// live hypothesis proposes its top continuations, the best width of them
// survive, and a hypothesis retires from the beam when it emits EOS. The
// best hypothesis by length-normalized log probability wins, retired ones
// first.
func Beam(ctx ml.Context, m model.Transcriber, features *ml.Tensor, lengths []int, width int) ([]Result, error) {
	if width <= 0 {
		return nil, fmt.Errorf("decode: beam width must be positive, got %d", width)
	}

	memory, err := m.Encode(ctx, features, lengths)
	if err != nil {
		return nil, err
	}

	p := newParams(m.Config())

	rows := memory.Floats()
	rowLen := memory.Dim(1) * memory.Dim(2)

	results := make([]Result, memory.Dim(0))
	for u := range results {
		s := &beam{
			m:         m,
			p:         p,
			width:     width,
			memory:    rows[u*rowLen : (u+1)*rowLen],
			memSteps:  memory.Dim(1),
			dModel:    memory.Dim(2),
			memLength: lengths[u],
			memories:  make(map[int]*ml.Tensor),
		}

		r, err := s.run(ctx)
		if err != nil {
			return nil, err
		}

		results[u] = r
	}

	return results, nil
}

// beam searches one utterance.
type beam struct {
	m     model.Transcriber
	p     params
	width int

	memory    []float32
	memSteps  int
	dModel    int
	memLength int

	memories map[int]*ml.Tensor
}

func (s *beam) run(ctx ml.Context) (Result, error) {
	live := []*hypothesis{{tokens: []int32{s.p.sos}}}
	var retired []*hypothesis

	frontier := priorityqueue.NewWith[*hypothesis](func(a, b *hypothesis) int {
		return cmp.Compare(b.sum, a.sum)
	})

	for steps := 1; steps <= s.p.maxLength && len(live) > 0; steps++ {
		targets := make([]int32, 0, len(live)*steps)
		for _, h := range live {
			targets = append(targets, h.tokens...)
		}

		lengths := make([]int, len(live))
		for i := range lengths {
			lengths[i] = s.memLength
		}

		logProbs, err := s.m.Decode(ctx, s.memoryFor(ctx, len(live)), lengths, ctx.FromInts(targets, len(live), steps))
		if err != nil {
			return Result{}, err
		}

		k := min(s.width, logProbs.Dim(2))
		top := logProbs.TopK(ctx, k)

		frontier.Clear()
		for i, h := range live {
			for j := range k {
				token := top.IntAt(i, steps-1, j)
				frontier.Enqueue(h.extend(token, float64(logProbs.At(i, steps-1, int(token)))))
			}
		}

		next := make([]*hypothesis, 0, s.width)
		for len(next) < s.width {
			h, ok := frontier.Dequeue()
			if !ok {
				break
			}

			if h.last() == s.p.eos {
				retired = append(retired, h)
				continue
			}

			next = append(next, h)
		}

		live = next
		if len(retired) >= s.width {
			break
		}
	}

	best := bestOf(retired)
	if best == nil {
		best = bestOf(live)
	}

	return Result{
		TokenIDs: trim(best.tokens[1:], s.p.eos, s.p.pad),
		Score:    best.score(),
	}, nil
}

// memoryFor returns the utterance's encoder memory replicated n times.
func (s *beam) memoryFor(ctx ml.Context, n int) *ml.Tensor {
	if t, ok := s.memories[n]; ok {
		return t
	}

	buf := make([]float32, 0, n*len(s.memory))
	for range n {
		buf = append(buf, s.memory...)
	}

	t := ctx.FromFloats(buf, n, s.memSteps, s.dModel)
	s.memories[n] = t

	return t
}

func bestOf(hyps []*hypothesis) *hypothesis {
	var top *hypothesis
	for _, h := range hyps {
		if top == nil || h.score() > top.score() {
			top = h
		}
	}

	return top
}
