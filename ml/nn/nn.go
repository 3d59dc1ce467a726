// Package nn provides the building-block layers shared by model
// implementations. Layer structs carry their weights in fields tagged with
// the checkpoint key that populates them.
package nn

import (
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

type Linear struct {
	Weight *ml.Tensor `pt:"weight"`
	Bias   *ml.Tensor `pt:"bias,opt"`
}

// Forward applies the affine transform t @ weightT + bias. Weights keep the
// (out, in) layout of the checkpoints.
func (m *Linear) Forward(ctx ml.Context, t *ml.Tensor) *ml.Tensor {
	t = t.MulmatT(ctx, m.Weight)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}

	return t
}

type Embedding struct {
	Weight *ml.Tensor `pt:"weight"`
}

func (m *Embedding) Forward(ctx ml.Context, ids *ml.Tensor) *ml.Tensor {
	return m.Weight.Rows(ctx, ids)
}

type LayerNorm struct {
	Weight *ml.Tensor `pt:"weight"`
	Bias   *ml.Tensor `pt:"bias,opt"`
}

func (m *LayerNorm) Forward(ctx ml.Context, t *ml.Tensor, eps float32) *ml.Tensor {
	return t.LayerNorm(ctx, m.Weight, m.Bias, eps)
}

type Conv1D struct {
	Weight *ml.Tensor `pt:"weight"`
	Bias   *ml.Tensor `pt:"bias,opt"`
}

// Forward convolves t, laid out as (batch, channels, steps), with stride s0,
// padding p0 and dilation d0.
func (m *Conv1D) Forward(ctx ml.Context, t *ml.Tensor, s0, p0, d0 int) *ml.Tensor {
	t = t.Conv1D(ctx, m.Weight, s0, p0, d0)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, m.Bias.Dim(0), 1))
	}

	return t
}

// Dropout zeroes elements with probability p and scales the survivors by
// 1/(1-p). In inference mode it returns t unchanged.
func Dropout(ctx ml.Context, t *ml.Tensor, p float32) *ml.Tensor {
	if !ctx.Training() || p <= 0 {
		return t
	}
	if p >= 1 {
		return ctx.Zeros(ml.DTypeF32, t.Shape()...)
	}

	data := t.Floats()
	scale := 1 / (1 - p)
	for i := range data {
		if ctx.Rand().Float32() < p {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}

	return ctx.FromFloats(data, t.Shape()...)
}
