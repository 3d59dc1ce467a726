package speechtransformer

import (
	"math"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml/nn"
)

// MultiHeadAttention projects query, key and value, splits them into heads
// and runs scaled dot product attention. There is no output projection; the
// concatenated heads are returned directly, together with the attention
// weights laid out as (batch, heads, querySteps, keySteps).
type MultiHeadAttention struct {
	Query *nn.Linear `pt:"query_proj"`
	Key   *nn.Linear `pt:"key_proj"`
	Value *nn.Linear `pt:"value_proj"`
}

func (attn *MultiHeadAttention) Forward(ctx ml.Context, query, key, value, mask *ml.Tensor, opts *Options) (*ml.Tensor, *ml.Tensor) {
	query = splitHeads(ctx, attn.Query.Forward(ctx, query), opts.numHeads)
	key = splitHeads(ctx, attn.Key.Forward(ctx, key), opts.numHeads)
	value = splitHeads(ctx, attn.Value.Forward(ctx, value), opts.numHeads)

	if mask != nil {
		// (batch, querySteps, keySteps) broadcasts over the head axis
		mask = mask.Reshape(ctx, mask.Dim(0), 1, mask.Dim(1), mask.Dim(2))
	}

	output, weights := nn.Attention(ctx, query, key, value, mask, 1/math.Sqrt(float64(opts.headDim())))
	return joinHeads(ctx, output), weights
}

// splitHeads reshapes (batch, steps, dModel) into (batch, heads, steps,
// headDim).
func splitHeads(ctx ml.Context, t *ml.Tensor, heads int) *ml.Tensor {
	t = t.Reshape(ctx, t.Dim(0), t.Dim(1), heads, t.Dim(2)/heads)
	return t.Permute(ctx, 0, 2, 1, 3)
}

// joinHeads is the inverse of splitHeads.
func joinHeads(ctx ml.Context, t *ml.Tensor) *ml.Tensor {
	t = t.Permute(ctx, 0, 2, 1, 3)
	return t.Reshape(ctx, t.Dim(0), t.Dim(1), t.Dim(2)*t.Dim(3))
}
