package nn

import (
	"fmt"
	"math"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

// Attention computes scaled dot product attention:
//
//	softmax(query @ keyT * scale, masked) @ value
//
// query, key and value are laid out as (batch, heads, steps, headDim). mask
// is optional; its nonzero entries exclude (query, key) pairs from attending
// and it broadcasts against the score matrix, so a (batch, 1, qSteps, kSteps)
// mask covers every head. Excluded pairs are filled with -Inf before the
// softmax, and a fully excluded query row yields zero attention weights.
//
// The attention weights are returned alongside the output so callers can
// surface alignments.
func Attention(ctx ml.Context, query, key, value, mask *ml.Tensor, scale float64) (*ml.Tensor, *ml.Tensor) {
	if qd, kd := query.Dim(3), key.Dim(3); qd != kd {
		panic(fmt.Sprintf("nn: attention head dims %d and %d do not match", qd, kd))
	}
	if ks, vs := key.Dim(2), value.Dim(2); ks != vs {
		panic(fmt.Sprintf("nn: attention key steps %d do not match value steps %d", ks, vs))
	}

	scores := query.MulmatT(ctx, key).Scale(ctx, scale)
	if mask != nil {
		scores = scores.MaskedFill(ctx, mask, float32(math.Inf(-1)))
	}

	weights := scores.Softmax(ctx)
	return weights.Mulmat(ctx, value), weights
}
