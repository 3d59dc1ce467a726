package speechtransformer

import (
	"fmt"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

// Attention masks mark EXCLUDED (query, key) pairs with nonzero entries and
// are applied as a -Inf fill on the scores. The non-pad masks are
// multiplicative gates on layer outputs instead: 1 keeps a position, 0
// zeroes it.

// NonPadMask builds the (batch, steps, 1) padding gate from sequence
// lengths.
func NonPadMask(ctx ml.Context, lengths []int, steps int) *ml.Tensor {
	mask := make([]float32, len(lengths)*steps)
	for b, length := range lengths {
		for t := range min(length, steps) {
			mask[b*steps+t] = 1
		}
	}

	return ctx.FromFloats(mask, len(lengths), steps, 1)
}

// TargetNonPadMask builds the padding gate from token ids, treating padID
// positions as padding.
func TargetNonPadMask(ctx ml.Context, targets *ml.Tensor, padID int32) *ml.Tensor {
	batch, steps := targets.Dim(0), targets.Dim(1)

	mask := make([]float32, batch*steps)
	for i, id := range targets.Ints() {
		if id != padID {
			mask[i] = 1
		}
	}

	return ctx.FromFloats(mask, batch, steps, 1)
}

// PadAttentionMask excludes key positions beyond each sequence length,
// expanded over querySteps rows: (batch, querySteps, keySteps).
func PadAttentionMask(ctx ml.Context, lengths []int, keySteps, querySteps int) *ml.Tensor {
	mask := make([]float32, len(lengths)*querySteps*keySteps)
	for b, length := range lengths {
		for q := range querySteps {
			for k := length; k < keySteps; k++ {
				mask[(b*querySteps+q)*keySteps+k] = 1
			}
		}
	}

	return ctx.FromFloats(mask, len(lengths), querySteps, keySteps)
}

// SubsequentMask excludes strictly future key positions, the causal
// constraint of decoder self-attention: (batch, steps, steps).
func SubsequentMask(ctx ml.Context, batch, steps int) *ml.Tensor {
	mask := make([]float32, batch*steps*steps)
	for b := range batch {
		for q := range steps {
			for k := q + 1; k < steps; k++ {
				mask[(b*steps+q)*steps+k] = 1
			}
		}
	}

	return ctx.FromFloats(mask, batch, steps, steps)
}

// DecoderSelfAttentionMask is the union of the target key pad mask and the
// subsequent mask.
func DecoderSelfAttentionMask(ctx ml.Context, targets *ml.Tensor, padID int32) *ml.Tensor {
	if targets.DType() != ml.DTypeI32 {
		panic(fmt.Sprintf("speechtransformer: target ids are %s, want %s", targets.DType(), ml.DTypeI32))
	}

	batch, steps := targets.Dim(0), targets.Dim(1)
	ids := targets.Ints()

	mask := make([]float32, batch*steps*steps)
	for b := range batch {
		for q := range steps {
			for k := range steps {
				if k > q || ids[b*steps+k] == padID {
					mask[(b*steps+q)*steps+k] = 1
				}
			}
		}
	}

	return ctx.FromFloats(mask, batch, steps, steps)
}
