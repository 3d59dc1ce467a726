package speechtransformer

import (
	"fmt"
	"math"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml/nn"
)

// defaultMaxLen bounds the precomputed positional encoding table.
const defaultMaxLen = 5000

// Embedding looks up token embeddings and scales them by sqrt(dModel).
type Embedding struct {
	Lookup *nn.Embedding `pt:"embedding"`
}

func (e *Embedding) Forward(ctx ml.Context, ids *ml.Tensor, opts *Options) *ml.Tensor {
	return e.Lookup.Forward(ctx, ids).Scale(ctx, math.Sqrt(float64(opts.dModel)))
}

// PositionalEncoding holds the sinusoidal position table. The table is
// computed once at construction, not loaded from the checkpoint; a pe buffer
// stored alongside the weights is ignored.
type PositionalEncoding struct {
	dModel int
	table  []float32
}

func newPositionalEncoding(dModel, maxLen int) *PositionalEncoding {
	table := make([]float32, maxLen*dModel)
	for pos := range maxLen {
		for i := 0; i < dModel; i += 2 {
			angle := float64(pos) * math.Exp(float64(i)*-(math.Log(1e4)/float64(dModel)))
			table[pos*dModel+i] = float32(math.Sin(angle))
			if i+1 < dModel {
				table[pos*dModel+i+1] = float32(math.Cos(angle))
			}
		}
	}

	return &PositionalEncoding{dModel: dModel, table: table}
}

// Forward returns the first steps rows of the table as (1, steps, dModel),
// ready to broadcast over a batch.
func (pe *PositionalEncoding) Forward(ctx ml.Context, steps int) *ml.Tensor {
	if steps*pe.dModel > len(pe.table) {
		panic(fmt.Sprintf("speechtransformer: sequence of %d steps exceeds the positional table of %d", steps, len(pe.table)/pe.dModel))
	}

	return ctx.FromFloats(pe.table[:steps*pe.dModel], 1, steps, pe.dModel)
}
