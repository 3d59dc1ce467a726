package speechtransformer

import (
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml/nn"
)

// EncoderLayer is one encoder block: self-attention and position-wise
// feed-forward, each wrapped in AddNorm and gated by the non-pad mask.
type EncoderLayer struct {
	SelfAttention *attentionBlock   `pt:"self_attention"`
	FeedForward   *feedForwardBlock `pt:"feed_forward"`
}

// Forward transforms (batch, steps, dModel) inputs into an output of the
// same shape and returns the self-attention weights (batch, heads, steps,
// steps). Both masks are optional; attnMask excludes (query, key) pairs from
// attending and nonPad zeroes padding rows after each sublayer.
func (l *EncoderLayer) Forward(ctx ml.Context, inputs, nonPad, attnMask *ml.Tensor, opts *Options) (*ml.Tensor, *ml.Tensor) {
	outputs, attn := l.SelfAttention.Forward(ctx, inputs, inputs, inputs, attnMask, opts)
	outputs = maskPad(ctx, outputs, nonPad)

	outputs = l.FeedForward.Forward(ctx, outputs, opts)
	outputs = maskPad(ctx, outputs, nonPad)

	return outputs, attn
}

// Encoder turns padded feature frames into the memory the decoder attends
// over.
type Encoder struct {
	InputProj *nn.Linear     `pt:"input_proj"`
	InputNorm *nn.LayerNorm  `pt:"input_norm"`
	Layers    []EncoderLayer `pt:"layers"`

	positional *PositionalEncoding
}

func newEncoder(opts *Options) (*Encoder, error) {
	layers := make([]EncoderLayer, opts.encoderLayers)
	for i := range layers {
		ff, err := newFeedForward(opts.ffStyle)
		if err != nil {
			return nil, err
		}

		layers[i] = EncoderLayer{
			SelfAttention: &attentionBlock{},
			FeedForward:   &feedForwardBlock{FeedForward: ff},
		}
	}

	return &Encoder{
		Layers:     layers,
		positional: newPositionalEncoding(opts.dModel, defaultMaxLen),
	}, nil
}

// Forward projects features (batch, steps, inputDim) into the model
// dimension, adds positional encodings and runs the layer stack. It returns
// the memory (batch, steps, dModel) and each layer's self-attention weights.
// Masks are built from lengths, so padded frames neither attend nor
// contribute.
func (e *Encoder) Forward(ctx ml.Context, features *ml.Tensor, lengths []int, opts *Options) (*ml.Tensor, []*ml.Tensor) {
	steps := features.Dim(1)
	nonPad := NonPadMask(ctx, lengths, steps)
	attnMask := PadAttentionMask(ctx, lengths, steps, steps)

	outputs := e.InputNorm.Forward(ctx, e.InputProj.Forward(ctx, features), opts.eps)
	outputs = outputs.Add(ctx, e.positional.Forward(ctx, steps))
	outputs = nn.Dropout(ctx, outputs, opts.dropout)

	attns := make([]*ml.Tensor, len(e.Layers))
	for i := range e.Layers {
		outputs, attns[i] = e.Layers[i].Forward(ctx, outputs, nonPad, attnMask, opts)
	}

	return outputs, attns
}

func maskPad(ctx ml.Context, t, nonPad *ml.Tensor) *ml.Tensor {
	if nonPad == nil {
		return t
	}

	return t.Mul(ctx, nonPad)
}
