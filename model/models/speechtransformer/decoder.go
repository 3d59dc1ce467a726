package speechtransformer

import (
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml/nn"
)

// DecoderLayer is one decoder block: self-attention, cross-attention over
// the encoder memory and position-wise feed-forward, each wrapped in AddNorm
// and gated by the non-pad mask.
type DecoderLayer struct {
	SelfAttention   *attentionBlock   `pt:"self_attention"`
	MemoryAttention *attentionBlock   `pt:"memory_attention"`
	FeedForward     *feedForwardBlock `pt:"feed_forward"`
}

// Forward transforms (batch, targetSteps, dModel) inputs against the memory
// (batch, memorySteps, dModel) and returns the output plus both attention
// weight tensors: self (batch, heads, targetSteps, targetSteps) and memory
// (batch, heads, targetSteps, memorySteps). Causality is whatever selfMask
// encodes; the layer enforces nothing itself.
func (l *DecoderLayer) Forward(ctx ml.Context, inputs, memory, nonPad, selfMask, memoryMask *ml.Tensor, opts *Options) (*ml.Tensor, *ml.Tensor, *ml.Tensor) {
	outputs, selfAttn := l.SelfAttention.Forward(ctx, inputs, inputs, inputs, selfMask, opts)
	outputs = maskPad(ctx, outputs, nonPad)

	outputs, memoryAttn := l.MemoryAttention.Forward(ctx, outputs, memory, memory, memoryMask, opts)
	outputs = maskPad(ctx, outputs, nonPad)

	outputs = l.FeedForward.Forward(ctx, outputs, opts)
	outputs = maskPad(ctx, outputs, nonPad)

	return outputs, selfAttn, memoryAttn
}

// Decoder scores target token sequences against the encoder memory.
type Decoder struct {
	Embedding *Embedding     `pt:"embedding"`
	Layers    []DecoderLayer `pt:"layers"`

	// classification head: Linear -> Tanh -> Linear -> LogSoftmax
	Hidden *nn.Linear `pt:"fc.0"`
	Output *nn.Linear `pt:"fc.2"`

	positional *PositionalEncoding
}

func newDecoder(opts *Options) (*Decoder, error) {
	layers := make([]DecoderLayer, opts.decoderLayers)
	for i := range layers {
		ff, err := newFeedForward(opts.ffStyle)
		if err != nil {
			return nil, err
		}

		layers[i] = DecoderLayer{
			SelfAttention:   &attentionBlock{},
			MemoryAttention: &attentionBlock{},
			FeedForward:     &feedForwardBlock{FeedForward: ff},
		}
	}

	return &Decoder{
		Layers:     layers,
		positional: newPositionalEncoding(opts.dModel, defaultMaxLen),
	}, nil
}

// Forward embeds the target ids (batch, steps), runs the layer stack against
// the memory and returns log probabilities (batch, steps, numClasses)
// together with each layer's self and memory attention weights. The self
// mask combines padding with the causal constraint; the memory mask is built
// from memoryLengths.
func (d *Decoder) Forward(ctx ml.Context, targets, memory *ml.Tensor, memoryLengths []int, opts *Options) (*ml.Tensor, []*ml.Tensor, []*ml.Tensor) {
	steps := targets.Dim(1)

	nonPad := TargetNonPadMask(ctx, targets, opts.padID)
	selfMask := DecoderSelfAttentionMask(ctx, targets, opts.padID)
	memoryMask := PadAttentionMask(ctx, memoryLengths, memory.Dim(1), steps)

	outputs := d.Embedding.Forward(ctx, targets, opts)
	outputs = outputs.Add(ctx, d.positional.Forward(ctx, steps))
	outputs = nn.Dropout(ctx, outputs, opts.dropout)

	selfAttns := make([]*ml.Tensor, len(d.Layers))
	memoryAttns := make([]*ml.Tensor, len(d.Layers))
	for i := range d.Layers {
		outputs, selfAttns[i], memoryAttns[i] = d.Layers[i].Forward(ctx, outputs, memory, nonPad, selfMask, memoryMask, opts)
	}

	outputs = d.Output.Forward(ctx, d.Hidden.Forward(ctx, outputs).Tanh(ctx))
	return outputs.LogSoftmax(ctx), selfAttns, memoryAttns
}
