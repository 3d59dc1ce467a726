package speechtransformer

import (
	"fmt"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml/nn"
)

// AddNorm closes a sublayer with a residual connection followed by layer
// normalization: LayerNorm(residual + output).
type AddNorm struct {
	Norm *nn.LayerNorm `pt:"layer_norm"`
}

func (an *AddNorm) Forward(ctx ml.Context, residual, output *ml.Tensor, opts *Options) *ml.Tensor {
	return an.Norm.Forward(ctx, output.Add(ctx, residual), opts.eps)
}

// PositionwiseFeedForward is implemented by both feed-forward styles. The
// linear style projects through d_ff with a ReLU in between; the conv style
// does the same with a pair of kernel-size-1 convolutions over the time axis.
type PositionwiseFeedForward interface {
	Forward(ml.Context, *ml.Tensor, *Options) *ml.Tensor
}

func newFeedForward(style string) (PositionwiseFeedForward, error) {
	switch style {
	case "ff":
		return &linearFeedForward{}, nil
	case "conv":
		return &convFeedForward{}, nil
	default:
		return nil, fmt.Errorf("speechtransformer: unsupported feed forward style %q", style)
	}
}

type linearFeedForward struct {
	Up   *nn.Linear `pt:"feed_forward.0"`
	Down *nn.Linear `pt:"feed_forward.3"`
}

func (ff *linearFeedForward) Forward(ctx ml.Context, t *ml.Tensor, opts *Options) *ml.Tensor {
	t = nn.Dropout(ctx, ff.Up.Forward(ctx, t), opts.dropout)
	t = ff.Down.Forward(ctx, t.RELU(ctx))
	return nn.Dropout(ctx, t, opts.dropout)
}

type convFeedForward struct {
	Conv1 *nn.Conv1D `pt:"conv1"`
	Conv2 *nn.Conv1D `pt:"conv2"`
}

func (ff *convFeedForward) Forward(ctx ml.Context, t *ml.Tensor, opts *Options) *ml.Tensor {
	// (batch, steps, dModel) -> (batch, dModel, steps) for the channel mix
	t = t.Permute(ctx, 0, 2, 1)
	t = ff.Conv2.Forward(ctx, ff.Conv1.Forward(ctx, t, 1, 0, 1).RELU(ctx), 1, 0, 1)
	return t.Permute(ctx, 0, 2, 1)
}

// attentionBlock is a multi-head attention sublayer wrapped in AddNorm. The
// attention weights pass through unchanged.
type attentionBlock struct {
	*AddNorm
	Attention *MultiHeadAttention `pt:"sublayer"`
}

func (b *attentionBlock) Forward(ctx ml.Context, query, key, value, mask *ml.Tensor, opts *Options) (*ml.Tensor, *ml.Tensor) {
	output, weights := b.Attention.Forward(ctx, query, key, value, mask, opts)
	return b.AddNorm.Forward(ctx, query, output, opts), weights
}

// feedForwardBlock is a position-wise feed-forward sublayer wrapped in
// AddNorm.
type feedForwardBlock struct {
	*AddNorm
	FeedForward PositionwiseFeedForward `pt:"sublayer"`
}

func (b *feedForwardBlock) Forward(ctx ml.Context, t *ml.Tensor, opts *Options) *ml.Tensor {
	return b.AddNorm.Forward(ctx, t, b.FeedForward.Forward(ctx, t, opts), opts)
}
