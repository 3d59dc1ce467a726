package speechtransformer

import (
	"fmt"

	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
)

// Options holds the architecture hyperparameters read from config.json. The
// defaults match the published speech transformer configuration.
type Options struct {
	inputDim,
	dModel,
	numHeads,
	dFF,
	encoderLayers,
	decoderLayers,
	numClasses,
	maxLength int

	dropout,
	eps float32

	ffStyle string

	padID, sosID, eosID int32
}

func newOptions(c fs.Config) (*Options, error) {
	opts := Options{
		inputDim:      c.Int("input_dim", 80),
		dModel:        c.Int("d_model", 512),
		numHeads:      c.Int("num_heads", 8),
		dFF:           c.Int("d_ff", 2048),
		encoderLayers: c.Int("num_encoder_layers", 6),
		decoderLayers: c.Int("num_decoder_layers", 6),
		numClasses:    c.Int("num_classes"),
		maxLength:     c.Int("max_length", 400),
		dropout:       c.Float("dropout_p", 0.3),
		eps:           c.Float("layer_norm_eps", 1e-5),
		ffStyle:       c.String("ffnet_style", "ff"),
		padID:         int32(c.Int("pad_id", 0)),
		sosID:         int32(c.Int("sos_id", 1)),
		eosID:         int32(c.Int("eos_id", 2)),
	}

	if opts.numClasses <= 0 {
		return nil, fmt.Errorf("speechtransformer: config needs num_classes, got %d", opts.numClasses)
	}
	if opts.dModel <= 0 || opts.numHeads <= 0 || opts.dModel%opts.numHeads != 0 {
		return nil, fmt.Errorf("speechtransformer: d_model %d is not divisible by num_heads %d", opts.dModel, opts.numHeads)
	}
	if opts.encoderLayers < 1 || opts.decoderLayers < 1 {
		return nil, fmt.Errorf("speechtransformer: need at least one encoder and decoder layer, got %d and %d", opts.encoderLayers, opts.decoderLayers)
	}

	return &opts, nil
}

func (o *Options) headDim() int {
	return o.dModel / o.numHeads
}
