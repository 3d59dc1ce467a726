// Package torch reads PyTorch checkpoints produced by torch.save. Only state
// dicts are supported: a pickled module carries arbitrary classes that cannot
// be rebuilt here.
package torch

import (
	"fmt"
	"runtime"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"golang.org/x/sync/errgroup"

	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/logutil"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

// Load reads every tensor of a checkpoint into memory. Half and bfloat16
// storages widen to float32, int64 storages narrow to int32.
func Load(path string) (fs.Weights, error) {
	raw, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("torch: load %s: %w", path, err)
	}

	entries, err := stateDict(raw)
	if err != nil {
		return nil, err
	}

	ctx := ml.NewContext()
	tensors := make([]*ml.Tensor, len(entries))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, e := range entries {
		g.Go(func() error {
			t, err := convert(ctx, e.value)
			if err != nil {
				return fmt.Errorf("torch: tensor %s: %w", e.name, err)
			}

			tensors[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := make(fs.Weights, len(entries))
	for i, e := range entries {
		if tensors[i] == nil {
			logutil.Trace("skipping non-tensor checkpoint entry", "name", e.name)
			continue
		}
		weights[e.name] = tensors[i]
	}

	return weights, nil
}

type entry struct {
	name  string
	value any
}

func dictEntries(obj any) ([]entry, bool) {
	switch d := obj.(type) {
	case *types.OrderedDict:
		entries := make([]entry, 0, len(d.Map))
		for k, e := range d.Map {
			if name, ok := k.(string); ok {
				entries = append(entries, entry{name: name, value: e.Value})
			}
		}
		return entries, true
	case *types.Dict:
		entries := make([]entry, 0, len(*d))
		for _, e := range *d {
			if name, ok := e.Key.(string); ok {
				entries = append(entries, entry{name: name, value: e.Value})
			}
		}
		return entries, true
	}

	return nil, false
}

// stateDict unwraps trainer checkpoints that nest the module weights under a
// state_dict key.
func stateDict(obj any) ([]entry, error) {
	entries, ok := dictEntries(obj)
	if !ok {
		return nil, fmt.Errorf("torch: checkpoint holds %T, not a state dict; save model.state_dict() instead", obj)
	}

	for _, e := range entries {
		switch e.name {
		case "state_dict", "model_state_dict":
			if inner, ok := dictEntries(e.value); ok {
				return inner, nil
			}
		}
	}

	return entries, nil
}

func convert(ctx ml.Context, v any) (*ml.Tensor, error) {
	t, ok := v.(*pytorch.Tensor)
	if !ok {
		return nil, nil
	}

	var floats []float32
	var ints []int32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		floats = s.Data
	case *pytorch.HalfStorage:
		floats = s.Data
	case *pytorch.BFloat16Storage:
		floats = s.Data
	case *pytorch.DoubleStorage:
		floats = make([]float32, len(s.Data))
		for i, v := range s.Data {
			floats[i] = float32(v)
		}
	case *pytorch.IntStorage:
		ints = s.Data
	case *pytorch.LongStorage:
		ints = make([]int32, len(s.Data))
		for i, v := range s.Data {
			ints[i] = int32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported storage %T", t.Source)
	}

	shape := append([]int(nil), t.Size...)
	offset := int(t.StorageOffset)
	if err := checkBounds(len(floats)+len(ints), offset, shape, t.Stride); err != nil {
		return nil, err
	}

	if floats != nil {
		return ctx.FromFloats(gather(floats, offset, shape, t.Stride), shape...), nil
	}

	return ctx.FromInts(gather(ints, offset, shape, t.Stride), shape...), nil
}

func checkBounds(size, offset int, shape, stride []int) error {
	if len(stride) != len(shape) {
		return fmt.Errorf("stride %v does not match shape %v", stride, shape)
	}

	n := 1
	last := offset
	for d := range shape {
		n *= shape[d]
		last += (shape[d] - 1) * stride[d]
	}

	if n > 0 && (offset < 0 || last >= size) {
		return fmt.Errorf("shape %v at offset %d overruns storage of %d elements", shape, offset, size)
	}

	return nil
}

// gather copies a possibly strided view into a contiguous row-major slice.
func gather[E float32 | int32](data []E, offset int, shape, stride []int) []E {
	n := 1
	for _, d := range shape {
		n *= d
	}

	out := make([]E, n)
	if n == 0 {
		return out
	}

	contiguous := true
	expect := 1
	for i := len(shape) - 1; i >= 0; i-- {
		if stride[i] != expect {
			contiguous = false
			break
		}
		expect *= shape[i]
	}

	if contiguous {
		copy(out, data[offset:offset+n])
		return out
	}

	ix := make([]int, len(shape))
	for i := range out {
		src := offset
		for d, v := range ix {
			src += v * stride[d]
		}
		out[i] = data[src]

		for d := len(ix) - 1; d >= 0; d-- {
			ix[d]++
			if ix[d] < shape[d] {
				break
			}
			ix[d] = 0
		}
	}

	return out
}
