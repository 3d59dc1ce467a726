package ml

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Softmax applies a numerically stable softmax along the last dimension.
// Rows whose elements are all -Inf produce all-zero outputs instead of NaN,
// so fully masked attention rows contribute nothing.
func (t *Tensor) Softmax(ctx Context) *Tensor {
	rows, width := t.rows("softmax")

	out := ctx.Empty(DTypeF32, t.shape...)
	if width == 0 {
		return out
	}

	for r := range rows {
		row := t.floats[r*width : (r+1)*width]
		dst := out.floats[r*width : (r+1)*width]

		maxv := float32(math.Inf(-1))
		for _, v := range row {
			if v > maxv {
				maxv = v
			}
		}

		if math.IsInf(float64(maxv), -1) {
			continue
		}

		var sum float32
		for i, v := range row {
			e := float32(math.Exp(float64(v - maxv)))
			dst[i] = e
			sum += e
		}
		for i := range dst {
			dst[i] /= sum
		}
	}

	return out
}

// LogSoftmax applies log(softmax) along the last dimension.
func (t *Tensor) LogSoftmax(ctx Context) *Tensor {
	rows, width := t.rows("log softmax")

	out := ctx.Empty(DTypeF32, t.shape...)
	if width == 0 {
		return out
	}

	for r := range rows {
		row := t.floats[r*width : (r+1)*width]
		dst := out.floats[r*width : (r+1)*width]

		maxv := float32(math.Inf(-1))
		for _, v := range row {
			if v > maxv {
				maxv = v
			}
		}

		if math.IsInf(float64(maxv), -1) {
			for i := range dst {
				dst[i] = float32(math.Inf(-1))
			}
			continue
		}

		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxv))
		}

		logsum := float32(math.Log(sum))
		for i, v := range row {
			dst[i] = v - maxv - logsum
		}
	}

	return out
}

// LayerNorm normalizes the last dimension to zero mean and unit variance,
// then applies the affine transform weight*x + bias. weight and bias may be
// nil to skip either part.
func (t *Tensor) LayerNorm(ctx Context, weight, bias *Tensor, eps float32) *Tensor {
	rows, width := t.rows("layer norm")
	if weight != nil && (len(weight.shape) != 1 || weight.shape[0] != width) {
		panic(fmt.Sprintf("ml: layer norm weight %v does not match %v", weight.shape, t.shape))
	}
	if bias != nil && (len(bias.shape) != 1 || bias.shape[0] != width) {
		panic(fmt.Sprintf("ml: layer norm bias %v does not match %v", bias.shape, t.shape))
	}

	out := ctx.Empty(DTypeF32, t.shape...)
	if width == 0 {
		return out
	}

	for r := range rows {
		row := t.floats[r*width : (r+1)*width]
		dst := out.floats[r*width : (r+1)*width]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(width)

		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(width)

		inv := 1 / math.Sqrt(variance+float64(eps))
		for i, v := range row {
			y := float32((float64(v) - mean) * inv)
			if weight != nil {
				y *= weight.floats[i]
			}
			if bias != nil {
				y += bias.floats[i]
			}
			dst[i] = y
		}
	}

	return out
}

// Tanh applies the hyperbolic tangent elementwise.
func (t *Tensor) Tanh(ctx Context) *Tensor {
	return t.unary(ctx, "tanh", func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// RELU applies the rectified linear unit elementwise.
func (t *Tensor) RELU(ctx Context) *Tensor {
	return t.unary(ctx, "relu", func(v float32) float32 {
		return max(v, 0)
	})
}

// Conv1D convolves an input laid out as (batch, inChannels, steps) with a
// weight laid out as (outChannels, inChannels, kernel), using stride s0,
// padding p0 and dilation d0.
func (t *Tensor) Conv1D(ctx Context, weight *Tensor, s0, p0, d0 int) *Tensor {
	if t.dtype != DTypeF32 || weight.dtype != DTypeF32 {
		panic(fmt.Sprintf("ml: conv1d on %s and %s tensors", t.dtype, weight.dtype))
	}
	if len(t.shape) != 3 || len(weight.shape) != 3 {
		panic(fmt.Sprintf("ml: conv1d on shapes %v and %v", t.shape, weight.shape))
	}

	batch, cin, steps := t.shape[0], t.shape[1], t.shape[2]
	cout, wcin, k := weight.shape[0], weight.shape[1], weight.shape[2]
	if cin != wcin {
		panic(fmt.Sprintf("ml: conv1d channels of %v and %v do not match", t.shape, weight.shape))
	}
	if s0 <= 0 || d0 <= 0 || p0 < 0 {
		panic(fmt.Sprintf("ml: conv1d stride %d, padding %d, dilation %d", s0, p0, d0))
	}

	// kernel size 1 without padding is a pointwise channel mix
	if k == 1 && s0 == 1 && p0 == 0 {
		return weight.Reshape(ctx, cout, cin).Mulmat(ctx, t)
	}

	outSteps := (steps+2*p0-d0*(k-1)-1)/s0 + 1
	outSteps = max(outSteps, 0)

	out := ctx.Empty(DTypeF32, batch, cout, outSteps)
	for b := range batch {
		for oc := range cout {
			dst := out.floats[(b*cout+oc)*outSteps:]
			for ot := range outSteps {
				var sum float32
				for ic := range cin {
					src := t.floats[(b*cin+ic)*steps:]
					w := weight.floats[(oc*cin+ic)*k:]
					for ik := range k {
						it := ot*s0 - p0 + ik*d0
						if it >= 0 && it < steps {
							sum += src[it] * w[ik]
						}
					}
				}
				dst[ot] = sum
			}
		}
	}

	return out
}

// Rows gathers rows of a 2D tensor: output element (..., j) is t[ids(...), j].
func (t *Tensor) Rows(ctx Context, ids *Tensor) *Tensor {
	if t.dtype != DTypeF32 || ids.dtype != DTypeI32 {
		panic(fmt.Sprintf("ml: rows on %s tensor with %s ids", t.dtype, ids.dtype))
	}
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("ml: rows on shape %v", t.shape))
	}

	rows, width := t.shape[0], t.shape[1]
	out := ctx.Empty(DTypeF32, append(ids.Shape(), width)...)
	for i, id := range ids.ints {
		if id < 0 || int(id) >= rows {
			panic(fmt.Sprintf("ml: row %d out of range [0, %d)", id, rows))
		}
		copy(out.floats[i*width:(i+1)*width], t.floats[int(id)*width:(int(id)+1)*width])
	}

	return out
}

// Argsort returns, for each row of the last dimension, the element indices
// ordered by descending value. Ties keep the lower index first.
func (t *Tensor) Argsort(ctx Context) *Tensor {
	rows, width := t.rows("argsort")

	out := ctx.Empty(DTypeI32, t.shape...)
	for r := range rows {
		row := t.floats[r*width : (r+1)*width]
		dst := out.ints[r*width : (r+1)*width]

		for i := range dst {
			dst[i] = int32(i)
		}
		sort.SliceStable(dst, func(i, j int) bool {
			return row[dst[i]] > row[dst[j]]
		})
	}

	return out
}

// TopK returns the indices of the k largest elements of each row of the last
// dimension, in descending order.
func (t *Tensor) TopK(ctx Context, k int) *Tensor {
	rows, width := t.rows("topk")
	if k <= 0 || k > width {
		panic(fmt.Sprintf("ml: topk k=%d on shape %v", k, t.shape))
	}

	sorted := t.Argsort(ctx)

	shape := slices.Clone(t.shape)
	shape[len(shape)-1] = k
	out := ctx.Empty(DTypeI32, shape...)
	for r := range rows {
		copy(out.ints[r*k:(r+1)*k], sorted.ints[r*width:r*width+k])
	}

	return out
}

func (t *Tensor) unary(ctx Context, op string, fn func(float32) float32) *Tensor {
	if t.dtype != DTypeF32 {
		panic(fmt.Sprintf("ml: %s on %s tensor", op, t.dtype))
	}

	out := ctx.Empty(DTypeF32, t.shape...)
	for i, v := range t.floats {
		out.floats[i] = fn(v)
	}

	return out
}

// rows views an F32 tensor as a matrix of innermost rows.
func (t *Tensor) rows(op string) (rows, width int) {
	if t.dtype != DTypeF32 {
		panic(fmt.Sprintf("ml: %s on %s tensor", op, t.dtype))
	}
	if len(t.shape) == 0 {
		panic(fmt.Sprintf("ml: %s on scalar tensor", op))
	}

	width = t.shape[len(t.shape)-1]
	rows = 1
	for _, d := range t.shape[:len(t.shape)-1] {
		rows *= d
	}

	return rows, width
}
