package ml

import (
	"fmt"
	"slices"
)

// Add returns the elementwise sum of t and t2 with broadcasting.
func (t *Tensor) Add(ctx Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, t2, "add", func(a, b float32) float32 { return a + b })
}

// Sub returns the elementwise difference of t and t2 with broadcasting.
func (t *Tensor) Sub(ctx Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, t2, "sub", func(a, b float32) float32 { return a - b })
}

// Mul returns the elementwise product of t and t2 with broadcasting.
func (t *Tensor) Mul(ctx Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, t2, "mul", func(a, b float32) float32 { return a * b })
}

// Div returns the elementwise quotient of t and t2 with broadcasting.
func (t *Tensor) Div(ctx Context, t2 *Tensor) *Tensor {
	return t.binary(ctx, t2, "div", func(a, b float32) float32 { return a / b })
}

// Scale multiplies every element by s.
func (t *Tensor) Scale(ctx Context, s float64) *Tensor {
	if t.dtype != DTypeF32 {
		panic("ml: scale on " + t.dtype.String() + " tensor")
	}

	out := ctx.Empty(DTypeF32, t.shape...)
	for i, v := range t.floats {
		out.floats[i] = v * float32(s)
	}

	return out
}

// MaskedFill replaces every element of t whose corresponding mask element is
// nonzero with value. The mask broadcasts against t and may be F32 or I32.
func (t *Tensor) MaskedFill(ctx Context, mask *Tensor, value float32) *Tensor {
	if t.dtype != DTypeF32 {
		panic("ml: masked fill on " + t.dtype.String() + " tensor")
	}
	if shape := broadcastShapes(t.shape, mask.shape); !slices.Equal(shape, t.shape) {
		panic(fmt.Sprintf("ml: mask %v does not broadcast to %v", mask.shape, t.shape))
	}

	masked := func(off int) bool {
		if mask.dtype == DTypeI32 {
			return mask.ints[off] != 0
		}
		return mask.floats[off] != 0
	}

	out := ctx.Empty(DTypeF32, t.shape...)
	strides := broadcastStrides(mask.shape, t.shape)
	ix := make([]int, len(t.shape))
	for i, v := range t.floats {
		var off int
		for d, j := range ix {
			off += j * strides[d]
		}

		if masked(off) {
			out.floats[i] = value
		} else {
			out.floats[i] = v
		}

		for d := len(ix) - 1; d >= 0; d-- {
			ix[d]++
			if ix[d] < t.shape[d] {
				break
			}
			ix[d] = 0
		}
	}

	return out
}

func (t *Tensor) binary(ctx Context, t2 *Tensor, op string, fn func(a, b float32) float32) *Tensor {
	if t.dtype != DTypeF32 || t2.dtype != DTypeF32 {
		panic(fmt.Sprintf("ml: %s on %s and %s tensors", op, t.dtype, t2.dtype))
	}

	if slices.Equal(t.shape, t2.shape) {
		out := ctx.Empty(DTypeF32, t.shape...)
		for i, v := range t.floats {
			out.floats[i] = fn(v, t2.floats[i])
		}
		return out
	}

	shape := broadcastShapes(t.shape, t2.shape)
	out := ctx.Empty(DTypeF32, shape...)

	sa := broadcastStrides(t.shape, shape)
	sb := broadcastStrides(t2.shape, shape)
	ix := make([]int, len(shape))
	for i := range out.floats {
		var oa, ob int
		for d, v := range ix {
			oa += v * sa[d]
			ob += v * sb[d]
		}

		out.floats[i] = fn(t.floats[oa], t2.floats[ob])

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
