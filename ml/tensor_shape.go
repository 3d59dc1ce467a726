package ml

import (
	"fmt"
	"slices"
)

// Reshape returns a tensor with the same data and a new shape. The element
// count must not change. The result shares the receiver's storage.
func (t *Tensor) Reshape(ctx Context, shape ...int) *Tensor {
	if checkShape(shape) != checkShape(t.shape) {
		panic(fmt.Sprintf("ml: cannot reshape %v to %v", t.shape, shape))
	}

	return &Tensor{
		dtype:  t.dtype,
		shape:  slices.Clone(shape),
		floats: t.floats,
		ints:   t.ints,
	}
}

// Permute reorders dimensions so that output dimension i is drawn from input
// dimension dims[i]. The result is materialized contiguously.
func (t *Tensor) Permute(ctx Context, dims ...int) *Tensor {
	r := len(t.shape)
	if len(dims) != r {
		panic(fmt.Sprintf("ml: permutation %v does not match shape %v", dims, t.shape))
	}

	seen := make([]bool, r)
	shape := make([]int, r)
	for i, d := range dims {
		if d < 0 || d >= r || seen[d] {
			panic(fmt.Sprintf("ml: invalid permutation %v for shape %v", dims, t.shape))
		}
		seen[d] = true
		shape[i] = t.shape[d]
	}

	out := ctx.Empty(t.dtype, shape...)

	// stride in the output for a step along each source dimension
	outStride := make([]int, r)
	for i, d := range dims {
		outStride[d] = out.Stride(i)
	}

	n := checkShape(t.shape)
	ix := make([]int, r)
	for i := range n {
		var off int
		for d, v := range ix {
			off += v * outStride[d]
		}

		switch t.dtype {
		case DTypeF32:
			out.floats[off] = t.floats[i]
		case DTypeI32:
			out.ints[off] = t.ints[i]
		}

		for d := r - 1; d >= 0; d-- {
			ix[d]++
			if ix[d] < t.shape[d] {
				break
			}
			ix[d] = 0
		}
	}

	return out
}

// broadcastShapes resolves the result shape of a binary operation, aligning
// dimensions from the right and widening size-1 dimensions.
func broadcastShapes(a, b []int) []int {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}

		switch {
		case da == db:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		case db == 1:
			out[n-i] = da
		default:
			panic(fmt.Sprintf("ml: shapes %v and %v are not broadcastable", a, b))
		}
	}

	return out
}

// broadcastStrides returns the element stride of src along each dimension of
// the broadcast shape out, with zero strides where src repeats.
func broadcastStrides(src, out []int) []int {
	strides := make([]int, len(out))
	stride := 1
	for i := len(src) - 1; i >= 0; i-- {
		if src[i] != 1 {
			strides[i+len(out)-len(src)] = stride
		}
		stride *= src[i]
	}

	return strides
}
