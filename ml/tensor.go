// Package ml implements the dense tensor engine backing the speech models.
// Tensors are eager, row-major and always contiguous: every operation
// computes its result immediately on the CPU and never writes to its inputs.
// Shapes follow the layout of the source checkpoints, outermost dimension
// first. Shape mismatches are programming errors and panic.
package ml

import (
	"fmt"
	"slices"
)

// Tensor is a dense array of float32 or int32 values.
type Tensor struct {
	dtype  DType
	shape  []int
	floats []float32
	ints   []int32
}

// Dim returns the size of dimension n.
func (t *Tensor) Dim(n int) int {
	return t.shape[n]
}

// Shape returns the tensor's dimensions, outermost first.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Stride returns the element stride of dimension n.
func (t *Tensor) Stride(n int) int {
	stride := 1
	for i := n + 1; i < len(t.shape); i++ {
		stride *= t.shape[i]
	}

	return stride
}

func (t *Tensor) DType() DType {
	return t.dtype
}

// Floats returns a copy of the data of an F32 tensor.
func (t *Tensor) Floats() []float32 {
	if t.dtype != DTypeF32 {
		panic("ml: Floats on " + t.dtype.String() + " tensor")
	}

	return slices.Clone(t.floats)
}

// Ints returns a copy of the data of an I32 tensor.
func (t *Tensor) Ints() []int32 {
	if t.dtype != DTypeI32 {
		panic("ml: Ints on " + t.dtype.String() + " tensor")
	}

	return slices.Clone(t.ints)
}

// At returns the element of an F32 tensor at the given index.
func (t *Tensor) At(ix ...int) float32 {
	if t.dtype != DTypeF32 {
		panic("ml: At on " + t.dtype.String() + " tensor")
	}

	return t.floats[t.offset(ix)]
}

// IntAt returns the element of an I32 tensor at the given index.
func (t *Tensor) IntAt(ix ...int) int32 {
	if t.dtype != DTypeI32 {
		panic("ml: IntAt on " + t.dtype.String() + " tensor")
	}

	return t.ints[t.offset(ix)]
}

func (t *Tensor) offset(ix []int) int {
	if len(ix) != len(t.shape) {
		panic(fmt.Sprintf("ml: index %v does not match shape %v", ix, t.shape))
	}

	off := 0
	for d, i := range ix {
		if i < 0 || i >= t.shape[d] {
			panic(fmt.Sprintf("ml: index %v out of range for shape %v", ix, t.shape))
		}
		off = off*t.shape[d] + i
	}

	return off
}

func checkShape(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("ml: invalid shape %v", shape))
		}
		n *= d
	}

	return n
}
