package ml

import (
	"fmt"
	"math/rand/v2"
	"runtime"
)

// Context carries the execution settings shared by tensor operations: the
// worker fan-out for matrix math, and the RNG and mode consumed by stochastic
// layers.
type Context struct {
	threads  int
	rng      *rand.Rand
	training bool
}

type ContextOption func(*Context)

// WithThreads caps the number of worker goroutines used for matrix math.
func WithThreads(n int) ContextOption {
	return func(c *Context) {
		if n > 0 {
			c.threads = n
		}
	}
}

// WithSeed seeds the RNG consumed by stochastic layers such as dropout.
func WithSeed(seed uint64) ContextOption {
	return func(c *Context) {
		c.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithTraining puts stochastic layers in training mode. The default is
// inference mode, where dropout passes its input through unchanged.
func WithTraining() ContextOption {
	return func(c *Context) {
		c.training = true
	}
}

func NewContext(opts ...ContextOption) Context {
	ctx := Context{
		threads: runtime.NumCPU(),
		rng:     rand.New(rand.NewPCG(0, 0)),
	}

	for _, opt := range opts {
		opt(&ctx)
	}

	return ctx
}

func (c Context) Threads() int { return c.threads }

// Training reports whether stochastic layers should sample rather than pass
// through.
func (c Context) Training() bool { return c.training }

// Rand returns the context RNG. Not safe for concurrent use.
func (c Context) Rand() *rand.Rand { return c.rng }

// Empty allocates a zero-valued tensor.
func (c Context) Empty(dtype DType, shape ...int) *Tensor {
	n := checkShape(shape)

	t := &Tensor{dtype: dtype, shape: append([]int(nil), shape...)}
	switch dtype {
	case DTypeF32:
		t.floats = make([]float32, n)
	case DTypeI32:
		t.ints = make([]int32, n)
	default:
		panic("ml: unsupported dtype " + dtype.String())
	}

	return t
}

// Zeros allocates a zero-valued tensor.
func (c Context) Zeros(dtype DType, shape ...int) *Tensor {
	return c.Empty(dtype, shape...)
}

// FromFloats creates an F32 tensor by copying s into the given shape.
func (c Context) FromFloats(s []float32, shape ...int) *Tensor {
	t := c.Empty(DTypeF32, shape...)
	if len(s) != len(t.floats) {
		panic(fmt.Sprintf("ml: data length %d does not match shape %v", len(s), shape))
	}

	copy(t.floats, s)
	return t
}

// FromInts creates an I32 tensor by copying s into the given shape.
func (c Context) FromInts(s []int32, shape ...int) *Tensor {
	t := c.Empty(DTypeI32, shape...)
	if len(s) != len(t.ints) {
		panic(fmt.Sprintf("ml: data length %d does not match shape %v", len(s), shape))
	}

	copy(t.ints, s)
	return t
}

// Arange creates a 1D tensor with values in [start, stop) increased by step.
func (c Context) Arange(start, stop, step float32, dtype DType) *Tensor {
	if step <= 0 {
		panic("ml: arange step must be positive")
	}

	var floats []float32
	var ints []int32
	for v := start; v < stop; v += step {
		floats = append(floats, v)
		ints = append(ints, int32(v))
	}

	switch dtype {
	case DTypeF32:
		return c.FromFloats(floats, len(floats))
	case DTypeI32:
		return c.FromInts(ints, len(ints))
	default:
		panic("ml: unsupported dtype " + dtype.String())
	}
}
