package ml

import (
	"fmt"
	"slices"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Mulmat computes the batched matrix product t @ t2. The last two dimensions
// of each operand are the matrix dimensions and any leading dimensions
// broadcast against each other.
func (t *Tensor) Mulmat(ctx Context, t2 *Tensor) *Tensor {
	return t.mulmat(ctx, t2, blas.NoTrans)
}

// MulmatT computes t @ t2 with the last two dimensions of t2 transposed.
// Weight matrices stored as (out, in) multiply activations without an
// explicit transpose, and attention scores come from MulmatT(query, key).
func (t *Tensor) MulmatT(ctx Context, t2 *Tensor) *Tensor {
	return t.mulmat(ctx, t2, blas.Trans)
}

func (t *Tensor) mulmat(ctx Context, t2 *Tensor, tB blas.Transpose) *Tensor {
	if t.dtype != DTypeF32 || t2.dtype != DTypeF32 {
		panic(fmt.Sprintf("ml: mulmat on %s and %s tensors", t.dtype, t2.dtype))
	}

	ra, rb := len(t.shape), len(t2.shape)
	if ra < 2 || rb < 2 {
		panic(fmt.Sprintf("ml: mulmat on shapes %v and %v", t.shape, t2.shape))
	}

	m, k := t.shape[ra-2], t.shape[ra-1]
	kb, n := t2.shape[rb-2], t2.shape[rb-1]
	if tB == blas.Trans {
		kb, n = n, kb
	}
	if k != kb {
		panic(fmt.Sprintf("ml: mulmat inner dimensions of %v and %v do not match", t.shape, t2.shape))
	}

	aBatch, bBatch := t.shape[:ra-2], t2.shape[:rb-2]
	batch := broadcastShapes(aBatch, bBatch)
	out := ctx.Empty(DTypeF32, append(slices.Clone(batch), m, n)...)

	batches := checkShape(batch)
	if batches == 0 || m == 0 || n == 0 || k == 0 {
		return out
	}

	sa := broadcastStrides(aBatch, batch)
	sb := broadcastStrides(bBatch, batch)

	// matrix offsets of batch i within each operand
	offsets := func(i int) (offA, offB int) {
		for d := len(batch) - 1; d >= 0; d-- {
			v := i % batch[d]
			i /= batch[d]
			offA += v * sa[d]
			offB += v * sb[d]
		}

		return offA * m * k, offB * k * n
	}

	workers := min(ctx.threads, batches)
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < batches; i += workers {
				offA, offB := offsets(i)

				a := blas32.General{Rows: m, Cols: k, Stride: k, Data: t.floats[offA : offA+m*k]}
				b := blas32.General{Rows: k, Cols: n, Stride: n, Data: t2.floats[offB : offB+k*n]}
				if tB == blas.Trans {
					b = blas32.General{Rows: n, Cols: k, Stride: k, Data: t2.floats[offB : offB+k*n]}
				}
				c := blas32.General{Rows: m, Cols: n, Stride: n, Data: out.floats[i*m*n : (i+1)*m*n]}

				blas32.Gemm(blas.NoTrans, tB, 1, a, b, 0, c)
			}
		}()
	}
	wg.Wait()

	return out
}
