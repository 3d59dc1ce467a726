package fs

import (
	"iter"
	"maps"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

// Weights maps checkpoint tensor names to loaded tensors.
type Weights map[string]*ml.Tensor

// Get returns the named tensor, or nil when the checkpoint has none.
func (w Weights) Get(name string) *ml.Tensor {
	return w[name]
}

func (w Weights) Len() int {
	return len(w)
}

func (w Weights) Names() iter.Seq[string] {
	return maps.Keys(w)
}

// ParameterCount returns the total number of elements across all tensors.
func (w Weights) ParameterCount() int64 {
	var n int64
	for _, t := range w {
		count := int64(1)
		for _, d := range t.Shape() {
			count *= int64(d)
		}
		n += count
	}

	return n
}
