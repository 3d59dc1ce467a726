// Package safetensors reads model weights in the safetensors format: an
// 8 byte little-endian header length, a JSON header mapping tensor names to
// dtype, shape and byte offsets, then the raw tensor data.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"runtime"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"

	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

type header struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Load reads every tensor of a safetensors file into memory. Half and
// bfloat16 data widens to float32, int64 narrows to int32.
func Load(path string) (fs.Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: %s is truncated", path)
	}

	headerSize := binary.LittleEndian.Uint64(data[:8])
	if headerSize > uint64(len(data)-8) {
		return nil, fmt.Errorf("safetensors: header of %d bytes overruns %s", headerSize, path)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &raw); err != nil {
		return nil, fmt.Errorf("safetensors: parse header of %s: %w", path, err)
	}
	delete(raw, "__metadata__")

	payload := data[8+headerSize:]
	ctx := ml.NewContext()

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}

	tensors := make([]*ml.Tensor, len(names))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, name := range names {
		g.Go(func() error {
			var h header
			if err := json.Unmarshal(raw[name], &h); err != nil {
				return fmt.Errorf("safetensors: tensor %s: %w", name, err)
			}

			start, end := h.DataOffsets[0], h.DataOffsets[1]
			if start < 0 || start > end || end > len(payload) {
				return fmt.Errorf("safetensors: tensor %s: offsets [%d, %d) overrun data of %d bytes", name, start, end, len(payload))
			}

			t, err := decode(ctx, h, payload[start:end])
			if err != nil {
				return fmt.Errorf("safetensors: tensor %s: %w", name, err)
			}

			tensors[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := make(fs.Weights, len(names))
	for i, name := range names {
		weights[name] = tensors[i]
	}

	return weights, nil
}

func decode(ctx ml.Context, h header, data []byte) (*ml.Tensor, error) {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}

	sized := func(width int) error {
		if len(data) != n*width {
			return fmt.Errorf("%d bytes do not hold %v of %s", len(data), h.Shape, h.DType)
		}
		return nil
	}

	switch h.DType {
	case "F32":
		if err := sized(4); err != nil {
			return nil, err
		}
		floats := make([]float32, n)
		for i := range floats {
			floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return ctx.FromFloats(floats, h.Shape...), nil

	case "F16":
		if err := sized(2); err != nil {
			return nil, err
		}
		floats := make([]float32, n)
		for i := range floats {
			floats[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
		}
		return ctx.FromFloats(floats, h.Shape...), nil

	case "BF16":
		if err := sized(2); err != nil {
			return nil, err
		}
		return ctx.FromFloats(bfloat16.DecodeFloat32(data), h.Shape...), nil

	case "I32":
		if err := sized(4); err != nil {
			return nil, err
		}
		ints := make([]int32, n)
		for i := range ints {
			ints[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return ctx.FromInts(ints, h.Shape...), nil

	case "I64":
		if err := sized(8); err != nil {
			return nil, err
		}
		ints := make([]int32, n)
		for i := range ints {
			ints[i] = int32(int64(binary.LittleEndian.Uint64(data[i*8:])))
		}
		return ctx.FromInts(ints, h.Shape...), nil

	default:
		return nil, fmt.Errorf("unsupported dtype %s", h.DType)
	}
}
