package recognizer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

// Feature files hold one utterance of precomputed acoustic features:
//
//	bytes   value
//	0:4     magic "SPFE"
//	4:8     format version, little endian uint32, currently 1
//	8:12    frame count
//	12:16   feature dimension
//	16:     frames*dim float32 values, row major
//
// Feature extraction itself (filter banks, spectrograms) happens upstream;
// these helpers only move precomputed frames around.

const featureMagic = "SPFE"

// maxFeatureValues caps a feature file at one gigabyte of float32 data.
const maxFeatureValues = 1 << 28

type featureHeader struct {
	Magic   [4]byte
	Version uint32
	Frames  uint32
	Dim     uint32
}

// Features is one utterance of feature frames.
type Features struct {
	Dim  int
	Data []float32 // frames*Dim values, row major
}

func (f *Features) Frames() int {
	if f.Dim == 0 {
		return 0
	}

	return len(f.Data) / f.Dim
}

// ReadFeatures loads a feature file.
func ReadFeatures(path string) (*Features, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := DecodeFeatures(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

// DecodeFeatures reads one utterance in the binary feature format.
func DecodeFeatures(r io.Reader) (*Features, error) {
	var head featureHeader
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return nil, fmt.Errorf("features: read header: %w", err)
	}

	if string(head.Magic[:]) != featureMagic {
		return nil, fmt.Errorf("features: bad magic %q", head.Magic)
	}
	if head.Version != 1 {
		return nil, fmt.Errorf("features: unsupported version %d", head.Version)
	}
	if head.Dim == 0 {
		return nil, errors.New("features: zero feature dimension")
	}
	if uint64(head.Frames)*uint64(head.Dim) > maxFeatureValues {
		return nil, fmt.Errorf("features: %d frames of dim %d exceed the size limit", head.Frames, head.Dim)
	}

	data := make([]float32, int(head.Frames)*int(head.Dim))
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("features: read %d values: %w", len(data), err)
	}

	return &Features{Dim: int(head.Dim), Data: data}, nil
}

// EncodeFeatures writes one utterance in the binary feature format.
func EncodeFeatures(w io.Writer, f *Features) error {
	if f.Dim <= 0 || len(f.Data)%f.Dim != 0 {
		return fmt.Errorf("features: %d values do not fill rows of %d", len(f.Data), f.Dim)
	}

	head := featureHeader{Version: 1, Frames: uint32(f.Frames()), Dim: uint32(f.Dim)}
	copy(head.Magic[:], featureMagic)

	if err := binary.Write(w, binary.LittleEndian, head); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, f.Data)
}

// BatchFeatures pads utterances to the longest and stacks them into a
// (batch, frames, dim) tensor with per-utterance lengths.
func BatchFeatures(ctx ml.Context, utterances []*Features) (*ml.Tensor, []int, error) {
	if len(utterances) == 0 {
		return nil, nil, errors.New("features: empty batch")
	}

	dim := utterances[0].Dim
	longest := 0
	lengths := make([]int, len(utterances))
	for i, f := range utterances {
		if f.Dim != dim {
			return nil, nil, fmt.Errorf("features: utterance %d has dim %d, want %d", i, f.Dim, dim)
		}
		if f.Frames() == 0 {
			return nil, nil, fmt.Errorf("features: utterance %d is empty", i)
		}

		lengths[i] = f.Frames()
		longest = max(longest, f.Frames())
	}

	data := make([]float32, len(utterances)*longest*dim)
	for i, f := range utterances {
		copy(data[i*longest*dim:], f.Data)
	}

	return ctx.FromFloats(data, len(utterances), longest, dim), lengths, nil
}
