package recognizer

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
)

func TestFeaturesRoundTrip(t *testing.T) {
	want := &Features{Dim: 3, Data: []float32{1, 2, 3, 4, 5, 6}}

	var buf bytes.Buffer
	if err := EncodeFeatures(&buf, want); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeFeatures(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if got.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", got.Frames())
	}
}

func TestReadFeatures(t *testing.T) {
	want := &Features{Dim: 2, Data: []float32{1, 2, 3, 4}}

	var buf bytes.Buffer
	if err := EncodeFeatures(&buf, want); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "utt.spfe")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFeatures(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadFeatures(filepath.Join(t.TempDir(), "missing.spfe")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDecodeFeaturesErrors(t *testing.T) {
	encode := func(head featureHeader, values []float32) []byte {
		var buf bytes.Buffer
		binary.Write(&buf, binary.LittleEndian, head)
		binary.Write(&buf, binary.LittleEndian, values)
		return buf.Bytes()
	}

	magic := func(s string) (m [4]byte) {
		copy(m[:], s)
		return m
	}

	cases := map[string]struct {
		data []byte
		want string
	}{
		"short":       {[]byte{1, 2, 3}, "header"},
		"bad magic":   {encode(featureHeader{Magic: magic("NOPE"), Version: 1, Frames: 1, Dim: 1}, []float32{1}), "magic"},
		"bad version": {encode(featureHeader{Magic: magic("SPFE"), Version: 2, Frames: 1, Dim: 1}, []float32{1}), "version"},
		"zero dim":    {encode(featureHeader{Magic: magic("SPFE"), Version: 1, Frames: 1}, nil), "dimension"},
		"oversized":   {encode(featureHeader{Magic: magic("SPFE"), Version: 1, Frames: 1 << 20, Dim: 1 << 20}, nil), "size limit"},
		"truncated":   {encode(featureHeader{Magic: magic("SPFE"), Version: 1, Frames: 2, Dim: 2}, []float32{1, 2}), "read 4 values"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFeatures(bytes.NewReader(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}

			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEncodeFeaturesRaggedRows(t *testing.T) {
	if err := EncodeFeatures(&bytes.Buffer{}, &Features{Dim: 3, Data: []float32{1, 2}}); err == nil {
		t.Error("expected error")
	}
}

func TestBatchFeatures(t *testing.T) {
	ctx := ml.NewContext()

	batch, lengths, err := BatchFeatures(ctx, []*Features{
		{Dim: 2, Data: []float32{1, 2, 3, 4, 5, 6}},
		{Dim: 2, Data: []float32{7, 8}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{2, 3, 2}, batch.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]int{3, 1}, lengths); diff != "" {
		t.Errorf("lengths mismatch (-want +got):\n%s", diff)
	}

	want := []float32{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0}
	if diff := cmp.Diff(want, batch.Floats()); diff != "" {
		t.Errorf("padding mismatch (-want +got):\n%s", diff)
	}
}

func TestBatchFeaturesErrors(t *testing.T) {
	ctx := ml.NewContext()

	if _, _, err := BatchFeatures(ctx, nil); err == nil {
		t.Error("expected error for empty batch")
	}

	_, _, err := BatchFeatures(ctx, []*Features{
		{Dim: 2, Data: []float32{1, 2}},
		{Dim: 3, Data: []float32{1, 2, 3}},
	})
	if err == nil {
		t.Error("expected error for mismatched dims")
	}

	if _, _, err := BatchFeatures(ctx, []*Features{{Dim: 2}}); err == nil {
		t.Error("expected error for empty utterance")
	}
}
