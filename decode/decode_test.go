package decode

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
)

const classes = 5 // pad 0, sos 1, eos 2, units 3 and 4

// scripted is a Transcriber that emits a fixed distribution per target
// prefix, so the searches can be checked against hand-computed paths.
type scripted struct {
	config fs.Config

	// next maps a rendered target prefix to the log probabilities of the
	// token that follows it.
	next     map[string][]float32
	fallback []float32
}

func (s *scripted) Config() fs.Config { return s.config }

func (s *scripted) Forward(ctx ml.Context, batch model.Batch) (*ml.Tensor, error) {
	return nil, fmt.Errorf("not scripted")
}

func (s *scripted) Encode(ctx ml.Context, features *ml.Tensor, lengths []int) (*ml.Tensor, error) {
	return features, nil
}

func (s *scripted) Decode(ctx ml.Context, memory *ml.Tensor, memoryLengths []int, targets *ml.Tensor) (*ml.Tensor, error) {
	batch, steps := targets.Dim(0), targets.Dim(1)
	ids := targets.Ints()

	out := make([]float32, 0, batch*steps*classes)
	for b := range batch {
		for t := range steps {
			row, ok := s.next[fmt.Sprint(ids[b*steps:b*steps+t+1])]
			if !ok {
				row = s.fallback
			}
			if row == nil {
				row = scores(nil)
			}

			out = append(out, row...)
		}
	}

	return ctx.FromFloats(out, batch, steps, classes), nil
}

// scores builds a log probability row that is -5 everywhere except the
// given classes.
func scores(m map[int]float32) []float32 {
	row := make([]float32, classes)
	for i := range row {
		row[i] = -5
	}
	for class, logProb := range m {
		row[class] = logProb
	}

	return row
}

func testFeatures(ctx ml.Context, batch int) (*ml.Tensor, []int) {
	lengths := make([]int, batch)
	for i := range lengths {
		lengths[i] = 2
	}

	return ctx.FromFloats(make([]float32, batch*2*3), batch, 2, 3), lengths
}

func TestGreedy(t *testing.T) {
	ctx := ml.NewContext()
	m := &scripted{
		config: fs.Config{"max_length": 4.0},
		next: map[string][]float32{
			"[1]":     scores(map[int]float32{3: -0.1}),
			"[1 3]":   scores(map[int]float32{4: -0.2}),
			"[1 3 4]": scores(map[int]float32{2: -0.3}),
		},
	}

	features, lengths := testFeatures(ctx, 2)
	results, err := Greedy(ctx, m, features, lengths)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	for i, r := range results {
		if diff := cmp.Diff([]int32{3, 4}, r.TokenIDs); diff != "" {
			t.Errorf("result %d tokens (-want +got):\n%s", i, diff)
		}

		if want := -0.2; math.Abs(r.Score-want) > 1e-6 {
			t.Errorf("result %d score = %v, want %v", i, r.Score, want)
		}
	}
}

func TestGreedyImmediateEOS(t *testing.T) {
	ctx := ml.NewContext()
	m := &scripted{
		config: fs.Config{"max_length": 4.0},
		next: map[string][]float32{
			"[1]": scores(map[int]float32{2: -0.1}),
		},
	}

	features, lengths := testFeatures(ctx, 1)
	results, err := Greedy(ctx, m, features, lengths)
	if err != nil {
		t.Fatal(err)
	}

	if len(results[0].TokenIDs) != 0 {
		t.Errorf("tokens = %v, want none", results[0].TokenIDs)
	}
}

func TestGreedyMaxLength(t *testing.T) {
	ctx := ml.NewContext()
	m := &scripted{
		config:   fs.Config{"max_length": 4.0},
		fallback: scores(map[int]float32{3: -1}),
	}

	features, lengths := testFeatures(ctx, 1)
	results, err := Greedy(ctx, m, features, lengths)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int32{3, 3, 3, 3}, results[0].TokenIDs); diff != "" {
		t.Errorf("tokens (-want +got):\n%s", diff)
	}

	if want := -1.0; math.Abs(results[0].Score-want) > 1e-6 {
		t.Errorf("score = %v, want %v", results[0].Score, want)
	}
}

// bigram scripts a case where the best first token leads to a poor ending:
// greedy takes 3 and pays for it, a width 2 beam keeps 4 alive and wins.
func bigram() *scripted {
	return &scripted{
		config: fs.Config{"max_length": 4.0},
		next: map[string][]float32{
			"[1]":   scores(map[int]float32{3: -0.1, 4: -0.3}),
			"[1 3]": scores(map[int]float32{2: -2}),
			"[1 4]": scores(map[int]float32{2: -0.1}),
		},
	}
}

func TestBeamPrefersDelayedReward(t *testing.T) {
	ctx := ml.NewContext()
	m := bigram()

	features, lengths := testFeatures(ctx, 1)

	greedy, err := Greedy(ctx, m, features, lengths)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{3}, greedy[0].TokenIDs); diff != "" {
		t.Errorf("greedy tokens (-want +got):\n%s", diff)
	}

	beam, err := Beam(ctx, m, features, lengths, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{4}, beam[0].TokenIDs); diff != "" {
		t.Errorf("beam tokens (-want +got):\n%s", diff)
	}

	if want := -0.2; math.Abs(beam[0].Score-want) > 1e-6 {
		t.Errorf("beam score = %v, want %v", beam[0].Score, want)
	}

	if beam[0].Score <= greedy[0].Score {
		t.Errorf("beam score %v is not better than greedy %v", beam[0].Score, greedy[0].Score)
	}
}

func TestBeamWidthOneMatchesGreedy(t *testing.T) {
	ctx := ml.NewContext()
	m := bigram()

	features, lengths := testFeatures(ctx, 1)

	greedy, err := Greedy(ctx, m, features, lengths)
	if err != nil {
		t.Fatal(err)
	}

	beam, err := Beam(ctx, m, features, lengths, 1)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(greedy[0].TokenIDs, beam[0].TokenIDs); diff != "" {
		t.Errorf("tokens differ (-greedy +beam):\n%s", diff)
	}

	if math.Abs(beam[0].Score-greedy[0].Score) > 1e-6 {
		t.Errorf("beam score = %v, greedy score = %v", beam[0].Score, greedy[0].Score)
	}
}

func TestBeamBatch(t *testing.T) {
	ctx := ml.NewContext()
	m := bigram()

	features, lengths := testFeatures(ctx, 3)
	results, err := Beam(ctx, m, features, lengths, 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	for i, r := range results {
		if diff := cmp.Diff([]int32{4}, r.TokenIDs); diff != "" {
			t.Errorf("result %d tokens (-want +got):\n%s", i, diff)
		}
	}
}

func TestBeamInvalidWidth(t *testing.T) {
	ctx := ml.NewContext()
	m := bigram()

	features, lengths := testFeatures(ctx, 1)
	if _, err := Beam(ctx, m, features, lengths, 0); err == nil {
		t.Error("expected error for width 0")
	}
}
