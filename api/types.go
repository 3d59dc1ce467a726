// Package api defines the request and response types of the recognition
// service, and a client for code wishing to talk to it. The command line
// tools use this package to reach a running server.
package api

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the server logs for details"
	}
}

// FeatureMatrix is one utterance of precomputed feature frames, row major,
// frames by feature dimension.
type FeatureMatrix [][]float32

// RecognizeRequest asks the server to transcribe a batch of utterances.
type RecognizeRequest struct {
	// Model names a model directory under the models path.
	Model string `json:"model"`

	// Features holds one frame matrix per utterance.
	Features []FeatureMatrix `json:"features"`

	// BeamWidth selects beam search when greater than 1.
	BeamWidth int `json:"beam_width,omitempty"`

	// Alignment requests cross attention alignments in the response.
	Alignment bool `json:"alignment,omitempty"`

	// Timeout bounds the decode. Unset means no limit.
	Timeout *Duration `json:"timeout,omitempty"`
}

// Recognition is one transcribed utterance.
type Recognition struct {
	Text     string  `json:"text"`
	TokenIDs []int32 `json:"token_ids,omitempty"`

	// Score is the length-normalized log probability of the token sequence.
	Score float64 `json:"score"`

	// Alignment holds cross attention weights, heads by tokens by frames.
	Alignment [][][]float32 `json:"alignment,omitempty"`
}

// RecognizeResponse carries the transcriptions of one request.
type RecognizeResponse struct {
	Model   string        `json:"model"`
	Results []Recognition `json:"results"`

	Metrics
}

// Metrics reports where a request spent its time.
type Metrics struct {
	TotalDuration  time.Duration `json:"total_duration,omitempty"`
	LoadDuration   time.Duration `json:"load_duration,omitempty"`
	DecodeDuration time.Duration `json:"decode_duration,omitempty"`
}

// ModelInfo describes one model directory under the models path.
type ModelInfo struct {
	Name         string `json:"name"`
	Architecture string `json:"architecture"`
	Classes      int    `json:"classes,omitempty"`
	InputDim     int    `json:"input_dim,omitempty"`
}

// ListResponse lists the models the server can load.
type ListResponse struct {
	Models []ModelInfo `json:"models"`
}

// Duration wraps time.Duration with lenient JSON handling: strings parse
// with time.ParseDuration, bare numbers count seconds, negative values mean
// no limit.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration < 0 {
		return []byte("-1"), nil
	}

	return []byte("\"" + d.Duration.String() + "\""), nil
}

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case float64:
		if t < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		} else {
			d.Duration = time.Duration(int(t) * int(time.Second))
		}
	case string:
		d.Duration, err = time.ParseDuration(t)
		if err != nil {
			return err
		}
		if d.Duration < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		}
	default:
		return fmt.Errorf("unsupported type: '%s'", reflect.TypeOf(v))
	}

	return nil
}
