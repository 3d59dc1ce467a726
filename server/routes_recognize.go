package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	"github.com/sooftware/End-to-end-Speech-Recognition/ml"
	"github.com/sooftware/End-to-end-Speech-Recognition/model"
	"github.com/sooftware/End-to-end-Speech-Recognition/recognizer"
)

// RecognizeHandler serves POST /api/recognize.
func (s *Server) RecognizeHandler(c *gin.Context) {
	checkpointStart := time.Now()

	var req api.RecognizeRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Model == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	if len(req.Features) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "features are required"})
		return
	}

	utterances := make([]*recognizer.Features, len(req.Features))
	for i, m := range req.Features {
		f, err := featuresFromMatrix(m)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("utterance %d: %s", i, err)})
			return
		}
		utterances[i] = f
	}

	ctx := c.Request.Context()
	if req.Timeout != nil && req.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout.Duration)
		defer cancel()
	}

	rec, err := s.models.get(req.Model)
	if err != nil {
		handleRecognizeError(c, req.Model, err)
		return
	}
	checkpointLoaded := time.Now()

	if err := s.admit(ctx); err != nil {
		handleRecognizeError(c, req.Model, err)
		return
	}
	defer s.sem.Release(1)

	transcriptions, err := rec.Transcribe(ctx, utterances, recognizer.Options{
		BeamWidth: req.BeamWidth,
		Alignment: req.Alignment,
	})
	if err != nil {
		handleRecognizeError(c, req.Model, err)
		return
	}

	results := make([]api.Recognition, len(transcriptions))
	for i, t := range transcriptions {
		results[i] = api.Recognition{
			Text:      t.Text,
			TokenIDs:  t.TokenIDs,
			Score:     t.Score,
			Alignment: alignmentRows(t.Alignment),
		}
	}

	c.JSON(http.StatusOK, api.RecognizeResponse{
		Model:   req.Model,
		Results: results,
		Metrics: api.Metrics{
			TotalDuration:  time.Since(checkpointStart),
			LoadDuration:   checkpointLoaded.Sub(checkpointStart),
			DecodeDuration: time.Since(checkpointLoaded),
		},
	})
}

// featuresFromMatrix converts one utterance from its wire form, insisting on
// rectangular rows.
func featuresFromMatrix(m api.FeatureMatrix) (*recognizer.Features, error) {
	if len(m) == 0 {
		return nil, errors.New("no frames")
	}

	dim := len(m[0])
	if dim == 0 {
		return nil, errors.New("empty frames")
	}

	data := make([]float32, 0, len(m)*dim)
	for i, row := range m {
		if len(row) != dim {
			return nil, fmt.Errorf("frame %d has %d values, want %d", i, len(row), dim)
		}
		data = append(data, row...)
	}

	return &recognizer.Features{Dim: dim, Data: data}, nil
}

// alignmentRows flattens a (heads, steps, frames) attention tensor for the
// wire.
func alignmentRows(t *ml.Tensor) [][][]float32 {
	if t == nil {
		return nil
	}

	out := make([][][]float32, t.Dim(0))
	for h := range out {
		out[h] = make([][]float32, t.Dim(1))
		for q := range out[h] {
			row := make([]float32, t.Dim(2))
			for f := range row {
				row[f] = t.At(h, q, f)
			}
			out[h][q] = row
		}
	}

	return out
}

func handleRecognizeError(c *gin.Context, name string, err error) {
	switch {
	case errors.Is(err, errInvalidName), errors.Is(err, model.ErrUnsupportedModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.JSON(499, gin.H{"error": "request canceled"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "recognition timed out"})
	case errors.Is(err, ErrMaxQueue):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model %q not found", name)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
