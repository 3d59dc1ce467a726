package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	"github.com/sooftware/End-to-end-Speech-Recognition/envconfig"
	"github.com/sooftware/End-to-end-Speech-Recognition/fs"
	"github.com/sooftware/End-to-end-Speech-Recognition/recognizer"
	"github.com/sooftware/End-to-end-Speech-Recognition/vocab"
)

func TestAppendEnvDocs(t *testing.T) {
	cmd := &cobra.Command{Use: "probe"}
	appendEnvDocs(cmd, []envconfig.EnvVar{
		{Name: "KOSPEECH_HOST", Description: "Where the server listens"},
	})

	usage := cmd.UsageString()
	require.Contains(t, usage, "Environment Variables:")
	require.Contains(t, usage, "KOSPEECH_HOST")
	require.Contains(t, usage, "Where the server listens")
}

func TestHumanNumber(t *testing.T) {
	for want, n := range map[string]int64{
		"999":   999,
		"1.0K":  1000,
		"27.9M": 27_870_000,
		"1.5B":  1_500_000_000,
	} {
		require.Equal(t, want, humanNumber(n))
	}
}

func TestMatrixFromFeatures(t *testing.T) {
	m := matrixFromFeatures(&recognizer.Features{Dim: 2, Data: []float32{1, 2, 3, 4, 5, 6}})
	require.Equal(t, api.FeatureMatrix{{1, 2}, {3, 4}, {5, 6}}, m)
}

func TestRenderTranscripts(t *testing.T) {
	results := []api.Recognition{
		{Text: "아침", Score: -0.25},
		{Text: "안녕", Score: -0.5},
	}

	var buf bytes.Buffer
	err := renderTranscripts(&buf, []string{"a.spfe", "b.spfe"}, results, []string{"아침", "안영"})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "a.spfe")
	require.Contains(t, out, "아침")
	require.Contains(t, out, "-0.250")
	require.Contains(t, out, "CER")

	require.Error(t, renderTranscripts(&buf, []string{"a.spfe"}, results, nil))
}

func TestShowInfo(t *testing.T) {
	v, err := vocab.Parse(strings.NewReader(
		"0,<pad>,0\n1,<sos>,0\n2,<eos>,0\n3,아,7\n4,침,3\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	showInfo(fs.Config{
		"architecture": "speech_transformer",
		"input_dim":    40,
		"d_model":      256,
	}, 27_870_000, v, &buf)

	out := buf.String()
	require.Contains(t, out, "Model")
	require.Contains(t, out, "speech_transformer")
	require.Contains(t, out, "27.9M")
	require.Contains(t, out, "40")
	require.Contains(t, out, "Vocabulary")
	require.Contains(t, out, "units")
	require.Contains(t, out, `"아"`)
}

func TestRecognizeCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/api/recognize":
			var req api.RecognizeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "ksponspeech", req.Model)
			require.Equal(t, 3, req.BeamWidth)
			require.Len(t, req.Features, 1)

			json.NewEncoder(w).Encode(api.RecognizeResponse{
				Model:   req.Model,
				Results: []api.Recognition{{Text: "안녕", Score: -0.1}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Setenv("KOSPEECH_HOST", srv.URL)

	path := filepath.Join(t.TempDir(), "utterance.spfe")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, recognizer.EncodeFeatures(f, &recognizer.Features{Dim: 2, Data: []float32{1, 2, 3, 4}}))
	require.NoError(t, f.Close())

	cli := NewCLI()
	cli.SetArgs([]string{"recognize", "ksponspeech", path, "--beam-width", "3"})
	require.NoError(t, cli.Execute())
}
