package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"maps"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
	_ "github.com/sooftware/End-to-end-Speech-Recognition/model/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testVocab = "id,char,freq\n" +
	"0,<pad>,0\n" +
	"1,<sos>,0\n" +
	"2,<eos>,0\n" +
	"3, ,10\n" +
	"4,아,5\n" +
	"5,침,4\n" +
	"6,안,3\n" +
	"7,녕,2\n"

// modelSpecs lists every tensor of a one layer test model keyed by
// checkpoint name.
func modelSpecs() map[string][]int {
	specs := map[string][]int{
		"encoder.input_proj.weight":          {8, 4},
		"encoder.input_proj.bias":            {8},
		"encoder.input_norm.weight":          {8},
		"encoder.input_norm.bias":            {8},
		"decoder.embedding.embedding.weight": {8, 8},
		"decoder.fc.0.weight":                {8, 8},
		"decoder.fc.0.bias":                  {8},
		"decoder.fc.2.weight":                {8, 8},
		"decoder.fc.2.bias":                  {8},
	}

	for _, prefix := range []string{
		"encoder.layers.0.self_attention",
		"decoder.layers.0.self_attention",
		"decoder.layers.0.memory_attention",
	} {
		specs[prefix+".layer_norm.weight"] = []int{8}
		specs[prefix+".layer_norm.bias"] = []int{8}
		for _, proj := range []string{"query_proj", "key_proj", "value_proj"} {
			specs[prefix+".sublayer."+proj+".weight"] = []int{8, 8}
			specs[prefix+".sublayer."+proj+".bias"] = []int{8}
		}
	}

	for _, prefix := range []string{"encoder.layers.0.feed_forward", "decoder.layers.0.feed_forward"} {
		specs[prefix+".layer_norm.weight"] = []int{8}
		specs[prefix+".layer_norm.bias"] = []int{8}
		specs[prefix+".sublayer.feed_forward.0.weight"] = []int{16, 8}
		specs[prefix+".sublayer.feed_forward.0.bias"] = []int{16}
		specs[prefix+".sublayer.feed_forward.3.weight"] = []int{8, 16}
		specs[prefix+".sublayer.feed_forward.3.bias"] = []int{8}
	}

	return specs
}

// writeModel drops a loadable model package under models/name.
func writeModel(t *testing.T, models, name string) {
	t.Helper()

	dir := filepath.Join(models, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	config, err := json.Marshal(map[string]any{
		"architecture":       "speech_transformer",
		"num_classes":        8,
		"input_dim":          4,
		"d_model":            8,
		"num_heads":          2,
		"d_ff":               16,
		"num_encoder_layers": 1,
		"num_decoder_layers": 1,
		"max_length":         5,
		"dropout_p":          0.0,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), config, 0o644))

	type header struct {
		DType       string `json:"dtype"`
		Shape       []int  `json:"shape"`
		DataOffsets [2]int `json:"data_offsets"`
	}

	specs := modelSpecs()
	headers := make(map[string]header)
	var payload bytes.Buffer

	n := 0
	for _, name := range slices.Sorted(maps.Keys(specs)) {
		count := 1
		for _, d := range specs[name] {
			count *= d
		}

		start := payload.Len()
		for range count {
			require.NoError(t, binary.Write(&payload, binary.LittleEndian, float32(math.Sin(float64(n)))*0.2))
			n++
		}

		headers[name] = header{DType: "F32", Shape: specs[name], DataOffsets: [2]int{start, payload.Len()}}
	}

	head, err := json.Marshal(headers)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(head))))
	buf.Write(head)
	buf.Write(payload.Bytes())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.csv"), []byte(testVocab), 0o644))
}

func testServer(dir string) *Server {
	return &Server{
		models:   newLoader(dir),
		sem:      semaphore.NewWeighted(1),
		maxQueue: 8,
	}
}

func testMatrix(frames int) api.FeatureMatrix {
	m := make(api.FeatureMatrix, frames)
	for i := range m {
		row := make([]float32, 4)
		for j := range row {
			row[j] = float32(math.Cos(float64(i*4+j))) * 0.5
		}
		m[i] = row
	}

	return m
}

func post(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestVersionHandler(t *testing.T) {
	handler := testServer(t.TempDir()).GenerateRoutes()

	req, err := http.NewRequest(http.MethodGet, "/api/version", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "0.0.0", resp["version"])
}

func TestHeartbeat(t *testing.T) {
	handler := testServer(t.TempDir()).GenerateRoutes()

	req, err := http.NewRequest(http.MethodHead, "/", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestListHandler(t *testing.T) {
	models := t.TempDir()
	handler := testServer(models).GenerateRoutes()

	req, err := http.NewRequest(http.MethodGet, "/api/models", nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Empty(t, resp.Models)

	writeModel(t, models, "ksponspeech")
	require.NoError(t, os.WriteFile(filepath.Join(models, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(models, "halfbaked"), 0o755))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	require.Equal(t, "ksponspeech", resp.Models[0].Name)
	require.Equal(t, "speech_transformer", resp.Models[0].Architecture)
	require.Equal(t, 8, resp.Models[0].Classes)
	require.Equal(t, 4, resp.Models[0].InputDim)
}

func TestRecognizeHandler(t *testing.T) {
	models := t.TempDir()
	writeModel(t, models, "ksponspeech")
	handler := testServer(models).GenerateRoutes()

	w := post(t, handler, "/api/recognize", api.RecognizeRequest{
		Model:     "ksponspeech",
		Features:  []api.FeatureMatrix{testMatrix(6), testMatrix(4)},
		Alignment: true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.RecognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ksponspeech", resp.Model)
	require.Len(t, resp.Results, 2)

	for _, res := range resp.Results {
		require.LessOrEqual(t, len(res.TokenIDs), 5)
		for _, id := range res.TokenIDs {
			require.GreaterOrEqual(t, id, int32(0))
			require.Less(t, id, int32(8))
		}

		require.LessOrEqual(t, res.Score, 0.0)

		require.Len(t, res.Alignment, 2)
		require.Len(t, res.Alignment[0], len(res.TokenIDs)+1)
		require.Len(t, res.Alignment[0][0], 6)
	}

	require.Greater(t, resp.TotalDuration, time.Duration(0))
	require.Greater(t, resp.DecodeDuration, time.Duration(0))
}

func TestRecognizeHandlerBeam(t *testing.T) {
	models := t.TempDir()
	writeModel(t, models, "ksponspeech")
	handler := testServer(models).GenerateRoutes()

	w := post(t, handler, "/api/recognize", api.RecognizeRequest{
		Model:     "ksponspeech",
		Features:  []api.FeatureMatrix{testMatrix(5)},
		BeamWidth: 3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.RecognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.LessOrEqual(t, resp.Results[0].Score, 0.0)
}

func TestRecognizeHandlerErrors(t *testing.T) {
	models := t.TempDir()
	writeModel(t, models, "ksponspeech")
	handler := testServer(models).GenerateRoutes()

	t.Run("missing body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "/api/recognize", nil)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "missing request body")
	})

	t.Run("missing model", func(t *testing.T) {
		w := post(t, handler, "/api/recognize", api.RecognizeRequest{
			Features: []api.FeatureMatrix{testMatrix(2)},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "model is required")
	})

	t.Run("missing features", func(t *testing.T) {
		w := post(t, handler, "/api/recognize", api.RecognizeRequest{Model: "ksponspeech"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "features are required")
	})

	t.Run("ragged utterance", func(t *testing.T) {
		w := post(t, handler, "/api/recognize", api.RecognizeRequest{
			Model:    "ksponspeech",
			Features: []api.FeatureMatrix{{{1, 2, 3, 4}, {1, 2}}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "frame 1")
	})

	t.Run("unknown model", func(t *testing.T) {
		w := post(t, handler, "/api/recognize", api.RecognizeRequest{
			Model:    "nope",
			Features: []api.FeatureMatrix{testMatrix(2)},
		})
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Contains(t, w.Body.String(), "not found")
	})

	t.Run("invalid model name", func(t *testing.T) {
		w := post(t, handler, "/api/recognize", api.RecognizeRequest{
			Model:    "../escape",
			Features: []api.FeatureMatrix{testMatrix(2)},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "invalid model name")
	})

	t.Run("timeout", func(t *testing.T) {
		w := post(t, handler, "/api/recognize", api.RecognizeRequest{
			Model:    "ksponspeech",
			Features: []api.FeatureMatrix{testMatrix(2)},
			Timeout:  &api.Duration{Duration: time.Nanosecond},
		})
		require.Equal(t, http.StatusRequestTimeout, w.Code)
	})
}

func TestRecognizeQueueFull(t *testing.T) {
	models := t.TempDir()
	writeModel(t, models, "ksponspeech")

	s := testServer(models)
	s.maxQueue = 0
	handler := s.GenerateRoutes()

	w := post(t, handler, "/api/recognize", api.RecognizeRequest{
		Model:    "ksponspeech",
		Features: []api.FeatureMatrix{testMatrix(2)},
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "server busy")
}
