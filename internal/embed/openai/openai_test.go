package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

func newServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/embeddings" || r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		// Reverse order to exercise index mapping.
		for i := len(req.Input) - 1; i >= 0; i-- {
			if req.Input[i] == "poison" {
				http.Error(w, `{"error":{"message":"bad input"}}`, http.StatusBadRequest)
				return
			}
			data = append(data, item{Object: "embedding", Index: i, Embedding: []float64{float64(len(req.Input[i])), float64(req.Dimensions)}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedTextsMapsByIndex(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t, &calls)
	emb, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Dimensions: 2}, nil)
	require.NoError(t, err)

	vectors, err := emb.EmbedTexts(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 2}, {3, 2}}, vectors)
	require.Equal(t, int32(1), calls.Load())
}

func TestEmbedTextsDegradesPerText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newServer(t, &calls)
	emb, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Dimensions: 2}, nil)
	require.NoError(t, err)

	vectors, err := emb.EmbedTexts(context.Background(), []string{"ok", "poison"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{2, 2}, {0, 0}}, vectors)
	require.Equal(t, int32(3), calls.Load())
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestTruncatorDisabled(t *testing.T) {
	t.Parallel()

	tr := &truncator{}
	require.Equal(t, "unchanged text", tr.truncate("unchanged text"))
}
