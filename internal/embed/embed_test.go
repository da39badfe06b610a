package embed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeBatch(calls *[][]string) BatchFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		*calls = append(*calls, append([]string(nil), texts...))
		out := make([][]float32, 0, len(texts))
		for _, text := range texts {
			if strings.Contains(text, "bad") {
				return nil, errors.New("rejected input")
			}
			out = append(out, []float32{float32(len(text)), 1})
		}
		return out, nil
	}
}

func TestEmbedTextsBatchesInOrder(t *testing.T) {
	t.Parallel()

	var calls [][]string
	emb, err := NewResilient("fake", 2, 2, fakeBatch(&calls), nil)
	require.NoError(t, err)

	vectors, err := emb.EmbedTexts(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	for i, v := range vectors {
		require.Equal(t, float32(i+1), v[0])
	}
	require.Len(t, calls, 3)
	require.Equal(t, 2, emb.Dimensions())
}

func TestEmbedTextsZeroVectorForFailedText(t *testing.T) {
	t.Parallel()

	var calls [][]string
	emb, err := NewResilient("fake", 2, 10, fakeBatch(&calls), nil)
	require.NoError(t, err)

	vectors, err := emb.EmbedTexts(context.Background(), []string{"ok", "bad one", "fine"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{2, 1}, {0, 0}, {4, 1}}, vectors)
	// One failed batch call followed by one call per text.
	require.Len(t, calls, 4)
}

func TestEmbedTextsRejectsWrongShape(t *testing.T) {
	t.Parallel()

	short := func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}
	emb, err := NewResilient("fake", 3, 4, short, nil)
	require.NoError(t, err)

	vectors, err := emb.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0, 0, 0}, {0, 0, 0}}, vectors)
}

func TestEmbedTextsStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failing := func(ctx context.Context, _ []string) ([][]float32, error) {
		return nil, ctx.Err()
	}
	emb, err := NewResilient("fake", 2, 4, failing, nil)
	require.NoError(t, err)

	_, err = emb.EmbedTexts(ctx, []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewResilientValidates(t *testing.T) {
	t.Parallel()

	_, err := NewResilient("fake", 2, 1, nil, nil)
	require.Error(t, err)
	_, err = NewResilient("fake", 0, 1, func(context.Context, []string) ([][]float32, error) { return nil, nil }, nil)
	require.Error(t, err)
}
