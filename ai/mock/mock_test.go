package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderIsDeterministicAndUnitLength(t *testing.T) {
	ctx := context.Background()
	m := NewMockEmbedder()

	a, err := m.EmbedText(ctx, "hello")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimension)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)

	batch, err := m.EmbedTexts(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, a, batch[0])
	assert.NotEqual(t, batch[0], batch[1])
	assert.Equal(t, 3, m.CallCount())
}

func TestMockEmbedderCustomDimensionAndFunc(t *testing.T) {
	m := NewMockEmbedder()
	m.Dimension = 8
	v, err := m.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 8)

	m.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("boom")
	}
	_, err = m.EmbedText(context.Background(), "x")
	assert.EqualError(t, err, "boom")

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
}

func TestMockEntityExtractorDefault(t *testing.T) {
	m := NewMockEntityExtractor()
	out, err := m.ExtractEntities(context.Background(), "The quick brown foxes jumped over lazy dogs")
	require.NoError(t, err)
	require.Len(t, out.Entities, 5)
	assert.Equal(t, "quick", out.Entities[0].Name)
	assert.Equal(t, 10, out.Entities[0].Importance)
	assert.Len(t, out.Relationships, 4)
}

func TestMockProviderExposesConcreteMocks(t *testing.T) {
	p := NewMockProvider().(*MockProvider)
	_, _ = p.Generator().Generate(context.Background(), "p", 10)
	assert.Equal(t, 1, p.GetMockGenerator().CallCount())
	assert.Same(t, p.GetMockExtractor(), p.EntityExtractor())
	assert.NoError(t, p.Close())
}
