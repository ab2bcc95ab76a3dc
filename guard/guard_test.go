package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/mock"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/resilience"
	"github.com/poiesic/lattice/storage"
	"github.com/poiesic/lattice/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

// flakyVectors fails every call while down is set and panics in Count
// while panics is set.
type flakyVectors struct {
	storage.VectorStore
	down   atomic.Bool
	panics atomic.Bool
	calls  atomic.Int32
}

func (f *flakyVectors) Count(ctx context.Context, filter storage.Filter) (int, error) {
	if f.panics.Load() {
		panic("driver crashed")
	}
	return f.VectorStore.Count(ctx, filter)
}

func (f *flakyVectors) Search(ctx context.Context, v []float32, filter storage.Filter, k int) ([]storage.VectorMatch, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errDown
	}
	return f.VectorStore.Search(ctx, v, filter, k)
}

func newBreaker(t *testing.T, name string) *resilience.Breaker {
	t.Helper()
	b, err := resilience.NewBreaker(name, 3, time.Hour)
	require.NoError(t, err)
	return b
}

func newGuardedVectors(t *testing.T, opts ...Option) (*VectorStore, *flakyVectors) {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	flaky := &flakyVectors{VectorStore: stores.Vectors}
	pool, err := NewSharedPool[storage.VectorStore](DependencyVector, flaky, PoolSettings{
		MaxSize:        2,
		AcquireTimeout: time.Second,
	})
	require.NoError(t, err)

	guarded, err := NewVectorStore(pool, newBreaker(t, DependencyVector), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { guarded.Close() })
	return guarded, flaky
}

func TestVectorStoreBreakerOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	guarded, flaky := newGuardedVectors(t)
	filter := storage.Filter{ProjectID: "p"}

	_, err := guarded.Search(ctx, []float32{1}, filter, 5)
	require.NoError(t, err)

	flaky.down.Store(true)
	for i := 0; i < 3; i++ {
		_, err := guarded.Search(ctx, []float32{1}, filter, 5)
		assert.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, resilience.StateOpen, guarded.Breaker().State().State)

	before := flaky.calls.Load()
	_, err = guarded.Search(ctx, []float32{1}, filter, 5)
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.Equal(t, before, flaky.calls.Load())
}

func TestVectorStoreValidationDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	guarded, flaky := newGuardedVectors(t)

	for i := 0; i < 5; i++ {
		_, err := guarded.Search(ctx, []float32{1}, storage.Filter{}, 5)
		assert.ErrorIs(t, err, core.ErrValidation)
	}
	assert.Equal(t, resilience.StateClosed, guarded.Breaker().State().State)
	assert.Zero(t, flaky.calls.Load())
}

func TestVectorStoreRoundTripThroughGuard(t *testing.T) {
	ctx := context.Background()
	guarded, _ := newGuardedVectors(t)

	chunk := &core.Chunk{ID: core.ChunkID("d", 0), DocID: "d", ProjectID: "p", Text: "t", Vector: []float32{1, 0}}
	require.NoError(t, guarded.Upsert(ctx, chunk))

	count, err := guarded.Count(ctx, storage.Filter{ProjectID: "p"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := guarded.Delete(ctx, storage.DocScope{ProjectID: "p", DocID: "d"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoError(t, guarded.Ping(ctx))

	stats := guarded.Pool().Stats()
	assert.Equal(t, int32(2), stats.Max)
	assert.Zero(t, stats.Leased)
}

func TestPanickingStoreReturnsHandle(t *testing.T) {
	ctx := context.Background()
	guarded, flaky := newGuardedVectors(t)
	filter := storage.Filter{ProjectID: "p"}

	flaky.panics.Store(true)
	for range 3 {
		assert.Panics(t, func() { _, _ = guarded.Count(ctx, filter) })
	}
	assert.Zero(t, guarded.Pool().Stats().Leased)
	assert.Equal(t, resilience.StateOpen, guarded.Breaker().State().State)

	flaky.panics.Store(false)
	_, err := guarded.Search(ctx, []float32{1}, filter, 1)
	assert.ErrorIs(t, err, core.ErrCircuitOpen, "the breaker, not the pool, rejects the call")
}

func TestLimiterRejectsBeforeBreaker(t *testing.T) {
	limiter, err := resilience.NewLimiter(resilience.BucketConfig{Capacity: 1, RefillRate: 0.001})
	require.NoError(t, err)
	guarded, flaky := newGuardedVectors(t, WithLimiter(limiter))
	ctx := context.Background()

	_, err = guarded.Search(ctx, []float32{1}, storage.Filter{ProjectID: "p"}, 1)
	require.NoError(t, err)
	_, err = guarded.Search(ctx, []float32{1}, storage.Filter{ProjectID: "p"}, 1)
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.Equal(t, int32(1), flaky.calls.Load())
	assert.Equal(t, resilience.StateClosed, guarded.Breaker().State().State)
}

func TestEmbedderMapsFailuresToLLMServiceError(t *testing.T) {
	inner := mock.NewMockEmbedder()
	inner.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errDown
	}
	embedder, err := NewEmbedder(inner, newBreaker(t, DependencyEmbedder))
	require.NoError(t, err)

	_, err = embedder.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, core.ErrLLMService)
	assert.ErrorIs(t, err, errDown)

	for i := 0; i < 2; i++ {
		_, _ = embedder.EmbedTexts(context.Background(), []string{"a"})
	}
	_, err = embedder.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.NotErrorIs(t, err, core.ErrLLMService)
	assert.Equal(t, 3, inner.CallCount())
}

func TestGeneratorAndExtractorPassThrough(t *testing.T) {
	gen, err := NewGenerator(mock.NewMockGenerator(), newBreaker(t, DependencyLLM))
	require.NoError(t, err)
	out, err := gen.Generate(context.Background(), "p", 10)
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultGeneration, out)

	x, err := NewExtractor(mock.NewMockEntityExtractor(), newBreaker(t, DependencyLLM))
	require.NoError(t, err)
	extraction, err := x.ExtractEntities(context.Background(), "guarded extraction works")
	require.NoError(t, err)
	assert.NotEmpty(t, extraction.Entities)
}

func TestNewGateRequiresBreaker(t *testing.T) {
	_, err := NewEmbedder(mock.NewMockEmbedder(), nil)
	assert.Error(t, err)
}

func TestProviderSharesLLMBreaker(t *testing.T) {
	extractor := mock.NewMockEntityExtractor()
	extractor.ExtractEntitiesFunc = func(context.Context, string) (*ai.Extraction, error) {
		return nil, errDown
	}
	inner := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), extractor, mock.NewMockGenerator())
	llm := newBreaker(t, DependencyLLM)

	provider, err := NewProvider(inner, llm, newBreaker(t, DependencyEmbedder))
	require.NoError(t, err)

	for range 3 {
		_, err = provider.EntityExtractor().ExtractEntities(context.Background(), "text")
		assert.ErrorIs(t, err, core.ErrLLMService)
	}
	_, err = provider.Generator().Generate(context.Background(), "p", 10)
	assert.ErrorIs(t, err, core.ErrCircuitOpen, "generation shares the tripped llm breaker")

	_, err = provider.Embedder().EmbedText(context.Background(), "still fine")
	assert.NoError(t, err)
	assert.NoError(t, provider.Close())

	_, err = NewProvider(nil, llm, llm)
	assert.Error(t, err)
}
