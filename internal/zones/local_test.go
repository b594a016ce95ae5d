package zones

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learner-analytics-pipeline/internal/model"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStorePutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, ZoneRaw, "kaggle/batch-001.csv", []byte("a,b\n1,2\n")))

	data, err := store.Get(ctx, ZoneRaw, "kaggle/batch-001.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b\n1,2\n"), data)
}

func TestLocalStoreGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), ZoneClean, "nope.jsonl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestLocalStoreListFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, ZoneRaw, "kaggle/one.csv", []byte("x")))
	require.NoError(t, store.Put(ctx, ZoneRaw, "kaggle/two.csv", []byte("y")))
	require.NoError(t, store.Put(ctx, ZoneRaw, "youtube/videos.json", []byte("z")))

	paths, err := store.List(ctx, ZoneRaw, "kaggle/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kaggle/one.csv", "kaggle/two.csv"}, paths)
}

func TestLocalStoreListEmptyPrefix(t *testing.T) {
	store := newTestStore(t)

	paths, err := store.List(context.Background(), ZoneProcessed, "missing/")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStoreExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, ZoneCurated, "daily/2025-03-01/manifest.json")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, ZoneCurated, "daily/2025-03-01/manifest.json", []byte("{}")))

	ok, err = store.Exists(ctx, ZoneCurated, "daily/2025-03-01/manifest.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStorePutOverwritesAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, ZoneCurated, "daily/2025-03-01/kpis.json", []byte("old")))
	require.NoError(t, store.Put(ctx, ZoneCurated, "daily/2025-03-01/kpis.json", []byte("new")))

	data, err := store.Get(ctx, ZoneCurated, "daily/2025-03-01/kpis.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)

	// temp artifacts are never listed
	paths, err := store.List(ctx, ZoneCurated, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/2025-03-01/kpis.json"}, paths)
}

func TestLocalStoreRejectsUnknownZone(t *testing.T) {
	store := newTestStore(t)

	err := store.Put(context.Background(), Zone("archive"), "x", []byte("y"))
	assert.Error(t, err)
}
