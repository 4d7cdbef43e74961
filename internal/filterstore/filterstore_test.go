package filterstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "filters.db")
	store, err := New("sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteGetEmpty(t *testing.T) {
	store := newSQLiteTestStore(t)
	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteSetThenGet(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()
	want := []string{"pubkeyA", "pubkeyB"}
	require.NoError(t, store.Set(ctx, want))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteSetOverwritesWholesale(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, []string{"a", "b"}))
	require.NoError(t, store.Set(ctx, []string{"c"}))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New("mongo", "", nil)
	assert.Error(t, err)
}
