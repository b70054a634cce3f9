package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ldb, err := OpenMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })

	return map[string]Store{
		"memory":  NewMemory(),
		"leveldb": ldb,
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "counter", []byte("1")))
			v, err := s.Get(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			require.NoError(t, s.Put(ctx, "counter", []byte("2")))
			v, err = s.Get(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), v)

			require.NoError(t, s.Put(ctx, "empty", []byte{}))
			v, err = s.Get(ctx, "empty")
			require.NoError(t, err)
			assert.Empty(t, v)

			require.NoError(t, s.Put(ctx, "", []byte("root")))
			v, err = s.Get(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []byte("root"), v)
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "k")
			require.ErrorIs(t, err, context.Canceled)
			require.ErrorIs(t, s.Put(ctx, "k", nil), context.Canceled)
		})
	}
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			_, err := s.Get(ctx, "k")
			require.ErrorIs(t, err, ErrClosed)
			require.ErrorIs(t, s.Put(ctx, "k", []byte("v")), ErrClosed)
		})
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	in := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", in))
	in[0] = 'x'

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)

	out[1] = 'y'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
	assert.Equal(t, 1, m.Len())
}

func TestLevelDB_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), s.SchemaVersion())
	require.NoError(t, s.Put(ctx, "proof/1", []byte{0, 1, 2}))
	require.NoError(t, s.Close())

	s, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, "proof/1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, v)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLevelDB_MigratesBareKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	raw, err := leveldb.OpenFile(dir, nil)
	require.NoError(t, err)
	require.NoError(t, raw.Put([]byte("legacy"), []byte("value"), nil))
	require.NoError(t, raw.Close())

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)

	ok, err := s.db.Has([]byte("legacy"), nil)
	require.NoError(t, err)
	assert.False(t, ok, "bare key should have moved under the state namespace")
}

func TestLevelDB_RefusesNewerSchema(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenLevelDB(dir, WithMigrations(DefaultMigrations()[:1]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestLevelDB_RejectsGappedMigrations(t *testing.T) {
	m := DefaultMigrations()
	m[1].Version = 5
	_, err := OpenMemLevelDB(WithMigrations(m))
	require.Error(t, err)
}

func TestLevelDB_StateHidesMeta(t *testing.T) {
	s, err := OpenMemLevelDB()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "meta/schema-version")
	require.ErrorIs(t, err, ErrNotFound)
}
