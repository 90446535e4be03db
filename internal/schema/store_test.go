package schema_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcompact/internal/compaction"
	"segcompact/internal/schema"
)

func newStores(t *testing.T) map[string]schema.Store {
	sqliteStore, err := schema.NewSQLiteStore(filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]schema.Store{
		"sqlite": sqliteStore,
		"memory": schema.NewMemoryStore(),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.GetTable(42)
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, store.SaveTable(&schema.Table{ID: 42, Keyspace: "ks1", Name: "cf1"}))
			require.NoError(t, store.SaveTable(&schema.Table{ID: 7, Keyspace: "ks1", Name: "cf0"}))

			got, err = store.GetTable(42)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "ks1", got.Keyspace)
			assert.Equal(t, "cf1", got.Name)
			assert.Equal(t, "ks1/cf1/", got.Prefix())
			assert.False(t, got.CreatedAt.IsZero())

			tables, err := store.ListTables()
			require.NoError(t, err)
			require.Len(t, tables, 2)
			assert.Equal(t, compaction.TableID(7), tables[0].ID)
			assert.Equal(t, compaction.TableID(42), tables[1].ID)

			require.NoError(t, store.DropTable(42))
			require.NoError(t, store.DropTable(42))
			got, err = store.GetTable(42)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreRejectsIncompleteTable(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.SaveTable(&schema.Table{ID: 1, Keyspace: "ks1"}))
			assert.Error(t, store.SaveTable(&schema.Table{ID: 1, Name: "cf1"}))
		})
	}
}

func TestLookup(t *testing.T) {
	store := schema.NewMemoryStore(schema.Table{ID: 42, Keyspace: "ks1", Name: "cf1"})
	lookup := schema.Lookup{Store: store}

	ks, cf, ok := lookup.Lookup(42)
	assert.True(t, ok)
	assert.Equal(t, "ks1", ks)
	assert.Equal(t, "cf1", cf)

	info := compaction.NewTableInfo(lookup, 42, compaction.OperationCompaction, 0, 1000)
	assert.Equal(t, "COMPACTION@42(ks1, cf1, 0/1000)", info.String())

	require.NoError(t, store.DropTable(42))
	_, _, ok = lookup.Lookup(42)
	assert.False(t, ok)
}

func TestLookupClosedStore(t *testing.T) {
	store, err := schema.NewSQLiteStore(filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	require.NoError(t, store.SaveTable(&schema.Table{ID: 1, Keyspace: "ks", Name: "t"}))
	require.NoError(t, store.Close())

	_, _, ok := schema.Lookup{Store: store}.Lookup(1)
	assert.False(t, ok)
}
