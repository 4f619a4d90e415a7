package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)

	sqlStore, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "kv.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqlStore,
	}
	if addr := os.Getenv("TIERENGINE_TEST_REDIS_ADDR"); addr != "" {
		redisStore, err := NewRedisStore(RedisOptions{Addr: addr, Namespace: "tierengine-test:" + t.Name() + ":"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = redisStore.Close() })
		stores["redis"] = redisStore
	}
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get("tier:alice")
			require.NoError(t, err)
			assert.False(t, ok, "missing key should report ok=false")

			require.NoError(t, store.Set("tier:alice", []byte(`{"tier":"PRO"}`)))
			value, ok, err := store.Get("tier:alice")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `{"tier":"PRO"}`, string(value))

			require.NoError(t, store.Set("tier:alice", []byte(`{"tier":"ADVANCED"}`)))
			value, _, err = store.Get("tier:alice")
			require.NoError(t, err)
			assert.Equal(t, `{"tier":"ADVANCED"}`, string(value))

			require.NoError(t, store.Remove("tier:alice"))
			_, ok, err = store.Get("tier:alice")
			require.NoError(t, err)
			assert.False(t, ok)

			// Removing a missing key is not an error.
			require.NoError(t, store.Remove("tier:alice"))
		})
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{
				"tier_backup:alice:01B",
				"tier_backup:alice:01A",
				"tier_backup:bob:01A",
				"tier:alice",
				"tierXbackup:alice",
			} {
				require.NoError(t, store.Set(key, []byte("{}")))
			}

			keys, err := store.Keys("tier_backup:alice:")
			require.NoError(t, err)
			assert.Equal(t, []string{"tier_backup:alice:01A", "tier_backup:alice:01B"}, keys)

			keys, err = store.Keys("tier_backup:")
			require.NoError(t, err)
			assert.Len(t, keys, 3)

			keys, err = store.Keys("nothing:")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	value := []byte("abc")
	require.NoError(t, store.Set("k", value))
	value[0] = 'x'

	got, _, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[0] = 'y'
	again, _, _ := store.Get("k")
	assert.Equal(t, "abc", string(again))
}

func TestFileStoreFilesAreOwnerOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kv")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("tier:alice", []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files should not be left behind")

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreRejectsEmptyInputs(t *testing.T) {
	_, err := NewFileStore("  ")
	require.Error(t, err)

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Set("", []byte("{}")))
}

func TestFileStoreRejectsDirectoryAtKeyPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "tier:alice.json"), 0o700))
	_, _, err = store.Get("tier:alice")
	require.ErrorIs(t, err, errUnsafeStorePath)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Options{Kind: KindMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(Options{Kind: KindFile, DataDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = Open(Options{Kind: KindSQLite, DataDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(Options{Kind: KindRedis})
	require.Error(t, err, "redis without an address must fail")

	_, err = Open(Options{Kind: "etcd"})
	require.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `tier_backup:a\*b\?c\[d\]`, escapeGlob("tier_backup:a*b?c[d]"))
}
