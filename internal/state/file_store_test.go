package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testRecord("shop"), 0))
	require.NoError(t, s.Put(ctx, testRecord("ops"), 0))
	require.NoError(t, s.Close())

	// A fresh store sees the same records.
	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	records, err := s2.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	rec, err := s2.Get(ctx, "core.ResourceGroup.shop")
	require.NoError(t, err)
	assert.Equal(t, "id-shop", rec.ID)
	assert.Equal(t, int64(1), rec.Version)
}

func TestFileStore_OpenMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "state.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)

	records, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, testRecord("shop"), 0))

	var conflict *ConcurrentModificationError
	err = s.Put(ctx, testRecord("shop"), 0)
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, s.Put(ctx, testRecord("shop"), 1))
}

func TestFileStore_DeletePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testRecord("shop"), 0))
	require.NoError(t, s.Delete(ctx, "core.ResourceGroup.shop", 1))

	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	records, err := s2.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)

	// Parallel apply workers hit Put and Get on the same store.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("shop-%d", n)
			assert.NoError(t, s.Put(ctx, testRecord(name), 0))
			_, err := s.Get(ctx, "core.ResourceGroup."+name)
			assert.NoError(t, err)
			_, err = s.List(ctx)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	records, err := s2.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 16)
}

func TestFileStore_FailedPersistKeepsPriorRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testRecord("shop"), 0))

	// A directory at the state path makes the rename in persist fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	updated := testRecord("shop")
	updated.Attrs = map[string]any{"environment": "staging"}
	require.Error(t, s.Put(ctx, updated, 1))

	// The in-memory view still matches what persisted last.
	rec, err := s.Get(ctx, "core.ResourceGroup.shop")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "production", rec.Attrs["environment"])

	require.Error(t, s.Delete(ctx, "core.ResourceGroup.shop", 1))
	_, err = s.Get(ctx, "core.ResourceGroup.shop")
	require.NoError(t, err)
}

func TestFileStore_LockContention(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	s.LockTimeout = 400 * time.Millisecond

	handle, err := s.Lock(ctx, "production")
	require.NoError(t, err)

	// A second store on the same path contends for the same scope.
	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	s2.LockTimeout = 400 * time.Millisecond

	_, err = s2.Lock(ctx, "production")
	var timeout *LockTimeoutError
	require.ErrorAs(t, err, &timeout)

	// Other scopes stay lockable.
	other, err := s2.Lock(ctx, "staging")
	require.NoError(t, err)
	require.NoError(t, s2.Unlock(other))

	require.NoError(t, s.Unlock(handle))
	handle2, err := s2.Lock(ctx, "production")
	require.NoError(t, err)
	require.NoError(t, s2.Unlock(handle2))
}

func TestFileStore_StaleLockReclaimed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	s.LockTimeout = time.Second

	lockPath := path + ".production.lock"
	require.NoError(t, os.WriteFile(lockPath, []byte("pid=0\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	handle, err := s.Lock(ctx, "production")
	require.NoError(t, err)
	require.NoError(t, s.Unlock(handle))
}

func TestFileStore_EncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	t.Setenv(EncryptionKeyEnvVar, "correct horse battery staple")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testRecord("shop"), 0))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "id-shop")

	s2, err := OpenFileStore(path)
	require.NoError(t, err)
	rec, err := s2.Get(ctx, "core.ResourceGroup.shop")
	require.NoError(t, err)
	assert.Equal(t, "id-shop", rec.ID)
}
