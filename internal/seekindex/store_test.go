package seekindex

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	idx := sampleIndex()
	idx.MarkComplete()
	require.NoError(t, s.Save(ctx, "k1", "/media/a.ts", idx))

	got, err := s.Load(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.Complete())
	assert.Equal(t, idx.Entries(), got.Entries())

	// Saving again replaces rather than appends.
	short := New(0)
	short.Add(Entry{PTS: 0, Offset: 0})
	require.NoError(t, s.Save(ctx, "k1", "/media/a.ts", short))
	got, err = s.Load(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestStoreLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Save(ctx, "k", "src", sampleIndex()))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "k", "src", sampleIndex()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Len())
}

func TestStoreSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, path)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestLockScanExclusive(t *testing.T) {
	s := openTestStore(t)
	unlock, ok, err := s.LockScan("key")
	require.NoError(t, err)
	require.True(t, ok)

	other := *s
	_, ok, err = other.LockScan("key")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire the lock")

	require.NoError(t, unlock())
	unlock, ok, err = other.LockScan("key")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock())
}

type busyErr struct{}

func (busyErr) Error() string { return "busy" }
func (busyErr) Code() int     { return sqliteBusyCode }

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return busyErr{}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("constraint failed")
	err = retryOnBusy(context.Background(), func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	assert.True(t, isSQLiteBusy(errors.New("database is locked")))
	assert.False(t, isSQLiteBusy(nil))
}

func TestIdentity(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/media/a.ts", []byte("abc"), 0o644))

	k1, err := Identity(fs, "/media/a.ts")
	require.NoError(t, err)
	k2, err := Identity(fs, "file:///media/a.ts")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	require.NoError(t, fs.Chtimes("/media/a.ts", time.Now(), time.Now().Add(time.Hour)))
	k3, err := Identity(fs, "/media/a.ts")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "modified file must change identity")

	u1, err := Identity(fs, "https://cdn.example.com/a.ts")
	require.NoError(t, err)
	assert.Len(t, u1, 32)

	_, err = Identity(fs, "/media/missing.ts")
	assert.Error(t, err)
}
