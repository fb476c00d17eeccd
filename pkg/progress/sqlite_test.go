package progress

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testKey = Key{Folder: "x/y/", ZipFileName: "bundle.zip"}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), SQLiteConfig{})
	assert.Error(t, err)
}

func TestOpenSQLite_FileCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "progress.db")
	s, err := OpenSQLite(context.Background(), SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.TryAdmit(context.Background(), testKey, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_AdmitCreatesRecord(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.TryAdmit(ctx, testKey, now)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, Record{
		Folder:      "/x/y/",
		ZipFileName: "bundle.zip",
		CreatedAt:   FormatTime(now),
		UpdatedAt:   FormatTime(now),
		Progress:    StateInitialized,
	}, *rec)
}

func TestSQLiteStore_AdmissionRules(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		prepare func(t *testing.T, s *SQLiteStore)
		at      time.Time
		want    bool
	}{
		{
			name: "active record rejects",
			at:   t0.Add(15 * time.Minute),
			want: false,
		},
		{
			name: "stale record at window edge admits",
			at:   t0.Add(ActiveWindow),
			want: true,
		},
		{
			name: "stale record admits",
			at:   t0.Add(time.Hour),
			want: true,
		},
		{
			name: "finalized record admits immediately",
			prepare: func(t *testing.T, s *SQLiteStore) {
				require.NoError(t, s.SetState(context.Background(), testKey, StateFinalized, t0))
			},
			at:   t0.Add(time.Second),
			want: true,
		},
		{
			name: "failed record admits immediately",
			prepare: func(t *testing.T, s *SQLiteStore) {
				require.NoError(t, s.SetFailure(context.Background(), testKey, StateFailed, "boom", t0))
			},
			at:   t0.Add(time.Second),
			want: true,
		},
		{
			name: "intermediate label still blocks",
			prepare: func(t *testing.T, s *SQLiteStore) {
				require.NoError(t, s.SetState(context.Background(), testKey, StateUploaded, t0.Add(5*time.Minute)))
			},
			at:   t0.Add(10 * time.Minute),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openMemoryStore(t)
			ctx := context.Background()

			ok, err := s.TryAdmit(ctx, testKey, t0)
			require.NoError(t, err)
			require.True(t, ok)
			if tt.prepare != nil {
				tt.prepare(t, s)
			}

			ok, err = s.TryAdmit(ctx, testKey, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSQLiteStore_ReadmitClearsError(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.TryAdmit(ctx, testKey, t0)
	require.NoError(t, err)
	require.NoError(t, s.SetFailure(ctx, testKey, StateFailed, "list failed", t0.Add(time.Second)))

	ok, err := s.TryAdmit(ctx, testKey, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, rec.Progress)
	assert.Empty(t, rec.ZipError)
	assert.Equal(t, FormatTime(t0.Add(time.Minute)), rec.CreatedAt)
}

func TestSQLiteStore_ConcurrentAdmitExactlyOne(t *testing.T) {
	s := openMemoryStore(t)
	now := time.Now()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryAdmit(context.Background(), testKey, now)
			assert.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestSQLiteStore_KeysAreIndependent(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	now := time.Now()

	ok, err := s.TryAdmit(ctx, testKey, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAdmit(ctx, Key{Folder: "x/y/", ZipFileName: "other.zip"}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAdmit(ctx, Key{Folder: "x/", ZipFileName: "bundle.zip"}, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_UpdateMissingRecord(t *testing.T) {
	s := openMemoryStore(t)

	err := s.SetState(context.Background(), testKey, StateListed, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_List(t *testing.T) {
	s := openMemoryStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, name := range []string{"b.zip", "a.zip"} {
		_, err := s.TryAdmit(ctx, Key{Folder: "x/y/", ZipFileName: name}, now)
		require.NoError(t, err)
	}
	_, err := s.TryAdmit(ctx, Key{Folder: "elsewhere/", ZipFileName: "c.zip"}, now)
	require.NoError(t, err)

	records, err := s.List(ctx, "x/y/")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.zip", records[0].ZipFileName)
	assert.Equal(t, "b.zip", records[1].ZipFileName)
	assert.Equal(t, "/x/y/", records[0].Folder)
}
