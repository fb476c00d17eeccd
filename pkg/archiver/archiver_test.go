package archiver

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/provider"
)

type fakeGetter struct {
	objects map[string]string
	fail    map[string]error
	// block keys wait for ctx cancellation before failing.
	block map[string]bool
	// unsized keys report an unknown length (-1).
	unsized map[string]bool

	cancelled atomic.Int32
}

func (f *fakeGetter) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if f.block[key] {
		<-ctx.Done()
		f.cancelled.Add(1)
		return nil, 0, ctx.Err()
	}
	if err := f.fail[key]; err != nil {
		return nil, 0, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Key: key, Err: provider.ErrNotFound}
	}
	if f.unsized[key] {
		return io.NopCloser(strings.NewReader(body)), -1, nil
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

var _ provider.ObjectGetter = (*fakeGetter)(nil)

func candidatesFor(objects map[string]string, entry func(string) string) map[string]lister.Candidate {
	out := make(map[string]lister.Candidate, len(objects))
	for key, body := range objects {
		out[key] = lister.Candidate{
			SourceKey:    key,
			EntryName:    entry(key),
			Size:         int64(len(body)),
			LastModified: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		}
	}
	return out
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string)
	for _, f := range r.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func TestArchive_RoundTrip(t *testing.T) {
	objects := map[string]string{
		"x/y/z/file.txt":   strings.Repeat("hello ", 1000),
		"x/y/z/deep/a.csv": "a,b,c\n1,2,3\n",
		"x/y/top.txt":      "top",
	}
	getter := &fakeGetter{objects: objects}
	candidates := candidatesFor(objects, func(k string) string { return strings.TrimPrefix(k, "x/y/") })
	out := filepath.Join(t.TempDir(), "bundle.zip")

	summary, err := New(getter, DefaultConfig(), nil).Archive(context.Background(), candidates, out)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Entries)
	assert.Equal(t, int64(len(objects["x/y/z/file.txt"])+12+3), summary.BytesIn)
	assert.Positive(t, summary.ArchiveBytes)

	assert.Equal(t, map[string]string{
		"z/file.txt":   objects["x/y/z/file.txt"],
		"z/deep/a.csv": objects["x/y/z/deep/a.csv"],
		"top.txt":      "top",
	}, readZip(t, out))
}

func TestArchive_PreservesModifiedTime(t *testing.T) {
	objects := map[string]string{"a.txt": "a"}
	out := filepath.Join(t.TempDir(), "a.zip")

	_, err := New(&fakeGetter{objects: objects}, DefaultConfig(), nil).
		Archive(context.Background(), candidatesFor(objects, func(k string) string { return k }), out)
	require.NoError(t, err)

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.True(t, r.File[0].Modified.Equal(time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)))
}

func TestArchive_EmptyProducesValidArchive(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.zip")

	summary, err := New(&fakeGetter{}, DefaultConfig(), nil).Archive(context.Background(), nil, out)
	require.NoError(t, err)
	assert.Zero(t, summary.Entries)

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	assert.Empty(t, r.File)
}

func TestArchive_FailureRemovesOutput(t *testing.T) {
	objects := map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"}
	cause := &provider.ProviderError{Op: "GetObject", Key: "b.txt", Err: provider.ErrAccessDenied}
	getter := &fakeGetter{objects: objects, fail: map[string]error{"b.txt": cause}}
	out := filepath.Join(t.TempDir(), "bundle.zip")

	summary, err := New(getter, DefaultConfig(), nil).
		Archive(context.Background(), candidatesFor(objects, func(k string) string { return k }), out)
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial archive must be removed")
}

func TestArchive_FirstFailureCancelsSiblings(t *testing.T) {
	objects := map[string]string{"bad.txt": "x", "slow1.txt": "y", "slow2.txt": "z"}
	getter := &fakeGetter{
		objects: objects,
		fail:    map[string]error{"bad.txt": errors.New("boom")},
		block:   map[string]bool{"slow1.txt": true, "slow2.txt": true},
	}
	out := filepath.Join(t.TempDir(), "bundle.zip")

	done := make(chan error, 1)
	go func() {
		_, err := New(getter, DefaultConfig(), nil).
			Archive(context.Background(), candidatesFor(objects, func(k string) string { return k }), out)
		done <- err
	}()

	select {
	case err := <-done:
		assert.EqualError(t, err, "open bad.txt: boom")
	case <-time.After(5 * time.Second):
		t.Fatal("archive did not return after a sibling failure")
	}
	assert.Equal(t, int32(2), getter.cancelled.Load())
}

func TestArchive_SizeMismatch(t *testing.T) {
	objects := map[string]string{"a.txt": "abc"}
	candidates := candidatesFor(objects, func(k string) string { return k })
	c := candidates["a.txt"]
	c.Size = 99
	candidates["a.txt"] = c
	out := filepath.Join(t.TempDir(), "a.zip")

	_, err := New(&fakeGetter{objects: objects}, DefaultConfig(), nil).Archive(context.Background(), candidates, out)

	var sm *SizeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, int64(99), sm.Expected)
	assert.Equal(t, int64(3), sm.Got)
	assert.True(t, IsSizeMismatch(err))

	// Disabled validation accepts the drift.
	cfg := DefaultConfig()
	cfg.ValidateSize = false
	_, err = New(&fakeGetter{objects: objects}, cfg, nil).Archive(context.Background(), candidates, out)
	assert.NoError(t, err)
}

func TestArchive_UnknownLengthValidatesCopiedBytes(t *testing.T) {
	objects := map[string]string{"x/a.txt": "hello"}
	candidates := candidatesFor(objects, func(k string) string { return strings.TrimPrefix(k, "x/") })
	getter := &fakeGetter{objects: objects, unsized: map[string]bool{"x/a.txt": true}}
	out := filepath.Join(t.TempDir(), "a.zip")

	summary, err := New(getter, DefaultConfig(), nil).Archive(context.Background(), candidates, out)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.BytesIn)
	assert.Equal(t, map[string]string{"a.txt": "hello"}, readZip(t, out))

	// The copied byte count is still checked against the listed size.
	c := candidates["x/a.txt"]
	c.Size = 9
	candidates["x/a.txt"] = c
	_, err = New(getter, DefaultConfig(), nil).Archive(context.Background(), candidates, out)

	var sm *SizeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, int64(5), sm.Got)
}

func TestArchive_DuplicateEntryIsFatal(t *testing.T) {
	objects := map[string]string{"a/f.txt": "1", "b/f.txt": "2"}
	out := filepath.Join(t.TempDir(), "dup.zip")

	_, err := New(&fakeGetter{objects: objects}, DefaultConfig(), nil).
		Archive(context.Background(), candidatesFor(objects, func(k string) string { return "f.txt" }), out)

	var dup *DuplicateEntryError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "f.txt", dup.EntryName)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestArchive_BadOutputPath(t *testing.T) {
	_, err := New(&fakeGetter{}, DefaultConfig(), nil).
		Archive(context.Background(), nil, filepath.Join(t.TempDir(), "missing", "dir", "a.zip"))
	assert.Error(t, err)
}
