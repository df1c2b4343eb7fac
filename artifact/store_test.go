package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blob struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

var strictDecodes atomic.Int64

// strict rejects documents without a name, standing in for an object that
// validates its own schema.
type strict struct {
	Name string `json:"name"`
}

func (s *strict) UnmarshalJSON(data []byte) error {
	strictDecodes.Add(1)
	var raw struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return errors.New("name is required")
	}
	s.Name = raw.Name
	return nil
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "nested", "dir", "preprocessor.json")

	in := blob{Name: "pre", Values: []float64{0.1, -0.0667, 1e-300}}
	require.NoError(t, store.Save(path, in))
	assert.True(t, store.Exists(path))

	var out blob
	require.NoError(t, store.Load(path, &out))
	assert.Equal(t, in, out)
}

func TestStoreSaveOverwritesWithoutLeavingTempFiles(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	require.NoError(t, store.Save(path, blob{Name: "first"}))
	require.NoError(t, store.Save(path, blob{Name: "second"}))

	var out blob
	require.NoError(t, store.Load(path, &out))
	assert.Equal(t, "second", out.Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.json", entries[0].Name())
}

func TestStoreSaveFailureKeepsPreviousArtifact(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	require.NoError(t, store.Save(path, blob{Name: "good"}))

	err := store.Save(path, map[string]any{"bad": func() {}})
	require.Error(t, err)

	var out blob
	require.NoError(t, store.Load(path, &out))
	assert.Equal(t, "good", out.Name)
}

func TestStoreLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	err := NewStore().Load(path, &blob{})

	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, path, notFound.Path)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrCorrupt)
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("\x80\x04\x95pickle"), 0o644))
	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"name":""}`), 0o644))

	for _, path := range []string{garbage, invalid} {
		err := NewStore().Load(path, &strict{})
		var corrupt *CorruptError
		require.True(t, errors.As(err, &corrupt), "path %s: %v", path, err)
		assert.Equal(t, path, corrupt.Path)
		assert.ErrorIs(t, err, ErrCorrupt)
	}
}

func TestLoadCachedDecodesOncePerPath(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, store.Save(path, map[string]string{"name": "shared"}))

	cache, err := NewCache(store, 4)
	require.NoError(t, err)

	before := strictDecodes.Load()
	var wg sync.WaitGroup
	results := make([]*strict, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := LoadCached[strict](cache, path)
			assert.NoError(t, err)
			results[i] = obj
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), strictDecodes.Load()-before)
	for _, obj := range results {
		assert.Same(t, results[0], obj)
	}
}

func TestLoadCachedDoesNotCacheErrors(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "model.json")
	cache, err := NewCache(store, 0)
	require.NoError(t, err)

	_, err = LoadCached[blob](cache, path)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, cache.Len())

	require.NoError(t, store.Save(path, blob{Name: "late"}))
	obj, err := LoadCached[blob](cache, path)
	require.NoError(t, err)
	assert.Equal(t, "late", obj.Name)
}

func TestCacheInvalidateKeepsHandedOutObjects(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, store.Save(path, blob{Name: "v1"}))
	cache, err := NewCache(store, 2)
	require.NoError(t, err)

	first, err := LoadCached[blob](cache, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(path, blob{Name: "v2"}))

	stale, err := LoadCached[blob](cache, path)
	require.NoError(t, err)
	assert.Equal(t, "v1", stale.Name)

	assert.True(t, cache.Invalidate(path))
	fresh, err := LoadCached[blob](cache, path)
	require.NoError(t, err)
	assert.Equal(t, "v2", fresh.Name)
	assert.Equal(t, "v1", first.Name)
}

func TestWatchInvalidatesReplacedArtifact(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	require.NoError(t, store.Save(path, blob{Name: "v1"}))
	cache, err := NewCache(store, 2)
	require.NoError(t, err)
	_, err = LoadCached[blob](cache, path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, dir, cache, nil) }()
	defer func() {
		cancel()
		<-done
	}()

	// the watcher needs to be registered before the write is observed
	require.Eventually(t, func() bool {
		if err := store.Save(path, blob{Name: "v2"}); err != nil {
			return false
		}
		return !cache.Contains(path)
	}, 5*time.Second, 50*time.Millisecond)

	obj, err := LoadCached[blob](cache, path)
	require.NoError(t, err)
	assert.Equal(t, "v2", obj.Name)
}

func TestCacheDropsLoadInvalidatedMidway(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, store.Save(path, blob{Name: "v1"}))
	cache, err := NewCache(store, 2)
	require.NoError(t, err)

	read, release := make(chan struct{}), make(chan struct{})
	cache.load = func(p string, v any) error {
		err := store.Load(p, v)
		close(read)
		<-release
		return err
	}

	type result struct {
		obj *blob
		err error
	}
	done := make(chan result, 1)
	go func() {
		obj, err := LoadCached[blob](cache, path)
		done <- result{obj, err}
	}()

	<-read
	require.NoError(t, store.Save(path, blob{Name: "v2"}))
	assert.False(t, cache.Invalidate(path))
	close(release)

	slow := <-done
	require.NoError(t, slow.err)
	assert.Equal(t, "v1", slow.obj.Name)
	assert.False(t, cache.Contains(path))

	cache.load = store.Load
	fresh, err := LoadCached[blob](cache, path)
	require.NoError(t, err)
	assert.Equal(t, "v2", fresh.Name)
	assert.True(t, cache.Contains(path))
}
