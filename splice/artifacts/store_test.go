package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...StoreOpt) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "artifacts"), NewMemoryIndex(), opts...)
	require.NoError(t, err)
	return s
}

func persist(t *testing.T, s *Store, body string) Artifact {
	t.Helper()
	a, err := s.Persist(context.Background(), strings.NewReader(body), "PNG", "image/png", body+".png")
	require.NoError(t, err)
	return a
}

func ids(list []Artifact) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestPersist(t *testing.T) {
	s := newStore(t)

	a := persist(t, s, "hello")
	assert.Equal(t, "png", a.Ext)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, filepath.Join(s.Dir(), a.ID+".png"), a.Path)
	assert.True(t, filepath.IsAbs(a.Path))

	got, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	found, err := s.Lookup(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	_, err = s.Lookup("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPersistRejectsBadExtension(t *testing.T) {
	s := newStore(t)

	for _, ext := range []string{"", "../x", "a/b", "mp4 ", strings.Repeat("a", 17)} {
		_, err := s.Persist(context.Background(), strings.NewReader("x"), ext, "", "")
		assert.Error(t, err, ext)
	}
}

func TestPersistEvictsOldest(t *testing.T) {
	s := newStore(t)

	var all []Artifact
	for i := range DefaultCapacity + 1 {
		all = append(all, persist(t, s, fmt.Sprintf("a%d", i)))
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, DefaultCapacity)
	assert.Equal(t, all[1].ID, list[0].ID)
	assert.Equal(t, all[DefaultCapacity].ID, list[len(list)-1].ID)

	assert.NoFileExists(t, all[0].Path)
	_, err = s.Lookup(all[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, a := range all[1:] {
		assert.FileExists(t, a.Path)
	}
}

func TestPinSkipsPinned(t *testing.T) {
	s := newStore(t, WithCapacity(2))

	first := persist(t, s, "first")
	unpin := s.Pin(first.ID)
	defer unpin()

	second := persist(t, s, "second")
	third := persist(t, s, "third")

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, third.ID}, ids(list))
	assert.FileExists(t, first.Path, "pinned artifact survives")
	assert.NoFileExists(t, second.Path)
}

func TestUnpinRunsDeferredEviction(t *testing.T) {
	s := newStore(t, WithCapacity(2))

	a := persist(t, s, "a")
	b := persist(t, s, "b")
	unpin := s.Pin(a.ID, b.ID)

	c := persist(t, s, "c")
	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 3, "capacity is exceeded while pins are held")

	unpin()
	unpin()

	list, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, ids(list))
	assert.NoFileExists(t, a.Path)
}

func TestRelativeDirIsMadeAbsolute(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)

	s, err := NewStore(context.Background(), filepath.Join("data", "artifacts"), NewMemoryIndex())
	require.NoError(t, err)

	a := persist(t, s, "hello")
	require.True(t, filepath.IsAbs(a.Path), a.Path)

	abs, err := filepath.Abs(filepath.Join("data", "artifacts"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, a.ID+".png"), a.Path)
}

func TestPinLookup(t *testing.T) {
	s := newStore(t, WithCapacity(1))

	a := persist(t, s, "a")
	found, unpin, err := s.PinLookup(a.ID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.Path, found[0].Path)

	persist(t, s, "b")
	assert.FileExists(t, a.Path, "looked-up input survives eviction while pinned")

	unpin()
	assert.NoFileExists(t, a.Path)
}

func TestPinLookupMissing(t *testing.T) {
	s := newStore(t, WithCapacity(1))

	a := persist(t, s, "a")
	_, unpin, err := s.PinLookup(a.ID, "nope")
	assert.Nil(t, unpin)
	require.ErrorIs(t, err, ErrNotFound)

	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nope", missing.ID)

	// nothing stayed pinned
	persist(t, s, "b")
	assert.NoFileExists(t, a.Path)
}

func TestPinsNest(t *testing.T) {
	s := newStore(t, WithCapacity(1))

	a := persist(t, s, "a")
	u1 := s.Pin(a.ID)
	u2 := s.Pin(a.ID)
	persist(t, s, "b")

	u1()
	assert.FileExists(t, a.Path)
	u2()
	assert.NoFileExists(t, a.Path)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	a := persist(t, s, "a")
	persist(t, s, "b")

	require.NoError(t, s.Reset(context.Background()))

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoFileExists(t, a.Path)
	assert.DirExists(t, s.Dir())

	persist(t, s, "c")
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	var list []Artifact
	for i := range 12 {
		p := filepath.Join(dir, fmt.Sprintf("%d.bin", i))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		list = append(list, Artifact{ID: fmt.Sprint(i), Path: p})
	}
	// a missing backing file must not stop pruning
	list[1].Path = filepath.Join(dir, "gone")

	kept := Prune(list, 10)
	require.Len(t, kept, 10)
	assert.Equal(t, "2", kept[0].ID)
	assert.Equal(t, "11", kept[9].ID)
	assert.NoFileExists(t, list[0].Path)
	assert.FileExists(t, list[2].Path)

	assert.Len(t, Prune(list[:3], 10), 3)
}

func TestConcurrentPersist(t *testing.T) {
	s := newStore(t)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Persist(context.Background(), strings.NewReader(fmt.Sprint(i)), "bin", "application/octet-stream", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, DefaultCapacity)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, DefaultCapacity, "evicted files are deleted")
}
