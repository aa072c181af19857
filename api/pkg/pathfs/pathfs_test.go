package pathfs

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	allowed := filepath.Join(root, "artifacts")
	require.NoError(t, os.MkdirAll(allowed, 0o755))

	v, err := NewValidator(allowed)
	require.NoError(t, err)

	_, err = v.Validate(filepath.Join(allowed, "..", "etc", "passwd"))
	require.Error(t, err)

	ok, err := v.Validate(filepath.Join(allowed, "session-1", "session.json"))
	require.NoError(t, err)
	assert.Contains(t, ok, allowed)
}

func TestValidatorRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	allowed := filepath.Join(root, "artifacts")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(allowed, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))

	link := filepath.Join(allowed, "escape")
	require.NoError(t, os.Symlink(outside, link))

	v, err := NewValidator(allowed)
	require.NoError(t, err)

	_, err = v.Validate(filepath.Join(link, "secret"))
	require.Error(t, err)
}

func TestAtomicWriteSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.txt")
	require.NoError(t, AtomicWriteSmall(path, []byte("active")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "active", string(data))

	// Overwrite must still leave the file intact end-to-end.
	require.NoError(t, AtomicWriteSmall(path, []byte("suspended")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "suspended", string(data))
}

func TestAppendLineAndTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	for i := 0; i < 5; i++ {
		require.NoError(t, AppendLine(path, []byte(`{"n":`+string(rune('0'+i))+`}`)))
	}

	lines, err := TailLines(path, 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `"n":4`)
}

func TestAppendLineConcurrentWritersPreserveLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = AppendLine(path, []byte(`{"i":"x"}`))
		}(i)
	}
	wg.Wait()

	lines, err := TailLines(path, 100)
	require.NoError(t, err)
	assert.Len(t, lines, 20)
	for _, l := range lines {
		assert.Equal(t, `{"i":"x"}`, l)
	}
}

func TestNextSegmentIndexMonotoneAndDistinct(t *testing.T) {
	dir := t.TempDir()

	first, err := NextSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := NextSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, second)

	// Concurrent callers must still receive distinct indices.
	seen := make(chan int, 50)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := NextSegmentIndex(dir)
			require.NoError(t, err)
			seen <- idx
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int]bool{}
	for idx := range seen {
		assert.False(t, unique[idx], "index %d returned twice", idx)
		unique[idx] = true
	}
	assert.Len(t, unique, 50)
}

func TestNextSegmentIndexFallsBackToHighestVideo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video_003.mkv"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video_001.mkv"), []byte{}, 0o644))

	next, err := NextSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, next)
}
