package vecindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

func newTestIndex(t *testing.T, dim int) (*Index, string) {
	t.Helper()
	dir := t.TempDir()
	idx, err := New(filepath.Join(dir, "default.vec"), filepath.Join(dir, "default.sid"), dim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, dir
}

func TestAppendAssignsSequencesInOrder(t *testing.T) {
	idx, _ := newTestIndex(t, 3)

	seqs, err := idx.Append([][]float32{{1, 0, 0}, {0, 1, 0}}, []int64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seqs)

	seqs, err = idx.Append([][]float32{{0, 0, 1}}, []int64{30})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, seqs)
	assert.Equal(t, 3, idx.Size())
}

func TestAppendRejectsDimensionMismatch(t *testing.T) {
	idx, _ := newTestIndex(t, 3)

	_, err := idx.Append([][]float32{{1, 2}}, []int64{1})
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeDimensionMismatch, dqerrors.GetCode(err))
}

func TestSearchEmptyIndexReturnsEmpty(t *testing.T) {
	idx, _ := newTestIndex(t, 3)

	results, err := idx.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchOrdersByDistanceAndCapsAtK(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	_, err := idx.Append([][]float32{{0, 0}, {1, 0}, {3, 0}, {0.5, 0}}, []int64{1, 2, 3, 4})
	require.NoError(t, err)

	results, err := idx.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(1), results[0].ChunkID)
	assert.Equal(t, int64(4), results[1].ChunkID)
	assert.Equal(t, int64(2), results[2].ChunkID)
	assert.InDelta(t, 0.25, float64(results[1].Distance), 1e-6)
}

func TestSearchKLargerThanSizeReturnsAll(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	_, err := idx.Append([][]float32{{1, 1}, {2, 2}}, []int64{1, 2})
	require.NoError(t, err)

	results, err := idx.Search([]float32{0, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "default.vec")
	sidPath := filepath.Join(dir, "default.sid")

	idx, err := New(vecPath, sidPath, 4, nil)
	require.NoError(t, err)
	_, err = idx.Append([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}, []int64{100, 200})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reopened, err := New(vecPath, sidPath, 4, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Size())
	results, err := reopened.Search([]float32{1, 2, 3, 4}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(100), results[0].ChunkID)
	assert.Zero(t, results[0].Distance)
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "default.vec")
	sidPath := filepath.Join(dir, "default.sid")

	idx, err := New(vecPath, sidPath, 3, nil)
	require.NoError(t, err)
	_, err = idx.Append([][]float32{{1, 2, 3}}, []int64{1})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	_, err = New(vecPath, sidPath, 8, nil)
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeDimensionMismatch, dqerrors.GetCode(err))
}

func TestLoadRejectsTruncatedIndex(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "default.vec")
	sidPath := filepath.Join(dir, "default.sid")

	idx, err := New(vecPath, sidPath, 3, nil)
	require.NoError(t, err)
	_, err = idx.Append([][]float32{{1, 2, 3}, {4, 5, 6}}, []int64{1, 2})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	data, err := os.ReadFile(vecPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(vecPath, data[:len(data)-4], 0o644))

	_, err = New(vecPath, sidPath, 3, nil)
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeIndexCorrupt, dqerrors.GetCode(err))
}

func TestRemoveTombstonesAndSearchSkips(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	_, err := idx.Append([][]float32{{0, 0}, {1, 0}, {2, 0}}, []int64{1, 2, 3})
	require.NoError(t, err)

	removed := idx.Remove([]int64{2})
	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, idx.Size())
	assert.Equal(t, 2, idx.LiveCount())

	results, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, int64(2), r.ChunkID)
	}
}

func TestTombstoneRatio(t *testing.T) {
	idx, _ := newTestIndex(t, 2)

	_, err := idx.Append([][]float32{{0, 0}, {1, 0}, {2, 0}, {3, 0}}, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Zero(t, idx.TombstoneRatio())

	idx.Remove([]int64{1, 3})
	assert.InDelta(t, 0.5, idx.TombstoneRatio(), 1e-9)
}

func TestCompactDropsTombstonesAndPersists(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "default.vec")
	sidPath := filepath.Join(dir, "default.sid")

	idx, err := New(vecPath, sidPath, 2, nil)
	require.NoError(t, err)
	_, err = idx.Append([][]float32{{0, 0}, {1, 0}, {2, 0}}, []int64{1, 2, 3})
	require.NoError(t, err)
	idx.Remove([]int64{2})

	require.NoError(t, idx.Compact())
	assert.Equal(t, 2, idx.Size())
	assert.Zero(t, idx.TombstoneRatio())
	require.NoError(t, idx.Close())

	reopened, err := New(vecPath, sidPath, 2, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Size())

	results, err := reopened.Search([]float32{2, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(3), results[0].ChunkID)
}

func TestSearchHotReloadsWhenFileAdvances(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "default.vec")
	sidPath := filepath.Join(dir, "default.sid")

	writer, err := New(vecPath, sidPath, 2, nil)
	require.NoError(t, err)
	_, err = writer.Append([][]float32{{1, 0}}, []int64{1})
	require.NoError(t, err)
	require.NoError(t, writer.Save())

	reader, err := New(vecPath, sidPath, 2, nil)
	require.NoError(t, err)
	defer reader.Close()

	results, err := reader.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Zero(t, reader.ReloadCount())

	_, err = writer.Append([][]float32{{0, 1}}, []int64{2})
	require.NoError(t, err)
	// Ensure the rename lands with a later mtime even on coarse filesystems.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, writer.Save())
	require.NoError(t, os.Chtimes(vecPath, time.Now(), time.Now().Add(2*time.Second)))
	require.NoError(t, writer.Close())

	results, err = reader.Search([]float32{0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, uint64(1), reader.ReloadCount())
}

func TestSearchDoesNotReloadWhenFileUnchanged(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "default.vec")
	sidPath := filepath.Join(dir, "default.sid")

	idx, err := New(vecPath, sidPath, 2, nil)
	require.NoError(t, err)
	defer idx.Close()
	_, err = idx.Append([][]float32{{1, 0}}, []int64{1})
	require.NoError(t, err)
	require.NoError(t, idx.Save())

	for range 5 {
		_, err := idx.Search([]float32{1, 0}, 1)
		require.NoError(t, err)
	}
	assert.Zero(t, idx.ReloadCount())
}
