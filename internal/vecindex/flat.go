// Package vecindex implements the persistent flat vector index: an
// append-mostly array of fixed-dimension vectors with exact k-nearest-neighbor
// search by L2 distance, plus a sidecar mapping each internal sequence to its
// chunk id.
//
// The on-disk file pair is the single source of truth shared between the
// ingestion workers and the search process. Writers serialize saves through a
// host-local file lock; readers stat the index file before each search and
// reload when its modification time has advanced.
package vecindex

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

const (
	indexMagic    = "DQVI"
	sidecarMagic  = "DQSC"
	formatVersion = 1

	// Tombstone marks a removed sidecar slot.
	Tombstone int64 = -1
)

// Result is one nearest-neighbor hit.
type Result struct {
	ChunkID  int64
	Distance float32
}

// Index is the flat L2 vector index. Safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	path        string
	sidecarPath string
	dim         int

	vectors  []float32 // row-major, len = count*dim
	chunkIDs []int64   // len = count; Tombstone for removed slots

	diskMTime time.Time // mtime of the index file at last load/save
	reloads   atomic.Uint64
	lock      *flock.Flock
	logger    *slog.Logger
	closed    bool
}

// New opens the index at the given file pair, loading it from disk if it
// exists. A missing pair yields an empty index of the given dimension.
func New(path, sidecarPath string, dim int, logger *slog.Logger) (*Index, error) {
	if dim <= 0 {
		return nil, dqerrors.New(dqerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("invalid dimension %d", dim), nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx := &Index{
		path:        path,
		sidecarPath: sidecarPath,
		dim:         dim,
		lock:        flock.New(path + ".lock"),
		logger:      logger.With("component", "vecindex"),
	}

	if _, err := os.Stat(path); err == nil {
		if err := idx.loadLocked(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeIndexMissing, err)
	}

	return idx, nil
}

// Dimensions returns the vector dimension.
func (i *Index) Dimensions() int {
	return i.dim
}

// Size returns the total number of slots, tombstoned included.
func (i *Index) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunkIDs)
}

// LiveCount returns the number of non-tombstoned slots.
func (i *Index) LiveCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.liveCountLocked()
}

func (i *Index) liveCountLocked() int {
	n := 0
	for _, id := range i.chunkIDs {
		if id != Tombstone {
			n++
		}
	}
	return n
}

// ReloadCount returns how many hot reloads have happened. Used by tests and
// the stats command to observe reload behavior.
func (i *Index) ReloadCount() uint64 {
	return i.reloads.Load()
}

// TombstoneRatio returns the fraction of tombstoned slots.
func (i *Index) TombstoneRatio() float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.chunkIDs) == 0 {
		return 0
	}
	return float64(len(i.chunkIDs)-i.liveCountLocked()) / float64(len(i.chunkIDs))
}

// Append adds vectors and their chunk ids in order, returning the assigned
// internal sequences. Changes are in-memory until Save.
func (i *Index) Append(vectors [][]float32, chunkIDs []int64) ([]int, error) {
	if len(vectors) != len(chunkIDs) {
		return nil, dqerrors.New(dqerrors.ErrCodeInvalidInput,
			fmt.Sprintf("got %d vectors for %d chunk ids", len(vectors), len(chunkIDs)), nil)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, dqerrors.New(dqerrors.ErrCodeIndexMissing, "index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != i.dim {
			return nil, dqerrors.New(dqerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector dimension %d does not match index dimension %d", len(v), i.dim), nil)
		}
	}

	sequences := make([]int, len(vectors))
	for j, v := range vectors {
		sequences[j] = len(i.chunkIDs)
		i.vectors = append(i.vectors, v...)
		i.chunkIDs = append(i.chunkIDs, chunkIDs[j])
	}
	return sequences, nil
}

// Remove tombstones the sidecar entries for the given chunk ids. Returns the
// number of slots tombstoned. Surviving sequences are unchanged until the
// next compaction.
func (i *Index) Remove(chunkIDs []int64) int {
	if len(chunkIDs) == 0 {
		return 0
	}
	victims := make(map[int64]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		victims[id] = struct{}{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	removed := 0
	for seq, id := range i.chunkIDs {
		if _, ok := victims[id]; ok {
			i.chunkIDs[seq] = Tombstone
			removed++
		}
	}
	return removed
}

// Save atomically persists the index and sidecar: write to *.tmp, fsync,
// rename. A host-local file lock serializes saves across worker processes.
func (i *Index) Save() error {
	if err := i.lock.Lock(); err != nil {
		return dqerrors.Wrap(dqerrors.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = i.lock.Unlock() }()

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return dqerrors.New(dqerrors.ErrCodeIndexMissing, "index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	if err := writeAtomic(i.path, i.encodeIndex()); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := writeAtomic(i.sidecarPath, i.encodeSidecar()); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}

	info, err := os.Stat(i.path)
	if err != nil {
		return err
	}
	i.diskMTime = info.ModTime()

	i.logger.Debug("vector_index_saved",
		"path", i.path,
		"slots", len(i.chunkIDs),
		"live", i.liveCountLocked())
	return nil
}

// Load reads the index and sidecar from disk, replacing the in-memory copy.
func (i *Index) Load() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loadLocked()
}

func (i *Index) loadLocked() error {
	indexData, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return dqerrors.New(dqerrors.ErrCodeIndexMissing,
				fmt.Sprintf("index file %s not found", i.path), err)
		}
		return err
	}
	sidecarData, err := os.ReadFile(i.sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return dqerrors.New(dqerrors.ErrCodeIndexMissing,
				fmt.Sprintf("sidecar file %s not found", i.sidecarPath), err)
		}
		return err
	}

	vectors, dim, err := decodeIndex(indexData)
	if err != nil {
		return err
	}
	chunkIDs, err := decodeSidecar(sidecarData)
	if err != nil {
		return err
	}

	if dim != i.dim {
		return dqerrors.New(dqerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index dimension %d does not match configured %d", dim, i.dim), nil)
	}
	if len(vectors)/dim != len(chunkIDs) {
		return dqerrors.New(dqerrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("index has %d vectors but sidecar has %d entries", len(vectors)/dim, len(chunkIDs)), nil)
	}

	info, err := os.Stat(i.path)
	if err != nil {
		return err
	}

	i.vectors = vectors
	i.chunkIDs = chunkIDs
	i.diskMTime = info.ModTime()
	return nil
}

// Search returns the top-k (chunk id, L2 distance) pairs for the query,
// skipping tombstoned slots. Distances are squared L2; smaller is closer.
// Before searching it stats the on-disk file and reloads if the mtime has
// advanced past the recorded value.
func (i *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != i.dim {
		return nil, dqerrors.New(dqerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query dimension %d does not match index dimension %d", len(query), i.dim), nil)
	}
	if k <= 0 {
		return []Result{}, nil
	}

	if err := i.maybeReload(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	count := len(i.chunkIDs)
	if count == 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, count)
	for seq := 0; seq < count; seq++ {
		id := i.chunkIDs[seq]
		if id == Tombstone {
			continue
		}
		row := i.vectors[seq*i.dim : (seq+1)*i.dim]
		var dist float32
		for d := 0; d < i.dim; d++ {
			diff := row[d] - query[d]
			dist += diff * diff
		}
		results = append(results, Result{ChunkID: id, Distance: dist})
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Distance < results[b].Distance })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// maybeReload stats the index file and reloads when its mtime advanced.
func (i *Index) maybeReload() error {
	info, err := os.Stat(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // never saved; in-memory copy is all there is
		}
		return err
	}

	i.mu.RLock()
	stale := info.ModTime().After(i.diskMTime)
	i.mu.RUnlock()
	if !stale {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	// Re-check under the write lock; another goroutine may have reloaded.
	info, err = os.Stat(i.path)
	if err != nil {
		return err
	}
	if !info.ModTime().After(i.diskMTime) {
		return nil
	}

	if err := i.loadLocked(); err != nil {
		return err
	}
	i.reloads.Add(1)
	i.logger.Info("vector_index_reloaded", "path", i.path, "slots", len(i.chunkIDs))
	return nil
}

// Compact rebuilds the index without tombstoned slots and saves the new pair
// atomically. Surviving vectors keep their relative order; sequences are
// re-densified.
func (i *Index) Compact() error {
	i.mu.Lock()

	newVectors := make([]float32, 0, len(i.vectors))
	newIDs := make([]int64, 0, len(i.chunkIDs))
	for seq, id := range i.chunkIDs {
		if id == Tombstone {
			continue
		}
		newVectors = append(newVectors, i.vectors[seq*i.dim:(seq+1)*i.dim]...)
		newIDs = append(newIDs, id)
	}
	dropped := len(i.chunkIDs) - len(newIDs)
	i.vectors = newVectors
	i.chunkIDs = newIDs
	i.mu.Unlock()

	if err := i.Save(); err != nil {
		return err
	}
	i.logger.Info("vector_index_compacted", "dropped", dropped, "live", len(newIDs))
	return nil
}

// Close marks the index closed. It does not save.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// ---------------------------------------------------------------------------
// Encoding

// encodeIndex serializes the vectors: magic, version, dim, count, then
// count*dim little-endian float32 values.
func (i *Index) encodeIndex() []byte {
	count := len(i.chunkIDs)
	buf := make([]byte, 0, 16+len(i.vectors)*4)
	buf = append(buf, indexMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, formatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(i.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))
	for _, f := range i.vectors {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// encodeSidecar serializes the chunk ids: magic, version, int64 count, then
// count little-endian int64 ids with Tombstone encoding removed slots.
func (i *Index) encodeSidecar() []byte {
	buf := make([]byte, 0, 16+len(i.chunkIDs)*8)
	buf = append(buf, sidecarMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, formatVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(i.chunkIDs)))
	for _, id := range i.chunkIDs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}

func decodeIndex(data []byte) ([]float32, int, error) {
	if len(data) < 16 || string(data[:4]) != indexMagic {
		return nil, 0, dqerrors.New(dqerrors.ErrCodeIndexCorrupt, "bad index header", nil)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return nil, 0, dqerrors.New(dqerrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("unsupported index version %d", version), nil)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	if dim <= 0 {
		return nil, 0, dqerrors.New(dqerrors.ErrCodeIndexCorrupt, "bad index dimension", nil)
	}
	want := 16 + count*dim*4
	if len(data) != want {
		return nil, 0, dqerrors.New(dqerrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("index file is %d bytes, expected %d", len(data), want), nil)
	}

	vectors := make([]float32, count*dim)
	for j := range vectors {
		bits := binary.LittleEndian.Uint32(data[16+j*4:])
		vectors[j] = math.Float32frombits(bits)
	}
	return vectors, dim, nil
}

func decodeSidecar(data []byte) ([]int64, error) {
	if len(data) < 16 || string(data[:4]) != sidecarMagic {
		return nil, dqerrors.New(dqerrors.ErrCodeIndexCorrupt, "bad sidecar header", nil)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return nil, dqerrors.New(dqerrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("unsupported sidecar version %d", version), nil)
	}
	count := int(binary.LittleEndian.Uint64(data[8:16]))
	want := 16 + count*8
	if len(data) != want {
		return nil, dqerrors.New(dqerrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("sidecar file is %d bytes, expected %d", len(data), want), nil)
	}

	ids := make([]int64, count)
	for j := range ids {
		ids[j] = int64(binary.LittleEndian.Uint64(data[16+j*8:]))
	}
	return ids, nil
}

// writeAtomic writes data to path via a temp file, fsync, and rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
