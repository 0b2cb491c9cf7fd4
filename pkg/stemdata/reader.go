package stemdata

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"stem4d/internal/models"
)

// defaultCacheChunks bounds how many decompressed chunks a Dataset keeps in
// memory at once.
const defaultCacheChunks = 4

// Dataset is a lazily-read .s4d container. Opening a dataset reads only the
// header and chunk index; frame pixels are materialised chunk by chunk as
// they are requested. A Dataset is safe for concurrent readers.
type Dataset struct {
	file  *os.File
	hdr   header
	index []chunkInfo

	mu    sync.RWMutex
	cache map[int][]float64
	order []int
	limit int
}

// Open reads and validates the container header and chunk index. Malformed
// files (bad magic, unsupported version, inconsistent shape or index) are
// rejected here rather than surfacing later as garbled frames.
func Open(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}

	hdr, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if hdr.IndexOffset <= 0 {
		f.Close()
		return nil, fmt.Errorf("reading %s: missing chunk index (truncated write?)", path)
	}

	if _, err := f.Seek(hdr.IndexOffset, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking chunk index: %w", err)
	}
	index, err := readIndex(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	// Frame addressing assumes every chunk but the last is full; a shifted
	// per-chunk count with the right total would silently misalign reads.
	total := 0
	for i, ci := range index {
		if i < len(index)-1 && ci.FrameCount != hdr.FramesPerChunk {
			f.Close()
			return nil, fmt.Errorf("reading %s: chunk %d holds %d frames, expected %d",
				path, i, ci.FrameCount, hdr.FramesPerChunk)
		}
		total += ci.FrameCount
	}
	if total != hdr.Shape.NumFrames() {
		f.Close()
		return nil, fmt.Errorf("reading %s: index covers %d frames, shape requires %d",
			path, total, hdr.Shape.NumFrames())
	}

	return &Dataset{
		file:  f,
		hdr:   hdr,
		index: index,
		cache: make(map[int][]float64),
		limit: defaultCacheChunks,
	}, nil
}

// Shape returns the dataset geometry.
func (d *Dataset) Shape() models.DatasetShape {
	return d.hdr.Shape
}

// Metadata returns the free-form metadata stored in the header.
func (d *Dataset) Metadata() Metadata {
	return d.hdr.Meta
}

// NumFrames returns the number of probe positions in the scan grid.
func (d *Dataset) NumFrames() int {
	return d.hdr.Shape.NumFrames()
}

// ChunkCount returns the number of chunks in the container.
func (d *Dataset) ChunkCount() int {
	return len(d.index)
}

// ChunkBounds returns the half-open flat frame range [lo, hi) held by chunk i.
// Workers that partition the scan grid chunk-aligned touch each chunk exactly
// once.
func (d *Dataset) ChunkBounds(i int) (lo, hi int) {
	lo = i * d.hdr.FramesPerChunk
	hi = lo + d.index[i].FrameCount
	return lo, hi
}

// ReadFrame returns the frame recorded at probe position (px, py).
func (d *Dataset) ReadFrame(px, py int) (*models.Frame, error) {
	s := d.hdr.Shape
	if px < 0 || px >= s.ScanW || py < 0 || py >= s.ScanH {
		return nil, fmt.Errorf("probe position (%d, %d) outside %dx%d scan grid",
			px, py, s.ScanW, s.ScanH)
	}
	return d.ReadFrameAt(s.FrameIndex(px, py))
}

// ReadFrameAt returns the frame at a flat scan-order index, loading and
// caching its chunk on demand.
func (d *Dataset) ReadFrameAt(flat int) (*models.Frame, error) {
	s := d.hdr.Shape
	if flat < 0 || flat >= s.NumFrames() {
		return nil, fmt.Errorf("frame index %d out of range [0, %d)", flat, s.NumFrames())
	}

	chunkIdx := flat / d.hdr.FramesPerChunk
	pixels, err := d.chunk(chunkIdx)
	if err != nil {
		return nil, err
	}

	within := flat - chunkIdx*d.hdr.FramesPerChunk
	fsize := s.FrameSize()
	frame := models.NewFrame(s.DetW, s.DetH)
	copy(frame.Data, pixels[within*fsize:(within+1)*fsize])
	return frame, nil
}

// chunk returns the decompressed pixels of chunk i, serving from the cache
// when possible.
func (d *Dataset) chunk(i int) ([]float64, error) {
	d.mu.RLock()
	pixels, ok := d.cache[i]
	d.mu.RUnlock()
	if ok {
		return pixels, nil
	}

	pixels, err := d.loadChunk(i)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if _, ok := d.cache[i]; !ok {
		d.cache[i] = pixels
		d.order = append(d.order, i)
		if len(d.order) > d.limit {
			evict := d.order[0]
			d.order = d.order[1:]
			delete(d.cache, evict)
		}
	}
	d.mu.Unlock()
	return pixels, nil
}

// loadChunk decompresses chunk i from disk. ReadAt via SectionReader keeps
// concurrent loads independent of each other's file position.
func (d *Dataset) loadChunk(i int) ([]float64, error) {
	if i < 0 || i >= len(d.index) {
		return nil, fmt.Errorf("chunk %d out of range [0, %d)", i, len(d.index))
	}
	ci := d.index[i]

	section := io.NewSectionReader(d.file, ci.Offset, ci.CompressedLen)
	gz, err := gzip.NewReader(section)
	if err != nil {
		return nil, fmt.Errorf("opening chunk %d: %w", i, err)
	}
	defer gz.Close()

	fsize := d.hdr.Shape.FrameSize()
	raw := make([]byte, ci.FrameCount*fsize*8)
	if _, err := io.ReadFull(gz, raw); err != nil {
		return nil, fmt.Errorf("decompressing chunk %d: %w", i, err)
	}

	pixels := make([]float64, ci.FrameCount*fsize)
	for j := range pixels {
		pixels[j] = math.Float64frombits(binary.LittleEndian.Uint64(raw[j*8:]))
	}
	return pixels, nil
}

// Close releases the underlying file handle.
func (d *Dataset) Close() error {
	return d.file.Close()
}
