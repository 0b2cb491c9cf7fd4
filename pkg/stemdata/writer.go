package stemdata

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"stem4d/internal/models"
)

// Writer streams frames into a new .s4d container. Frames must be appended in
// scan order (probe row-major); the writer groups them into chunks, compresses
// each chunk independently and records the chunk index, which is written at
// the tail when the writer is closed.
type Writer struct {
	file     *os.File
	shape    models.DatasetShape
	perChunk int
	patchPos int64

	index     []chunkInfo
	appended  int
	gz        *gzip.Writer
	chunkPos  int64
	inChunk   int
	pixelBuf  []byte
	closed    bool
}

// Create opens a new container file for writing. framesPerChunk <= 0 selects
// DefaultFramesPerChunk. The metadata map may be nil.
func Create(path string, shape models.DatasetShape, framesPerChunk int, meta Metadata) (*Writer, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if framesPerChunk <= 0 {
		framesPerChunk = DefaultFramesPerChunk
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	patchPos, err := writeHeader(f, header{
		Version:        formatVersion,
		Shape:          shape,
		FramesPerChunk: framesPerChunk,
		Meta:           meta,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}

	return &Writer{
		file:     f,
		shape:    shape,
		perChunk: framesPerChunk,
		patchPos: patchPos,
		pixelBuf: make([]byte, 8*shape.FrameSize()),
	}, nil
}

// Shape returns the dataset geometry the writer was created with.
func (w *Writer) Shape() models.DatasetShape {
	return w.shape
}

// AppendFrame adds the next frame in scan order. The frame dimensions must
// match the detector shape; appending beyond ScanW*ScanH frames is an error.
func (w *Writer) AppendFrame(frame *models.Frame) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if frame.Width != w.shape.DetW || frame.Height != w.shape.DetH {
		return fmt.Errorf("frame size %dx%d does not match detector shape %dx%d",
			frame.Width, frame.Height, w.shape.DetW, w.shape.DetH)
	}
	if w.appended >= w.shape.NumFrames() {
		return fmt.Errorf("dataset already holds all %d frames", w.shape.NumFrames())
	}

	if w.gz == nil {
		pos, err := w.file.Seek(0, 2)
		if err != nil {
			return fmt.Errorf("seeking chunk start: %w", err)
		}
		w.chunkPos = pos
		w.gz = gzip.NewWriter(w.file)
		w.inChunk = 0
	}

	for i, v := range frame.Data {
		binary.LittleEndian.PutUint64(w.pixelBuf[i*8:], math.Float64bits(v))
	}
	if _, err := w.gz.Write(w.pixelBuf); err != nil {
		return fmt.Errorf("writing frame %d: %w", w.appended, err)
	}
	w.appended++
	w.inChunk++

	if w.inChunk == w.perChunk {
		return w.flushChunk()
	}
	return nil
}

// flushChunk finishes the open gzip stream and records its index entry.
func (w *Writer) flushChunk() error {
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("closing chunk stream: %w", err)
	}
	end, err := w.file.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("seeking chunk end: %w", err)
	}
	w.index = append(w.index, chunkInfo{
		Offset:        w.chunkPos,
		CompressedLen: end - w.chunkPos,
		FrameCount:    w.inChunk,
	})
	w.gz = nil
	w.inChunk = 0
	return nil
}

// Close flushes any open chunk, writes the chunk index and patches the header
// index offset. Closing before all frames have been appended is an error so
// that truncated datasets are never silently produced.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.appended != w.shape.NumFrames() {
		w.file.Close()
		return fmt.Errorf("container incomplete: %d of %d frames appended",
			w.appended, w.shape.NumFrames())
	}
	if w.gz != nil {
		if err := w.flushChunk(); err != nil {
			w.file.Close()
			return err
		}
	}

	indexOffset, err := w.file.Seek(0, 2)
	if err != nil {
		w.file.Close()
		return fmt.Errorf("seeking index position: %w", err)
	}
	if err := writeIndex(w.file, w.index); err != nil {
		w.file.Close()
		return fmt.Errorf("writing chunk index: %w", err)
	}

	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], uint64(indexOffset))
	if _, err := w.file.WriteAt(off[:], w.patchPos); err != nil {
		w.file.Close()
		return fmt.Errorf("patching index offset: %w", err)
	}
	return w.file.Close()
}
