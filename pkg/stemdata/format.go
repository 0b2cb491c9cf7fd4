// Package stemdata implements the .s4d container: a single-file chunked
// store for 4-D STEM datasets that can be read lazily, one chunk at a time.
//
// A container holds a ScanW x ScanH grid of detector frames. Frames are
// grouped in scan order into chunks of FramesPerChunk frames (the last chunk
// may be short), and each chunk is gzip-compressed independently so that
// reading one frame only ever decompresses its own chunk. The file layout is
//
//	header   magic "S4DF", version, shape, chunking, JSON metadata,
//	         index offset (patched when the writer is closed)
//	chunks   gzip streams of little-endian float64 pixels, frame after frame
//	index    per-chunk file offset, compressed length and frame count
//
// All multi-byte values are little-endian. The index lives at the tail so
// datasets can be streamed out without knowing chunk sizes in advance; the
// reader needs only the header and index in memory and materialises chunks
// on demand.
package stemdata

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"stem4d/internal/models"
)

const (
	// formatVersion is bumped when the container layout changes.
	formatVersion uint16 = 1

	// DefaultFramesPerChunk is used when callers pass a chunk size <= 0.
	DefaultFramesPerChunk = 64
)

var magic = [4]byte{'S', '4', 'D', 'F'}

// ErrNotContainer reports that a file does not start with the .s4d magic.
var ErrNotContainer = errors.New("stemdata: not an s4d container")

// Metadata carries free-form acquisition details (pixel sizes, voltages,
// provenance) alongside the array data. Keys and values are opaque to the
// reader.
type Metadata map[string]string

// header is the fixed part of the container preamble.
type header struct {
	Version        uint16
	Shape          models.DatasetShape
	FramesPerChunk int
	Meta           Metadata
	IndexOffset    int64
}

// chunkInfo is one index entry: where a chunk lives and how many frames it
// holds.
type chunkInfo struct {
	Offset        int64
	CompressedLen int64
	FrameCount    int
}

// writeHeader emits the preamble with a zero index offset and returns the
// file position at which the index offset must later be patched.
func writeHeader(w io.Writer, h header) (patchPos int64, err error) {
	metaBytes := []byte("{}")
	if len(h.Meta) > 0 {
		metaBytes, err = json.Marshal(h.Meta)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata: %w", err)
		}
	}

	if _, err := w.Write(magic[:]); err != nil {
		return 0, err
	}
	fields := []interface{}{
		h.Version,
		uint16(0), // reserved
		uint32(h.Shape.ScanW),
		uint32(h.Shape.ScanH),
		uint32(h.Shape.DetW),
		uint32(h.Shape.DetH),
		uint32(h.FramesPerChunk),
		uint32(len(metaBytes)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return 0, err
		}
	}
	if _, err := w.Write(metaBytes); err != nil {
		return 0, err
	}

	// magic(4) + version(2) + reserved(2) + six uint32 fields + metadata
	patchPos = int64(4 + 2 + 2 + 6*4 + len(metaBytes))
	if err := binary.Write(w, binary.LittleEndian, int64(0)); err != nil {
		return 0, err
	}
	return patchPos, nil
}

// readHeader parses and validates the preamble.
func readHeader(r io.Reader) (header, error) {
	var h header

	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return h, fmt.Errorf("reading magic: %w", err)
	}
	if m != magic {
		return h, ErrNotContainer
	}

	var version, reserved uint16
	var scanW, scanH, detW, detH, fpc, metaLen uint32
	for _, dst := range []interface{}{&version, &reserved, &scanW, &scanH, &detW, &detH, &fpc, &metaLen} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return h, fmt.Errorf("reading header: %w", err)
		}
	}
	if version != formatVersion {
		return h, fmt.Errorf("unsupported container version %d (want %d)", version, formatVersion)
	}

	h.Version = version
	h.Shape = models.DatasetShape{ScanW: int(scanW), ScanH: int(scanH), DetW: int(detW), DetH: int(detH)}
	if err := h.Shape.Validate(); err != nil {
		return h, err
	}
	h.FramesPerChunk = int(fpc)
	if h.FramesPerChunk <= 0 {
		return h, fmt.Errorf("invalid frames-per-chunk %d", h.FramesPerChunk)
	}

	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return h, fmt.Errorf("reading metadata: %w", err)
	}
	if metaLen > 0 {
		if err := json.Unmarshal(metaBytes, &h.Meta); err != nil {
			return h, fmt.Errorf("decoding metadata: %w", err)
		}
	}

	if err := binary.Read(r, binary.LittleEndian, &h.IndexOffset); err != nil {
		return h, fmt.Errorf("reading index offset: %w", err)
	}
	return h, nil
}

// writeIndex emits the chunk table at the current writer position.
func writeIndex(w io.Writer, index []chunkInfo) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(index))); err != nil {
		return err
	}
	for _, ci := range index {
		for _, f := range []interface{}{ci.Offset, ci.CompressedLen, uint32(ci.FrameCount)} {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// readIndex parses the chunk table.
func readIndex(r io.Reader) ([]chunkInfo, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading chunk count: %w", err)
	}
	index := make([]chunkInfo, n)
	for i := range index {
		var offset, clen int64
		var frames uint32
		for _, dst := range []interface{}{&offset, &clen, &frames} {
			if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
				return nil, fmt.Errorf("reading chunk %d index entry: %w", i, err)
			}
		}
		index[i] = chunkInfo{Offset: offset, CompressedLen: clen, FrameCount: int(frames)}
	}
	return index, nil
}
