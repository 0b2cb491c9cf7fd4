// Package fetch handles the one-time bulk download of a dataset file from a
// fixed URL. Downloads stream through a .partial file that is renamed into
// place only on success, so an interrupted transfer never leaves a
// half-written dataset behind. There are no retries: a failed download is
// terminal and reported to the caller.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
)

// progressEvery is how many bytes pass between progress log lines when the
// server reports a content length.
const progressEvery = 8 << 20

// Fetcher downloads dataset files.
type Fetcher struct {
	Client HTTPClient
}

// New creates a Fetcher using the default HTTP client.
func New() *Fetcher {
	return &Fetcher{Client: NewStandardClient(nil)}
}

// Download fetches url into dest and returns the number of bytes written.
// When dest already exists and is non-empty the download is skipped and the
// existing size is returned; delete the file to force a refresh.
func (f *Fetcher) Download(ctx context.Context, url, dest string) (int64, error) {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Printf("fetch: %s already present (%d bytes), skipping download", dest, info.Size())
		return info.Size(), nil
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("creating destination directory: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	partial := dest + ".partial"
	file, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", partial, err)
	}

	written, err := copyWithProgress(file, resp.Body, resp.ContentLength)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("downloading %s: %w", url, err)
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("finalising download: %w", err)
	}

	log.Printf("fetch: downloaded %s (%d bytes)", dest, written)
	return written, nil
}

// copyWithProgress streams src to dst, logging roughly every progressEvery
// bytes when the total is known.
func copyWithProgress(dst io.Writer, src io.Reader, total int64) (int64, error) {
	var written int64
	var lastLogged int64
	buf := make([]byte, 1<<20)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if total > 0 && written-lastLogged >= progressEvery {
				log.Printf("fetch: %d / %d bytes (%.0f%%)", written, total,
					float64(written)/float64(total)*100)
				lastLogged = written
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
