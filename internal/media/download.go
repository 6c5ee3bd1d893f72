package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itai-hania/HFI/internal/thread"
)

var (
	ErrTooLarge       = errors.New("exceeds size limit")
	ErrBadContentType = errors.New("unexpected content type")
	ErrTimeout        = errors.New("timed out")
)

// DownloadError describes why one item could not be stored. It never aborts
// the rest of the batch.
type DownloadError struct {
	SourceURI string
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.SourceURI, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Extractor materializes a video stream into a local file.
type Extractor interface {
	// Extract writes the stream at sourceURI to a file whose path starts with
	// destBase and returns the final path.
	Extract(ctx context.Context, sourceURI, destBase string, maxBytes int64) (string, error)
}

// Options bound a download batch.
type Options struct {
	Workers       int
	MaxPhotoBytes int64
	MaxVideoBytes int64
	PhotoTimeout  time.Duration
}

// Result summarizes a batch.
type Result struct {
	Downloaded  int
	AlreadyDone int
	Failed      int
}

// Downloader stores media under a directory.
type Downloader struct {
	dir       string
	client    *http.Client
	extractor Extractor
	opts      Options
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(dir string, extractor Extractor, opts Options) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PhotoTimeout == 0 {
		opts.PhotoTimeout = 30 * time.Second
	}
	if opts.MaxPhotoBytes == 0 {
		opts.MaxPhotoBytes = 20 << 20
	}
	if opts.MaxVideoBytes == 0 {
		opts.MaxVideoBytes = 500 << 20
	}
	return &Downloader{
		dir:       dir,
		client:    &http.Client{},
		extractor: extractor,
		opts:      opts,
	}
}

// DownloadAll fetches every item that is not already stored and returns the
// updated items in input order. Per-item failures are recorded on the item.
// Items not started before ctx is cancelled keep their previous state. Items
// sharing a source URI are fetched once and share the outcome.
func (d *Downloader) DownloadAll(ctx context.Context, items []Download) ([]Download, *Result) {
	out := make([]Download, len(items))
	copy(out, items)
	result := &Result{}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		log.Printf("Cannot create media directory %s: %v", d.dir, err)
	}

	attempted := make([]bool, len(out))
	leader := make(map[string]int)
	var shared []int
	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for i := range out {
		if out[i].Status == StatusSuccess && out[i].LocalPath != nil {
			result.AlreadyDone++
			continue
		}
		if _, ok := leader[out[i].SourceURI]; ok {
			shared = append(shared, i)
			continue
		}
		leader[out[i].SourceURI] = i
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out[i] = d.downloadOne(ctx, out[i])
			attempted[i] = true
			return nil
		})
	}
	g.Wait()

	for _, i := range shared {
		if l := leader[out[i].SourceURI]; attempted[l] {
			out[i].Status = out[l].Status
			out[i].LocalPath = out[l].LocalPath
			out[i].Size = out[l].Size
			out[i].Error = out[l].Error
		}
	}

	for i, it := range out {
		if !attempted[i] {
			continue
		}
		if it.Status == StatusSuccess {
			result.Downloaded++
		} else {
			result.Failed++
		}
	}
	log.Printf("Media download complete: %d downloaded, %d already stored, %d failed",
		result.Downloaded, result.AlreadyDone, result.Failed)
	return out, result
}

func (d *Downloader) downloadOne(ctx context.Context, item Download) Download {
	base := filepath.Join(d.dir, FileStem(item.SourceURI))

	var path string
	var size int64
	var err error
	switch item.Type {
	case thread.Photo:
		path, size, err = d.fetchPhoto(ctx, item.SourceURI, base)
	case thread.Video:
		path, size, err = d.fetchVideo(ctx, item.SourceURI, base)
	default:
		err = fmt.Errorf("unknown media type %q", item.Type)
	}

	if err != nil {
		derr := &DownloadError{SourceURI: item.SourceURI, Err: err}
		log.Printf("Media item failed: %v", derr)
		item.Status = StatusFailed
		item.LocalPath = nil
		item.Size = 0
		item.Error = derr.Error()
		return item
	}
	item.Status = StatusSuccess
	item.LocalPath = &path
	item.Size = size
	item.Error = ""
	return item
}

// FileStem derives a stable file name from a source URI, so re-runs overwrite
// rather than duplicate.
func FileStem(sourceURI string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURI)).String()
}

func (d *Downloader) fetchPhoto(ctx context.Context, uri, base string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PhotoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", "HFI/1.0 (thread archiver)")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", 0, ErrTimeout
		}
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		return "", 0, fmt.Errorf("%w: %q", ErrBadContentType, mediaType)
	}
	if resp.ContentLength > d.opts.MaxPhotoBytes {
		return "", 0, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.ContentLength, d.opts.MaxPhotoBytes)
	}

	path := base + photoExt(mediaType)
	size, err := writeCapped(path, resp.Body, d.opts.MaxPhotoBytes)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", 0, ErrTimeout
		}
		return "", 0, err
	}
	return path, size, nil
}

func (d *Downloader) fetchVideo(ctx context.Context, uri, base string) (string, int64, error) {
	if d.extractor == nil {
		return "", 0, errors.New("no stream extractor configured")
	}
	path, err := d.extractor.Extract(ctx, uri, base, d.opts.MaxVideoBytes)
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("extractor output: %w", err)
	}
	if info.Size() > d.opts.MaxVideoBytes {
		os.Remove(path)
		return "", 0, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size(), d.opts.MaxVideoBytes)
	}
	return path, info.Size(), nil
}

// writeCapped copies at most limit bytes from r into path. Oversized content
// leaves no file behind.
func writeCapped(path string, r io.Reader, limit int64) (int64, error) {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > limit {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("finalizing file: %w", err)
	}
	return n, nil
}

func photoExt(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
