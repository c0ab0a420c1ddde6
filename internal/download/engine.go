// Package download pulls selected books from an Audiobookshelf server with
// bounded concurrency and records what it fetched.
package download

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mikelnorth/audiobookshelf-download-cli/internal/abs"
)

const safeFilenameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_ "

// Fetcher is the slice of the server client the engine needs.
type Fetcher interface {
	ItemDetails(ctx context.Context, itemID string) (abs.ItemDetails, error)
	DownloadItem(ctx context.Context, itemID string, w io.Writer, buf []byte) (int64, error)
	DownloadCover(ctx context.Context, coverPath string, w io.Writer, buf []byte) (int64, error)
}

// Options tune one bulk download run.
type Options struct {
	// Dest is the root download directory.
	Dest string
	// Server identifies the source server in the history database.
	Server string
	// MaxConcurrent caps simultaneous downloads; minimum 1.
	MaxConcurrent int
	// ChunkSize is the copy buffer size per worker.
	ChunkSize int
	// Delay spaces out download starts.
	Delay time.Duration
	// MaxRetries is the per-item retry budget.
	MaxRetries int
	// OrganizeByAuthor nests book directories under author directories.
	OrganizeByAuthor bool
	// IncludeCovers fetches cover images next to the audio files.
	IncludeCovers bool
}

// Result summarizes a bulk download run.
type Result struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Engine downloads books. Construct with NewEngine.
type Engine struct {
	fetcher Fetcher
	history *History
	logger  zerolog.Logger
}

// NewEngine returns an engine over the given client and history. history
// may be nil, in which case nothing is skipped or recorded.
func NewEngine(fetcher Fetcher, history *History, logger zerolog.Logger) *Engine {
	return &Engine{fetcher: fetcher, history: history, logger: logger}
}

// Run downloads the given items, at most opts.MaxConcurrent at a time.
// Individual failures are counted, logged, and do not abort the run; only
// context cancellation stops it early.
func (e *Engine) Run(ctx context.Context, items []abs.Item, opts Options) (Result, error) {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8192
	}

	var (
		mu     sync.Mutex
		result Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrent)

	for i, item := range items {
		item := item
		if opts.Delay > 0 && i > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		g.Go(func() error {
			outcome := e.downloadOne(ctx, item, opts)
			mu.Lock()
			switch outcome {
			case outcomeDownloaded:
				result.Downloaded++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Failed++
			}
			mu.Unlock()
			return ctx.Err()
		})
	}

	err := g.Wait()
	return result, err
}

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (e *Engine) downloadOne(ctx context.Context, item abs.Item, opts Options) outcome {
	log := e.logger.With().Str("title", item.Title()).Str("author", item.Author()).Logger()

	if e.history != nil {
		seen, err := e.history.Seen(opts.Server, item.ID)
		if err != nil {
			log.Warn().Err(err).Msg("history lookup failed, downloading anyway")
		} else if seen {
			log.Info().Msg("already downloaded, skipping")
			return outcomeSkipped
		}
	}

	bookDir := e.bookDir(item, opts)
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying download")
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return outcomeFailed
			}
		}

		var bytes int64
		bytes, lastErr = e.fetchAndExtract(ctx, item, bookDir, opts)
		if lastErr == nil {
			if e.history != nil {
				if err := e.history.Record(opts.Server, item.ID, item.Title(), item.Author(), bookDir, bytes); err != nil {
					log.Warn().Err(err).Msg("could not record download history")
				}
			}
			log.Info().Int64("bytes", bytes).Msg("downloaded")
			return outcomeDownloaded
		}
		if ctx.Err() != nil {
			return outcomeFailed
		}
	}

	log.Error().Err(lastErr).Msg("download failed")
	return outcomeFailed
}

func (e *Engine) fetchAndExtract(ctx context.Context, item abs.Item, bookDir string, opts Options) (int64, error) {
	if err := os.MkdirAll(bookDir, 0o755); err != nil {
		return 0, fmt.Errorf("create book directory: %w", err)
	}

	zipPath := filepath.Join(bookDir, SafeFilename(item.Title())+".zip")
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("create archive file: %w", err)
	}

	buf := make([]byte, opts.ChunkSize)
	n, err := e.fetcher.DownloadItem(ctx, item.ID, zipFile, buf)
	if cerr := zipFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(zipPath)
		return 0, fmt.Errorf("download archive: %w", err)
	}

	if err := extractZip(zipPath, bookDir); err != nil {
		os.Remove(zipPath)
		return 0, fmt.Errorf("extract archive: %w", err)
	}
	os.Remove(zipPath)

	if opts.IncludeCovers {
		e.fetchCover(ctx, item, bookDir, buf)
	}
	return n, nil
}

// fetchCover is best effort; a missing cover never fails the book.
func (e *Engine) fetchCover(ctx context.Context, item abs.Item, bookDir string, buf []byte) {
	details, err := e.fetcher.ItemDetails(ctx, item.ID)
	if err != nil || details.CoverPath == "" {
		return
	}
	coverPath := filepath.Join(bookDir, "cover.jpg")
	f, err := os.Create(coverPath)
	if err != nil {
		return
	}
	if _, err := e.fetcher.DownloadCover(ctx, details.CoverPath, f, buf); err != nil {
		f.Close()
		os.Remove(coverPath)
		return
	}
	f.Close()
}

func (e *Engine) bookDir(item abs.Item, opts Options) string {
	title := SafeFilename(item.Title())
	author := SafeFilename(item.Author())
	if opts.OrganizeByAuthor {
		return filepath.Join(opts.Dest, author, title)
	}
	return filepath.Join(opts.Dest, author+" - "+title)
}

// SafeFilename strips characters outside the allowed set so titles and
// author names are safe as directory names on every platform.
func SafeFilename(text string) string {
	var b strings.Builder
	for _, r := range text {
		if strings.ContainsRune(safeFilenameChars, r) {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "untitled"
	}
	return out
}

func extractZip(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		// Reject entries escaping the destination directory.
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(f, target); err != nil {
			return fmt.Errorf("extract %q: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
