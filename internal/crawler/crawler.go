// Package crawler walks configured photo roots and classifies each
// file as new, modified, or unchanged relative to the Store, streaming
// results over a channel as they are discovered. Modeled on the
// teacher's filepath.WalkDir-over-a-channel scanner, generalized from
// source-code discovery to photo discovery.
package crawler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Classification describes how a discovered file relates to the
// Store's existing record for its path.
type Classification string

const (
	ClassificationNew       Classification = "new"
	ClassificationModified  Classification = "modified"
	ClassificationUnchanged Classification = "unchanged"
	ClassificationDeleted   Classification = "deleted"
)

// DefaultExtensions is the extension allow-list applied when Options
// doesn't override it.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "tiff", "heic", "webp"}

// Result is one discovered (or deleted) file, or a non-aborting error
// encountered while walking.
type Result struct {
	Path           string
	Classification Classification
	Size           int64
	ModTime        int64 // unix seconds
	SHA1           string
	Err            error
}

// KnownPhoto is the subset of store.Photo the crawler needs to decide
// new/modified/unchanged without importing the store package directly.
type KnownPhoto struct {
	ModifiedAtUnix int64
	SizeBytes      int64
}

// Options configures a Crawl.
type Options struct {
	Roots      []string
	Extensions []string // case-insensitive, leading dot optional; defaults to DefaultExtensions
	Workers    int       // 0 = runtime.NumCPU()

	// Known holds the Store's current path -> metadata view, used to
	// classify files and, after the walk completes, to detect paths
	// that vanished (second-pass deletion detection).
	Known map[string]KnownPhoto
}

// Crawler streams classified photo files from the configured roots.
// statCacheSize sizes the directory LRU that New allocates; the walk
// itself neither reads nor fills that cache.
const statCacheSize = 1000

type Crawler struct {
	dirCache *lru.Cache[string, struct{}]
}

func New() (*Crawler, error) {
	cache, err := lru.New[string, struct{}](statCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create directory cache: %w", err)
	}
	return &Crawler{dirCache: cache}, nil
}

// Crawl walks every configured root concurrently (bounded by
// Options.Workers) and streams Results until the walk completes, then
// emits one ClassificationDeleted-style result per Known path that was
// never seen on disk. The returned channel is closed when done.
func (c *Crawler) Crawl(ctx context.Context, opts Options) <-chan Result {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ext := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		ext[strings.TrimPrefix(strings.ToLower(e), ".")] = struct{}{}
	}

	results := make(chan Result, workers*2)
	seen := make(map[string]struct{})
	var seenMu sync.Mutex

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		sem := make(chan struct{}, workers)
		for _, root := range opts.Roots {
			root := root
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				c.walkRoot(ctx, root, ext, opts.Known, results, &seen, &seenMu)
			}()
		}
		wg.Wait()

		for path := range opts.Known {
			seenMu.Lock()
			_, ok := seen[path]
			seenMu.Unlock()
			if ok {
				continue
			}
			select {
			case results <- Result{Path: path, Classification: ClassificationDeleted}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results
}

func (c *Crawler) walkRoot(ctx context.Context, root string, ext map[string]struct{}, known map[string]KnownPhoto, results chan<- Result, seen *map[string]struct{}, seenMu *sync.Mutex) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		select {
		case results <- Result{Err: fmt.Errorf("resolve root %q: %w", root, err)}:
		case <-ctx.Done():
		}
		return
	}

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			select {
			case results <- Result{Path: path, Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		e := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if _, ok := ext[e]; !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			select {
			case results <- Result{Path: path, Err: fmt.Errorf("stat %q: %w", path, err)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		seenMu.Lock()
		(*seen)[path] = struct{}{}
		seenMu.Unlock()

		prior, exists := known[path]
		classification := ClassificationNew
		if exists {
			if prior.ModifiedAtUnix == info.ModTime().Unix() && prior.SizeBytes == info.Size() {
				classification = ClassificationUnchanged
			} else {
				classification = ClassificationModified
			}
		}

		var digest string
		if classification != ClassificationUnchanged {
			digest, err = sha1File(path)
			if err != nil {
				select {
				case results <- Result{Path: path, Err: fmt.Errorf("hash %q: %w", path, err)}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}
		}

		select {
		case results <- Result{
			Path:           path,
			Classification: classification,
			Size:           info.Size(),
			ModTime:        info.ModTime().Unix(),
			SHA1:           digest,
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if walkErr != nil && walkErr != context.Canceled {
		slog.Warn("crawl root failed", slog.String("root", absRoot), slog.String("error", walkErr.Error()))
		select {
		case results <- Result{Err: fmt.Errorf("walk %q: %w", absRoot, walkErr)}:
		case <-ctx.Done():
		}
	}
}

func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
