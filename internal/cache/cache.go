// Package cache keeps fetched artwork on disk, evicting the least recently
// used files once the total passes the configured limit.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/sonroyaalmerol/jellyradio/internal/utils"
)

// Index tracks cached files by hash. repository.Repo implements it.
type Index interface {
	CacheTouch(ctx context.Context, hash string, size int64, created bool) error
	CacheRemove(ctx context.Context, hash string) error
	CacheTotalBytes(ctx context.Context) (int64, error)
	CacheOldest(ctx context.Context) (string, error)
}

type FileCache struct {
	Dir        string
	LimitBytes int64
	HTTPClient *http.Client

	index Index
	log   *slog.Logger
	mu    sync.Mutex
}

func NewFileCache(dir string, limitBytes int64, index Index, logger *slog.Logger) *FileCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCache{
		Dir:        dir,
		LimitBytes: limitBytes,
		HTTPClient: http.DefaultClient,
		index:      index,
		log:        logger,
	}
}

func (c *FileCache) HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *FileCache) PathFor(hash string) string {
	return filepath.Join(c.Dir, hash)
}

func (c *FileCache) Get(ctx context.Context, hash string) (string, bool) {
	p := c.PathFor(hash)
	if _, err := os.Stat(p); err == nil {
		_ = c.index.CacheTouch(ctx, hash, 0, false)
		return p, true
	}
	_ = c.index.CacheRemove(ctx, hash)
	return "", false
}

func (c *FileCache) createTemp(hash string) (*os.File, string, error) {
	dir := filepath.Join(c.Dir, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	tmp := filepath.Join(dir, hash)
	f, err := os.Create(tmp)
	return f, tmp, err
}

// commit moves tmp into place. Empty files are discarded and reported as
// not committed.
func (c *FileCache) commit(ctx context.Context, tmp, hash string) (bool, error) {
	info, err := os.Stat(tmp)
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		_ = os.Remove(tmp)
		return false, nil
	}
	if err := os.Rename(tmp, c.PathFor(hash)); err != nil {
		return false, err
	}
	if err := c.index.CacheTouch(ctx, hash, info.Size(), true); err != nil {
		return true, err
	}
	return true, c.evictIfNeeded(ctx, hash)
}

// evictIfNeeded removes the oldest entries until the cache fits. keep is
// never evicted, even when it alone exceeds the limit.
func (c *FileCache) evictIfNeeded(ctx context.Context, keep string) error {
	if c.LimitBytes <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	total, err := c.index.CacheTotalBytes(ctx)
	if err != nil {
		return err
	}
	for total > c.LimitBytes {
		oldest, err := c.index.CacheOldest(ctx)
		if err != nil {
			return err
		}
		if oldest == "" || oldest == keep {
			return nil
		}
		_ = os.Remove(c.PathFor(oldest))
		_ = c.index.CacheRemove(ctx, oldest)
		c.log.Debug("evicted cached artwork", "hash", oldest, "total", humanize.IBytes(uint64(total)))
		total, err = c.index.CacheTotalBytes(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteStream stores src under key unless it is already cached and returns
// the file's path.
func (c *FileCache) WriteStream(ctx context.Context, key string, src io.Reader) (string, error) {
	hash := c.HashKey(key)
	if p, ok := c.Get(ctx, hash); ok {
		return p, nil
	}
	f, tmp, err := c.createTemp(hash)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	ok, err := c.commit(ctx, tmp, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("cache %s: empty source", hash)
	}
	return c.PathFor(hash), nil
}

// Fetch returns the cached copy of url, downloading it on a miss.
func (c *FileCache) Fetch(ctx context.Context, url string) (string, error) {
	if p, ok := c.Get(ctx, c.HashKey(url)); ok {
		return p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch artwork %s: invalid request", utils.RedactURL(url))
	}
	req.Header.Set("User-Agent", utils.UserAgent())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch artwork: %w", utils.RedactError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch artwork: unexpected status %d", resp.StatusCode)
	}

	p, err := c.WriteStream(ctx, url, resp.Body)
	if err != nil {
		return "", err
	}
	c.log.Debug("cached artwork", "path", p, "size", humanize.IBytes(uint64(max(resp.ContentLength, 0))))
	return p, nil
}
