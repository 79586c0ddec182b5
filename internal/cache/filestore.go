package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	extHTML = ".html"
	extMeta = ".html.meta"

	// Cleanup yields between batches so a large cache directory never
	// monopolizes the sweep goroutine.
	cleanupBatchSize = 100
)

// FileStore persists snapshots as {digest}.html / {digest}.html.meta pairs in
// a single flat directory. The metadata file is written last and read first,
// so a pair missing either half is treated as absent and healed on access.
type FileStore struct {
	dir         string
	compression string
	logger      *zap.Logger
	initGroup   singleflight.Group
	now         func() time.Time
}

// NewFileStore creates a file-backed snapshot store rooted at dir. The
// directory is created lazily on first write.
func NewFileStore(dir, compression string, logger *zap.Logger) *FileStore {
	return &FileStore{
		dir:         dir,
		compression: compression,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the cache directory path.
func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) metaPath(digest string) string {
	return filepath.Join(fs.dir, digest+extMeta)
}

// htmlPath locates the snapshot body, probing the compressed variants the
// store may have written under earlier configurations.
func (fs *FileStore) htmlPath(digest string) (string, bool) {
	base := filepath.Join(fs.dir, digest+extHTML)
	for _, path := range []string{base, base + ExtSnappy, base + ExtLZ4} {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// Get returns the snapshot for (url, deviceType). Expired, orphaned, and
// corrupt pairs are removed and reported as ErrMiss.
func (fs *FileStore) Get(ctx context.Context, url, deviceType string) (*Entry, error) {
	digest := Key(url, deviceType)

	metaRaw, err := os.ReadFile(fs.metaPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			fs.removePair(digest)
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		fs.logger.Warn("Removing cache entry with corrupt metadata",
			zap.String("digest", digest),
			zap.Error(err))
		fs.removePair(digest)
		return nil, ErrMiss
	}

	if meta.Expired(fs.now()) {
		fs.removePair(digest)
		return nil, ErrMiss
	}

	htmlPath, ok := fs.htmlPath(digest)
	if !ok {
		fs.logger.Warn("Removing orphaned cache metadata",
			zap.String("digest", digest))
		fs.removePair(digest)
		return nil, ErrMiss
	}

	content, err := os.ReadFile(htmlPath)
	if err != nil {
		if os.IsNotExist(err) {
			fs.removePair(digest)
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	html, err := Decompress(content, htmlPath)
	if err != nil {
		fs.logger.Warn("Removing cache entry that failed decompression",
			zap.String("digest", digest),
			zap.Error(err))
		fs.removePair(digest)
		return nil, ErrMiss
	}

	return &Entry{HTML: html, Metadata: meta}, nil
}

// Set stores a snapshot pair. Both files are written atomically through a
// temp-and-rename, in parallel.
func (fs *FileStore) Set(ctx context.Context, url, deviceType string, html []byte, ttl time.Duration) error {
	if err := fs.ensureDir(); err != nil {
		return err
	}

	digest := Key(url, deviceType)

	body, ext, err := Compress(html, fs.compression)
	if err != nil {
		return err
	}

	meta := Metadata{
		ExpiresAt:  fs.now().Add(ttl).UnixMilli(),
		URL:        url,
		DeviceType: deviceType,
		Encoding:   DetectAlgorithmFromPath(ext),
	}
	if meta.Encoding == CompressionNone {
		meta.Encoding = ""
	}
	metaRaw, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	htmlPath := filepath.Join(fs.dir, digest+extHTML+ext)

	var g errgroup.Group
	g.Go(func() error {
		return fs.writeAtomic(htmlPath, body)
	})
	g.Go(func() error {
		return fs.writeAtomic(fs.metaPath(digest), metaRaw)
	})
	if err := g.Wait(); err != nil {
		fs.removePair(digest)
		return err
	}

	fs.logger.Debug("Snapshot cached",
		zap.String("url", url),
		zap.String("device_type", deviceType),
		zap.Int("size_bytes", len(body)))
	return nil
}

// Invalidate removes the snapshots for a URL. An empty deviceType removes
// every device variant.
func (fs *FileStore) Invalidate(ctx context.Context, url, deviceType string) (int, error) {
	targets := DeviceTypes
	if deviceType != "" {
		targets = []string{deviceType}
	}

	removed := 0
	for _, deviceType := range targets {
		digest := Key(url, deviceType)
		if _, err := os.Stat(fs.metaPath(digest)); err != nil {
			continue
		}
		fs.removePair(digest)
		removed++
	}

	if removed > 0 {
		fs.logger.Info("Cache entries invalidated",
			zap.String("url", url),
			zap.Int("removed", removed))
	}
	return removed, nil
}

// Clear removes every snapshot pair. Returns the number of entries removed.
func (fs *FileStore) Clear(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.Contains(name, extHTML) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.dir, name)); err != nil && !os.IsNotExist(err) {
			fs.logger.Warn("Failed to remove cache file",
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		if strings.HasSuffix(name, extMeta) {
			removed++
		}
	}

	fs.logger.Info("Cache cleared", zap.Int("removed", removed))
	return removed, nil
}

// Cleanup removes expired snapshot pairs, working in batches so the sweep
// stays responsive to shutdown.
func (fs *FileStore) Cleanup(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var metaNames []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), extMeta) {
			metaNames = append(metaNames, entry.Name())
		}
	}

	now := fs.now()
	for start := 0; start < len(metaNames); start += cleanupBatchSize {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		end := start + cleanupBatchSize
		if end > len(metaNames) {
			end = len(metaNames)
		}

		for _, name := range metaNames[start:end] {
			result.Scanned++
			digest := strings.TrimSuffix(name, extMeta)

			raw, err := os.ReadFile(filepath.Join(fs.dir, name))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				result.Failed++
				continue
			}

			var meta Metadata
			if err := json.Unmarshal(raw, &meta); err != nil {
				// Corrupt sidecar, heal by dropping the pair.
				fs.removePair(digest)
				result.Removed++
				continue
			}

			if meta.Expired(now) {
				fs.removePair(digest)
				result.Removed++
			}
		}
	}

	return result, nil
}

// ensureDir creates the cache directory once per process, deduplicating
// concurrent first writes.
func (fs *FileStore) ensureDir() error {
	_, err, _ := fs.initGroup.Do("init", func() (interface{}, error) {
		if _, err := os.Stat(fs.dir); err == nil {
			return nil, nil
		}
		if err := os.MkdirAll(fs.dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		fs.logger.Debug("Created cache directory", zap.String("directory", fs.dir))
		return nil, nil
	})
	return err
}

func (fs *FileStore) writeAtomic(path string, content []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// removePair deletes every file belonging to a digest, compressed variants
// included. Missing files are fine.
func (fs *FileStore) removePair(digest string) {
	base := filepath.Join(fs.dir, digest+extHTML)
	for _, path := range []string{base, base + ExtSnappy, base + ExtLZ4, fs.metaPath(digest)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fs.logger.Warn("Failed to remove cache file",
				zap.String("path", path),
				zap.Error(err))
		}
	}
}
