// Package cache persists rendered HTML snapshots as html/metadata file pairs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Device classes a snapshot is rendered for.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// DeviceTypes lists every device class a URL can be cached under.
var DeviceTypes = []string{DeviceDesktop, DeviceMobile, DeviceTablet}

// ErrMiss is returned when no valid snapshot exists for the key. Expired and
// orphaned entries also report a miss.
var ErrMiss = errors.New("cache miss")

// Metadata is the sidecar document written next to every snapshot.
type Metadata struct {
	ExpiresAt  int64  `json:"expiresAt"` // unix milliseconds
	URL        string `json:"url"`
	DeviceType string `json:"deviceType"`
	Encoding   string `json:"encoding,omitempty"` // compression algorithm, empty when plain
}

// Expired reports whether the snapshot is past its expiry at the given time.
func (m *Metadata) Expired(now time.Time) bool {
	return now.UnixMilli() >= m.ExpiresAt
}

// Entry is a snapshot read back from the store.
type Entry struct {
	HTML     []byte
	Metadata Metadata
}

// CleanupResult summarizes one expiry sweep.
type CleanupResult struct {
	Scanned int
	Removed int
	Failed  int
}

// Store is the snapshot persistence contract.
type Store interface {
	// Get returns the snapshot for (url, deviceType), or ErrMiss.
	Get(ctx context.Context, url, deviceType string) (*Entry, error)

	// Set stores a snapshot with the given time to live.
	Set(ctx context.Context, url, deviceType string, html []byte, ttl time.Duration) error

	// Invalidate removes the snapshots for a URL. An empty deviceType removes
	// every device variant. Returns how many entries were removed.
	Invalidate(ctx context.Context, url, deviceType string) (int, error)

	// Clear removes every snapshot.
	Clear(ctx context.Context) (int, error)

	// Cleanup removes expired snapshots.
	Cleanup(ctx context.Context) (CleanupResult, error)
}

// Key derives the cache key for a URL rendered as a device class. The digest
// keys both files of the pair.
func Key(url, deviceType string) string {
	sum := sha256.Sum256([]byte(deviceType + ":" + url))
	return hex.EncodeToString(sum[:])
}
