package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// Scanner performs a live channel scan
type Scanner interface {
	Snapshot(ctx context.Context) (*pkg.ChannelSnapshot, error)
}

// ScanCache keeps the last channel scan so the API and the alert rules do not
// trigger a slow radio scan on every request
type ScanCache struct {
	scanner Scanner
	maxAge  time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	snapshot *pkg.ChannelSnapshot
}

// NewScanCache wraps scanner; cached scans older than maxAge are refreshed on read
func NewScanCache(scanner Scanner, maxAge time.Duration) *ScanCache {
	return &ScanCache{scanner: scanner, maxAge: maxAge, now: time.Now}
}

// Refresh runs a scan and caches the result
func (c *ScanCache) Refresh(ctx context.Context) (*pkg.ChannelSnapshot, error) {
	snapshot, err := c.scanner.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()
	return snapshot, nil
}

// Snapshot returns the cached scan, scanning first when none is fresh
func (c *ScanCache) Snapshot(ctx context.Context) (*pkg.ChannelSnapshot, error) {
	c.mu.RLock()
	cached := c.snapshot
	c.mu.RUnlock()

	if cached != nil && (c.maxAge <= 0 || c.now().Sub(cached.Timestamp) < c.maxAge) {
		return cached, nil
	}
	return c.Refresh(ctx)
}

// Visible returns the networks of the cached scan without scanning
func (c *ScanCache) Visible() []pkg.ScanNetwork {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil
	}
	return c.snapshot.Networks
}
