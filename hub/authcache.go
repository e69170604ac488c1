package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"

	"github.com/stacks-network/gaia-hub/interfaces"
)

// authTimestampPath is the well-known key, within an address's auth
// namespace, holding the revocation watermark as plain integer text.
const authTimestampPath = "authTimestamp"

// evictionReportInterval is how often non-zero cache eviction counts are
// logged, surfacing an under-sized cache.
const evictionReportInterval = 10 * time.Minute

// authNamespace returns the storage top-level holding an address's auth
// metadata, kept separate from the address's object namespace.
func authNamespace(address string) string {
	return address + "-auth"
}

// AuthTimestampCache tracks each address's revocation watermark: the
// oldest issued-at a bearer token may carry. The driver-persisted file is
// authoritative; the in-memory LRU is a process-local accelerant.
//
// Correctness invariant: the watermark is monotonically non-decreasing per
// address regardless of read/write interleaving. Every update path
// re-reads the cache immediately before committing and takes the maximum.
type AuthTimestampCache struct {
	driver    interfaces.Driver
	log       *slog.Logger
	cache     *lru.Cache[string, int64]
	evictions atomic.Int64
	stop      chan struct{}
}

// NewAuthTimestampCache creates a cache bounded to maxSize addresses and
// starts the eviction telemetry ticker.
func NewAuthTimestampCache(driver interfaces.Driver, log *slog.Logger, maxSize int) (*AuthTimestampCache, error) {
	c := &AuthTimestampCache{
		driver: driver,
		log:    log,
		stop:   make(chan struct{}),
	}
	cache, err := lru.NewWithEvict[string, int64](maxSize, func(string, int64) {
		c.evictions.Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth timestamp cache: %w", err)
	}
	c.cache = cache

	go c.reportEvictions()
	return c, nil
}

// Close stops the eviction telemetry ticker.
func (c *AuthTimestampCache) Close() {
	close(c.stop)
}

func (c *AuthTimestampCache) reportEvictions() {
	ticker := time.NewTicker(evictionReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.evictions.Swap(0); n > 0 {
				c.log.Warn("Auth timestamp cache evicted entries, consider increasing its size",
					slog.Int64("evictions", n))
			}
		case <-c.stop:
			return
		}
	}
}

// GetAuthTimestamp returns the address's watermark in unix seconds, zero
// when the address has never revoked.
func (c *AuthTimestampCache) GetAuthTimestamp(ctx context.Context, address string) (int64, error) {
	if ts, ok := c.cache.Get(address); ok {
		return ts, nil
	}

	ts, err := c.readTimestamp(ctx, address)
	if err != nil {
		return 0, err
	}

	// A concurrent bump may have cached a fresher value while the fetch
	// was in flight. The larger value wins.
	if cached, ok := c.cache.Get(address); ok && cached > ts {
		ts = cached
	}
	c.cache.Add(address, ts)
	return ts, nil
}

// SetAuthTimestamp persists a new watermark for the address and updates
// the cache to the maximum of every observation made along the way.
func (c *AuthTimestampCache) SetAuthTimestamp(ctx context.Context, address string, timestamp int64) error {
	if cached, ok := c.cache.Get(address); ok && cached > timestamp {
		timestamp = cached
	}

	content := strconv.FormatInt(timestamp, 10)
	_, err := c.driver.PerformWrite(ctx, &interfaces.WriteArgs{
		StorageTopLevel: authNamespace(address),
		Path:            authTimestampPath,
		Stream:          strings.NewReader(content),
		ContentLength:   int64(len(content)),
		ContentType:     "text/plain; charset=UTF-8",
	})
	if err != nil {
		return fmt.Errorf("writing auth timestamp for %s: %w", address, err)
	}

	if cached, ok := c.cache.Get(address); ok && cached > timestamp {
		timestamp = cached
	}
	c.cache.Add(address, timestamp)
	return nil
}

func (c *AuthTimestampCache) readTimestamp(ctx context.Context, address string) (int64, error) {
	result, err := c.driver.PerformRead(ctx, authNamespace(address), authTimestampPath)
	if err != nil {
		var notFound *interfaces.DoesNotExistError
		if errors.As(err, &notFound) {
			// No revocation ever issued.
			return 0, nil
		}
		return 0, interfaces.NewValidationError("error trying to fetch auth timestamp for %s: %v", address, err)
	}
	defer result.Data.Close()

	raw, err := io.ReadAll(result.Data)
	if err != nil {
		return 0, interfaces.NewValidationError("error reading auth timestamp for %s: %v", address, err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, interfaces.NewValidationError("malformed auth timestamp for %s: %v", address, err)
	}
	return ts, nil
}
