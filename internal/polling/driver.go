// Package polling implements the pull-based fallback used when the
// persistent channel cannot be sustained. Each poller fetches everything new
// since a high-water mark that only advances on success, and suppresses
// downstream work when fetched content has not changed.
package polling

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/patrickmn/go-cache"
)

// FetchFunc retrieves everything newer than since. A failed fetch leaves the
// watermark untouched so the same window is retried next tick.
type FetchFunc func(ctx context.Context, since time.Time) ([]byte, error)

// ResultFunc consumes a successful, changed poll result.
type ResultFunc func(data []byte)

// Config contains polling driver configuration.
type Config struct {
	DefaultInterval time.Duration
	FingerprintTTL  time.Duration
}

// DefaultConfig returns default polling configuration.
func DefaultConfig() Config {
	return Config{
		DefaultInterval: 15 * time.Second,
		FingerprintTTL:  10 * time.Minute,
	}
}

// Driver owns one poller per key.
type Driver struct {
	config       Config
	sink         *telemetry.Sink
	fingerprints *cache.Cache

	mu      sync.Mutex
	pollers map[string]*poller
}

type poller struct {
	key       string
	interval  time.Duration
	fetch     FetchFunc
	onResult  ResultFunc
	watermark time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDriver creates a polling driver.
func NewDriver(config Config, sink *telemetry.Sink) *Driver {
	def := DefaultConfig()
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = def.DefaultInterval
	}
	if config.FingerprintTTL <= 0 {
		config.FingerprintTTL = def.FingerprintTTL
	}
	return &Driver{
		config:       config,
		sink:         sink,
		fingerprints: cache.New(config.FingerprintTTL, 2*config.FingerprintTTL),
		pollers:      make(map[string]*poller),
	}
}

// Start begins polling under key: one immediate poll, then one per interval.
// since seeds the high-water mark. Starting an already-polling key replaces
// the existing poller.
func (d *Driver) Start(ctx context.Context, key string, interval time.Duration, since time.Time, fetch FetchFunc, onResult ResultFunc) {
	if interval <= 0 {
		interval = d.config.DefaultInterval
	}

	d.Stop(key)

	p := &poller{
		key:       key,
		interval:  interval,
		fetch:     fetch,
		onResult:  onResult,
		watermark: since,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	d.pollers[key] = p
	d.mu.Unlock()

	d.sink.Emit(telemetry.CategoryPolling, "polling started", map[string]any{
		"key":      key,
		"interval": interval.String(),
	})

	go d.run(ctx, p)
}

// Stop terminates the poller for key and clears its watermark and
// fingerprint state. Stopping an unknown or already-stopped key is a no-op.
func (d *Driver) Stop(key string) {
	d.mu.Lock()
	p, ok := d.pollers[key]
	if ok {
		delete(d.pollers, key)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
	d.fingerprints.Delete(key)

	d.sink.Emit(telemetry.CategoryPolling, "polling stopped", map[string]any{"key": key})
}

// StopAll terminates every active poller.
func (d *Driver) StopAll() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pollers))
	for key := range d.pollers {
		keys = append(keys, key)
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.Stop(key)
	}
}

// Active reports whether a poller is running under key.
func (d *Driver) Active(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pollers[key]
	return ok
}

func (d *Driver) run(ctx context.Context, p *poller) {
	defer close(p.done)

	d.poll(ctx, p)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			d.poll(ctx, p)
		}
	}
}

func (d *Driver) poll(ctx context.Context, p *poller) {
	start := time.Now()

	data, err := p.fetch(ctx, p.watermark)
	if err != nil {
		// Watermark stays put: the same window is retried next tick.
		d.sink.Emit(telemetry.CategoryPolling, "poll failed", map[string]any{
			"key":   p.key,
			"error": err.Error(),
		})
		return
	}
	p.watermark = start

	fp := fingerprint(data)
	if prev, ok := d.fingerprints.Get(p.key); ok && prev.(string) == fp {
		return
	}
	d.fingerprints.Set(p.key, fp, cache.DefaultExpiration)

	p.onResult(data)
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
