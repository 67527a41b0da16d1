package polling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSink() *telemetry.Sink {
	return telemetry.NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)), 64)
}

func testDriver() *Driver {
	return NewDriver(Config{
		DefaultInterval: 5 * time.Millisecond,
		FingerprintTTL:  time.Minute,
	}, testSink())
}

// recordingFetch captures the since watermark of every fetch call.
type recordingFetch struct {
	mu     sync.Mutex
	sinces []time.Time
	errs   []error
	data   func(call int) []byte
}

func (r *recordingFetch) fetch(_ context.Context, since time.Time) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := len(r.sinces)
	r.sinces = append(r.sinces, since)
	if call < len(r.errs) && r.errs[call] != nil {
		return nil, r.errs[call]
	}
	if r.data != nil {
		return r.data(call), nil
	}
	return []byte("payload"), nil
}

func (r *recordingFetch) calls() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.sinces))
	copy(out, r.sinces)
	return out
}

func TestDriver_Start_PollsImmediately(t *testing.T) {
	d := testDriver()
	defer d.StopAll()

	fetch := &recordingFetch{}
	var mu sync.Mutex
	var results int

	start := time.Now()
	seed := start.Add(-time.Minute)
	d.Start(context.Background(), "alerts:u1", time.Hour, seed, fetch.fetch, func([]byte) {
		mu.Lock()
		results++
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		return len(fetch.calls()) == 1
	}, time.Second, time.Millisecond, "first poll must fire without waiting for the interval")

	mu.Lock()
	assert.Equal(t, 1, results)
	mu.Unlock()
	assert.Equal(t, seed, fetch.calls()[0], "first poll uses the seeded watermark")
	assert.True(t, d.Active("alerts:u1"))
}

func TestDriver_WatermarkAdvancesOnlyOnSuccess(t *testing.T) {
	d := testDriver()
	defer d.StopAll()

	fetch := &recordingFetch{
		errs: []error{nil, errors.New("fetch failed")},
		data: func(call int) []byte { return []byte{byte(call)} },
	}

	seed := time.Now().Add(-time.Minute)
	d.Start(context.Background(), "alerts:u1", 5*time.Millisecond, seed, fetch.fetch, func([]byte) {})

	require.Eventually(t, func() bool {
		return len(fetch.calls()) >= 4
	}, time.Second, time.Millisecond)
	d.Stop("alerts:u1")

	calls := fetch.calls()
	// Call 0 succeeds, so call 1 sees an advanced watermark.
	assert.True(t, calls[1].After(seed))
	// Call 1 fails, so call 2 retries the same window.
	assert.Equal(t, calls[1], calls[2], "failed poll must not advance the watermark")
	// Call 2 succeeds, advancing again.
	assert.True(t, calls[3].After(calls[2]))
}

func TestDriver_FingerprintSuppressesUnchangedResults(t *testing.T) {
	d := testDriver()
	defer d.StopAll()

	fetch := &recordingFetch{} // constant payload on every call
	var mu sync.Mutex
	var results int

	d.Start(context.Background(), "contacts:u1", 5*time.Millisecond, time.Now(), fetch.fetch, func([]byte) {
		mu.Lock()
		results++
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		return len(fetch.calls()) >= 4
	}, time.Second, time.Millisecond)
	d.Stop("contacts:u1")

	mu.Lock()
	assert.Equal(t, 1, results, "unchanged content must not re-notify the consumer")
	mu.Unlock()
}

func TestDriver_ChangedContentNotifiesAgain(t *testing.T) {
	d := testDriver()
	defer d.StopAll()

	fetch := &recordingFetch{data: func(call int) []byte { return []byte{byte(call)} }}
	var mu sync.Mutex
	var results int

	d.Start(context.Background(), "alerts:u1", 5*time.Millisecond, time.Now(), fetch.fetch, func([]byte) {
		mu.Lock()
		results++
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results >= 3
	}, time.Second, time.Millisecond)
	d.Stop("alerts:u1")
}

func TestDriver_Stop_DoubleStopIsNoOp(t *testing.T) {
	d := testDriver()

	fetch := &recordingFetch{}
	d.Start(context.Background(), "alerts:u1", time.Hour, time.Now(), fetch.fetch, func([]byte) {})
	require.True(t, d.Active("alerts:u1"))

	d.Stop("alerts:u1")
	assert.False(t, d.Active("alerts:u1"))

	// Stopping again, or stopping a key that never existed, must not panic
	// or block.
	d.Stop("alerts:u1")
	d.Stop("never-started")
}

func TestDriver_Start_ReplacesExistingPoller(t *testing.T) {
	d := testDriver()
	defer d.StopAll()

	first := &recordingFetch{}
	second := &recordingFetch{}

	d.Start(context.Background(), "alerts:u1", time.Hour, time.Now(), first.fetch, func([]byte) {})
	require.Eventually(t, func() bool { return len(first.calls()) == 1 }, time.Second, time.Millisecond)

	d.Start(context.Background(), "alerts:u1", time.Hour, time.Now(), second.fetch, func([]byte) {})
	require.Eventually(t, func() bool { return len(second.calls()) == 1 }, time.Second, time.Millisecond)

	assert.True(t, d.Active("alerts:u1"))
	assert.Len(t, first.calls(), 1, "replaced poller must stop fetching")
}

func TestDriver_StopAll(t *testing.T) {
	d := testDriver()

	fetch := &recordingFetch{}
	d.Start(context.Background(), "alerts:u1", time.Hour, time.Now(), fetch.fetch, func([]byte) {})
	d.Start(context.Background(), "presence:u1", time.Hour, time.Now(), fetch.fetch, func([]byte) {})

	d.StopAll()

	assert.False(t, d.Active("alerts:u1"))
	assert.False(t, d.Active("presence:u1"))
}
