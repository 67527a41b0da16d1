package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains retry processor configuration.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultWorkerConfig returns default retry processor configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	}
}

// Worker drives the background retry processor on a fixed period.
type Worker struct {
	config WorkerConfig
	svc    *Service

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a retry processor worker.
func NewWorker(config WorkerConfig, svc *Service) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWorkerConfig().BatchSize
	}
	return &Worker{
		config: config,
		svc:    svc,
		stopCh: make(chan struct{}),
	}
}

// Start launches the retry sweep goroutine.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting delivery retry worker",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize,
	)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("delivery retry worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if n := w.svc.ProcessDue(ctx, w.config.BatchSize); n > 0 {
				slog.Debug("processed delivery retries", "count", n)
				recordRetriesProcessed(n)
			}
		}
	}
}
