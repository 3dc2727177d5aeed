package metering

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

const (
	defaultBatchSize   = 50
	defaultInterval    = 5 * time.Second
	defaultLeaseWindow = time.Minute
)

// WorkerOptions tune the outbox drain loop. Zero values take defaults.
type WorkerOptions struct {
	BatchSize   int
	Interval    time.Duration
	LeaseWindow time.Duration
	WorkerID    string
}

// Worker drains the outbox. Multiple workers may run concurrently;
// row leases keep them mutually exclusive per event.
type Worker struct {
	store   store.LedgerStore
	emitter Emitter
	opts    WorkerOptions
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWorker builds a drain worker.
func NewWorker(s store.LedgerStore, emitter Emitter, opts WorkerOptions, logger *slog.Logger) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.LeaseWindow <= 0 {
		opts.LeaseWindow = defaultLeaseWindow
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker_" + uuid.NewString()[:8]
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: s, emitter: emitter, opts: opts, logger: logger}
}

// WorkerID reports the lease owner id.
func (w *Worker) WorkerID() string { return w.opts.WorkerID }

// Start launches the drain loop.
func (w *Worker) Start(ctx context.Context) {
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.DrainOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and releases any leases still held so another
// worker can pick the rows up immediately.
func (w *Worker) Stop(ctx context.Context) {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil

	released, err := w.store.ReleaseLedgerLeases(ctx, w.opts.WorkerID)
	if err != nil {
		w.logger.Warn("release ledger leases failed", "worker_id", w.opts.WorkerID, "error", err)
		return
	}
	if released > 0 {
		w.logger.Info("released ledger leases", "worker_id", w.opts.WorkerID, "count", released)
	}
}

// DrainOnce claims one batch and emits it. Returns the number of
// events delivered.
func (w *Worker) DrainOnce(ctx context.Context) int {
	batch, err := w.store.ClaimLedgerBatch(ctx, w.opts.WorkerID, w.opts.BatchSize, w.opts.LeaseWindow)
	if err != nil {
		w.logger.Warn("claim ledger batch failed", "worker_id", w.opts.WorkerID, "error", err)
		return 0
	}

	sent := 0
	for i := range batch {
		ev := &batch[i]
		if err := w.emitter.Emit(ctx, ev); err != nil {
			w.logger.Warn("emit metering event failed",
				"event_id", ev.EventID,
				"attempts", ev.Attempts+1,
				"error", err)
			if err := w.store.MarkLedgerFailed(ctx, ev.EventID, err.Error()); err != nil {
				w.logger.Warn("mark ledger failed errored", "event_id", ev.EventID, "error", err)
			}
			continue
		}
		if err := w.store.MarkLedgerSent(ctx, ev.EventID); err != nil {
			w.logger.Warn("mark ledger sent errored", "event_id", ev.EventID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
