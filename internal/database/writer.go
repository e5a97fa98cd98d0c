package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// BufferedWriter batches rows in front of an Inserter. Appends flush
// inline once the buffer reaches batchSize; a ticker flushes whatever has
// accumulated every flushInterval. A failed insert puts the rows back at
// the front of the buffer, so transient store outages lose nothing.
type BufferedWriter struct {
	inserter      Inserter
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger

	mu     sync.Mutex
	buffer []Row

	// flushMu serializes flushes so retried rows cannot interleave with a
	// concurrent flush and lose their order.
	flushMu sync.Mutex

	totalWritten atomic.Int64
	failedFlush  atomic.Int64
}

func NewBufferedWriter(inserter Inserter, batchSize int, flushInterval time.Duration, log zerolog.Logger) *BufferedWriter {
	return &BufferedWriter{
		inserter:      inserter,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log.With().Str("component", "writer").Logger(),
	}
}

// Add appends a row, flushing inline when the buffer reaches batch size.
func (w *BufferedWriter) Add(ctx context.Context, row Row) {
	w.mu.Lock()
	w.buffer = append(w.buffer, row)
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		w.Flush(ctx)
	}
}

// Flush swaps the buffer out and inserts it. The insert happens outside
// the buffer lock so appends are never blocked on store I/O.
func (w *BufferedWriter) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if err := w.inserter.Insert(ctx, batch); err != nil {
		w.failedFlush.Add(1)
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		depth := len(w.buffer)
		w.mu.Unlock()
		w.log.Error().Err(err).Int("buffered", depth).Msg("flush failed, rows retained")
		return
	}
	w.totalWritten.Add(int64(len(batch)))
}

// Run drives the time-based flush until ctx is cancelled.
func (w *BufferedWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Drain flushes until the buffer is empty or an attempt makes no
// progress. Used at shutdown.
func (w *BufferedWriter) Drain(ctx context.Context) {
	for {
		before := w.Depth()
		if before == 0 {
			return
		}
		w.Flush(ctx)
		if w.Depth() >= before {
			w.log.Warn().Int("stranded", w.Depth()).Msg("drain stopped, store refusing writes")
			return
		}
	}
}

// Depth returns the number of buffered rows.
func (w *BufferedWriter) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// TotalWritten returns the lifetime count of successfully inserted rows.
func (w *BufferedWriter) TotalWritten() int64 {
	return w.totalWritten.Load()
}

// FailedFlushes returns the lifetime count of failed insert attempts.
func (w *BufferedWriter) FailedFlushes() int64 {
	return w.failedFlush.Load()
}
