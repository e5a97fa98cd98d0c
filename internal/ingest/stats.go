package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunStats logs a periodic pipeline summary until ctx is cancelled.
func (e *Engine) RunStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.logStats()
		}
	}
}

func (e *Engine) logStats() {
	dd := e.deps.Dedup.Stats()
	ev := e.log.Info().
		Int64("committed", e.committed.Load()).
		Int64("written", e.deps.Writer.TotalWritten()).
		Int("writer_depth", e.deps.Writer.Depth()).
		Int("queue_depth", len(e.queue)).
		Int64("duplicates", dd.DuplicatesBlocked).
		Int64("dropped", e.dropped.Load())
	now := e.deps.Clock.Now()
	for label, sh := range e.shards {
		ev = ev.Dict(label, zerolog.Dict().
			Int("nodes", sh.nodes.Len()).
			Int("named", sh.nodes.NamedCount()).
			Int("active_1h", len(sh.nodes.EnvSeenSince(now, time.Hour))).
			Int("pending", sh.pending.Depth()))
	}
	ev.Msg("pipeline stats")
}
