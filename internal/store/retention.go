package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
)

// Purger je část Store, kterou potřebuje úklid.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// RunRetention každých interval smaže měření starší než retention.
// První úklid proběhne hned při startu. Končí se zánikem ctx. m může být nil.
func RunRetention(ctx context.Context, p Purger, retention, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) {
	purge := func(now time.Time) {
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		n, err := p.Purge(purgeCtx, now.Add(-retention))
		if err != nil {
			logger.Error("Úklid starých dat selhal", "error", err)
			return
		}
		if n > 0 {
			logger.Info("Smazána stará data", "rows", n, "retention", retention)
		}
		if m != nil {
			m.RetentionPurged.Add(float64(n))
		}
	}

	purge(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purge(now)
		}
	}
}
