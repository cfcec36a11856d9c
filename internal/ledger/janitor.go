package ledger

import (
	"context"
	"log/slog"
	"time"
)

// GCObserver получает число удалённых записей после каждого прохода.
type GCObserver interface {
	GCDeleted(n int64)
}

// Janitor периодически вызывает GarbageCollect.
type Janitor struct {
	ledger *Ledger
	period time.Duration
	log    *slog.Logger
	obs    GCObserver
}

// NewJanitor создаёт фоновую очистку журнала; obs может быть nil.
func NewJanitor(l *Ledger, period time.Duration, log *slog.Logger, obs GCObserver) *Janitor {
	return &Janitor{ledger: l, period: period, log: log, obs: obs}
}

// Run блокируется до отмены ctx. При period <= 0 сразу возвращается.
func (j *Janitor) Run(ctx context.Context) {
	if j.period <= 0 {
		return
	}

	t := time.NewTicker(j.period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.ledger.GarbageCollect(ctx)
	if err != nil {
		j.log.Error("refresh_janitor_failed", slog.String("err", err.Error()))
		return
	}

	if j.obs != nil {
		j.obs.GCDeleted(n)
	}

	if n > 0 {
		j.log.Debug("refresh_janitor_swept", slog.Int64("deleted", n))
	}
}
