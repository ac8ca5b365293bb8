package fines

import (
	"context"
	"log/slog"
	"time"

	"LIBRIS-backend/internal/platform/auth"
)

// Calculator は Scheduler から呼ばれる側（*Service が満たす）。
type Calculator interface {
	CalculateFines(ctx context.Context, p auth.Principal) (Report, error)
}

// Scheduler は一定間隔で延滞料スキャンを起動する。
// 失敗はログに出すだけで、次のティックまで再実行しない。
type Scheduler struct {
	calc       Calculator
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger

	// テストで差し替える
	newTicker func(time.Duration) (<-chan time.Time, func())
}

func NewScheduler(calc Calculator, interval time.Duration, runOnStart bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		calc:       calc,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Run は ctx がキャンセルされるまでブロックする。
func (s *Scheduler) Run(ctx context.Context) {
	tick, stop := s.newTicker(s.interval)
	defer stop()

	s.logger.InfoContext(ctx, "fine scheduler started", "interval", s.interval.String(), "run_on_start", s.runOnStart)
	if s.runOnStart {
		s.RunOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "fine scheduler stopped")
			return
		case <-tick:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は1回分のスキャン。System principal で実行する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := s.calc.CalculateFines(ctx, auth.System())
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled fine scan failed; will retry at next tick", "error", err)
		return
	}
	if rep.Failed > 0 {
		s.logger.WarnContext(ctx, "scheduled fine scan had failures", "failed", rep.Failed, "scanned", rep.Scanned)
	}
}
