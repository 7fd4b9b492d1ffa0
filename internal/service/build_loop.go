package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// buildLoop drains the queue every interval until ctx is done. A batch that
// handled requests is followed immediately by the next one.
func buildLoop(ctx context.Context, cfg Config, log *zap.Logger, drain func(context.Context) (int, error)) {
	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		n, err := drain(ctx)
		switch {
		case errors.Is(err, ErrBusy):
			log.Debug("build loop: drain already running")
		case err != nil:
			log.Warn("build loop", zap.Int("handled", n), zap.Error(err))
		}
		if n > 0 && ctx.Err() == nil {
			timer.Reset(0)
			continue
		}
		timer.Reset(interval)
	}
}
