package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/k8ika0s/source-refinery/internal/reporter"
)

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func heartbeatLoop(ctx context.Context, w *Worker, interval time.Duration) {
	if w.Cfg.ControlPlaneURL == "" {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	id := defaultWorkerID()
	hb := reporter.Heartbeat{
		WorkerID:    id,
		RunID:       fmt.Sprintf("%s-%d", id, time.Now().UnixNano()),
		Parallelism: w.Cfg.Parallelism,
		IntervalSec: int(interval / time.Second),
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		hb.ActiveBuilds = w.ActiveBuilds()
		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := w.Reporter.PostHeartbeat(sendCtx, hb); err != nil {
			w.log().Warn("heartbeat", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
