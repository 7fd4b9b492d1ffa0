// Package service runs the rebuild worker: queue intake, the drain loop and
// the HTTP trigger surface.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Run serves HTTP and drains the queue until ctx is done.
func Run(ctx context.Context, cfg Config, log *zap.Logger) error {
	w, err := BuildWorker(ctx, cfg, log)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: w.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go buildLoop(ctx, cfg, w.log(), w.Drain)
	go heartbeatLoop(ctx, w, 0)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	w.log().Info("starting worker", zap.String("addr", srv.Addr), zap.String("queue", cfg.QueueBackend))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes /health, /ready, /trigger, /queue and /rebuild.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(wr http.ResponseWriter, r *http.Request) {
		writeJSON(wr, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ready", func(wr http.ResponseWriter, r *http.Request) {
		writeJSON(wr, http.StatusOK, map[string]any{"status": "ready", "active_builds": w.ActiveBuilds()})
	})
	mux.HandleFunc("/trigger", w.authorized(func(wr http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			wr.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
		defer cancel()
		n, err := w.Drain(ctx)
		switch {
		case errors.Is(err, ErrBusy):
			writeJSON(wr, http.StatusConflict, map[string]string{"detail": err.Error()})
		case err != nil:
			writeJSON(wr, http.StatusInternalServerError, map[string]any{"handled": n, "detail": err.Error()})
		default:
			writeJSON(wr, http.StatusOK, map[string]any{"handled": n, "detail": "worker ran"})
		}
	}))
	mux.HandleFunc("/rebuild", w.authorized(func(wr http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			wr.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c, err := w.Enqueue(r.Context(), r.URL.Query().Get("coord"))
		if err != nil {
			status := http.StatusBadRequest
			if c.Name != "" {
				status = http.StatusServiceUnavailable
			}
			writeJSON(wr, status, map[string]string{"detail": err.Error()})
			return
		}
		writeJSON(wr, http.StatusAccepted, map[string]string{"coordinate": c.String()})
	}))
	mux.HandleFunc("/queue", func(wr http.ResponseWriter, r *http.Request) {
		if w.Queue == nil {
			writeJSON(wr, http.StatusServiceUnavailable, map[string]string{"detail": "no queue configured"})
			return
		}
		stats, err := w.Queue.Stats(r.Context())
		if err != nil {
			writeJSON(wr, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
			return
		}
		writeJSON(wr, http.StatusOK, stats)
	})
	return mux
}

func (w *Worker) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if w.Cfg.WorkerToken != "" {
			tok := r.Header.Get("X-Worker-Token")
			if tok == "" {
				tok = r.URL.Query().Get("token")
			}
			if tok != w.Cfg.WorkerToken {
				wr.WriteHeader(http.StatusForbidden)
				return
			}
		}
		next(wr, r)
	}
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	_ = json.NewEncoder(wr).Encode(v)
}
