package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"segcompact/internal/compaction"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Operations is the view of running operations exposed over HTTP
type Operations interface {
	Compactions() []compaction.Info
	StopCompaction(taskType compaction.OperationType) int
}

// StopResponse is returned by the stop endpoint
type StopResponse struct {
	Type    string `json:"type"`
	Stopped int    `json:"stopped"`
}

// NewHandler returns the status handler: /metrics, /compactions and /compactions/stop
func NewHandler(gatherer prometheus.Gatherer, ops Operations, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/compactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		out := make([]map[string]string, 0)
		for _, info := range ops.Compactions() {
			m, err := info.AsMap()
			if err != nil {
				logger.Debug("Skipping operation without target", zap.Stringer("info", info))
				continue
			}
			out = append(out, m)
		}
		writeJSON(w, logger, out)
	})

	mux.HandleFunc("/compactions/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		taskType, err := compaction.ParseOperationType(r.URL.Query().Get("type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n := ops.StopCompaction(taskType)
		writeJSON(w, logger, StopResponse{Type: taskType.String(), Stopped: n})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}

// Serve runs the status server on addr until ctx is done
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
