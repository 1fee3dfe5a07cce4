// Package httpexport exposes a Collector's summary over a loopback HTTP
// endpoint, grounded on the teacher's cmd/http_handlers.go conventions:
// handleHealth's JSON-encode-or-log-and-continue shape. The handler sets
// no CORS headers and checks no request origin; it answers on whatever
// address Serve is given.
package httpexport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/run-pi/pi/internal/logging"
	"github.com/run-pi/pi/internal/metrics"
)

var log = logging.With("metrics.httpexport")

const defaultWindow = time.Minute

// Handler returns an http.Handler serving:
//   GET /healthz            -> {"status":"ok"}
//   GET /summary?window_ms=N -> metrics.Summary JSON
//   GET /stealing            -> metrics.StealingStats JSON
func Handler(collector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/summary", handleSummary(collector))
	mux.HandleFunc("/stealing", handleStealing(collector))
	return mux
}

// Serve starts serving Handler(collector) on addr (expected loopback, e.g.
// "127.0.0.1:9090") in a background goroutine and returns at once; the
// caller stops it with the returned *http.Server's Shutdown. Listen errors
// are logged, not returned.
func Serve(addr string, collector *metrics.Collector) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler(collector)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics http export exited")
		}
	}()
	return srv
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleSummary(collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := defaultWindow
		if raw := r.URL.Query().Get("window_ms"); raw != "" {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
				window = time.Duration(ms) * time.Millisecond
			}
		}
		writeJSON(w, collector.GetSummary(window))
	}
}

func handleStealing(collector *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, collector.GetStealingStats())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("encode response")
	}
}
