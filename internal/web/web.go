// Package web exposes keva's operational HTTP endpoints: health probes,
// server statistics and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oxfell/keva/internal/server"
	"github.com/oxfell/keva/internal/store"
	"github.com/oxfell/keva/internal/version"
)

// Server serves the operational HTTP endpoints.
type Server struct {
	addr      string
	store     *store.Store
	resp      *server.Server
	registry  *prometheus.Registry
	server    *http.Server
	startTime time.Time
}

// New creates a web server reporting on the given store and RESP server,
// serving registry under /metrics.
func New(addr string, st *store.Store, resp *server.Server, registry *prometheus.Registry) *Server {
	return &Server{
		addr:      addr,
		store:     st,
		resp:      resp,
		registry:  registry,
		startTime: time.Now(),
	}
}

// StatsResponse represents server statistics.
type StatsResponse struct {
	Version       string  `json:"version"`
	Uptime        int64   `json:"uptime"`
	UptimeHuman   string  `json:"uptime_human"`
	Keys          int     `json:"keys"`
	KeysExpired   int64   `json:"keys_expired"`
	KeysSwept     int64   `json:"keys_swept"`
	Connections   int64   `json:"connections"`
	TotalConns    int64   `json:"total_connections"`
	TotalCommands int64   `json:"total_commands"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	GoRoutines    int     `json:"goroutines"`
	CPUs          int     `json:"cpus"`
}

// Start starts the web server. It blocks until the context is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

// handleStats returns server statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(s.startTime)
	keyspace := s.store.Stats()
	conns := s.resp.Stats()

	resp := StatsResponse{
		Version:       version.Version,
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatDuration(uptime),
		Keys:          keyspace.Keys,
		KeysExpired:   keyspace.Expired,
		KeysSwept:     keyspace.Swept,
		Connections:   conns.Connections,
		TotalConns:    conns.TotalConns,
		TotalCommands: conns.TotalCommands,
		MemoryUsed:    m.Alloc,
		MemoryUsedMB:  float64(m.Alloc) / 1024 / 1024,
		GoRoutines:    runtime.NumGoroutine(),
		CPUs:          runtime.NumCPU(),
	}

	writeJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := s.store != nil && s.resp != nil
	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}
	writeJSONWithStatus(w, statusCode, map[string]interface{}{
		"status": status,
		"ready":  ready,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONWithStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// formatDuration formats a duration as human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
