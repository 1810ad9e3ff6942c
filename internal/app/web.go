// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relabs-tech/motion_ingest/internal/hub"
	"github.com/relabs-tech/motion_ingest/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// sensorView is what the web API reads from the hub.
type sensorView interface {
	Readings() []registry.Reading
	Connections() hub.Connections
	AvailablePorts() ([]string, error)
	Disconnect(port string) bool
}

type portsResponse struct {
	Available []string `json:"available"`
	hub.Connections
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func newWebHandler(view sensorView, gatherer prometheus.Gatherer, streamInterval time.Duration, logger *zap.SugaredLogger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, newDevicePayloads(view.Readings()))
	})

	mux.HandleFunc("GET /api/ports", func(w http.ResponseWriter, r *http.Request) {
		available, err := view.AvailablePorts()
		if err != nil {
			logger.Warnw("couldn't enumerate serial ports", "error", err)
			http.Error(w, "port enumeration failed", http.StatusInternalServerError)
			return
		}
		if available == nil {
			available = []string{}
		}
		writeJSON(w, portsResponse{Available: available, Connections: view.Connections()})
	})

	// Drops the connection without quarantining the port, so the next scan
	// reconnects it. Use it to reset a unit, not to keep it offline.
	mux.HandleFunc("POST /api/ports/disconnect", func(w http.ResponseWriter, r *http.Request) {
		port := r.URL.Query().Get("port")
		if port == "" {
			http.Error(w, "missing port", http.StatusBadRequest)
			return
		}
		if !view.Disconnect(port) {
			http.Error(w, "port not connected", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		streamReadings(r.Context(), conn, view, streamInterval)
	})

	return mux
}

// streamReadings pushes a snapshot every interval until the client goes
// away or ctx ends.
func streamReadings(ctx context.Context, conn *websocket.Conn, view sensorView, interval time.Duration) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(interval + time.Second)); err != nil {
				return
			}
			if err := conn.WriteJSON(newDevicePayloads(view.Readings())); err != nil {
				return
			}
		}
	}
}

// RunWeb ingests in-process and serves the readings over HTTP and a
// websocket stream, plus Prometheus metrics.
func RunWeb() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h, err := hub.New(cfg, hub.WithLogger(logger), hub.WithMetrics(reg))
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newWebHandler(h, reg, cfg.WebStreamInterval, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("web server listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			h.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("web server shutdown", "error", err)
	}
	return h.Close()
}
