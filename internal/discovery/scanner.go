// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package discovery keeps one connection worker per present serial port,
// quarantining ports that fail to open or go silent.
package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/motion_ingest/internal/ingest"
	"github.com/relabs-tech/motion_ingest/internal/metrics"
	"github.com/relabs-tech/motion_ingest/internal/serialport"
)

// ScannerConfig holds the timing and line settings for discovery.
type ScannerConfig struct {
	BaudRate          int
	ReadTimeout       time.Duration
	SilenceTimeout    time.Duration
	BlacklistDuration time.Duration
	ScanInterval      time.Duration
	// Cascade ties every connection worker to the scanner's lifetime. When
	// false, workers only stop on failure, silence or Disconnect.
	Cascade bool
}

// ScannerDeps holds runtime dependencies for the Scanner.
type ScannerDeps struct {
	Config     ScannerConfig
	Enumerator serialport.Enumerator
	Opener     serialport.Opener
	Producer   ingest.Producer
	Logger     *zap.SugaredLogger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Scanner periodically enumerates serial ports and spawns a connection
// worker for every port that is neither active nor blacklisted.
type Scanner struct {
	cfg      ScannerConfig
	enum     serialport.Enumerator
	opener   serialport.Opener
	producer ingest.Producer
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	ports   *portTable
	workers sync.WaitGroup
}

// NewScanner creates a Scanner. Nothing runs until Run is called.
func NewScanner(deps ScannerDeps) *Scanner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	producer := deps.Producer
	if producer.Source == "" {
		producer.Source = "serial"
	}

	return &Scanner{
		cfg:      deps.Config,
		enum:     deps.Enumerator,
		opener:   deps.Opener,
		producer: producer,
		logger:   logger.With("component", "port-scanner"),
		metrics:  deps.Metrics,
		now:      now,
		ports:    newPortTable(deps.Config.BlacklistDuration),
	}
}

// Run scans until ctx is done. With Cascade set it then signals every
// connection worker and waits for them to close their ports.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.cfg.Cascade {
				s.ports.signalAll()
				s.workers.Wait()
			}
			s.logger.Infow("scanner stopped")
			return nil
		default:
		}

		s.scan(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// scan is one pass of the discovery loop.
func (s *Scanner) scan(ctx context.Context) {
	for _, name := range s.ports.prune(s.now()) {
		s.logger.Debugw("blacklist expired", "port", name)
	}

	available, err := s.enum.Ports()
	if err != nil {
		s.logger.Warnw("failed to enumerate serial ports", "error", err)
		s.metrics.SetPorts(s.ports.counts())
		return
	}

	for _, name := range available {
		parent := ctx
		if !s.cfg.Cascade {
			parent = context.Background()
		}
		wctx, cancel := context.WithCancel(parent)
		c := &conn{cancel: cancel}

		if !s.ports.reserve(name, c) {
			cancel()
			continue
		}

		s.workers.Add(1)
		go func(name string) {
			defer s.workers.Done()
			defer cancel()
			s.connect(wctx, name, c)
		}(name)
	}

	s.metrics.SetPorts(s.ports.counts())
}

// Active returns the names of ports with a running worker.
func (s *Scanner) Active() []string {
	return s.ports.activeNames()
}

// Blacklisted returns the quarantined ports.
func (s *Scanner) Blacklisted() []Quarantined {
	return s.ports.quarantined(s.now())
}

// Disconnect signals the worker on port to stop. The port is freed without
// being blacklisted, so the next scan may reconnect it.
func (s *Scanner) Disconnect(port string) bool {
	return s.ports.signal(port)
}

// Wait blocks until every connection worker has exited.
func (s *Scanner) Wait() {
	s.workers.Wait()
}
