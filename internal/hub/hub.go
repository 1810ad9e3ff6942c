// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package hub wires serial discovery, the UDP listener and the sensor
// registry together, supervises them, and exposes the read-side API used
// by consumers of live sensor readings.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/motion_ingest/internal/config"
	"github.com/relabs-tech/motion_ingest/internal/discovery"
	"github.com/relabs-tech/motion_ingest/internal/ingest"
	"github.com/relabs-tech/motion_ingest/internal/metrics"
	"github.com/relabs-tech/motion_ingest/internal/network"
	"github.com/relabs-tech/motion_ingest/internal/registry"
	"github.com/relabs-tech/motion_ingest/internal/serialport"
)

// ErrClosed is returned by Close after the first call.
var ErrClosed = errors.New("hub closed")

type options struct {
	logger     *zap.SugaredLogger
	registerer prometheus.Registerer
	filter     ingest.Filter
	enumerator serialport.Enumerator
	opener     serialport.Opener
	now        func() time.Time
}

// Option customizes a Hub.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers the ingest collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithFilter replaces the accept filter built from cfg.AcceptPattern.
func WithFilter(f ingest.Filter) Option {
	return func(o *options) { o.filter = f }
}

// WithSerial replaces the OS serial enumerator and opener.
func WithSerial(e serialport.Enumerator, op serialport.Opener) Option {
	return func(o *options) {
		o.enumerator = e
		o.opener = op
	}
}

// WithClock replaces time.Now for discovery and the registry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Connections describes the serial side at one instant.
type Connections struct {
	Active      []string                `json:"active"`
	Blacklisted []discovery.Quarantined `json:"blacklisted"`
}

// Hub owns every ingest task and its shutdown.
type Hub struct {
	logger     *zap.SugaredLogger
	enumerator serialport.Enumerator
	registry   *registry.Registry
	scanner    *discovery.Scanner
	listener   *network.Listener

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New builds and starts the ingest path. The UDP endpoint is bound before
// anything starts; a bind failure is returned and nothing keeps running.
func New(cfg *config.Config, opts ...Option) (*Hub, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		enumerator: serialport.System{},
		opener:     serialport.System{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}

	filter := o.filter
	if filter == nil && cfg.AcceptPattern != "" {
		pf, err := ingest.NewPatternFilter(cfg.AcceptPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		filter = pf
	}
	filter = ingest.OrAcceptAll(filter)

	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	queue := ingest.NewQueue()

	listener := network.NewListener(network.ListenerDeps{
		Config: network.ListenerConfig{
			Bind:       cfg.UDPBind,
			Port:       cfg.UDPPort,
			BufferSize: cfg.UDPBufferSize,
		},
		Producer: ingest.Producer{Queue: queue, Filter: filter, Metrics: m, Source: "udp"},
		Logger:   o.logger,
		Metrics:  m,
	})
	if err := listener.Bind(); err != nil {
		m.Unregister(o.registerer)
		return nil, err
	}

	h := &Hub{
		logger:     o.logger.With("component", "hub"),
		enumerator: o.enumerator,
		listener:   listener,
		closed:     make(chan struct{}),
		registry: registry.New(registry.Deps{
			Queue:           queue,
			AllowedDevices:  cfg.AllowedDevices,
			FreshnessWindow: cfg.FreshnessWindow,
			IdleInterval:    cfg.RegistryIdleInterval,
			Logger:          o.logger,
			Metrics:         m,
			Now:             o.now,
		}),
		scanner: discovery.NewScanner(discovery.ScannerDeps{
			Config: discovery.ScannerConfig{
				BaudRate:          cfg.SerialBaudRate,
				ReadTimeout:       cfg.SerialReadTimeout,
				SilenceTimeout:    cfg.SilenceTimeout,
				BlacklistDuration: cfg.BlacklistDuration,
				ScanInterval:      cfg.SerialScanInterval,
				Cascade:           cfg.CascadeShutdown,
			},
			Enumerator: o.enumerator,
			Opener:     o.opener,
			Producer:   ingest.Producer{Queue: queue, Filter: filter, Metrics: m, Source: "serial"},
			Logger:     o.logger,
			Metrics:    m,
			Now:        o.now,
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	h.cancel = cancel
	h.group = g

	g.Go(func() error { return h.registry.Run(gctx) })
	g.Go(func() error { return h.listener.Run(gctx) })
	g.Go(func() error { return h.scanner.Run(gctx) })

	h.logger.Infow("started",
		"udp", listener.Addr().String(),
		"devices", cfg.AllowedDevices,
		"cascade_shutdown", cfg.CascadeShutdown)
	return h, nil
}

// ActiveDeviceIDs returns the ids of devices with a fresh reading.
func (h *Hub) ActiveDeviceIDs() []string {
	return h.registry.ActiveDeviceIDs()
}

// SnapshotValues fills buf with each fresh device's values, in
// ActiveDeviceIDs order, and returns it. See registry.SnapshotValues.
func (h *Hub) SnapshotValues(buf [][]float64) [][]float64 {
	return h.registry.SnapshotValues(buf)
}

// Readings returns ids, values and timestamps of fresh devices together.
func (h *Hub) Readings() []registry.Reading {
	return h.registry.Readings()
}

// AvailablePorts enumerates serial interfaces present right now.
func (h *Hub) AvailablePorts() ([]string, error) {
	return h.enumerator.Ports()
}

// Connections reports active and quarantined serial ports.
func (h *Hub) Connections() Connections {
	return Connections{
		Active:      h.scanner.Active(),
		Blacklisted: h.scanner.Blacklisted(),
	}
}

// Disconnect stops the connection worker on port, if any. The port is not
// blacklisted, so the next scan reconnects it.
func (h *Hub) Disconnect(port string) bool {
	return h.scanner.Disconnect(port)
}

// ListenAddr returns the bound UDP address.
func (h *Hub) ListenAddr() net.Addr {
	return h.listener.Addr()
}

// Done is closed once Close has finished.
func (h *Hub) Done() <-chan struct{} {
	return h.closed
}

// Close stops every task and waits for it. With cascade shutdown enabled
// this includes every connection worker and its port handle.
func (h *Hub) Close() error {
	err := ErrClosed
	h.closeOnce.Do(func() {
		h.cancel()
		h.closeErr = h.group.Wait()
		h.logger.Infow("stopped")
		close(h.closed)
		err = h.closeErr
	})
	return err
}
