// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package network receives sensor lines broadcast over UDP.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/motion_ingest/internal/ingest"
	"github.com/relabs-tech/motion_ingest/internal/metrics"
)

// ErrBind is wrapped by Bind when the UDP endpoint cannot be opened.
var ErrBind = errors.New("udp bind failed")

// pollInterval bounds how long a receive blocks before the loop rechecks ctx.
const pollInterval = 100 * time.Millisecond

// ListenerConfig holds the UDP endpoint settings.
type ListenerConfig struct {
	Bind       string
	Port       int
	BufferSize int
}

// ListenerDeps holds runtime dependencies for the Listener.
type ListenerDeps struct {
	Config   ListenerConfig
	Producer ingest.Producer
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
}

// Listener binds one UDP endpoint and forwards every decodable, accepted
// datagram to the ingest queue.
type Listener struct {
	cfg      ListenerConfig
	producer ingest.Producer
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewListener creates a Listener. Call Bind before Run.
func NewListener(deps ListenerDeps) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	producer := deps.Producer
	if producer.Source == "" {
		producer.Source = "udp"
	}
	cfg := deps.Config
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}

	return &Listener{
		cfg:      cfg,
		producer: producer,
		logger:   logger.With("component", "udp-listener"),
		metrics:  deps.Metrics,
	}
}

// Bind opens the UDP socket. Failure wraps ErrBind and is not retried.
func (l *Listener) Bind() error {
	addr := net.JoinHostPort(l.cfg.Bind, strconv.Itoa(l.cfg.Port))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrBind, addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", ErrBind, addr, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.logger.Infow("listening", "addr", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound local address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run receives datagrams until ctx is done, then closes the socket.
// Receive errors are logged and the loop continues.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: Run called before Bind", ErrBind)
	}
	defer l.Close()

	buf := make([]byte, l.cfg.BufferSize)
	for {
		select {
		case <-ctx.Done():
			l.logger.Infow("listener stopped")
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.metrics.ReceiveError()
			l.logger.Warnw("couldn't receive a datagram", "error", err)
			continue
		}

		l.metrics.Datagram()
		if !l.producer.Offer(buf[:n]) {
			l.logger.Debugw("datagram dropped", "from", src.String(), "bytes", n)
		}
	}
}

// Close releases the socket. Safe to call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
