// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package registry consumes the ingest queue and keeps the latest reading
// per allow-listed device, dropping readings older than the freshness window.
package registry

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/motion_ingest/internal/ingest"
	"github.com/relabs-tech/motion_ingest/internal/metrics"
)

// fieldSeparator splits a wire line into device id and readings.
const fieldSeparator = "\t"

// numericPrefix is the longest leading "-123.45" style number of a field.
var numericPrefix = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?`)

// Reading is the latest accepted line for one device.
type Reading struct {
	Device  string    `json:"device"`
	Values  []float64 `json:"values"`
	Updated time.Time `json:"updated"`
}

// Deps holds runtime dependencies for the Registry.
type Deps struct {
	Queue           *ingest.Queue
	AllowedDevices  []string
	FreshnessWindow time.Duration
	IdleInterval    time.Duration
	Logger          *zap.SugaredLogger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Registry is the single consumer of the ingest queue. Its readings are
// written only by Run/Process and read concurrently by query callers.
type Registry struct {
	queue   *ingest.Queue
	allowed map[string]struct{}
	window  time.Duration
	idle    time.Duration
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	readings []Reading // first-seen order
}

// New creates a Registry. Nothing is consumed until Run is called.
func New(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	idle := deps.IdleInterval
	if idle <= 0 {
		idle = 5 * time.Millisecond
	}

	allowed := make(map[string]struct{}, len(deps.AllowedDevices))
	for _, id := range deps.AllowedDevices {
		allowed[id] = struct{}{}
	}

	return &Registry{
		queue:   deps.Queue,
		allowed: allowed,
		window:  deps.FreshnessWindow,
		idle:    idle,
		logger:  logger.With("component", "sensor-registry"),
		metrics: deps.Metrics,
		now:     now,
	}
}

// Run drains the queue until ctx is done. When the queue is empty it still
// purges stale readings, then waits for new data or the idle interval.
func (r *Registry) Run(ctx context.Context) error {
	idle := time.NewTimer(r.idle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if msg, ok := r.queue.Dequeue(); ok {
			r.Process(msg)
			r.metrics.SetQueueDepth(r.queue.Len())
			continue
		}

		r.Purge()

		idle.Reset(r.idle)
		select {
		case <-ctx.Done():
			return nil
		case <-r.queue.Ready():
		case <-idle.C:
		}
	}
}

// Process parses one message and upserts the device's reading. Messages
// from devices outside the allow-list are discarded. Stale readings are
// purged either way. It reports whether the message was stored.
func (r *Registry) Process(msg string) bool {
	device, values, ok := r.parse(msg)
	now := r.now()

	r.mu.Lock()
	if ok {
		r.upsertLocked(device, values, now)
	}
	r.purgeLocked(now)
	n := len(r.readings)
	r.mu.Unlock()

	r.metrics.SetRegistryDevices(n)
	return ok
}

func (r *Registry) parse(msg string) (string, []float64, bool) {
	fields := strings.Split(strings.TrimSpace(msg), fieldSeparator)
	device := fields[0]
	if device == "" {
		r.metrics.Discarded(metrics.DiscardEmpty)
		return "", nil, false
	}
	if _, ok := r.allowed[device]; !ok {
		r.metrics.Discarded(metrics.DiscardUnknownDevice)
		r.logger.Debugw("unknown device discarded", "device", device)
		return "", nil, false
	}
	return device, ParseValues(fields[1:]), true
}

// ParseValues keeps the leading number of each field. Fields without one are
// dropped, so the result may be shorter than fields.
func ParseValues(fields []string) []float64 {
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		m := numericPrefix.FindString(field)
		if m == "" {
			continue
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

func (r *Registry) upsertLocked(device string, values []float64, now time.Time) {
	for i := range r.readings {
		if r.readings[i].Device == device {
			r.readings[i].Values = values
			r.readings[i].Updated = now
			return
		}
	}
	r.readings = append(r.readings, Reading{Device: device, Values: values, Updated: now})
}

// Purge drops every reading whose age is at least the freshness window.
func (r *Registry) Purge() {
	now := r.now()
	r.mu.Lock()
	r.purgeLocked(now)
	n := len(r.readings)
	r.mu.Unlock()

	r.metrics.SetRegistryDevices(n)
}

func (r *Registry) purgeLocked(now time.Time) {
	kept := r.readings[:0]
	for _, rd := range r.readings {
		if r.fresh(rd, now) {
			kept = append(kept, rd)
		}
	}
	for i := len(kept); i < len(r.readings); i++ {
		r.readings[i] = Reading{}
	}
	r.readings = kept
}

func (r *Registry) fresh(rd Reading, now time.Time) bool {
	return now.Sub(rd.Updated) < r.window
}

// ActiveDeviceIDs returns the ids of devices with a fresh reading, in the
// order they were first seen.
func (r *Registry) ActiveDeviceIDs() []string {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.readings))
	for _, rd := range r.readings {
		if r.fresh(rd, now) {
			ids = append(ids, rd.Device)
		}
	}
	return ids
}

// SnapshotValues writes the values of every fresh device into buf, in
// ActiveDeviceIDs order, and returns it. buf and its rows are reused: the
// outer slice is cut to the number of devices and each row to its device's
// value count, so a caller polling in a loop does not reallocate.
func (r *Registry) SnapshotValues(buf [][]float64) [][]float64 {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rd := range r.readings {
		if !r.fresh(rd, now) {
			continue
		}
		switch {
		case n < len(buf):
		case n < cap(buf):
			buf = buf[:n+1]
		default:
			buf = append(buf, make([]float64, 0, len(rd.Values)))
		}
		buf[n] = append(buf[n][:0], rd.Values...)
		n++
	}
	return buf[:n]
}

// Readings returns a copy of every fresh reading taken under one lock, so
// ids and values always agree.
func (r *Registry) Readings() []Reading {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Reading, 0, len(r.readings))
	for _, rd := range r.readings {
		if r.fresh(rd, now) {
			rd.Values = append([]float64(nil), rd.Values...)
			out = append(out, rd)
		}
	}
	return out
}
