// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package orientation

import (
	"math"
	"time"
)

type mockSource struct {
	device string
	phase  float64
	start  time.Time
	now    func() time.Time
}

// NewMockSource creates a simulated unit for device that generates smooth
// changing pitch/roll. phase offsets it from other simulated units.
func NewMockSource(device string, phase float64) Source {
	return newMockSource(device, phase, time.Now)
}

func newMockSource(device string, phase float64, now func() time.Time) *mockSource {
	return &mockSource{device: device, phase: phase, start: now(), now: now}
}

func (m *mockSource) Next() (Pose, error) {
	elapsed := m.now().Sub(m.start).Seconds() + m.phase

	return Pose{
		Device: m.device,
		Pitch:  20 * math.Sin(elapsed),
		Roll:   15 * math.Cos(elapsed*0.7),
	}, nil
}
