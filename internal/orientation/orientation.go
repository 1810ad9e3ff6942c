// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"strconv"
	"strings"
)

// Pose is the orientation reported by one wearable unit, in degrees.
type Pose struct {
	Device string  `json:"device"`
	Pitch  float64 `json:"pitch"`
	Roll   float64 `json:"roll"`
}

// Source is anything that can provide poses over time: a simulated unit,
// later maybe a replay from a recorded session.
type Source interface {
	Next() (Pose, error)
}

// FromValues reads a pose out of a device's reading. Units send pitch
// first and roll second; readings with fewer than two values have no pose.
func FromValues(device string, values []float64) (Pose, bool) {
	if len(values) < 2 {
		return Pose{}, false
	}
	return Pose{Device: device, Pitch: values[0], Roll: values[1]}, true
}

// Line encodes p in the tab-separated wire format the units send.
func (p Pose) Line() string {
	var b strings.Builder
	b.WriteString(p.Device)
	b.WriteByte('\t')
	b.WriteString(strconv.FormatFloat(p.Pitch, 'f', 2, 64))
	b.WriteByte('\t')
	b.WriteString(strconv.FormatFloat(p.Roll, 'f', 2, 64))
	return b.String()
}
