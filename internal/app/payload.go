package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/relabs-tech/motion_ingest/internal/orientation"
	"github.com/relabs-tech/motion_ingest/internal/registry"
)

// DevicePayload is the JSON shape of one device reading on MQTT, the HTTP
// API and the websocket stream.
type DevicePayload struct {
	Device  string            `json:"device"`
	Values  []float64         `json:"values"`
	Updated time.Time         `json:"updated"`
	Pose    *orientation.Pose `json:"pose,omitempty"`
}

func newDevicePayload(rd registry.Reading) DevicePayload {
	p := DevicePayload{Device: rd.Device, Values: rd.Values, Updated: rd.Updated}
	if pose, ok := orientation.FromValues(rd.Device, rd.Values); ok {
		p.Pose = &pose
	}
	return p
}

func newDevicePayloads(readings []registry.Reading) []DevicePayload {
	out := make([]DevicePayload, 0, len(readings))
	for _, rd := range readings {
		out = append(out, newDevicePayload(rd))
	}
	return out
}

// formatPayload renders one console line.
func formatPayload(p DevicePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%-5s]", p.Device)
	if p.Pose != nil {
		fmt.Fprintf(&b, "  PITCH=%7.2f  ROLL=%7.2f", p.Pose.Pitch, p.Pose.Roll)
	}
	b.WriteString("  values=")
	for i, v := range p.Values {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	return b.String()
}
