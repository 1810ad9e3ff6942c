package app

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/relabs-tech/motion_ingest/internal/orientation"
)

// sendPoses writes one line per source. Each Write on a UDP socket is
// one datagram, which is one message on the receiving side.
func sendPoses(w io.Writer, sources []orientation.Source) error {
	for _, src := range sources {
		pose, err := src.Next()
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, pose.Line()); err != nil {
			return fmt.Errorf("send %s: %w", pose.Device, err)
		}
	}
	return nil
}

// RunSimulator plays simulated wearable units at the configured UDP target
// so the bridge can be exercised without hardware.
func RunSimulator() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	conn, err := net.Dial("udp", cfg.SimulatorTarget)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.SimulatorTarget, err)
	}
	defer conn.Close()

	sources := make([]orientation.Source, 0, len(cfg.AllowedDevices))
	for i, device := range cfg.AllowedDevices {
		sources = append(sources, orientation.NewMockSource(device, float64(i)*0.8))
	}
	logger.Infow("simulating units", "target", cfg.SimulatorTarget, "devices", cfg.AllowedDevices, "interval", cfg.SimulatorInterval)

	ctx, stop := signalContext()
	defer stop()

	ticker := time.NewTicker(cfg.SimulatorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// nobody listening yields ECONNREFUSED on the next write; keep going
			if err := sendPoses(conn, sources); err != nil {
				logger.Debugw("send failed", "error", err)
			}
		}
	}
}
