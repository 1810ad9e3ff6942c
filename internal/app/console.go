package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relabs-tech/motion_ingest/internal/hub"
	"github.com/relabs-tech/motion_ingest/internal/registry"
)

func printReadings(w io.Writer, readings []registry.Reading) {
	if len(readings) == 0 {
		fmt.Fprintln(w, "[-----]  no active devices")
		return
	}
	for _, rd := range readings {
		fmt.Fprintln(w, formatPayload(newDevicePayload(rd)))
	}
}

// RunConsole ingests in-process and prints the fresh readings on every
// console interval, without a broker.
func RunConsole() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	h, err := hub.New(cfg, hub.WithLogger(logger))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.ConsoleLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return h.Close()
		case <-ticker.C:
			printReadings(os.Stdout, h.Readings())
		}
	}
}
