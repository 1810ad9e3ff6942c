package discovery

import (
	"context"

	"github.com/relabs-tech/motion_ingest/internal/metrics"
	"github.com/relabs-tech/motion_ingest/internal/serialport"
)

const readBufferSize = 10000

// connect opens name and runs its read loop. The worker owns the port
// handle and closes it exactly once on return. Every exit releases the
// active slot; open failures and silence also blacklist the port, a read
// error does not.
func (s *Scanner) connect(ctx context.Context, name string, c *conn) {
	s.logger.Infow("connecting", "port", name)
	s.metrics.ConnectAttempt()

	p, err := s.opener.Open(name, s.cfg.BaudRate, s.cfg.ReadTimeout)
	if err != nil {
		s.logger.Warnw("connect failed, port blacklisted", "port", name, "error", err)
		s.metrics.ConnectFailure()
		s.finish(name, c, true)
		return
	}
	defer func() {
		if err := p.Close(); err != nil {
			s.logger.Debugw("close error", "port", name, "error", err)
		}
	}()

	s.logger.Infow("listening", "port", name)

	reason := s.readLoop(ctx, name, p)
	s.metrics.Disconnect(reason)
	s.finish(name, c, reason == metrics.ReasonSilence)
}

func (s *Scanner) finish(name string, c *conn, blacklist bool) {
	s.ports.release(name, c, blacklist, s.now())
	s.metrics.SetPorts(s.ports.counts())
}

// readLoop forwards accepted reads to the ingest queue until the port goes
// silent, fails, or the worker is signaled. It returns the disconnect reason.
func (s *Scanner) readLoop(ctx context.Context, name string, p serialport.Port) string {
	buf := make([]byte, readBufferSize)
	lastAccepted := s.now()

	for {
		if s.now().Sub(lastAccepted) > s.cfg.SilenceTimeout {
			s.logger.Warnw("disconnected by silence timeout, port blacklisted",
				"port", name, "timeout", s.cfg.SilenceTimeout)
			return metrics.ReasonSilence
		}

		n, err := p.Read(buf)
		switch {
		case err != nil && serialport.IsTimeout(err):
		case err != nil:
			s.logger.Warnw("disconnected by read error", "port", name, "error", err)
			return metrics.ReasonIOError
		case n > 0:
			if s.producer.Offer(buf[:n]) {
				lastAccepted = s.now()
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Infow("disconnected on request", "port", name)
			return metrics.ReasonShutdown
		default:
		}
	}
}
