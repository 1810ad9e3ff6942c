package ingest

import (
	"unicode/utf8"

	"github.com/relabs-tech/motion_ingest/internal/metrics"
)

// Producer is the write side shared by every message source: decode, filter,
// enqueue. Source labels the metrics ("serial", "udp").
type Producer struct {
	Queue   *Queue
	Filter  Filter
	Metrics *metrics.Metrics
	Source  string
}

// Offer decodes raw bytes as UTF-8 text, applies the filter and enqueues the
// result. It reports whether the message was queued; invalid text and
// rejected messages both return false.
func (p Producer) Offer(raw []byte) bool {
	if !utf8.Valid(raw) {
		p.Metrics.Rejected(p.Source)
		return false
	}
	msg := string(raw)
	if p.Filter != nil && !p.Filter.Accept(msg) {
		p.Metrics.Rejected(p.Source)
		return false
	}
	p.Queue.Enqueue(msg)
	p.Metrics.Accepted(p.Source)
	p.Metrics.SetQueueDepth(p.Queue.Len())
	return true
}
