// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ingest is the hand-off point between message producers (serial
// workers, the UDP listener) and the single registry consumer.
package ingest

import "sync"

// Queue is an unbounded FIFO of raw text messages, safe for many producers
// and one consumer. Dequeue never blocks; Ready can be used to wait for data.
type Queue struct {
	mu    sync.Mutex
	items []string
	head  int
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Enqueue appends msg and signals availability.
func (q *Queue) Enqueue(msg string) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest message. ok is false when empty.
func (q *Queue) Dequeue() (msg string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return "", false
	}
	msg = q.items[q.head]
	q.items[q.head] = ""
	q.head++

	// reclaim the consumed prefix once it dominates the slice
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return msg, true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Ready receives a value after one or more Enqueue calls. A receive does not
// guarantee a message is still present when Dequeue is called.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
