// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialport wraps OS serial enumeration and open behind small
// interfaces so discovery can run against fakes in tests.
package serialport

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
)

// Port is an open serial connection with a bounded Read.
// A Read that returns (0, nil) means the read timeout elapsed.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
	Name() string
}

// Enumerator lists serial interfaces currently present on the host.
type Enumerator interface {
	Ports() ([]string, error)
}

// Opener opens a named serial interface.
type Opener interface {
	Open(name string, baud int, readTimeout time.Duration) (Port, error)
}

// System is the real Enumerator and Opener backed by go.bug.st/serial.
type System struct{}

var (
	_ Enumerator = System{}
	_ Opener     = System{}
)

// Ports returns the canonical names of available serial interfaces.
func (System) Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Open opens name at 8N1 with the given baud rate and per-read timeout.
func (System) Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return &port{Port: p, name: name}, nil
}

type port struct {
	serial.Port
	name string
}

func (p *port) Name() string { return p.name }

// IsTimeout reports whether err is a timeout-class read error. Such errors
// end a single read attempt, not the connection.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
