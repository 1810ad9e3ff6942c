// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalid is wrapped by every validation and parse error returned from Load.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration values.
type Config struct {
	// Serial discovery
	SerialBaudRate     int
	SerialReadTimeout  time.Duration
	SerialScanInterval time.Duration
	SilenceTimeout     time.Duration
	BlacklistDuration  time.Duration
	// When false, hub teardown stops the scanner loop but leaves running
	// connection workers to expire on their own.
	CascadeShutdown bool

	// Registry
	FreshnessWindow      time.Duration
	RegistryIdleInterval time.Duration
	AllowedDevices       []string
	AcceptPattern        string

	// UDP
	UDPBind       string
	UDPPort       int
	UDPBufferSize int

	// MQTT
	MQTTBroker         string
	MQTTClientIDBridge string
	TopicSensors       string
	PublishInterval    time.Duration

	// Web Server
	WebServerPort     int
	WebStreamInterval time.Duration

	// Console / simulator
	ConsoleLogInterval time.Duration
	SimulatorTarget    string
	SimulatorInterval  time.Duration

	LogLevel string
}

// DefaultAcceptPattern matches "<lowercase id>\t<at least three more chars>".
const DefaultAcceptPattern = `^[a-z][^\t]*\t.{3,}`

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		SerialBaudRate:     9600,
		SerialReadTimeout:  60 * time.Millisecond,
		SerialScanInterval: 250 * time.Millisecond,
		SilenceTimeout:     3 * time.Second,
		BlacklistDuration:  10 * time.Second,
		CascadeShutdown:    true,

		FreshnessWindow:      time.Second,
		RegistryIdleInterval: 5 * time.Millisecond,
		AllowedDevices:       []string{"papE", "papD", "luvaE", "luvaD"},
		AcceptPattern:        DefaultAcceptPattern,

		UDPBind:       "0.0.0.0",
		UDPPort:       5555,
		UDPBufferSize: 1000,

		MQTTBroker:         "tcp://localhost:1883",
		MQTTClientIDBridge: "motion-ingest-bridge",
		TopicSensors:       "papete/sensors",
		PublishInterval:    50 * time.Millisecond,

		WebServerPort:     8080,
		WebStreamInterval: 100 * time.Millisecond,

		ConsoleLogInterval: 200 * time.Millisecond,
		SimulatorTarget:    "127.0.0.1:5555",
		SimulatorInterval:  20 * time.Millisecond,

		LogLevel: "info",
	}
}

// Package-level unexported variables for the singleton:
//   - globalConfig is only reachable through InitGlobal/Get.
//   - configOnce makes InitGlobal run once.
//   - configMu lets Get readers proceed concurrently.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
// Keys missing from the file keep their Default() value.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalid, lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalid, lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseMillis(key, value string) (time.Duration, error) {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Serial discovery
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value)
	case "SERIAL_READ_TIMEOUT_MS":
		c.SerialReadTimeout, err = parseMillis(key, value)
	case "SERIAL_SCAN_INTERVAL_MS":
		c.SerialScanInterval, err = parseMillis(key, value)
	case "SILENCE_TIMEOUT_MS":
		c.SilenceTimeout, err = parseMillis(key, value)
	case "BLACKLIST_DURATION_MS":
		c.BlacklistDuration, err = parseMillis(key, value)
	case "CASCADE_SHUTDOWN":
		c.CascadeShutdown, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid CASCADE_SHUTDOWN %q: %w", value, err)
		}

	// Registry
	case "FRESHNESS_WINDOW_MS":
		c.FreshnessWindow, err = parseMillis(key, value)
	case "REGISTRY_IDLE_INTERVAL_MS":
		c.RegistryIdleInterval, err = parseMillis(key, value)
	case "ALLOWED_DEVICES":
		c.AllowedDevices = c.AllowedDevices[:0:0]
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.AllowedDevices = append(c.AllowedDevices, id)
			}
		}
	case "ACCEPT_PATTERN":
		c.AcceptPattern = value

	// UDP
	case "UDP_BIND":
		c.UDPBind = value
	case "UDP_PORT":
		c.UDPPort, err = parseInt(key, value)
	case "UDP_BUFFER_SIZE":
		c.UDPBufferSize, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_BRIDGE":
		c.MQTTClientIDBridge = value
	case "TOPIC_SENSORS":
		c.TopicSensors = value
	case "PUBLISH_INTERVAL_MS":
		c.PublishInterval, err = parseMillis(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "WEB_STREAM_INTERVAL_MS":
		c.WebStreamInterval, err = parseMillis(key, value)

	// Console / simulator
	case "CONSOLE_LOG_INTERVAL_MS":
		c.ConsoleLogInterval, err = parseMillis(key, value)
	case "SIMULATOR_TARGET":
		c.SimulatorTarget = value
	case "SIMULATOR_INTERVAL_MS":
		c.SimulatorInterval, err = parseMillis(key, value)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// Validate checks that every value the ingest path depends on is usable.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"SERIAL_READ_TIMEOUT_MS", c.SerialReadTimeout},
		{"SERIAL_SCAN_INTERVAL_MS", c.SerialScanInterval},
		{"SILENCE_TIMEOUT_MS", c.SilenceTimeout},
		{"BLACKLIST_DURATION_MS", c.BlacklistDuration},
		{"FRESHNESS_WINDOW_MS", c.FreshnessWindow},
		{"REGISTRY_IDLE_INTERVAL_MS", c.RegistryIdleInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalid, d.name, d.d)
		}
	}
	if c.SerialBaudRate <= 0 {
		return fmt.Errorf("%w: SERIAL_BAUD_RATE must be positive, got %d", ErrInvalid, c.SerialBaudRate)
	}
	if c.UDPPort < 0 || c.UDPPort > 65535 {
		return fmt.Errorf("%w: UDP_PORT must be 0-65535, got %d", ErrInvalid, c.UDPPort)
	}
	if c.UDPBufferSize <= 0 {
		return fmt.Errorf("%w: UDP_BUFFER_SIZE must be positive, got %d", ErrInvalid, c.UDPBufferSize)
	}
	if len(c.AllowedDevices) == 0 {
		return fmt.Errorf("%w: ALLOWED_DEVICES is required", ErrInvalid)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so repeated calls return the first result's error only once.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
