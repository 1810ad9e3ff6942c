// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/motion_ingest/internal/hub"
	"github.com/relabs-tech/motion_ingest/internal/registry"
)

// publisher is the part of mqtt.Client the bridge uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// publishReadings sends each fresh reading to <topic>/<device> and the
// whole snapshot to topic. Messages are not retained: a late subscriber
// must never see a reading that is no longer fresh.
func publishReadings(pub publisher, topic string, readings []registry.Reading) error {
	payloads := newDevicePayloads(readings)

	for _, p := range payloads {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", p.Device, err)
		}
		token := pub.Publish(topic+"/"+p.Device, 0, false, b)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", p.Device, err)
		}
	}

	b, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	token := pub.Publish(topic, 0, false, b)
	token.Wait()
	return token.Error()
}

// bridgeClientID keeps two bridges on one broker from kicking each other off.
func bridgeClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// RunBridge ingests from serial and UDP and republishes fresh readings to
// MQTT every publish interval until interrupted.
func RunBridge() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(bridgeClientID(cfg.MQTTClientIDBridge)).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	logger.Infow("connected to MQTT broker", "broker", cfg.MQTTBroker, "topic", cfg.TopicSensors)

	h, err := hub.New(cfg, hub.WithLogger(logger))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infow("shutting down bridge")
			return h.Close()
		case <-ticker.C:
			if err := publishReadings(client, cfg.TopicSensors, h.Readings()); err != nil {
				logger.Warnw("publish failed", "error", err)
			}
		}
	}
}
