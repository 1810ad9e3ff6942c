package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// printSnapshot decodes a bridge snapshot message and prints one line per device.
func printSnapshot(w io.Writer, payload []byte) error {
	var devices []DevicePayload
	if err := json.Unmarshal(payload, &devices); err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "[-----]  no active devices")
		return nil
	}
	for _, d := range devices {
		fmt.Fprintln(w, formatPayload(d))
	}
	return nil
}

// RunConsoleMQTT subscribes to the snapshot topic published by the bridge
// and prints it until interrupted.
func RunConsoleMQTT() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("motion-console-" + uuid.NewString()[:8])

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	logger.Infow("connected to MQTT broker", "broker", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicSensors, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := printSnapshot(os.Stdout, msg.Payload()); err != nil {
			logger.Warnw("snapshot unmarshal error", "error", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infow("subscribed", "topic", cfg.TopicSensors)

	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()
	return nil
}
