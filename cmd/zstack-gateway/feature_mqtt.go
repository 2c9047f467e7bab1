//go:build !no_mqtt

package main

import (
	"log/slog"

	"zstack-gateway/internal/coordinator"
	mqttbridge "zstack-gateway/internal/mqtt"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func (m *mqttStopper) sink() coordinator.DataSink {
	if m.bridge == nil {
		return nil
	}
	return m.bridge
}

func initMQTT(submit mqttbridge.Submitter, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, submit, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	return &mqttStopper{bridge: bridge}
}
