//go:build no_mqtt

package main

import (
	"log/slog"

	"zstack-gateway/internal/coordinator"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func (m *mqttStopper) sink() coordinator.DataSink { return nil }

type submitter interface {
	Submit(kind coordinator.ActionKind, target string, payload coordinator.Document) bool
}

func initMQTT(_ submitter, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
