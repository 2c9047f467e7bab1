package coordinator

import (
	"errors"
	"fmt"
	"log/slog"

	"zstack-gateway/internal/store"
)

// Published topics, relative to the sink's prefix.
const (
	TopicBridgeState   = "bridge/state"
	TopicBridgeEvent   = "bridge/event"
	TopicBridgeDevices = "bridge/devices/"
)

// DataSink receives published documents.
type DataSink interface {
	Publish(topic string, payload Document) error
}

// SinkFunc adapts a function to DataSink.
type SinkFunc func(topic string, payload Document) error

// Publish calls f.
func (f SinkFunc) Publish(topic string, payload Document) error { return f(topic, payload) }

// MultiSink publishes to every sink and joins their errors.
type MultiSink []DataSink

// Publish forwards to every sink.
func (m MultiSink) Publish(topic string, payload Document) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher forwards documents to a DataSink.
type Publisher struct {
	sink   DataSink
	logger *slog.Logger
}

// NewPublisher returns a publisher forwarding to sink, which may be nil.
func NewPublisher(sink DataSink, logger *slog.Logger) *Publisher {
	return &Publisher{sink: sink, logger: logger}
}

// Publish forwards payload unchanged. Empty topics and documents are ignored.
func (p *Publisher) Publish(topic string, payload Document) error {
	if p == nil || p.sink == nil || topic == "" || len(payload) == 0 {
		return nil
	}
	if err := p.sink.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishDevice publishes the identity of dev. A nil device is ignored.
func (p *Publisher) PublishDevice(dev *store.Device) error {
	if dev == nil || dev.IEEEAddress == "" {
		return nil
	}
	return p.Publish(TopicBridgeDevices+dev.IEEEAddress, DeviceDocument(dev))
}

// PublishState publishes a device state document on the device's topic.
func (p *Publisher) PublishState(ieee string, state Document) error {
	return p.Publish(ieee, state)
}

// DeviceDocument renders the identity of dev.
func DeviceDocument(dev *store.Device) Document {
	eps := make([]Document, 0, len(dev.Endpoints))
	for _, ep := range dev.Endpoints {
		eps = append(eps, Document{
			"id":           ep.ID,
			"profile_id":   fmt.Sprintf("0x%04X", ep.ProfileID),
			"device_id":    fmt.Sprintf("0x%04X", ep.DeviceID),
			"in_clusters":  ep.InClusters,
			"out_clusters": ep.OutClusters,
		})
	}
	return Document{
		"ieee_address": dev.IEEEAddress,
		"nwk_address":  fmt.Sprintf("0x%04X", dev.NwkAddress),
		"manufacturer": dev.Manufacturer,
		"model":        dev.Model,
		"power_source": dev.PowerSource,
		"interviewed":  dev.Interviewed,
		"endpoints":    eps,
	}
}
