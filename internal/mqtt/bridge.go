//go:build !no_mqtt

// Package mqtt publishes gateway documents to an MQTT broker and turns
// command topics into gateway actions.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zstack-gateway/internal/coordinator"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Submitter accepts actions from command topics.
type Submitter interface {
	Submit(kind coordinator.ActionKind, target string, payload coordinator.Document) bool
}

// Bridge is a coordinator.DataSink backed by an MQTT client.
type Bridge struct {
	client pahomqtt.Client
	prefix string
	submit Submitter
	logger *slog.Logger
}

var _ coordinator.DataSink = (*Bridge)(nil)

// NewBridge connects to the broker. Command topics are subscribed on every
// (re)connect.
func NewBridge(cfg Config, submit Submitter, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		submit: submit,
		logger: logger.With("component", "mqtt"),
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zstack-gateway"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.topic(coordinator.TopicBridgeState), `{"state":"offline"}`, 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	b.client = client
	return b, nil
}

// Publish sends payload as JSON under the bridge prefix. Bridge and device
// identity topics are retained.
func (b *Bridge) Publish(topic string, payload coordinator.Document) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	full := b.topic(topic)
	token := b.client.Publish(full, 1, retained(topic), data)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", full)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", full, "err", err)
		}
	}()
	return nil
}

// Stop publishes the offline state and disconnects.
func (b *Bridge) Stop() {
	if err := b.Publish(coordinator.TopicBridgeState, coordinator.Document{"state": "offline"}); err != nil {
		b.logger.Warn("publish offline", "err", err)
	}
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(t string) string {
	if b.prefix == "" {
		return t
	}
	return b.prefix + "/" + t
}

func retained(topic string) bool {
	return topic == coordinator.TopicBridgeState || strings.HasPrefix(topic, coordinator.TopicBridgeDevices)
}

func (b *Bridge) subscribeCommands() {
	for _, t := range []string{"+/set", "+/get", "bridge/request/permit_join", "bridge/request/device/remove"} {
		topic := b.topic(t)
		token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(msg.Topic(), msg.Payload())
		})
		go func() {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				b.logger.Warn("MQTT subscribe", "topic", topic, "err", token.Error())
			}
		}()
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	cmd, err := parseCommand(b.prefix, topic, payload)
	if err != nil {
		b.logger.Warn("invalid command", "topic", topic, "err", err)
		return
	}
	if !b.submit.Submit(cmd.kind, cmd.target, cmd.doc) {
		b.logger.Warn("command rejected", "topic", topic, "kind", cmd.kind.String())
	}
}

type command struct {
	kind   coordinator.ActionKind
	target string
	doc    coordinator.Document
}

// parseCommand maps a command topic and its payload to an action.
//
//	<prefix>/<ieee>/set                   {"state":"ON"}
//	<prefix>/<ieee>/get                   {"state":""}
//	<prefix>/group/set                    {"group_id":1,"state":"OFF"}
//	<prefix>/bridge/request/permit_join   {"value":true,"time":60} or true
//	<prefix>/bridge/request/device/remove {"id":"<ieee>"} or "<ieee>"
func parseCommand(prefix, topic string, payload []byte) (command, error) {
	rel := topic
	if prefix != "" {
		var ok bool
		rel, ok = strings.CutPrefix(topic, prefix+"/")
		if !ok {
			return command{}, fmt.Errorf("topic outside prefix %q", prefix)
		}
	}

	switch rel {
	case "bridge/request/permit_join":
		doc, err := decodeObject(payload, "value")
		if err != nil {
			return command{}, err
		}
		return command{coordinator.ActionPermitJoin, coordinator.TargetCoordinator, doc}, nil

	case "bridge/request/device/remove":
		doc, err := decodeObject(payload, "id")
		if err != nil {
			return command{}, err
		}
		id, _ := doc["id"].(string)
		if id == "" {
			return command{}, fmt.Errorf("remove without id")
		}
		return command{coordinator.ActionRemoveDevice, id, doc}, nil
	}

	target, verb, ok := strings.Cut(rel, "/")
	if !ok || target == "" || target == "bridge" || strings.Contains(verb, "/") {
		return command{}, fmt.Errorf("unknown command topic %q", rel)
	}
	var kind coordinator.ActionKind
	switch verb {
	case "set":
		kind = coordinator.ActionSet
	case "get":
		kind = coordinator.ActionGet
	default:
		return command{}, fmt.Errorf("unknown verb %q", verb)
	}
	var doc coordinator.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return command{}, fmt.Errorf("decode payload: %w", err)
	}
	if len(doc) == 0 {
		return command{}, fmt.Errorf("empty payload")
	}
	return command{kind, target, doc}, nil
}

// decodeObject accepts a JSON object, or a bare JSON value stored under key.
func decodeObject(payload []byte, key string) (coordinator.Document, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		// Bare strings without quotes, e.g. an IEEE address.
		s := strings.TrimSpace(string(payload))
		if s == "" {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return coordinator.Document{key: s}, nil
	}
	if doc, ok := v.(map[string]any); ok {
		return doc, nil
	}
	return coordinator.Document{key: v}, nil
}
