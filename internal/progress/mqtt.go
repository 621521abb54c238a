package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/events"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// MQTTSink is an event bus consumer that forwards progress events to an
// MQTT broker, one topic per request, so a UI layer can subscribe to
// live status for the request it is waiting on.
type MQTTSink struct {
	settings conf.MQTTSettings
	client   mqtt.Client
	mu       sync.Mutex
}

// NewMQTTSink creates an unconnected sink from the MQTT settings block.
func NewMQTTSink(settings conf.MQTTSettings) *MQTTSink {
	return &MQTTSink{settings: settings}
}

// Connect establishes the broker connection. The hostname is resolved first
// so a misconfigured broker fails fast with a clear error.
func (s *MQTTSink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := url.Parse(s.settings.Broker)
	if err != nil {
		return errors.Newf("invalid MQTT broker URL: %w", err).
			Category(errors.CategoryConfiguration).
			Component("progress").
			Build()
	}

	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.Newf("failed to resolve MQTT broker %s: %w", host, err).
				Category(errors.CategoryMQTTConnection).
				Component("progress").
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.settings.Broker)
	opts.SetClientID(s.settings.ClientID)
	opts.SetUsername(s.settings.Username)
	opts.SetPassword(s.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Newf("MQTT connection timeout").
			Category(errors.CategoryMQTTConnection).
			Component("progress").
			Context("broker", s.settings.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.Newf("MQTT connection failed: %w", err).
			Category(errors.CategoryMQTTConnection).
			Component("progress").
			Context("broker", s.settings.Broker).
			Build()
	}

	logger.Info("connected to MQTT broker", "broker", s.settings.Broker)
	return nil
}

// Disconnect closes the broker connection.
func (s *MQTTSink) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// Name implements events.EventConsumer.
func (s *MQTTSink) Name() string { return "progress-mqtt" }

// SupportsBatching implements events.EventConsumer. Progress events are
// individually latency-sensitive, batching would defeat their purpose.
func (s *MQTTSink) SupportsBatching() bool { return false }

// ProcessBatch implements events.EventConsumer.
func (s *MQTTSink) ProcessBatch(batch []events.Event) error {
	for _, event := range batch {
		if err := s.ProcessEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// ProcessEvent implements events.EventConsumer. Non-progress events are
// ignored.
func (s *MQTTSink) ProcessEvent(event events.Event) error {
	pe, ok := event.(events.ProgressEvent)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"request_id": pe.GetRequestID(),
		"stage":      pe.GetStage(),
		"status":     pe.GetStatus(),
		"timestamp":  pe.GetTimestamp().UTC().Format(time.RFC3339Nano),
		"context":    pe.GetContext(),
	})
	if err != nil {
		return errors.Newf("failed to encode progress payload: %w", err).
			Category(errors.CategoryMQTTPublish).
			Component("progress").
			Build()
	}

	topic := fmt.Sprintf("%s/%s", s.settings.TopicPrefix, pe.GetRequestID())
	return s.publish(topic, payload)
}

func (s *MQTTSink) publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Category(errors.CategoryMQTTConnection).
			Component("progress").
			Build()
	}

	token := s.client.Publish(topic, 0, s.settings.Retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Newf("MQTT publish timeout").
			Category(errors.CategoryMQTTPublish).
			Component("progress").
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.Newf("MQTT publish failed: %w", err).
			Category(errors.CategoryMQTTPublish).
			Component("progress").
			Context("topic", topic).
			Build()
	}
	return nil
}
