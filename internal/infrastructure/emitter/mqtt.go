package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vigil/internal/core/domain"
	"vigil/pkg/retry"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retry       retry.Config
}

// client is the subset of mqtt.Client the emitter uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTEmitter publishes alert transitions to <prefix>/alerts and keeps a
// retained <prefix>/availability topic that the broker flips to "offline"
// through the last will when the process dies.
type MQTTEmitter struct {
	cfg    Config
	client client
	logger *zap.SugaredLogger

	mu        sync.Mutex
	published uint64
	errors    uint64
}

func NewMQTTEmitter(cfg Config, logger *zap.SugaredLogger) *MQTTEmitter {
	e := &MQTTEmitter{cfg: cfg, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(e.AvailabilityTopic(), availabilityOffline, cfg.QoS, true)
	opts.OnConnect = func(c mqtt.Client) {
		logger.Infow("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
		c.Publish(e.AvailabilityTopic(), cfg.QoS, true, availabilityOnline)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	e.client = mqtt.NewClient(opts)
	return e
}

func (e *MQTTEmitter) Name() string {
	return "mqtt"
}

func (e *MQTTEmitter) AlertsTopic() string {
	return e.cfg.TopicPrefix + "/alerts"
}

func (e *MQTTEmitter) AvailabilityTopic() string {
	return e.cfg.TopicPrefix + "/availability"
}

// Connect dials the broker, retrying with backoff per cfg.Retry.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	retryCfg := e.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.logger.Warnw("mqtt connect failed, retrying",
			"broker", e.cfg.Broker,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	return retry.Retry(ctx, retryCfg, func() error {
		token := e.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("mqtt connection timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		return nil
	})
}

// PublishAlert implements ports.AlertPublisher.
func (e *MQTTEmitter) PublishAlert(ctx context.Context, alert domain.AlertEvent) error {
	if !e.client.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := e.client.Publish(e.AlertsTopic(), e.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		e.countError()
		return ctx.Err()
	case <-time.After(publishTimeout):
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debugw("alert published", "topic", e.AlertsTopic(), "kind", alert.Kind, "size", len(payload))
	return nil
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Connected: e.client.IsConnected(),
		Published: e.published,
		Errors:    e.errors,
	}
}

// Close marks the instance offline and disconnects.
func (e *MQTTEmitter) Close() error {
	if !e.client.IsConnected() {
		return nil
	}
	e.client.Publish(e.AvailabilityTopic(), e.cfg.QoS, true, availabilityOffline).WaitTimeout(publishTimeout)
	e.client.Disconnect(250)
	e.logger.Info("mqtt disconnected")
	return nil
}
