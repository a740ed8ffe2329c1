package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	disconnectQuiesce = 250 // ms

	// maxTrackedDeliveries caps the acknowledgements watched at once. During a
	// broker outage tokens do not complete; beyond the cap deliveries are
	// still queued but their failures go unlogged.
	maxTrackedDeliveries = 32
)

// MQTTOptions configures the MQTT broker client.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	// StatusTopic receives "online" on connect and "offline" as last will.
	StatusTopic string
}

// MQTT is a Broker backed by the paho MQTT client. The client keeps its own
// outbound queue and reconnects in the background.
type MQTT struct {
	client  mqtt.Client
	opts    MQTTOptions
	log     *slog.Logger
	tracked chan struct{}
}

// Ensure MQTT implements Broker.
var _ Broker = (*MQTT)(nil)

// NewMQTT creates the broker client. It does not connect.
func NewMQTT(opts MQTTOptions, log *slog.Logger) (*MQTT, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = "gowaga-" + uuid.NewString()[:8]
	}
	if log == nil {
		log = slog.Default()
	}

	m := &MQTT{
		opts:    opts,
		log:     log.With(slog.String("component", "mqtt"), slog.String("broker", opts.BrokerURL)),
		tracked: make(chan struct{}, maxTrackedDeliveries),
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetConnectTimeout(10 * time.Second)
	clientOpts.SetMaxReconnectInterval(time.Minute)
	if opts.KeepAlive > 0 {
		clientOpts.SetKeepAlive(opts.KeepAlive)
	}

	if opts.StatusTopic != "" {
		clientOpts.SetWill(opts.StatusTopic, statusOffline, byte(AtLeastOnce), true)
	}

	clientOpts.SetOnConnectHandler(m.onConnect)
	clientOpts.SetConnectionLostHandler(m.onConnectionLost)
	clientOpts.SetReconnectingHandler(m.onReconnecting)

	m.client = mqtt.NewClient(clientOpts)

	return m, nil
}

// Connect opens the session with the broker, waiting until it is
// established, rejected, or ctx ends.
func (m *MQTT) Connect(ctx context.Context) error {
	token := m.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to %s: %w", m.opts.BrokerURL, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.opts.BrokerURL, err)
	}

	return nil
}

// Enqueue hands the message to the client's outbound queue. It fails only
// when the client refuses the message outright; delivery errors are logged
// when the acknowledgement arrives.
func (m *MQTT) Enqueue(topic string, payload []byte, q Quality, retain bool) error {
	if !m.client.IsConnectionOpen() && !m.client.IsConnected() {
		return ErrNotConnected
	}

	token := m.client.Publish(topic, byte(q), retain, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
		return nil
	default:
	}

	m.track(topic, token)
	return nil
}

// track logs the delivery result of token once it completes, using at most
// maxTrackedDeliveries watchers.
func (m *MQTT) track(topic string, token mqtt.Token) {
	select {
	case m.tracked <- struct{}{}:
	default:
		m.log.Debug("delivery not tracked, too many pending", slog.String("topic", topic))
		return
	}

	go func() {
		defer func() { <-m.tracked }()

		<-token.Done()
		if err := token.Error(); err != nil {
			m.log.Warn("delivery failed", slog.String("topic", topic), slog.Any("error", err))
		}
	}()
}

// Disconnect announces the node as offline and closes the session.
func (m *MQTT) Disconnect() {
	if !m.client.IsConnected() {
		return
	}

	if m.opts.StatusTopic != "" {
		token := m.client.Publish(m.opts.StatusTopic, byte(AtLeastOnce), true, statusOffline)
		token.WaitTimeout(time.Second)
	}

	m.client.Disconnect(disconnectQuiesce)
	m.log.Info("disconnected from broker")
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("connected to broker")

	if m.opts.StatusTopic != "" {
		client.Publish(m.opts.StatusTopic, byte(AtLeastOnce), true, statusOnline)
	}
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.log.Warn("connection to broker lost", slog.Any("error", err))
}

func (m *MQTT) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	m.log.Info("reconnecting to broker")
}
