package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/itohio/gowaga/pkg/config"
	"github.com/itohio/gowaga/pkg/link"
	"github.com/itohio/gowaga/pkg/publish"
	"github.com/itohio/gowaga/pkg/sensor"
	"github.com/itohio/gowaga/pkg/telemetry"
)

// node owns every component of one run. Nothing outlives run.
type node struct {
	cfg  *config.Config
	log  *slog.Logger
	mock bool
}

// run brings up the link, the broker client and the sensor, then runs the
// telemetry loop until it fails or ctx is done.
func (n *node) run(ctx context.Context) error {
	if n.mock && n.cfg.Broker.Embedded {
		server, err := n.startBroker()
		if err != nil {
			return fmt.Errorf("failed to start embedded broker: %w", err)
		}
		defer func() {
			if err := server.Close(); err != nil {
				n.log.Error("embedded broker shutdown failed", "error", err)
			}
		}()
	}

	drv, err := n.openSensor()
	if err != nil {
		return err
	}
	defer drv.Close()

	if err := n.connectLink(ctx); err != nil {
		return err
	}

	client, err := publish.NewMQTT(publish.MQTTOptions{
		BrokerURL:   n.cfg.Broker.URL,
		ClientID:    n.cfg.Broker.ClientID,
		Username:    n.cfg.Broker.Username,
		Password:    n.cfg.Broker.Password,
		KeepAlive:   n.cfg.Broker.KeepAlive,
		StatusTopic: publish.Topic(n.cfg.Device.ID, "status"),
	}, n.log)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	opts, err := telemetry.OptionsFromConfig(n.cfg)
	if err != nil {
		return err
	}

	loop, err := telemetry.New(
		sensor.NewPort(drv, drv),
		publish.New(client, n.log),
		telemetry.ChannelsFromConfig(n.cfg),
		opts,
		n.log,
	)
	if err != nil {
		return err
	}

	return loop.Run(ctx)
}

func (n *node) openSensor() (sensor.Driver, error) {
	if n.mock {
		n.log.Info("using simulated sensor")
		return sensor.NewMock(&n.cfg.Mock), nil
	}

	b := sensor.NewBridge(n.cfg.Sensor.Port, n.cfg.Sensor.BaudRate, n.cfg.Sensor.ReadTimeout, n.log)
	if err := b.Open(); err != nil {
		return nil, err
	}
	return b, nil
}

func (n *node) connectLink(ctx context.Context) error {
	var stack link.Stack
	if n.mock {
		stack = link.NewMock(link.Stage(n.cfg.Mock.LinkFail))
	} else {
		wpa := link.NewWPA(n.cfg.WiFi.Interface, n.log)
		defer wpa.Close()
		stack = wpa
	}

	m := link.NewManager(stack, link.Credentials{
		SSID:     n.cfg.WiFi.SSID,
		Password: n.cfg.WiFi.Password,
	}, n.cfg.WiFi.AssociateTimeout, n.log)

	addr, err := link.Connect(ctx, m, link.RetryConfig{
		MaxRetries:      n.cfg.WiFi.Retry.MaxRetries,
		InitialInterval: n.cfg.WiFi.Retry.InitialInterval,
		MaxInterval:     n.cfg.WiFi.Retry.MaxInterval,
	})
	if err != nil {
		return err
	}

	n.log.Info("link up", "address", addr.String())
	return nil
}

func (n *node) startBroker() (*mqttbroker.Server, error) {
	addr, err := brokerAddress(n.cfg.Broker.URL)
	if err != nil {
		return nil, err
	}

	server := mqttbroker.New(&mqttbroker.Options{
		Logger: n.log.With(slog.String("component", "mqtt-broker")),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})); err != nil {
		return nil, err
	}

	go func() {
		if err := server.Serve(); err != nil {
			n.log.Error("embedded broker failed", "error", err)
		}
	}()

	n.log.Info("embedded broker listening", slog.String("address", addr))
	return server, nil
}

// brokerAddress returns the host:port to listen on for a tcp:// broker URL.
func brokerAddress(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse broker url: %w", err)
	}
	if u.Scheme != "tcp" && u.Scheme != "mqtt" {
		return "", fmt.Errorf("embedded broker needs a tcp:// url, got %q", raw)
	}
	if u.Port() == "" {
		return "", fmt.Errorf("broker url %q has no port", raw)
	}

	return u.Host, nil
}

// idle keeps the process alive after a fatal error until it is stopped.
func idle(ctx context.Context, log *slog.Logger, every time.Duration) {
	log.Warn("entering idle loop; restart the node to resume telemetry")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Debug("idle")
		}
	}
}
