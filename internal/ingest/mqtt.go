package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"vitalwatch/internal/config"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// Sink receives each accepted reading
type Sink func(ctx context.Context, r models.Reading) error

// Subscriber reads stream lines from an MQTT topic. A payload may carry
// several newline-separated lines.
type Subscriber struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	sink   Sink
}

func NewSubscriber(cfg config.MQTTConfig, sink Sink) *Subscriber {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	return &Subscriber{cfg: cfg, client: mqtt.NewClient(opts), sink: sink}
}

// Run connects, subscribes and blocks until ctx is done
func (s *Subscriber) Run(ctx context.Context) error {
	log := logger.WithComponent("mqtt")

	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer s.client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(ctx, msg.Topic(), msg.Payload())
	}
	if token := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, token.Error())
	}

	log.Info().Str("broker", s.cfg.Broker).Str("topic", s.cfg.Topic).Msg("subscribed")
	<-ctx.Done()
	return nil
}

// handle parses every line in payload and returns how many were accepted
func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) int {
	log := logger.WithComponent("mqtt")
	accepted := 0

	for _, line := range strings.Split(string(payload), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		r, err := ParseMessage(line)
		if err != nil {
			metrics.IngestReadingsTotal.WithLabelValues("mqtt", "rejected").Inc()
			log.Warn().Err(err).Str("topic", topic).Str("line", line).Msg("invalid stream message")
			continue
		}

		if err := s.sink(ctx, r); err != nil {
			metrics.IngestReadingsTotal.WithLabelValues("mqtt", "failed").Inc()
			log.Error().Err(err).Str("patient_id", r.PatientID).Msg("failed to queue reading")
			continue
		}
		metrics.IngestReadingsTotal.WithLabelValues("mqtt", "accepted").Inc()
		accepted++
	}
	return accepted
}
