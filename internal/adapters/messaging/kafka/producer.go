package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"payments-datagen/internal/config"
	"payments-datagen/internal/core/domain"
)

// Sink is an implementation of the DeliverySink port for Kafka.
// Every worker owns its own Sink and therefore its own client.
type Sink struct {
	client   *kgo.Client
	topic    string
	identity string
	encoder  Encoder
	headers  []kgo.RecordHeader
	logger   *slog.Logger
}

// NewSink creates a Kafka client for one worker and checks the connection.
func NewSink(cfg config.KafkaConfig, identity, runID string, encoder Encoder, logger *slog.Logger) (*Sink, error) {
	if cfg.BootstrapServers == "" {
		return nil, domain.ErrSinkNotConfigured
	}
	if encoder == nil {
		encoder = JSONEncoder{}
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.BootstrapServers, ",")...),
		kgo.ClientID(identity),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
	}
	if cfg.SASLUsername != "" {
		opts = append(opts,
			kgo.SASL(plain.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsMechanism()),
			kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	// Checking the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}

	return &Sink{
		client:   client,
		topic:    cfg.Topic,
		identity: identity,
		encoder:  encoder,
		headers: []kgo.RecordHeader{
			{Key: "producer", Value: []byte(identity)},
			{Key: "run_id", Value: []byte(runID)},
		},
		logger: logger,
	}, nil
}

// Deliver sends the sale asynchronously. The returned Ack resolves from the
// produce promise with the partition and offset the record landed on.
func (s *Sink) Deliver(ctx context.Context, sale domain.Sale) *domain.Ack {
	value, err := s.encoder.Encode(sale)
	if err != nil {
		return domain.Resolved(domain.Receipt{}, &domain.DeliveryError{
			OrderID: sale.OrderID,
			Cause:   fmt.Errorf("failed to encode sale: %w", err),
		})
	}

	ack := domain.NewAck()
	record := &kgo.Record{
		Topic:   s.topic,
		Value:   value,
		Headers: s.headers,
	}
	s.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			ack.Resolve(domain.Receipt{}, &domain.DeliveryError{OrderID: sale.OrderID, Cause: err})
			return
		}
		s.logger.Debug("record delivered to kafka", "worker", s.identity, "topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
		ack.Resolve(domain.Receipt{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil)
	})
	return ack
}

// Close stops the client. Buffered records are failed, not flushed.
func (s *Sink) Close() {
	s.client.Close()
	s.logger.Info("kafka client stopped", "worker", s.identity)
}
