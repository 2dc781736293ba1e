package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/grib-index-service/internal/config"
	"github.com/couchcryptid/grib-index-service/internal/query"
)

// TelemetryWriter publishes per-query latency/result events to a Kafka
// topic. It implements query.TelemetryPublisher. Publishing is best-effort:
// callers log failures and carry on.
type TelemetryWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewTelemetryWriter creates a Kafka producer for the telemetry topic.
func NewTelemetryWriter(cfg *config.Config, logger *slog.Logger) *TelemetryWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTelemetryTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &TelemetryWriter{writer: w, logger: logger}
}

// Publish serializes and writes one query event.
func (w *TelemetryWriter) Publish(ctx context.Context, ev query.TelemetryEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize telemetry event: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(ev.Variable),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "variable", Value: []byte(ev.Variable)},
			{Key: "at", Value: []byte(ev.At.Format(time.RFC3339))},
		},
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *TelemetryWriter) Close() error {
	return w.writer.Close()
}
