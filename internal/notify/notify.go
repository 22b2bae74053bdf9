// Package notify publishes job lifecycle events for downstream consumers
// (mobile push, mail, analytics). Delivery is best-effort: a lost event
// never fails the chain operation that produced it.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"

	DefaultTopic = "escrow.job-events"

	envKafkaTLS = "ESCROW_NOTIFY_KAFKA_TLS"
)

var ErrInvalidConfig = errors.New("notify: invalid config")

// Event types, one per lifecycle edge.
const (
	EventJobCreated          = "job.created"
	EventJobOpenForProposals = "job.open_for_proposals"
	EventJobAccepted         = "job.accepted"
	EventJobCompleted        = "job.completed"
	EventCompletionRejected  = "job.completion_rejected"
	EventJobApproved         = "job.approved"
	EventJobCancelled        = "job.cancelled"
	EventProposalSubmitted   = "proposal.submitted"
	EventProposalAccepted    = "proposal.accepted"
	EventProposalRejected    = "proposal.rejected"
	EventProposalCancelled   = "proposal.cancelled"
	EventFundsWithdrawn      = "funds.withdrawn"
)

// Event is the wire envelope. Amounts are decimal strings in base units so
// consumers never parse big integers out of JSON numbers.
type Event struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id,omitempty"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Producer publishes raw event payloads.
type Producer interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

type ProducerConfig struct {
	Driver string

	// Kafka fields.
	Brokers      []string
	BatchTimeout time.Duration

	// Stdio fields.
	Writer io.Writer
}

func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func kafkaTLSEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(envKafkaTLS)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func newKafkaProducer(cfg ProducerConfig) (Producer, error) {
	brokers := normalizeList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka producer requires at least one broker", ErrInvalidConfig)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	if kafkaTLSEnabled() {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
	}

	return &kafkaProducer{writer: writer}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload})
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

type stdioProducer struct {
	w io.Writer
	m sync.Mutex
}

func newStdioProducer(cfg ProducerConfig) Producer {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return &stdioProducer{w: w}
}

func (p *stdioProducer) Publish(_ context.Context, _ string, payload []byte) error {
	p.m.Lock()
	defer p.m.Unlock()

	if _, err := p.w.Write(payload); err != nil {
		return err
	}
	if _, err := p.w.Write([]byte("\n")); err != nil {
		return err
	}
	return nil
}

func (p *stdioProducer) Close() error {
	return nil
}

// Notifier serializes events onto one topic. Emit never returns an error;
// failures are logged and dropped.
type Notifier struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

type NotifierConfig struct {
	Producer Producer
	Topic    string
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.Producer == nil {
		return nil, fmt.Errorf("%w: producer is required", ErrInvalidConfig)
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Notifier{producer: cfg.Producer, topic: topic, logger: logger, now: now}, nil
}

// Emit publishes the event, stamping At when unset.
func (n *Notifier) Emit(ctx context.Context, ev Event) {
	if n == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = n.now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("notify: encode event", "type", ev.Type, "err", err)
		return
	}
	if err := n.producer.Publish(ctx, n.topic, payload); err != nil {
		n.logger.Warn("notify: publish event", "type", ev.Type, "job_id", ev.JobID, "err", err)
	}
}
