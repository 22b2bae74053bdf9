package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewProducerRejectsBadConfig(t *testing.T) {
	if _, err := NewProducer(ProducerConfig{Driver: "amqp"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewProducer(ProducerConfig{Driver: DriverKafka}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("kafka without brokers: err = %v, want ErrInvalidConfig", err)
	}
}

func TestStdioProducerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProducer(ProducerConfig{Driver: DriverStdio, Writer: &buf})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), "t", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(context.Background(), "t", []byte(`{"b":2}`)); err != nil {
		t.Fatalf("Publish #2: %v", err)
	}
	if got := buf.String(); got != "{\"a\":1}\n{\"b\":2}\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestNotifierEmit(t *testing.T) {
	var buf bytes.Buffer
	p, _ := NewProducer(ProducerConfig{Driver: DriverStdio, Writer: &buf})
	n, err := NewNotifier(NotifierConfig{
		Producer: p,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	n.Emit(context.Background(), Event{
		Type:   EventJobApproved,
		JobID:  "0x01",
		Amount: "4750",
	})

	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventJobApproved || ev.Amount != "4750" {
		t.Fatalf("event = %+v", ev)
	}
	if !ev.At.Equal(time.Unix(1_700_000_000, 0).UTC()) {
		t.Fatalf("At = %v, want the injected clock", ev.At)
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string, []byte) error {
	return errors.New("broker gone")
}
func (failingProducer) Close() error { return nil }

func TestNotifierEmitSwallowsPublishErrors(t *testing.T) {
	var logBuf bytes.Buffer
	n, err := NewNotifier(NotifierConfig{
		Producer: failingProducer{},
		Logger:   slog.New(slog.NewTextHandler(&logBuf, nil)),
	})
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	// Must not panic or propagate.
	n.Emit(context.Background(), Event{Type: EventJobCreated, JobID: "0x02"})

	if !strings.Contains(logBuf.String(), "publish event") {
		t.Fatalf("failure not logged: %q", logBuf.String())
	}
}

func TestSplitCommaList(t *testing.T) {
	got := SplitCommaList(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
	if SplitCommaList("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
}
