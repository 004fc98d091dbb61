// Package notify implements auth.Notifier sinks for one-time passcodes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"gatehouse.dev/internal/auth"
)

// LogNotifier writes deliveries to a logger. The code itself is only logged
// at debug level.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) DeliverOTP(ctx context.Context, d auth.OTPDelivery) error {
	n.log.InfoContext(ctx, "otp issued",
		"user_id", d.UserID,
		"reference", d.Reference,
		"expires_at", d.ExpiresAt,
		"resend", d.Resend,
	)
	n.log.DebugContext(ctx, "otp code", "reference", d.Reference, "code", d.Code)
	return nil
}

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OTPEvent is the message body published for each delivery. Downstream
// mailers render it into an email or SMS.
type OTPEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Reference string    `json:"reference"`
	Code      int       `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Resend    bool      `json:"resend"`
}

const (
	eventOTPIssued  = "otp.issued"
	eventOTPResent  = "otp.resent"
	publishTimeout  = 5 * time.Second
	writeBatchDelay = 10 * time.Millisecond
)

// KafkaNotifier publishes OTP events keyed by user id.
type KafkaNotifier struct {
	w       MessageWriter
	timeout time.Duration
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           writeBatchDelay,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{w: w, timeout: publishTimeout}
}

func (n *KafkaNotifier) DeliverOTP(ctx context.Context, d auth.OTPDelivery) error {
	ev := OTPEvent{
		Type:      eventOTPIssued,
		UserID:    d.UserID,
		Email:     d.Email,
		Phone:     d.Phone,
		Reference: d.Reference,
		Code:      d.Code,
		ExpiresAt: d.ExpiresAt.UTC(),
		Resend:    d.Resend,
	}
	if d.Resend {
		ev.Type = eventOTPResent
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode otp event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.w.WriteMessages(ctx, kafka.Message{Key: []byte(d.UserID), Value: data}); err != nil {
		return fmt.Errorf("notify: publish otp event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error { return n.w.Close() }

// Fanout delivers to every notifier and reports the first failure.
type Fanout []auth.Notifier

func (f Fanout) DeliverOTP(ctx context.Context, d auth.OTPDelivery) error {
	var first error
	for _, n := range f {
		if err := n.DeliverOTP(ctx, d); err != nil && first == nil {
			first = err
		}
	}
	return first
}
