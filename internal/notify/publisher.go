package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"slotline/backend/internal/domain"
)

// Publisher emits booking lifecycle events to Kafka for the notification
// pipeline (delivery itself lives in a separate service). Publishing is
// fire-and-forget relative to the booking transaction: the appointment is
// already committed by the time an event is written.
type Publisher struct {
	writer *kafka.Writer
	topic  string
	log    *slog.Logger
}

type Config struct {
	Brokers string
	Topic   string
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewPublisher returns nil when no brokers are configured; callers treat a
// nil publisher as notifications disabled.
func NewPublisher(cfg Config, log *slog.Logger) *Publisher {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = "booking.confirmed"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
		log:   log.With(slog.String("component", "notify")),
	}
}

type bookingEvent struct {
	AppointmentID string    `json:"appointment_id"`
	StaffID       string    `json:"staff_id"`
	CustomerID    string    `json:"customer_id"`
	ServiceID     string    `json:"service_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
}

func (p *Publisher) BookingConfirmed(ctx context.Context, appt domain.Appointment) error {
	payload, err := json.Marshal(bookingEvent{
		AppointmentID: appt.ID.String(),
		StaffID:       appt.StaffID.String(),
		CustomerID:    appt.CustomerID,
		ServiceID:     appt.ServiceID.String(),
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Status:        string(appt.Status),
	})
	if err != nil {
		return err
	}

	// Keyed by staff so one calendar's events stay ordered per partition.
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(appt.StaffID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(p.topic)},
			{Key: "event_id", Value: []byte(appt.ID.String())},
		},
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
