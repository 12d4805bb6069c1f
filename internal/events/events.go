package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-autograder-api/internal/models"
	"github.com/noah-isme/gema-autograder-api/internal/observability"
)

const (
	subjectSubmissionReceived = "submissions.received"
	subjectSubmissionStatus   = "submissions.status"
	subjectInvitationRejected = "groups.invitation_rejected"
)

// Conn is the subset of *nats.Conn the bus relies on.
type Conn interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// SubmissionEvent announces a submission entering or moving through grading.
type SubmissionEvent struct {
	ID            string                  `json:"id"`
	Source        string                  `json:"source"`
	SubmissionID  uint                    `json:"submission_id"`
	GroupID       uint                    `json:"group_id"`
	ProjectID     uint                    `json:"project_id"`
	Status        models.SubmissionStatus `json:"status"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

// InvitationEvent tells the users of a rejected invitation what happened.
type InvitationEvent struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	InvitationID  uint      `json:"invitation_id"`
	ProjectID     uint      `json:"project_id"`
	RejectedBy    uint      `json:"rejected_by"`
	UserIDs       []uint    `json:"user_ids"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Bus publishes autograder events on NATS. A Bus without a connection drops
// events, which keeps the API usable when no broker is configured.
type Bus struct {
	conn   Conn
	prefix string
	nodeID string
	logger zerolog.Logger
	now    func() time.Time
}

// NewBus builds a bus publishing under prefix. Colons in the prefix are
// turned into subject separators.
func NewBus(conn Conn, prefix string, logger zerolog.Logger) *Bus {
	prefix = strings.Trim(strings.ReplaceAll(prefix, ":", "."), ".")
	if prefix == "" {
		prefix = "autograder"
	}

	return &Bus{
		conn:   conn,
		prefix: prefix,
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "event_bus").Logger(),
		now:    time.Now,
	}
}

// Subject returns the fully qualified subject for name.
func (b *Bus) Subject(name string) string {
	return b.prefix + "." + name
}

// SubmissionReceived queues a submission for grading.
func (b *Bus) SubmissionReceived(ctx context.Context, event SubmissionEvent) error {
	if b == nil {
		return nil
	}
	return b.publish(ctx, subjectSubmissionReceived, b.stampSubmission(ctx, event))
}

// SubmissionStatusChanged announces a status transition.
func (b *Bus) SubmissionStatusChanged(ctx context.Context, event SubmissionEvent) error {
	if b == nil {
		return nil
	}
	return b.publish(ctx, subjectSubmissionStatus, b.stampSubmission(ctx, event))
}

// InvitationRejected notifies everyone on a withdrawn or declined invitation.
func (b *Bus) InvitationRejected(ctx context.Context, event InvitationEvent) error {
	if b == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Source = b.nodeID
	if event.CorrelationID == "" {
		event.CorrelationID = observability.CorrelationID(ctx)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}
	return b.publish(ctx, subjectInvitationRejected, event)
}

// ConsumeSubmissions delivers received submissions to handler, load balanced
// across every consumer sharing queue. The subscription drains when ctx ends.
func (b *Bus) ConsumeSubmissions(ctx context.Context, queue string, handler func(context.Context, SubmissionEvent)) error {
	if b == nil || b.conn == nil {
		return errors.New("nats connection is not configured")
	}

	sub, err := b.conn.QueueSubscribe(b.Subject(subjectSubmissionReceived), queue, func(msg *nats.Msg) {
		var event SubmissionEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn().Err(err).Msg("invalid submission event payload")
			return
		}
		handler(observability.WithCorrelationID(ctx, event.CorrelationID), event)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain submission subscription")
		}
	}()

	return nil
}

func (b *Bus) stampSubmission(ctx context.Context, event SubmissionEvent) SubmissionEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Source = b.nodeID
	if event.CorrelationID == "" {
		event.CorrelationID = observability.CorrelationID(ctx)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}
	return event
}

func (b *Bus) publish(ctx context.Context, name string, event interface{}) error {
	if b.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := b.Subject(name)
	if err := b.conn.Publish(subject, payload); err != nil {
		return err
	}

	b.logger.Debug().Str("subject", subject).Msg("event published")
	return nil
}
