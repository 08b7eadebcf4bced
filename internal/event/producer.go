package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/edufelip/meer-api/internal/domain"
	pkgkafka "github.com/edufelip/meer-api/pkg/kafka"
	"github.com/edufelip/meer-api/pkg/logger"
)

// Topics written by this service.
var (
	// TopicUserRegistered receives an event for every account created.
	TopicUserRegistered = pkgkafka.Topic("user", "registered")
	// TopicPasswordResetRequested is consumed by the mailer that owns the
	// reset link.
	TopicPasswordResetRequested = pkgkafka.Topic("user", "password_reset_requested")
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "meer-auth"

// Registration providers.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderApple    = "apple"
)

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// PasswordResetRequestedData is the payload for a
// user.password_reset_requested event.
type PasswordResetRequestedData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Publisher abstracts the Kafka producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishUserRegistered publishes a user.registered event for user.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User, provider string) error {
	id := strconv.FormatInt(user.ID, 10)
	data := UserRegisteredData{
		ID:       id,
		Email:    user.Email,
		Name:     user.DisplayName,
		Provider: provider,
	}

	event, err := pkgkafka.NewEvent(TopicUserRegistered, id, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.registered event: %w", err)
	}
	event.WithMetadata("provider", provider)

	if err := p.publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.registered event",
		slog.String("user_id", id),
		slog.String("provider", provider),
	)
	return nil
}

// PublishPasswordResetRequested publishes a user.password_reset_requested
// event for user.
func (p *Producer) PublishPasswordResetRequested(ctx context.Context, user *domain.User) error {
	id := strconv.FormatInt(user.ID, 10)
	data := PasswordResetRequestedData{
		ID:    id,
		Email: user.Email,
		Name:  user.DisplayName,
	}

	event, err := pkgkafka.NewEvent(TopicPasswordResetRequested, id, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.password_reset_requested event: %w", err)
	}
	if err := p.publish(ctx, TopicPasswordResetRequested, event); err != nil {
		return fmt.Errorf("publish user.password_reset_requested event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.password_reset_requested event", slog.String("user_id", id))
	return nil
}

func (p *Producer) publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		event.WithCorrelationID(cid)
	}
	return p.kafka.Publish(ctx, topic, event)
}

// Discard drops every event. It stands in when no brokers are configured.
type Discard struct{}

// PublishUserRegistered implements the service's event publisher.
func (Discard) PublishUserRegistered(context.Context, *domain.User, string) error { return nil }

// PublishPasswordResetRequested implements the service's event publisher.
func (Discard) PublishPasswordResetRequested(context.Context, *domain.User) error { return nil }
