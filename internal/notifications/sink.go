package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pubsub"
)

// Notifier is the port billing uses to tell a user something happened.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, title, message string)
}

// EmailPublisher hands email requests to the mailer.
type EmailPublisher interface {
	PublishEmail(ctx context.Context, req pubsub.EmailRequest) error
}

type userLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SinkParams groups dependencies for the notification sink.
type SinkParams struct {
	Repo   Repository
	Users  userLookup
	Email  EmailPublisher
	Logger *logger.Logger
}

// Sink writes an inbox row and, when an email publisher is configured, an
// email request. Nothing is returned to the caller.
type Sink struct {
	repo  Repository
	users userLookup
	email EmailPublisher
	logg  *logger.Logger
}

// NewSink validates params. Email and Users are optional together.
func NewSink(params SinkParams) (*Sink, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.Email != nil && params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user lookup required for email delivery")
	}
	return &Sink{
		repo:  params.Repo,
		users: params.Users,
		email: params.Email,
		logg:  params.Logger,
	}, nil
}

func (s *Sink) Notify(ctx context.Context, recipientID uuid.UUID, title, message string) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"recipient_id": recipientID.String(),
		"title":        title,
	})
	if recipientID == uuid.Nil {
		s.logg.Warn(logCtx, "notifications.notify.missing_recipient")
		return
	}

	row := &models.Notification{UserID: recipientID, Title: title, Message: message}
	if err := s.repo.Create(ctx, row); err != nil {
		s.logg.Error(logCtx, "notifications.notify.persist_failed", err)
	}

	if s.email == nil {
		return
	}
	user, err := s.users.FindByID(ctx, recipientID)
	if err != nil {
		s.logg.Error(logCtx, "notifications.notify.lookup_failed", err)
		return
	}
	if user == nil {
		s.logg.Warn(logCtx, "notifications.notify.unknown_recipient")
		return
	}
	req := pubsub.EmailRequest{
		To:      user.Email,
		Name:    strings.TrimSpace(user.FirstName + " " + user.LastName),
		Subject: title,
		Body:    message,
	}
	if err := s.email.PublishEmail(ctx, req); err != nil {
		s.logg.Error(logCtx, "notifications.notify.email_failed", err)
	}
}
