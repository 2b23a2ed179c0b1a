package activity

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pagination"
)

// Entry is one audit record.
type Entry struct {
	Category    enums.ActivityCategory
	Action      enums.ActivityAction
	Description string
	ActorID     *uuid.UUID
	Metadata    map[string]any
}

// Recorder is the port billing services write audit entries through.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Sink persists entries to activity_logs. Failures are logged and dropped.
type Sink struct {
	repo Repository
	logg *logger.Logger
}

// NewSink wires the activity sink.
func NewSink(repo Repository, logg *logger.Logger) (*Sink, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activity repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Sink{repo: repo, logg: logg}, nil
}

// Record stores entry.
func (s *Sink) Record(ctx context.Context, entry Entry) {
	row := &models.ActivityLog{
		Category:    entry.Category,
		Action:      entry.Action,
		Description: entry.Description,
		ActorID:     entry.ActorID,
	}
	if row.Category == "" {
		row.Category = enums.ActivityCategorySystem
	}
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "action", string(entry.Action)), "activity.metadata_encode_failed", err)
		} else {
			row.Metadata = raw
		}
	}
	if err := s.repo.Create(ctx, row); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "action", string(entry.Action)), "activity.record_failed", err)
	}
}

// ListParams configures an activity page.
type ListParams struct {
	Category string
	Action   string
	Limit    int
	Cursor   string
}

// List returns one page of the activity log, newest first.
func (s *Sink) List(ctx context.Context, params ListParams) (pagination.Page[models.ActivityLog], error) {
	query := ListQuery{Limit: pagination.LimitWithBuffer(params.Limit)}
	if params.Category != "" {
		category := enums.ActivityCategory(params.Category)
		query.Category = &category
	}
	if params.Action != "" {
		action := enums.ActivityAction(params.Action)
		query.Action = &action
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.ActivityLog]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return pagination.Page[models.ActivityLog]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activity")
	}
	return pagination.BuildPage(rows, params.Limit, func(row models.ActivityLog) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}
