package activity

import (
	"context"

	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"github.com/settla/settla-backend/pkg/pagination"
	"gorm.io/gorm"
)

// Repository persists activity log rows.
type Repository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, query ListQuery) ([]models.ActivityLog, error)
}

// ListQuery filters the activity log. Limit already includes the lookahead row.
type ListQuery struct {
	Category *enums.ActivityCategory
	Action   *enums.ActivityAction
	Limit    int
	Cursor   *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an activity repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.ActivityLog, error) {
	q := r.db.WithContext(ctx).Model(&models.ActivityLog{})
	if query.Category != nil {
		q = q.Where("category = ?", *query.Category)
	}
	if query.Action != nil {
		q = q.Where("action = ?", *query.Action)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}
	var rows []models.ActivityLog
	if err := q.Order("created_at DESC, id DESC").Limit(query.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
