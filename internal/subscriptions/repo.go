package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/pagination"
	"gorm.io/gorm"
)

// Repository handles subscription persistence. Lookups return nil, nil when
// nothing matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindActive(ctx context.Context, agentID uuid.UUID) (*models.Subscription, error)
	ListActive(ctx context.Context, agentID uuid.UUID) ([]models.Subscription, error)
	FindByExternalCode(ctx context.Context, code string) (*models.Subscription, error)
	FindActiveByPlanCode(ctx context.Context, agentID uuid.UUID, planCode string) (*models.Subscription, error)
	ListForAgent(ctx context.Context, agentID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, error)
	ListDueForExpiry(ctx context.Context, now time.Time, after *pagination.Cursor, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscriptions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindActive(ctx context.Context, agentID uuid.UUID) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).
		Where("agent_id = ? AND is_active = ?", agentID, true).
		Order("created_at DESC"))
}

func (r *repository) ListActive(ctx context.Context, agentID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("agent_id = ? AND is_active = ?", agentID, true).
		Order("created_at ASC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) FindByExternalCode(ctx context.Context, code string) (*models.Subscription, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("external_subscription_code = ?", code))
}

func (r *repository) FindActiveByPlanCode(ctx context.Context, agentID uuid.UUID, planCode string) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).
		Where("agent_id = ? AND is_active = ? AND external_plan_code = ?", agentID, true, planCode).
		Order("created_at DESC"))
}

func (r *repository) ListForAgent(ctx context.Context, agentID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, error) {
	query := r.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var subs []models.Subscription
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListDueForExpiry(ctx context.Context, now time.Time, after *pagination.Cursor, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	query := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("(grace_period_end_date IS NOT NULL AND grace_period_end_date <= ?) OR (end_date IS NOT NULL AND end_date <= ?)", now, now)
	if after != nil {
		query = query.Where("(created_at, id) > (?, ?)", after.CreatedAt, after.ID)
	}
	var subs []models.Subscription
	err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) first(query *gorm.DB) (*models.Subscription, error) {
	var sub models.Subscription
	if err := query.First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
