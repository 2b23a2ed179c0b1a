package listings

import (
	"context"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository persists agent listings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	CountByAgent(ctx context.Context, agentID uuid.UUID) (int64, error)
	CountOwned(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) (int64, error)
	ReplaceFeatured(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error
	ListFeatured(ctx context.Context, agentID uuid.UUID) ([]models.Listing, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a listings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *repository) CountByAgent(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Listing{}).Where("agent_id = ?", agentID).Count(&count).Error
	return count, err
}

func (r *repository) CountOwned(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("agent_id = ? AND id IN ?", agentID, ids).
		Count(&count).Error
	return count, err
}

func (r *repository) ReplaceFeatured(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	if err := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("agent_id = ? AND is_featured = ?", agentID, true).
		Update("is_featured", false).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("agent_id = ? AND id IN ?", agentID, ids).
		Update("is_featured", true).Error
}

func (r *repository) ListFeatured(ctx context.Context, agentID uuid.UUID) ([]models.Listing, error) {
	var rows []models.Listing
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND is_featured = ?", agentID, true).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
