package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository reads and maintains tiers and their plans.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListTiers(ctx context.Context) ([]models.Tier, error)
	FindTierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
	FindTierByName(ctx context.Context, name enums.TierName) (*models.Tier, error)
	FindPlan(ctx context.Context, tierID uuid.UUID, duration enums.BillingDuration) (*models.Plan, error)
	FindPlanByExternalCode(ctx context.Context, code string) (*models.Plan, error)
	CreateTier(ctx context.Context, tier *models.Tier) error
	SaveTier(ctx context.Context, tier *models.Tier) error
	SavePlan(ctx context.Context, plan *models.Plan) error
	DeleteTier(ctx context.Context, id uuid.UUID) error
	CountSubscriptions(ctx context.Context, tierID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListTiers(ctx context.Context) ([]models.Tier, error) {
	var tiers []models.Tier
	err := r.db.WithContext(ctx).
		Preload("Plans", func(db *gorm.DB) *gorm.DB { return db.Order("duration ASC") }).
		Order("rank ASC, name ASC").
		Find(&tiers).Error
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repository) FindTierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	return r.findTier(ctx, "id = ?", id)
}

func (r *repository) FindTierByName(ctx context.Context, name enums.TierName) (*models.Tier, error) {
	return r.findTier(ctx, "name = ?", name)
}

func (r *repository) findTier(ctx context.Context, where string, arg any) (*models.Tier, error) {
	var tier models.Tier
	err := r.db.WithContext(ctx).
		Preload("Plans", func(db *gorm.DB) *gorm.DB { return db.Order("duration ASC") }).
		Where(where, arg).
		First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repository) FindPlan(ctx context.Context, tierID uuid.UUID, duration enums.BillingDuration) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.WithContext(ctx).
		Where("tier_id = ? AND duration = ?", tierID, duration).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPlanByExternalCode(ctx context.Context, code string) (*models.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("external_plan_code = ?", code).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) CreateTier(ctx context.Context, tier *models.Tier) error {
	return r.db.WithContext(ctx).Create(tier).Error
}

func (r *repository) SaveTier(ctx context.Context, tier *models.Tier) error {
	return r.db.WithContext(ctx).Omit("Plans").Save(tier).Error
}

func (r *repository) SavePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *repository) DeleteTier(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("tier_id = ?", id).Delete(&models.Plan{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Tier{}).Error
}

func (r *repository) CountSubscriptions(ctx context.Context, tierID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("tier_id = ?", tierID).Count(&count).Error
	return count, err
}
