package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerRepository maps Paystack customer codes to users.
type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *CustomerRepository) WithTx(tx *gorm.DB) *CustomerRepository {
	if tx == nil {
		return r
	}
	return &CustomerRepository{db: tx}
}

// Upsert points customerCode at userID. Blank codes are ignored.
func (r *CustomerRepository) Upsert(ctx context.Context, userID uuid.UUID, customerCode string) error {
	customerCode = strings.TrimSpace(customerCode)
	if customerCode == "" || userID == uuid.Nil {
		return nil
	}
	row := models.PaystackCustomer{UserID: userID, CustomerCode: customerCode}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "customer_code"}},
			DoUpdates: clause.Assignments(map[string]any{
				"user_id":    userID,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(&row).Error
}

// FindUserID resolves a customer code to the owning user id.
func (r *CustomerRepository) FindUserID(ctx context.Context, customerCode string) (*uuid.UUID, error) {
	customerCode = strings.TrimSpace(customerCode)
	if customerCode == "" {
		return nil, nil
	}
	var row models.PaystackCustomer
	if err := r.db.WithContext(ctx).Where("customer_code = ?", customerCode).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row.UserID, nil
}
