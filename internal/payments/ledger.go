package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger records payment attempts. References are globally unique, and
// terminal rows never change status.
type Ledger struct {
	db       *gorm.DB
	currency string
}

// NewLedger binds the ledger to db. Currency is applied to rows recorded
// without one.
func NewLedger(db *gorm.DB, currency string) *Ledger {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "NGN"
	}
	return &Ledger{db: db, currency: currency}
}

// WithTx returns a ledger bound to tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx, currency: l.currency}
}

// PendingParams describes a checkout attempt awaiting the provider.
type PendingParams struct {
	UserID    uuid.UUID
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Provider  enums.PaymentProvider
	Purpose   enums.PaymentPurpose
}

// RecordPending inserts a PENDING row. An existing reference is a conflict.
func (l *Ledger) RecordPending(ctx context.Context, params PendingParams) (*models.Payment, error) {
	payment, err := l.build(params.UserID, params.Reference, params.Amount, params.Currency, params.Provider, params.Purpose, enums.PaymentStatusPending, nil)
	if err != nil {
		return nil, err
	}
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(payment)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "record pending payment")
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "duplicate payment reference").
			WithDetails(map[string]any{"reference": payment.Reference})
	}
	return payment, nil
}

// RecordParams describes a payment known only once it has settled.
type RecordParams struct {
	UserID         uuid.UUID
	SubscriptionID *uuid.UUID
	Reference      string
	Amount         decimal.Decimal
	Currency       string
	Provider       enums.PaymentProvider
	Purpose        enums.PaymentPurpose
	Status         enums.PaymentStatus
}

// RecordTerminal inserts a SUCCESS or FAILED row. When the reference already
// exists the stored row is returned with created false.
func (l *Ledger) RecordTerminal(ctx context.Context, params RecordParams) (*models.Payment, bool, error) {
	if !params.Status.IsTerminal() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "terminal status required")
	}
	payment, err := l.build(params.UserID, params.Reference, params.Amount, params.Currency, params.Provider, params.Purpose, params.Status, params.SubscriptionID)
	if err != nil {
		return nil, false, err
	}
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(payment)
	if result.Error != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "record payment")
	}
	if result.RowsAffected > 0 {
		return payment, true, nil
	}
	existing, err := l.FindByReference(ctx, payment.Reference)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeInternal, "payment reference vanished after conflict")
	}
	return existing, false, nil
}

// MarkResult moves a PENDING row to a terminal status. It reports whether a
// transition happened. Re-marking the same status is a no-op that still links
// subscriptionID to an unlinked row.
func (l *Ledger) MarkResult(ctx context.Context, reference string, status enums.PaymentStatus, subscriptionID *uuid.UUID) (*models.Payment, bool, error) {
	if !status.IsTerminal() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "terminal status required")
	}
	reference = strings.TrimSpace(reference)

	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if subscriptionID != nil {
		updates["subscription_id"] = *subscriptionID
	}
	result := l.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("reference = ? AND status = ?", reference, enums.PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "mark payment result")
	}

	payment, err := l.FindByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	if payment == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if result.RowsAffected > 0 {
		return payment, true, nil
	}

	if payment.Status != status {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment already %s", payment.Status)).
			WithDetails(map[string]any{"reference": reference, "status": payment.Status})
	}
	if subscriptionID != nil && payment.SubscriptionID == nil {
		if err := l.LinkToSubscription(ctx, payment.ID, *subscriptionID); err != nil {
			return nil, false, err
		}
		payment.SubscriptionID = subscriptionID
	}
	return payment, false, nil
}

// LinkToSubscription sets the subscription on a payment. Linking the same
// subscription twice is a no-op; relinking to a different one is refused.
func (l *Ledger) LinkToSubscription(ctx context.Context, paymentID, subscriptionID uuid.UUID) error {
	result := l.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND (subscription_id IS NULL OR subscription_id = ?)", paymentID, subscriptionID).
		Updates(map[string]any{"subscription_id": subscriptionID, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "link payment")
	}
	if result.RowsAffected > 0 {
		return nil
	}
	payment, err := l.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is linked to another subscription")
}

// LinkLatestUnlinkedSuccess links the newest unlinked successful subscription
// payment of userID created at or after since. It returns the linked row, or
// nil when none qualified.
func (l *Ledger) LinkLatestUnlinkedSuccess(ctx context.Context, userID, subscriptionID uuid.UUID, since time.Time) (*models.Payment, error) {
	var payment models.Payment
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND subscription_id IS NULL AND status = ? AND purpose = ? AND created_at >= ?",
			userID, enums.PaymentStatusSuccess, enums.PaymentPurposeSubscription, since).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find unlinked payment")
	}
	if err := l.LinkToSubscription(ctx, payment.ID, subscriptionID); err != nil {
		return nil, err
	}
	payment.SubscriptionID = &subscriptionID
	return &payment, nil
}

// FindByReference returns nil, nil for unknown references.
func (l *Ledger) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return l.first(ctx, "reference = ?", strings.TrimSpace(reference))
}

// FindByID returns nil, nil for unknown ids.
func (l *Ledger) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return l.first(ctx, "id = ?", id)
}

func (l *Ledger) first(ctx context.Context, where string, arg any) (*models.Payment, error) {
	var payment models.Payment
	if err := l.db.WithContext(ctx).Where(where, arg).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &payment, nil
}

// ListQuery filters payment listings.
type ListQuery struct {
	UserID   *uuid.UUID
	Status   *enums.PaymentStatus
	Provider *enums.PaymentProvider
	Purpose  *enums.PaymentPurpose
	Limit    int
	Cursor   string
}

// List pages payments newest first.
func (l *Ledger) List(ctx context.Context, query ListQuery) (pagination.Page[models.Payment], error) {
	cursor, err := pagination.ParseCursor(query.Cursor)
	if err != nil {
		return pagination.Page[models.Payment]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q := l.db.WithContext(ctx).Model(&models.Payment{})
	if query.UserID != nil {
		q = q.Where("user_id = ?", *query.UserID)
	}
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Provider != nil {
		q = q.Where("provider = ?", *query.Provider)
	}
	if query.Purpose != nil {
		q = q.Where("purpose = ?", *query.Purpose)
	}
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Payment
	if err := q.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(query.Limit)).Find(&rows).Error; err != nil {
		return pagination.Page[models.Payment]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return pagination.BuildPage(rows, query.Limit, func(p models.Payment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	}), nil
}

func (l *Ledger) build(userID uuid.UUID, reference string, amount decimal.Decimal, currency string, provider enums.PaymentProvider, purpose enums.PaymentPurpose, status enums.PaymentStatus, subscriptionID *uuid.UUID) (*models.Payment, error) {
	reference = strings.TrimSpace(reference)
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	if provider == "" {
		provider = enums.PaymentProviderPaystack
	}
	if !provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment provider")
	}
	if purpose == "" {
		purpose = enums.PaymentPurposeSubscription
	}
	if !purpose.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment purpose")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = l.currency
	}
	return &models.Payment{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Reference:      reference,
		Amount:         amount,
		Currency:       currency,
		Provider:       provider,
		Purpose:        purpose,
		Status:         status,
	}, nil
}
