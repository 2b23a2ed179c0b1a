package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/settla/settla-backend/internal/catalog"
	"github.com/settla/settla-backend/internal/users"
	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/pagination"
	"gorm.io/gorm"
)

const (
	activeIndexName = "subscriptions_one_active_per_agent"

	defaultConflictRetries = 3
	defaultConflictBackoff = 50 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LedgerParams groups dependencies for the subscription ledger.
type LedgerParams struct {
	TransactionRunner txRunner
	Repo              Repository
	Users             *users.Repository
	Tiers             catalog.Repository
	FreeTier          string
	Logger            *logger.Logger
	Now               func() time.Time
	ConflictRetries   int
	ConflictBackoff   time.Duration
}

// Ledger is the authoritative subscription history. Every mutation runs
// under the agent's row lock, so an agent never has two active rows.
type Ledger struct {
	tx       txRunner
	repo     Repository
	users    *users.Repository
	tiers    catalog.Repository
	freeTier enums.TierName
	logg     *logger.Logger
	now      func() time.Time
	retries  uint64
	backoff  time.Duration
}

// NewLedger validates params and builds the ledger.
func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscriptions repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if params.Tiers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	freeTier := enums.TierBasic
	if strings.TrimSpace(params.FreeTier) != "" {
		parsed, err := enums.ParseTierName(params.FreeTier)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid free tier")
		}
		freeTier = parsed
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	retries := defaultConflictRetries
	if params.ConflictRetries > 0 {
		retries = params.ConflictRetries
	}
	backoff := defaultConflictBackoff
	if params.ConflictBackoff > 0 {
		backoff = params.ConflictBackoff
	}
	return &Ledger{
		tx:       params.TransactionRunner,
		repo:     params.Repo,
		users:    params.Users,
		tiers:    params.Tiers,
		freeTier: freeTier,
		logg:     params.Logger,
		now:      now,
		retries:  uint64(retries),
		backoff:  backoff,
	}, nil
}

// FreeTier is the tier agents fall back to.
func (l *Ledger) FreeTier() enums.TierName {
	return l.freeTier
}

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// WithAgentLock runs fn in a transaction holding agentID's row lock. Conflicts
// on the active index, serialization failures and deadlocks restart the whole
// unit of work.
func (l *Ledger) WithAgentLock(ctx context.Context, agentID uuid.UUID, fn func(ctx context.Context, tx *AgentTx) error) error {
	if agentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	attempt := 0
	backoff := retry.WithMaxRetries(l.retries, retry.NewExponential(l.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			agent, err := l.users.WithTx(tx).LockForUpdate(ctx, agentID)
			if err != nil {
				return err
			}
			if agent == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
			}
			return fn(ctx, l.bind(tx, agentID))
		})
		if isLedgerConflict(err) {
			l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
				"agent_id": agentID.String(),
				"attempt":  attempt,
			}), "subscriptions.ledger.conflict_retry")
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if isLedgerConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("subscription ledger conflict after %d attempts", attempt))
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscription ledger transaction")
}

func isLedgerConflict(err error) bool {
	if err == nil || pkgerrors.As(err) != nil {
		return false
	}
	return db.IsUniqueViolation(err, activeIndexName) || db.IsRetryableConflict(err)
}

func (l *Ledger) bind(tx *gorm.DB, agentID uuid.UUID) *AgentTx {
	return &AgentTx{
		AgentID:  agentID,
		tx:       tx,
		repo:     l.repo.WithTx(tx),
		tiers:    l.tiers.WithTx(tx),
		freeTier: l.freeTier,
		now:      l.now(),
	}
}

// Activate makes a new row the agent's only active subscription.
func (l *Ledger) Activate(ctx context.Context, params ActivateParams) (*models.Subscription, error) {
	var created *models.Subscription
	err := l.WithAgentLock(ctx, params.AgentID, func(ctx context.Context, tx *AgentTx) error {
		var err error
		created, err = tx.Activate(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Deactivate clears the active flag. Inactive rows are left untouched.
func (l *Ledger) Deactivate(ctx context.Context, subscriptionID uuid.UUID) error {
	sub, err := l.FindByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if !sub.IsActive {
		return nil
	}
	return l.WithAgentLock(ctx, sub.AgentID, func(ctx context.Context, tx *AgentTx) error {
		current, err := tx.Reload(ctx, sub.ID)
		if err != nil {
			return err
		}
		return tx.Deactivate(ctx, current)
	})
}

// GetActive returns the agent's active row or nil.
func (l *Ledger) GetActive(ctx context.Context, agentID uuid.UUID) (*models.Subscription, error) {
	sub, err := l.repo.FindActive(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	return sub, nil
}

// GetOrProvisionActive returns the active row, granting the free tier when
// the agent has none.
func (l *Ledger) GetOrProvisionActive(ctx context.Context, agentID uuid.UUID) (*models.Subscription, error) {
	active, err := l.GetActive(ctx, agentID)
	if err != nil || active != nil {
		return active, err
	}

	provisioned := false
	err = l.WithAgentLock(ctx, agentID, func(ctx context.Context, tx *AgentTx) error {
		current, err := tx.Active(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			active = current
			return nil
		}
		active, err = tx.ActivateFree(ctx)
		provisioned = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if provisioned {
		l.logg.Info(l.logg.WithAgentID(ctx, agentID.String()), "subscriptions.ledger.free_tier_provisioned")
	}
	return active, nil
}

// FindByExternalSubscriptionCode looks a row up by its provider code.
func (l *Ledger) FindByExternalSubscriptionCode(ctx context.Context, code string) (*models.Subscription, error) {
	sub, err := l.repo.FindByExternalCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by code")
	}
	return sub, nil
}

// FindByID loads one row.
func (l *Ledger) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}

// ListForAgent pages through an agent's history, newest first.
func (l *Ledger) ListForAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params) (pagination.Page[models.Subscription], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Subscription]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := l.repo.ListForAgent(ctx, agentID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return pagination.Page[models.Subscription]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return pagination.BuildPage(rows, params.Limit, func(s models.Subscription) pagination.Cursor {
		return pagination.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	}), nil
}

// ListDueForExpiry returns active rows whose grace period or paid period has
// ended at now, in (created_at, id) ascending order after the given row.
func (l *Ledger) ListDueForExpiry(ctx context.Context, now time.Time, after *pagination.Cursor, limit int) ([]models.Subscription, error) {
	rows, err := l.repo.ListDueForExpiry(ctx, now, after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions due for expiry")
	}
	return rows, nil
}
