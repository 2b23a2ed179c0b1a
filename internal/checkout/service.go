package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/settla/settla-backend/internal/activity"
	"github.com/settla/settla-backend/internal/payments"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/paystack"
	"github.com/shopspring/decimal"
)

const (
	rateLimitWindow  = time.Minute
	defaultPerMinute = 10
	referencePrefix  = "chk"
)

var koboPerNaira = decimal.NewFromInt(100)

type planResolver interface {
	PlanFor(ctx context.Context, tierID uuid.UUID, duration enums.BillingDuration) (*models.Plan, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type transactionInitializer interface {
	InitializeTransaction(ctx context.Context, params paystack.InitializeTransactionParams) (*paystack.InitializeTransactionResult, error)
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// InitializeInput is the agent's checkout request.
type InitializeInput struct {
	TierID        uuid.UUID `json:"tier_id" validate:"required"`
	BillingPeriod string    `json:"billing_period" validate:"required"`
	Reference     string    `json:"reference" validate:"omitempty,max=100"`
}

// InitializeResult is what the client needs to redirect to Paystack.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Service starts hosted checkouts for paid plans.
type Service interface {
	Initialize(ctx context.Context, agentID uuid.UUID, input InitializeInput) (*InitializeResult, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Plans        planResolver
	Users        userLookup
	Payments     *payments.Ledger
	Provider     transactionInitializer
	Limiter      rateLimiter
	Activity     activity.Recorder
	Logger       *logger.Logger
	CallbackURL  string
	PerMinute    int
	Now          func() time.Time
	NewReference func(now time.Time) string
}

type service struct {
	plans        planResolver
	users        userLookup
	payments     *payments.Ledger
	provider     transactionInitializer
	limiter      rateLimiter
	activity     activity.Recorder
	logg         *logger.Logger
	callbackURL  string
	perMinute    int64
	now          func() time.Time
	newReference func(now time.Time) string
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Plans == nil {
		return nil, fmt.Errorf("plan resolver required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user lookup required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	if params.Activity == nil {
		return nil, fmt.Errorf("activity recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	perMinute := params.PerMinute
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newReference := params.NewReference
	if newReference == nil {
		newReference = generateReference
	}
	return &service{
		plans:        params.Plans,
		users:        params.Users,
		payments:     params.Payments,
		provider:     params.Provider,
		limiter:      params.Limiter,
		activity:     params.Activity,
		logg:         params.Logger,
		callbackURL:  strings.TrimSpace(params.CallbackURL),
		perMinute:    int64(perMinute),
		now:          now,
		newReference: newReference,
	}, nil
}

func (s *service) Initialize(ctx context.Context, agentID uuid.UUID, input InitializeInput) (*InitializeResult, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if input.TierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier_id is required")
	}
	duration, err := enums.ParseBillingDuration(input.BillingPeriod)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing_period")
	}
	if err := s.allow(ctx, agentID); err != nil {
		return nil, err
	}

	plan, err := s.plans.PlanFor(ctx, input.TierID, duration)
	if err != nil {
		return nil, err
	}
	if plan.ExternalPlanCode == nil || strings.TrimSpace(*plan.ExternalPlanCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is not available for online payment")
	}
	amountKobo := plan.Price.Mul(koboPerNaira).Round(0).IntPart()
	if amountKobo <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan has no price")
	}

	agent, err := s.users.FindByID(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
	}
	if agent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}

	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		reference = s.newReference(s.now())
	}

	payment, err := s.payments.RecordPending(ctx, payments.PendingParams{
		UserID:    agentID,
		Reference: reference,
		Amount:    plan.Price,
		Currency:  plan.Currency,
		Provider:  enums.PaymentProviderPaystack,
		Purpose:   enums.PaymentPurposeSubscription,
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"agent_id":  agentID.String(),
		"reference": reference,
		"plan_code": *plan.ExternalPlanCode,
	})
	result, err := s.provider.InitializeTransaction(ctx, paystack.InitializeTransactionParams{
		Email:       agent.Email,
		AmountKobo:  amountKobo,
		Reference:   reference,
		PlanCode:    *plan.ExternalPlanCode,
		Currency:    payment.Currency,
		CallbackURL: s.callbackURL,
		Metadata: map[string]any{
			"userId": agentID.String(),
			"tierId": plan.TierID.String(),
		},
	})
	if err != nil {
		s.logg.Error(ctx, "checkout.initialize.provider_failed", err)
		if _, _, markErr := s.payments.MarkResult(ctx, reference, enums.PaymentStatusFailed, nil); markErr != nil {
			s.logg.Error(ctx, "checkout.initialize.mark_failed", markErr)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initialize paystack transaction")
	}

	actor := agentID
	s.activity.Record(ctx, activity.Entry{
		Category:    enums.ActivityCategoryUserAction,
		Action:      enums.ActivityInitializeTransaction,
		Description: fmt.Sprintf("Checkout started for %s plan", duration.Lower()),
		ActorID:     &actor,
		Metadata: map[string]any{
			"reference": reference,
			"tier_id":   plan.TierID.String(),
			"plan_id":   plan.ID.String(),
			"amount":    plan.Price.StringFixed(2),
		},
	})
	s.logg.Info(ctx, "checkout.initialize.started")

	return &InitializeResult{
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		Reference:        reference,
	}, nil
}

func (s *service) allow(ctx context.Context, agentID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	ok, count, err := s.limiter.FixedWindowAllow(ctx, "checkout:"+agentID.String(), s.perMinute, rateLimitWindow)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "agent_id", agentID.String()), "checkout.rate_limit.unavailable")
		return nil
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many checkout attempts, try again shortly").
			WithDetails(map[string]any{"limit": s.perMinute, "count": count})
	}
	return nil
}

// generateReference returns chk_<unixms>_<random hex>.
func generateReference(now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", referencePrefix, now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}
