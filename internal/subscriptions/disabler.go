package subscriptions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/logger"
	"go.uber.org/multierr"
)

const defaultDisableTimeout = 30 * time.Second

// ProviderClient cancels recurring billing at the payment provider.
type ProviderClient interface {
	DisableSubscription(ctx context.Context, code, emailToken string) error
}

// Disabler asks the provider to stop billing for replaced or expired rows.
// Calls run after the ledger commit and never fail the caller.
type Disabler struct {
	client  ProviderClient
	logg    *logger.Logger
	timeout time.Duration
	async   bool
	wg      sync.WaitGroup
}

// DisablerParams configures a Disabler. Async false runs calls inline.
type DisablerParams struct {
	Client  ProviderClient
	Logger  *logger.Logger
	Timeout time.Duration
	Async   bool
}

// NewDisabler builds a Disabler. A nil client turns every call into a no-op.
func NewDisabler(params DisablerParams) *Disabler {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultDisableTimeout
	}
	return &Disabler{
		client:  params.Client,
		logg:    params.Logger,
		timeout: timeout,
		async:   params.Async,
	}
}

// DisableAll disables every provider-managed row in subs.
func (d *Disabler) DisableAll(ctx context.Context, subs []models.Subscription) {
	if d == nil || d.client == nil {
		return
	}
	targets := make([]models.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.ProviderManaged() {
			targets = append(targets, sub)
		}
	}
	if len(targets) == 0 {
		return
	}

	run := func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		var errs error
		for _, sub := range targets {
			if err := d.client.DisableSubscription(callCtx, *sub.ExternalSubscriptionCode, *sub.EmailToken); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("disable %s: %w", *sub.ExternalSubscriptionCode, err))
			}
		}
		if errs != nil && d.logg != nil {
			d.logg.Error(d.logg.WithField(ctx, "count", len(multierr.Errors(errs))), "subscriptions.provider_disable.failed", errs)
		}
	}

	if !d.async {
		run()
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run()
	}()
}

// Wait blocks until in-flight async calls finish.
func (d *Disabler) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
