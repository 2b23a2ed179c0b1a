package paystackwebhook

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// EventType is the Paystack "event" discriminator.
type EventType string

const (
	EventChargeSuccess        EventType = "charge.success"
	EventSubscriptionCreate   EventType = "subscription.create"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionNotRenew EventType = "subscription.not_renew"
	EventSubscriptionDisable  EventType = "subscription.disable"
)

// Event is one decoded delivery.
type Event interface {
	Type() EventType
}

// Customer is the customer block Paystack embeds in most payloads.
type Customer struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

// PlanRef identifies a Paystack plan. Paystack sends an empty object, an
// empty string or null when a charge has no plan.
type PlanRef struct {
	PlanCode string `json:"plan_code"`
	Interval string `json:"interval"`
}

func (p *PlanRef) UnmarshalJSON(data []byte) error {
	type plain PlanRef
	var decoded plain
	ok, err := decodeLenient(data, &decoded)
	if err != nil || !ok {
		return err
	}
	*p = PlanRef(decoded)
	return nil
}

// SubscriptionRef is the subscription block of charge and invoice payloads.
type SubscriptionRef struct {
	SubscriptionCode string     `json:"subscription_code"`
	EmailToken       string     `json:"email_token"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
}

func (s *SubscriptionRef) UnmarshalJSON(data []byte) error {
	type plain SubscriptionRef
	var decoded plain
	ok, err := decodeLenient(data, &decoded)
	if err != nil || !ok {
		return err
	}
	*s = SubscriptionRef(decoded)
	return nil
}

// ChargeMetadata is the metadata attached at checkout.
type ChargeMetadata struct {
	UserID string `json:"userId"`
	TierID string `json:"tierId"`
}

func (m *ChargeMetadata) UnmarshalJSON(data []byte) error {
	type plain ChargeMetadata
	var decoded plain
	ok, err := decodeLenient(data, &decoded)
	if err != nil || !ok {
		return err
	}
	*m = ChargeMetadata(decoded)
	return nil
}

// ChargeSuccess is a settled charge, either a checkout or a renewal.
type ChargeSuccess struct {
	Reference    string          `json:"reference"`
	AmountKobo   int64           `json:"amount"`
	Currency     string          `json:"currency"`
	Customer     Customer        `json:"customer"`
	Plan         PlanRef         `json:"plan"`
	Subscription SubscriptionRef `json:"subscription"`
	Metadata     ChargeMetadata  `json:"metadata"`
}

func (ChargeSuccess) Type() EventType { return EventChargeSuccess }

// SubscriptionCreate announces a new provider-managed subscription.
type SubscriptionCreate struct {
	SubscriptionCode string     `json:"subscription_code"`
	EmailToken       string     `json:"email_token"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
	AmountKobo       int64      `json:"amount"`
	Plan             PlanRef    `json:"plan"`
	Customer         Customer   `json:"customer"`
}

func (SubscriptionCreate) Type() EventType { return EventSubscriptionCreate }

// InvoicePaymentFailed reports a failed recurring charge.
type InvoicePaymentFailed struct {
	InvoiceCode  string          `json:"invoice_code"`
	AmountKobo   int64           `json:"amount"`
	Currency     string          `json:"currency"`
	Subscription SubscriptionRef `json:"subscription"`
	Plan         PlanRef         `json:"plan"`
	Customer     Customer        `json:"customer"`
}

func (InvoicePaymentFailed) Type() EventType { return EventInvoicePaymentFailed }

// SubscriptionNotRenew says Paystack will stop charging at the period end.
type SubscriptionNotRenew struct {
	SubscriptionCode string     `json:"subscription_code"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
	Customer         Customer   `json:"customer"`
}

func (SubscriptionNotRenew) Type() EventType { return EventSubscriptionNotRenew }

// SubscriptionDisable is an explicit provider-side cancellation.
type SubscriptionDisable struct {
	SubscriptionCode string   `json:"subscription_code"`
	Customer         Customer `json:"customer"`
}

func (SubscriptionDisable) Type() EventType { return EventSubscriptionDisable }

// UnhandledEvent carries event names the reconciler does not act on.
type UnhandledEvent struct {
	Name string
}

func (u UnhandledEvent) Type() EventType { return EventType(u.Name) }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes a webhook body. Bodies that are not JSON, lack an event
// name or lack an object data block fail with CodeValidation.
func ParseEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload has no event")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload has no data object").
			WithDetails(map[string]any{"event": name})
	}

	switch EventType(name) {
	case EventChargeSuccess:
		return decode[ChargeSuccess](name, data)
	case EventSubscriptionCreate:
		return decode[SubscriptionCreate](name, data)
	case EventInvoicePaymentFailed:
		return decode[InvoicePaymentFailed](name, data)
	case EventSubscriptionNotRenew:
		return decode[SubscriptionNotRenew](name, data)
	case EventSubscriptionDisable:
		return decode[SubscriptionDisable](name, data)
	default:
		return UnhandledEvent{Name: name}, nil
	}
}

func decode[E Event](name string, data []byte) (Event, error) {
	var event E
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed "+name+" data").
			WithDetails(map[string]any{"event": name})
	}
	return event, nil
}

// decodeLenient decodes objects into out and treats null, strings and empty
// values as absent.
func decodeLenient(data []byte, out any) (bool, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

// koboToMajor converts a minor-unit amount to the ledger's decimal amount.
func koboToMajor(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}
