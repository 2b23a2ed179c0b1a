package paystack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/settla/settla-backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient("sk_test_123", WithBaseURL(srv.URL), WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	return client
}

func TestInitializeTransactionSendsPayload(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = io.WriteString(w, `{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref-1"}}`)
	})

	result, err := client.InitializeTransaction(context.Background(), InitializeTransactionParams{
		Email:      "agent@settla.test",
		AmountKobo: 500000,
		Reference:  "ref-1",
		PlanCode:   "PLN_premium",
		Metadata:   map[string]any{"userId": "u-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", result.AuthorizationURL)
	assert.Equal(t, "abc", result.AccessCode)
	assert.Equal(t, float64(500000), captured["amount"])
	assert.Equal(t, "PLN_premium", captured["plan"])
	assert.Equal(t, "u-1", captured["metadata"].(map[string]any)["userId"])
}

func TestInitializeTransactionValidatesInput(t *testing.T) {
	client, err := NewClient("sk_test")
	require.NoError(t, err)
	_, err = client.InitializeTransaction(context.Background(), InitializeTransactionParams{Reference: "r", AmountKobo: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = client.InitializeTransaction(context.Background(), InitializeTransactionParams{Email: "a@b.c", Reference: "r"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDisableSubscriptionRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscription/disable", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SUB_1", body["code"])
		assert.Equal(t, "tok", body["token"])
		_, _ = io.WriteString(w, `{"status":true,"message":"Subscription disabled successfully"}`)
	})

	require.NoError(t, client.DisableSubscription(context.Background(), "SUB_1", "tok"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDisableSubscriptionGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.DisableSubscription(context.Background(), "SUB_1", "tok")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Subscription with code not found or already inactive"}`)
	})

	err := client.DisableSubscription(context.Background(), "SUB_1", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already inactive")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStatusFalseIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":false,"message":"nope"}`)
	})
	err := client.DisableSubscription(context.Background(), "SUB_1", "tok")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestNewClientRequiresSecret(t *testing.T) {
	_, err := NewClient("  ")
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	client, err := NewClient("sk_live_secret")
	require.NoError(t, err)
	payload := []byte(`{"event":"charge.success","data":{"reference":"r"}}`)
	signature := Sign(payload, "sk_live_secret")

	assert.True(t, client.VerifySignature(payload, signature))
	assert.True(t, client.VerifySignature(payload, " "+signature+" "))
	assert.False(t, client.VerifySignature(payload, Sign(payload, "other")))
	assert.False(t, client.VerifySignature(append(payload, ' '), signature))
	assert.False(t, client.VerifySignature(payload, ""))
	assert.Len(t, signature, 128)
}
