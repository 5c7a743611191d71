package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/secrets"
	"github.com/huangang/backoffice/backend/internal/settings"
)

func TestSettingsService_UpsertRejectsOutOfBounds(t *testing.T) {
	db := newTestDB(t)
	svc := newTestSettings(t, db)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes, &UpsertSettingRequest{ValueText: strPtr("0")})
	var verr *settings.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "must be >= 1") {
		t.Errorf("unexpected message %q", verr.Error())
	}

	var count int64
	db.Model(&models.DomainSetting{}).Count(&count)
	if count != 0 {
		t.Errorf("failed upsert must not create a row, got %d", count)
	}

	if _, err := svc.Upsert(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes, &UpsertSettingRequest{ValueText: strPtr("30")}); err != nil {
		t.Fatalf("valid upsert error = %v", err)
	}
	if _, err := svc.Upsert(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes, &UpsertSettingRequest{ValueText: strPtr("5000")}); err == nil {
		t.Fatal("expected upper bound rejection")
	}
	row, _ := svc.Get(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes)
	if row.ValueText == nil || *row.ValueText != "30" {
		t.Errorf("rejected upsert must leave row unchanged, got %v", row.ValueText)
	}
}

func TestSettingsService_UnknownKeyListsAllowedKeys(t *testing.T) {
	svc := newTestSettings(t, newTestDB(t))

	_, err := svc.Upsert(context.Background(), settings.DomainBilling, "nope", &UpsertSettingRequest{ValueText: strPtr("x")})
	var verr *settings.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Reason, "provider, currency") {
		t.Errorf("reason should enumerate allowed keys, got %q", verr.Reason)
	}

	if _, err := svc.Store(settings.Domain("people")); err == nil {
		t.Error("unknown domain should be rejected")
	}
}

func TestSettingsService_UpsertRequiresValue(t *testing.T) {
	svc := newTestSettings(t, newTestDB(t))

	_, err := svc.Upsert(context.Background(), settings.DomainAudit, settings.AuditEnabled, &UpsertSettingRequest{})
	var verr *settings.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSettingsService_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	svc := newTestSettings(t, db)
	ctx := context.Background()

	row, err := svc.Upsert(ctx, settings.DomainAudit, settings.AuditEnabled, &UpsertSettingRequest{ValueText: strPtr("YES")})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if row.ValueType != "boolean" || row.ValueText == nil || *row.ValueText != "true" || string(row.ValueJSON) != "true" {
		t.Errorf("boolean should be stored in both columns, got %+v", row)
	}
	if !svc.Bool(ctx, settings.DomainAudit, settings.AuditEnabled) {
		t.Error("stored true should read back as true")
	}

	if _, err := svc.Upsert(ctx, settings.DomainAuth, settings.AuthJWTAlgorithm, &UpsertSettingRequest{ValueText: strPtr("HS256")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if got := svc.String(ctx, settings.DomainAuth, settings.AuthJWTAlgorithm); got != "HS256" {
		t.Errorf("jwt_algorithm = %q, want HS256", got)
	}

	if _, err := svc.Upsert(ctx, settings.DomainBilling, settings.BillingInvoiceSettings, &UpsertSettingRequest{
		ValueJSON: models.JSON(`{"net_days":45,"footer":"thanks"}`),
	}); err != nil {
		t.Fatalf("Upsert(json) error = %v", err)
	}
	v := svc.Value(ctx, settings.DomainBilling, settings.BillingInvoiceSettings)
	if v.Type() != settings.TypeJSON || v.String() != `{"footer":"thanks","net_days":45}` {
		t.Errorf("json round trip = %s", v.String())
	}
}

func TestSettingsService_BestEffortFallsBackToDefault(t *testing.T) {
	db := newTestDB(t)
	svc := newTestSettings(t, db)
	ctx := context.Background()

	if got := svc.Int(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes); got != 60 {
		t.Errorf("missing row should yield default 60, got %d", got)
	}

	// Rows written around the typed path.
	store, _ := svc.Store(settings.DomainAuth)
	if _, err := store.UpsertByKey(ctx, "auth", settings.AuthAccessTTLMinutes, &DomainSettingPayload{
		SetValue: true, ValueText: strPtr("0"),
	}); err != nil {
		t.Fatalf("raw upsert error = %v", err)
	}
	if got := svc.Int(ctx, settings.DomainAuth, settings.AuthAccessTTLMinutes); got != 60 {
		t.Errorf("out-of-bounds row should yield default, got %d", got)
	}

	if _, err := store.UpsertByKey(ctx, "auth", settings.AuthJWTAlgorithm, &DomainSettingPayload{
		SetValue: true, ValueText: strPtr("none"),
	}); err != nil {
		t.Fatalf("raw upsert error = %v", err)
	}
	if got := svc.String(ctx, settings.DomainAuth, settings.AuthJWTAlgorithm); got != "HS256" {
		t.Errorf("disallowed value should yield default, got %q", got)
	}

	values := svc.Values(ctx, settings.DomainAuth)
	if values[settings.AuthAccessTTLMinutes].Int() != 60 || values[settings.AuthRefreshTTLDays].Int() != 7 {
		t.Errorf("Values should default every key, got %v", values)
	}

	if v := svc.Value(ctx, settings.DomainAuth, "unknown"); !v.IsZero() {
		t.Errorf("unknown key should yield zero Value, got %v", v)
	}
}

func TestSettingsService_DeleteAndReactivate(t *testing.T) {
	db := newTestDB(t)
	svc := newTestSettings(t, db)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, settings.DomainBilling, settings.BillingCurrency, &UpsertSettingRequest{ValueText: strPtr("eur")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := svc.Delete(ctx, settings.DomainBilling, settings.BillingCurrency); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(ctx, settings.DomainBilling, settings.BillingCurrency); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key should be not found, got %v", err)
	}
	if got := svc.String(ctx, settings.DomainBilling, settings.BillingCurrency); got != "usd" {
		t.Errorf("deleted key should read as default, got %q", got)
	}
	if err := svc.Delete(ctx, settings.DomainBilling, settings.BillingCurrency); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting twice should be not found, got %v", err)
	}

	row, err := svc.Upsert(ctx, settings.DomainBilling, settings.BillingCurrency, &UpsertSettingRequest{ValueText: strPtr("gbp")})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !row.IsActive || *row.ValueText != "gbp" {
		t.Errorf("upsert should reactivate, got %+v", row)
	}
}

func TestSettingsService_ResolveSecret(t *testing.T) {
	db := newTestDB(t)
	resolver := &fakeResolver{value: "sk_live_123"}
	svc := NewSettingsService(db, settings.Catalog(), resolver)
	ctx := context.Background()

	row, err := svc.Upsert(ctx, settings.DomainBilling, settings.BillingStripeSecretKey, &UpsertSettingRequest{
		ValueText: strPtr("vault://secret/billing#stripe"),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !row.IsSecret || *row.ValueText != "vault://secret/billing#stripe" {
		t.Errorf("secret row should store the reference, got %+v", row)
	}
	if resolver.calls != 0 {
		t.Error("writes must not resolve secrets")
	}

	got, err := svc.ResolveSecret(ctx, settings.DomainBilling, settings.BillingStripeSecretKey)
	if err != nil || got != "sk_live_123" {
		t.Errorf("ResolveSecret() = %q, %v", got, err)
	}

	resolver.err = &secrets.Error{Reason: "vault token is not configured"}
	if _, err := svc.ResolveSecret(ctx, settings.DomainBilling, settings.BillingStripeSecretKey); !errors.Is(err, secrets.ErrResolve) {
		t.Errorf("resolver failures must surface, got %v", err)
	}
}

func TestSettingsService_LoadValuesStorageFailure(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewSettingsService(db, settings.Catalog(), nil)

	mock.ExpectQuery("SELECT count").WillReturnError(errors.New("connection refused"))

	values, err := svc.LoadValues(context.Background(), settings.DomainAudit)
	if err == nil {
		t.Fatal("expected storage error")
	}
	if !values[settings.AuditEnabled].Bool() {
		t.Error("defaults should still be returned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
