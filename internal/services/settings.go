package services

import (
	"context"
	"errors"
	"strings"

	"github.com/huangang/backoffice/backend/internal/metrics"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
	"gorm.io/gorm"
)

// SecretResolver turns an indirection reference into plaintext.
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// UpsertSettingRequest is the body of a typed settings write.
type UpsertSettingRequest struct {
	ValueText *string     `json:"value_text"`
	ValueJSON models.JSON `json:"value_json"`
	IsActive  *bool       `json:"is_active"`
}

// SettingsService is the typed facade over the per-domain stores. Writes
// go through strict coercion; Value and friends are the best-effort read
// path used by runtime consumers and never fail.
type SettingsService struct {
	registry *settings.Registry
	stores   map[settings.Domain]*DomainSettingStore
	resolver SecretResolver
}

func NewSettingsService(db *gorm.DB, registry *settings.Registry, resolver SecretResolver) *SettingsService {
	stores := make(map[settings.Domain]*DomainSettingStore, len(settings.Domains()))
	for _, d := range settings.Domains() {
		stores[d] = NewDomainSettingStore(db, string(d))
	}
	return &SettingsService{registry: registry, stores: stores, resolver: resolver}
}

func (s *SettingsService) Registry() *settings.Registry {
	return s.registry
}

// Store returns the store pinned to domain.
func (s *SettingsService) Store(domain settings.Domain) (*DomainSettingStore, error) {
	store, ok := s.stores[domain]
	if !ok {
		return nil, &settings.ValidationError{Field: "domain", Reason: "must be one of: " + joinDomains()}
	}
	return store, nil
}

func joinDomains() string {
	names := make([]string, 0, len(settings.Domains()))
	for _, d := range settings.Domains() {
		names = append(names, string(d))
	}
	return strings.Join(names, ", ")
}

// Spec returns the spec for a key, or a validation error listing the
// domain's allowed keys.
func (s *SettingsService) Spec(domain settings.Domain, key string) (*settings.Spec, error) {
	if _, err := s.Store(domain); err != nil {
		return nil, err
	}
	spec, ok := s.registry.Get(domain, key)
	if !ok {
		return nil, &settings.ValidationError{
			Field:  key,
			Reason: "is not a known " + string(domain) + " setting; allowed keys: " + strings.Join(s.registry.Keys(domain), ", "),
		}
	}
	return spec, nil
}

func (s *SettingsService) List(ctx context.Context, domain settings.Domain, params DomainSettingListParams) ([]models.DomainSetting, int64, error) {
	store, err := s.Store(domain)
	if err != nil {
		return nil, 0, err
	}
	return store.List(ctx, params)
}

func (s *SettingsService) Get(ctx context.Context, domain settings.Domain, key string) (*models.DomainSetting, error) {
	if _, err := s.Spec(domain, key); err != nil {
		return nil, err
	}
	return s.stores[domain].GetByKey(ctx, string(domain), key)
}

// Upsert validates the submitted value against the key's spec and stores
// the normalized form. A failed validation leaves storage untouched.
func (s *SettingsService) Upsert(ctx context.Context, domain settings.Domain, key string, req *UpsertSettingRequest) (*models.DomainSetting, error) {
	spec, err := s.Spec(domain, key)
	if err != nil {
		return nil, err
	}

	var js []byte
	if !req.ValueJSON.IsNull() {
		js = req.ValueJSON
	}
	value, err := settings.FromStorage(spec, req.ValueText, js)
	if errors.Is(err, settings.ErrNoStoredValue) {
		return nil, &settings.ValidationError{Field: key, Reason: "requires value_text or value_json"}
	}
	if err != nil {
		return nil, err
	}

	text, normalized, err := settings.NormalizeForStorage(spec, value)
	if err != nil {
		return nil, err
	}

	valueType := string(spec.Type)
	isSecret := spec.IsSecret
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	row, err := s.stores[domain].UpsertByKey(ctx, string(domain), key, &DomainSettingPayload{
		ValueType: &valueType,
		SetValue:  true,
		ValueText: text,
		ValueJSON: models.JSON(normalized),
		IsSecret:  &isSecret,
		IsActive:  &active,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("[Settings] %s.%s updated", domain, key)
	return row, nil
}

// Delete soft-deletes the active row for a key.
func (s *SettingsService) Delete(ctx context.Context, domain settings.Domain, key string) error {
	row, err := s.Get(ctx, domain, key)
	if err != nil {
		return err
	}
	return s.stores[domain].Delete(ctx, row.ID)
}

// Value resolves a setting without ever failing: a missing row yields the
// default, and a row that no longer passes coercion or its bounds is
// replaced by the default with a warning.
func (s *SettingsService) Value(ctx context.Context, domain settings.Domain, key string) settings.Value {
	spec, ok := s.registry.Get(domain, key)
	if !ok {
		logger.Warn().Str("domain", string(domain)).Str("key", key).Msg("[Settings] unknown key requested")
		return settings.Value{}
	}

	row, err := s.stores[domain].GetByKey(ctx, string(domain), key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn().Err(err).Str("domain", string(domain)).Str("key", key).Msg("[Settings] read failed, using default")
		}
		return spec.Default
	}
	return s.valueFromRow(spec, row)
}

func (s *SettingsService) valueFromRow(spec *settings.Spec, row *models.DomainSetting) settings.Value {
	value, err := settings.FromStorage(spec, row.ValueText, row.ValueJSON)
	if err != nil {
		if !errors.Is(err, settings.ErrNoStoredValue) {
			metrics.SettingFallbacks.WithLabelValues(string(spec.Domain), spec.Key).Inc()
			logger.Warn().
				Str("domain", string(spec.Domain)).
				Str("key", spec.Key).
				Str("reason", err.Error()).
				Msg("[Settings] stored value rejected, using default")
		}
		return spec.Default
	}
	return value
}

// Values resolves every key of a domain in a single query. A storage
// failure yields the defaults.
func (s *SettingsService) Values(ctx context.Context, domain settings.Domain) map[string]settings.Value {
	out, err := s.LoadValues(ctx, domain)
	if err != nil {
		logger.Warn().Err(err).Str("domain", string(domain)).Msg("[Settings] read failed, using defaults")
	}
	return out
}

// LoadValues is Values with the storage error reported. The returned map
// always holds every key of the domain, defaulted where needed.
func (s *SettingsService) LoadValues(ctx context.Context, domain settings.Domain) (map[string]settings.Value, error) {
	specs := s.registry.List(domain)
	out := make(map[string]settings.Value, len(specs))
	for _, spec := range specs {
		out[spec.Key] = spec.Default
	}

	store, err := s.Store(domain)
	if err != nil {
		return out, err
	}
	rows, _, err := store.List(ctx, DomainSettingListParams{Limit: MaxSettingListLimit})
	if err != nil {
		return out, err
	}
	for i := range rows {
		spec, ok := s.registry.Get(domain, rows[i].Key)
		if !ok {
			continue
		}
		out[spec.Key] = s.valueFromRow(spec, &rows[i])
	}
	return out, nil
}

func (s *SettingsService) Bool(ctx context.Context, domain settings.Domain, key string) bool {
	return s.Value(ctx, domain, key).Bool()
}

func (s *SettingsService) Int(ctx context.Context, domain settings.Domain, key string) int64 {
	return s.Value(ctx, domain, key).Int()
}

func (s *SettingsService) String(ctx context.Context, domain settings.Domain, key string) string {
	return s.Value(ctx, domain, key).Str()
}

// ResolveSecret reads a string setting through the best-effort path and
// resolves it through the secret store when it is a reference. Store
// failures are returned, never defaulted.
func (s *SettingsService) ResolveSecret(ctx context.Context, domain settings.Domain, key string) (string, error) {
	raw := s.Value(ctx, domain, key).String()
	if s.resolver == nil {
		return raw, nil
	}
	return s.resolver.Resolve(ctx, raw)
}
