package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

// SettingsSeeder makes sure every catalog key has a row. Existing rows are
// never touched, so operator edits survive restarts.
type SettingsSeeder struct {
	svc       *SettingsService
	lookupEnv func(string) (string, bool)
}

func NewSettingsSeeder(svc *SettingsService) *SettingsSeeder {
	return &SettingsSeeder{svc: svc, lookupEnv: os.LookupEnv}
}

// SetEnvLookup replaces the environment lookup, for tests.
func (s *SettingsSeeder) SetEnvLookup(fn func(string) (string, bool)) {
	s.lookupEnv = fn
}

// SeedAll seeds every domain and returns the number of rows created.
func (s *SettingsSeeder) SeedAll(ctx context.Context) (int, error) {
	total := 0
	for _, d := range settings.Domains() {
		n, err := s.Seed(ctx, d)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Seed ensures a row exists for every key of domain.
func (s *SettingsSeeder) Seed(ctx context.Context, domain settings.Domain) (int, error) {
	store, err := s.svc.Store(domain)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, spec := range s.svc.Registry().List(domain) {
		value := s.initialValue(spec)
		text, js, err := settings.NormalizeForStorage(spec, value)
		if err != nil {
			return created, fmt.Errorf("seed %s.%s: %w", domain, spec.Key, err)
		}
		_, isNew, err := store.EnsureByKey(ctx, string(domain), spec.Key, string(spec.Type), text, models.JSON(js), spec.IsSecret)
		if err != nil {
			return created, fmt.Errorf("seed %s.%s: %w", domain, spec.Key, err)
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		logger.Infof("[Settings] Seeded %d %s settings", created, domain)
	}
	return created, nil
}

// initialValue prefers the spec's environment variable, falling back to the
// default when it is unset or does not pass validation.
func (s *SettingsSeeder) initialValue(spec *settings.Spec) settings.Value {
	if spec.EnvVar == "" {
		return spec.Default
	}
	raw, ok := s.lookupEnv(spec.EnvVar)
	if !ok || strings.TrimSpace(raw) == "" {
		return spec.Default
	}
	if spec.FromEnv != nil {
		raw = spec.FromEnv(raw)
	}

	value, err := settings.FromStorage(spec, &raw, nil)
	if err != nil {
		logger.Warn().
			Str("env", spec.EnvVar).
			Str("reason", err.Error()).
			Msgf("[Settings] ignoring %s for %s.%s", spec.EnvVar, spec.Domain, spec.Key)
		return spec.Default
	}
	return value
}
