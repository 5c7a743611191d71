package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/backoffice/backend/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDomainMismatch = errors.New("domain mismatch")
	ErrConflict       = errors.New("conflict")
)

// DomainSettingPayload carries the fields of a create or partial update.
// Nil pointers are left untouched. When SetValue is true both value columns
// are written, so a nil ValueText or ValueJSON clears that column.
type DomainSettingPayload struct {
	Domain    *string
	Key       string
	ValueType *string
	SetValue  bool
	ValueText *string
	ValueJSON models.JSON
	IsSecret  *bool
	IsActive  *bool
}

type DomainSettingListParams struct {
	Domain   string
	IsActive *bool
	OrderBy  string
	OrderDir string
	Limit    int
	Offset   int
}

const (
	DefaultSettingListLimit = 200
	MaxSettingListLimit     = 500
)

var settingOrderColumns = map[string]string{
	"id":         "id",
	"key":        "setting_key",
	"domain":     "domain",
	"value_type": "value_type",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// DomainSettingStore persists domain_settings rows. A store pinned to a
// domain rejects payloads naming another domain and ignores domain filters.
type DomainSettingStore struct {
	db     *gorm.DB
	domain string
}

func NewDomainSettingStore(db *gorm.DB, domain string) *DomainSettingStore {
	return &DomainSettingStore{db: db, domain: domain}
}

// Domain returns the pinned domain, or "" for an unpinned store.
func (s *DomainSettingStore) Domain() string {
	return s.domain
}

func (s *DomainSettingStore) resolveDomain(domain string) (string, error) {
	if s.domain != "" {
		if domain != "" && domain != s.domain {
			return "", fmt.Errorf("%w: store is bound to %q, got %q", ErrDomainMismatch, s.domain, domain)
		}
		return s.domain, nil
	}
	if domain == "" {
		return "", errors.New("domain is required")
	}
	return domain, nil
}

func (s *DomainSettingStore) Create(ctx context.Context, p *DomainSettingPayload) (*models.DomainSetting, error) {
	var requested string
	if p.Domain != nil {
		requested = *p.Domain
	}
	domain, err := s.resolveDomain(requested)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Key) == "" {
		return nil, errors.New("key is required")
	}
	return s.create(ctx, domain, p.Key, p)
}

func (s *DomainSettingStore) create(ctx context.Context, domain, key string, p *DomainSettingPayload) (*models.DomainSetting, error) {
	row := &models.DomainSetting{
		Domain:    domain,
		Key:       key,
		ValueType: "string",
		IsSecret:  false,
		IsActive:  true,
	}
	if p.ValueType != nil {
		row.ValueType = *p.ValueType
	}
	if p.SetValue {
		row.ValueText = p.ValueText
		row.ValueJSON = p.ValueJSON
	}
	if p.IsSecret != nil {
		row.IsSecret = *p.IsSecret
	}
	if p.IsActive != nil {
		row.IsActive = *p.IsActive
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (s *DomainSettingStore) find(ctx context.Context, domain, key string, activeOnly bool) (*models.DomainSetting, error) {
	var row models.DomainSetting
	query := s.db.WithContext(ctx).Where("domain = ? AND setting_key = ?", domain, key)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// GetByKey returns the active row for (domain, key).
func (s *DomainSettingStore) GetByKey(ctx context.Context, domain, key string) (*models.DomainSetting, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, domain, key, true)
}

// UpsertByKey applies the present payload fields to the existing row, or
// creates one. Soft-deleted rows are updated in place.
func (s *DomainSettingStore) UpsertByKey(ctx context.Context, domain, key string, p *DomainSettingPayload) (*models.DomainSetting, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return nil, err
	}
	if p.Domain != nil && *p.Domain != domain {
		return nil, fmt.Errorf("%w: payload domain %q does not match %q", ErrDomainMismatch, *p.Domain, domain)
	}

	row, err := s.find(ctx, domain, key, false)
	if errors.Is(err, ErrNotFound) {
		return s.create(ctx, domain, key, p)
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if p.ValueType != nil {
		updates["value_type"] = *p.ValueType
	}
	if p.SetValue {
		updates["value_text"] = p.ValueText
		updates["value_json"] = p.ValueJSON
	}
	if p.IsSecret != nil {
		updates["is_secret"] = *p.IsSecret
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if len(updates) == 0 {
		return row, nil
	}

	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.find(ctx, domain, key, false)
}

// EnsureByKey creates the row when absent and otherwise returns the existing
// row untouched, whatever its value or active flag.
func (s *DomainSettingStore) EnsureByKey(ctx context.Context, domain, key, valueType string, valueText *string, valueJSON models.JSON, isSecret bool) (*models.DomainSetting, bool, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return nil, false, err
	}

	row, err := s.find(ctx, domain, key, false)
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	row, err = s.create(ctx, domain, key, &DomainSettingPayload{
		ValueType: &valueType,
		SetValue:  true,
		ValueText: valueText,
		ValueJSON: valueJSON,
		IsSecret:  &isSecret,
	})
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (s *DomainSettingStore) List(ctx context.Context, params DomainSettingListParams) ([]models.DomainSetting, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.DomainSetting{})

	domain := params.Domain
	if s.domain != "" {
		domain = s.domain
	}
	if domain != "" {
		query = query.Where("domain = ?", domain)
	}

	active := true
	if params.IsActive != nil {
		active = *params.IsActive
	}
	query = query.Where("is_active = ?", active)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := settingOrderColumns[params.OrderBy]
	if !ok {
		column = "setting_key"
	}
	dir := "ASC"
	if strings.EqualFold(params.OrderDir, "desc") {
		dir = "DESC"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultSettingListLimit
	}
	if limit > MaxSettingListLimit {
		limit = MaxSettingListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []models.DomainSetting
	if err := query.Order(column + " " + dir).Order("id ASC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Delete soft-deletes an active row by flipping is_active.
func (s *DomainSettingStore) Delete(ctx context.Context, id uint) error {
	query := s.db.WithContext(ctx).Model(&models.DomainSetting{}).Where("id = ? AND is_active = ?", id, true)
	if s.domain != "" {
		query = query.Where("domain = ?", s.domain)
	}
	result := query.Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
