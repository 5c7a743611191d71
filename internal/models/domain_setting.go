package models

import "time"

// DomainSetting is one persisted key/value row of a settings domain.
// Boolean and json values are authoritative in ValueJSON; string and integer
// values are authoritative in ValueText.
type DomainSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Domain    string    `gorm:"size:32;not null;uniqueIndex:idx_domain_setting_key" json:"domain"`
	Key       string    `gorm:"column:setting_key;size:100;not null;uniqueIndex:idx_domain_setting_key" json:"key"`
	ValueType string    `gorm:"size:20;not null" json:"value_type"` // string, integer, boolean, json
	ValueText *string   `gorm:"type:text" json:"value_text"`
	ValueJSON JSON      `gorm:"type:text" json:"value_json"`
	IsSecret  bool      `gorm:"not null" json:"is_secret"`
	IsActive  bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DomainSetting) TableName() string { return "domain_settings" }
