package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/response"
)

// PolicyInvalidator drops a cached policy so the next request rebuilds it.
type PolicyInvalidator interface {
	Invalidate()
}

type SettingsHandler struct {
	settingsService *services.SettingsService
	auditPolicy     PolicyInvalidator
}

func NewSettingsHandler(svc *services.SettingsService, auditPolicy PolicyInvalidator) *SettingsHandler {
	return &SettingsHandler{settingsService: svc, auditPolicy: auditPolicy}
}

type listSettingsQuery struct {
	IsActive *bool  `form:"is_active"`
	OrderBy  string `form:"order_by" binding:"omitempty,oneof=id key domain value_type created_at updated_at"`
	OrderDir string `form:"order_dir" binding:"omitempty,oneof=asc desc ASC DESC"`
	Limit    *int   `form:"limit"`
	Offset   int    `form:"offset"`
}

// SpecView is the public description of a catalog entry.
type SpecView struct {
	Key      string      `json:"key"`
	Type     string      `json:"type"`
	Default  interface{} `json:"default"`
	Allowed  []string    `json:"allowed,omitempty"`
	Min      *int64      `json:"min,omitempty"`
	Max      *int64      `json:"max,omitempty"`
	Required bool        `json:"required"`
	IsSecret bool        `json:"is_secret"`
	EnvVar   string      `json:"env_var,omitempty"`
	Label    string      `json:"label"`
}

func specView(s *settings.Spec) SpecView {
	return SpecView{
		Key:      s.Key,
		Type:     string(s.Type),
		Default:  s.Default.Interface(),
		Allowed:  s.Allowed,
		Min:      s.Min,
		Max:      s.Max,
		Required: s.Required,
		IsSecret: s.IsSecret,
		EnvVar:   s.EnvVar,
		Label:    s.Label,
	}
}

// List returns the stored rows of a domain
// GET /api/settings/:domain
func (h *SettingsHandler) List(c *gin.Context) {
	domain, ok := parseDomain(c)
	if !ok {
		return
	}

	var q listSettingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	limit := services.DefaultSettingListLimit
	if q.Limit != nil {
		limit = *q.Limit
	}
	if limit < 1 || limit > services.MaxSettingListLimit {
		response.Invalid(c, "limit", fmt.Sprintf("must be between 1 and %d", services.MaxSettingListLimit))
		return
	}
	if q.Offset < 0 {
		response.Invalid(c, "offset", "must be >= 0")
		return
	}

	rows, total, err := h.settingsService.List(c.Request.Context(), domain, services.DomainSettingListParams{
		IsActive: q.IsActive,
		OrderBy:  q.OrderBy,
		OrderDir: q.OrderDir,
		Limit:    limit,
		Offset:   q.Offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Paged(c, rows, total, limit, q.Offset)
}

// Specs lists the catalog for a domain
// GET /api/settings/:domain/specs
func (h *SettingsHandler) Specs(c *gin.Context) {
	domain, ok := parseDomain(c)
	if !ok {
		return
	}
	specs := h.settingsService.Registry().List(domain)
	views := make([]SpecView, 0, len(specs))
	for _, s := range specs {
		views = append(views, specView(s))
	}
	response.Success(c, views)
}

// Get returns the active row of a key. Secret rows carry the stored
// reference, never the resolved value.
// GET /api/settings/:domain/:key
func (h *SettingsHandler) Get(c *gin.Context) {
	domain, ok := parseDomain(c)
	if !ok {
		return
	}
	row, err := h.settingsService.Get(c.Request.Context(), domain, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, row)
}

// Upsert validates and stores a value
// PUT /api/settings/:domain/:key
func (h *SettingsHandler) Upsert(c *gin.Context) {
	domain, ok := parseDomain(c)
	if !ok {
		return
	}

	var req services.UpsertSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	row, err := h.settingsService.Upsert(c.Request.Context(), domain, c.Param("key"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	h.settingsChanged(domain)
	response.Success(c, row)
}

// Delete soft-deletes a key
// DELETE /api/settings/:domain/:key
func (h *SettingsHandler) Delete(c *gin.Context) {
	domain, ok := parseDomain(c)
	if !ok {
		return
	}
	if err := h.settingsService.Delete(c.Request.Context(), domain, c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	h.settingsChanged(domain)
	response.NoContent(c)
}

func (h *SettingsHandler) settingsChanged(domain settings.Domain) {
	if domain == settings.DomainAudit && h.auditPolicy != nil {
		h.auditPolicy.Invalidate()
	}
}
