package services

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangang/backoffice/backend/internal/metrics"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

// AuditPolicy decides which requests produce an audit record.
type AuditPolicy struct {
	Enabled           bool                `json:"enabled"`
	Methods           map[string]struct{} `json:"-"`
	SkipPaths         []string            `json:"skip_paths"`
	ReadTriggerHeader string              `json:"read_trigger_header"`
	ReadTriggerQuery  string              `json:"read_trigger_query"`
}

// DefaultAuditPolicy is the policy built from catalog defaults alone.
func DefaultAuditPolicy() *AuditPolicy {
	return auditPolicyFromValues(nil)
}

func auditPolicyFromValues(values map[string]settings.Value) *AuditPolicy {
	get := func(key string) settings.Value {
		if v, ok := values[key]; ok && !v.IsZero() {
			return v
		}
		spec, _ := settings.Catalog().Get(settings.DomainAudit, key)
		return spec.Default
	}

	p := &AuditPolicy{
		Enabled:           get(settings.AuditEnabled).Bool(),
		Methods:           make(map[string]struct{}),
		SkipPaths:         settings.SplitList(get(settings.AuditSkipPaths).Str()),
		ReadTriggerHeader: strings.TrimSpace(get(settings.AuditReadTriggerHeader).Str()),
		ReadTriggerQuery:  strings.TrimSpace(get(settings.AuditReadTriggerQuery).Str()),
	}
	for _, m := range settings.SplitList(strings.ToUpper(get(settings.AuditMethods).Str())) {
		p.Methods[m] = struct{}{}
	}
	return p
}

// MethodList returns the tracked methods, for display.
func (p *AuditPolicy) MethodList() []string {
	out := make([]string, 0, len(p.Methods))
	for m := range p.Methods {
		out = append(out, m)
	}
	return out
}

// Skipped reports whether path starts with a skip-listed prefix.
func (p *AuditPolicy) Skipped(path string) bool {
	for _, prefix := range p.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// ShouldAudit applies the policy to a request.
func (p *AuditPolicy) ShouldAudit(r *http.Request) bool {
	if !p.Enabled || p.Skipped(r.URL.Path) {
		return false
	}
	method := strings.ToUpper(r.Method)
	if _, ok := p.Methods[method]; ok {
		return true
	}
	if !isReadMethod(method) {
		return false
	}
	if p.ReadTriggerHeader != "" && strings.EqualFold(r.Header.Get(p.ReadTriggerHeader), "true") {
		return true
	}
	if p.ReadTriggerQuery != "" && r.URL.Query().Get(p.ReadTriggerQuery) == "true" {
		return true
	}
	return false
}

// AuditSettingsSource loads the audit domain in one read.
type AuditSettingsSource interface {
	LoadValues(ctx context.Context, domain settings.Domain) (map[string]settings.Value, error)
}

type auditPolicyEntry struct {
	policy    *AuditPolicy
	fetchedAt time.Time
}

// AuditPolicyCache holds the current policy for ttl. Fresh reads are lock
// free; a stale read rebuilds under mu so only one caller queries storage
// per staleness window.
type AuditPolicyCache struct {
	source AuditSettingsSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[auditPolicyEntry]
}

func NewAuditPolicyCache(source AuditSettingsSource, ttl time.Duration) *AuditPolicyCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AuditPolicyCache{source: source, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source, for tests.
func (c *AuditPolicyCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *AuditPolicyCache) fresh(e *auditPolicyEntry) bool {
	return e != nil && c.now().Sub(e.fetchedAt) < c.ttl
}

// Policy returns the cached policy, rebuilding it when stale.
func (c *AuditPolicyCache) Policy(ctx context.Context) *AuditPolicy {
	if e := c.current.Load(); c.fresh(e) {
		return e.policy
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	if c.fresh(prev) {
		return prev.policy
	}

	values, err := c.source.LoadValues(context.WithoutCancel(ctx), settings.DomainAudit)
	var policy *AuditPolicy
	if err != nil {
		metrics.AuditPolicyRebuilds.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("[AuditPolicy] rebuild failed, keeping previous policy")
		if prev != nil {
			policy = prev.policy
		} else {
			policy = DefaultAuditPolicy()
		}
	} else {
		metrics.AuditPolicyRebuilds.WithLabelValues("ok").Inc()
		policy = auditPolicyFromValues(values)
	}

	c.current.Store(&auditPolicyEntry{policy: policy, fetchedAt: c.now()})
	return policy
}

// Invalidate marks the cached policy stale so the next request rebuilds it.
func (c *AuditPolicyCache) Invalidate() {
	if e := c.current.Load(); e != nil {
		c.current.Store(&auditPolicyEntry{policy: e.policy})
	}
}
