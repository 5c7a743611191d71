package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/metrics"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

const (
	maxAuditBody = 2000
	maskedValue  = "***"
)

// AuditPolicySource yields the policy in force for the current request.
type AuditPolicySource interface {
	Policy(ctx context.Context) *services.AuditPolicy
}

// AuditRecorder persists audit records.
type AuditRecorder interface {
	Create(entry *models.SystemLog) error
}

var sensitiveKeys = []string{"password", "api_key", "apikey", "secret", "token", "access_token"}

// AuditLog records requests selected by the audit policy to system_logs.
// A panicking handler is still recorded with status 500 before the panic
// continues up the chain.
func AuditLog(policies AuditPolicySource, recorder AuditRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		policy := policies.Policy(c.Request.Context())
		if !policy.ShouldAudit(c.Request) {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = safeMaskBody(bodyBytes, secretSettingTarget(c))
		}

		defer func() {
			if r := recover(); r != nil {
				recordAudit(c, recorder, http.StatusInternalServerError, bodySnippet)
				panic(r)
			}
		}()

		c.Next()

		recordAudit(c, recorder, c.Writer.Status(), bodySnippet)
	}
}

// recordAudit never panics; a failed write is logged and dropped.
func recordAudit(c *gin.Context, recorder AuditRecorder, status int, body string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("[Audit] failed to record audit log")
		}
	}()

	method := c.Request.Method
	path := c.Request.URL.Path
	requestID := c.GetString(logger.RequestIDKey)
	module, action := parseRouteInfo(c.FullPath(), method)

	extra, _ := json.Marshal(map[string]interface{}{
		"method":     method,
		"path":       path,
		"status":     status,
		"request_id": requestID,
		"body":       body,
		"audit":      true,
	})

	level := "info"
	if status >= http.StatusInternalServerError {
		level = "error"
	} else if status >= http.StatusBadRequest {
		level = "warning"
	}

	var uid *uint
	if userID := GetUserID(c); userID > 0 {
		uid = &userID
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   formatAuditMessage(GetUsername(c), method, path, status),
		UserID:    uid,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: requestID,
		Extra:     string(extra),
		CreatedAt: time.Now(),
	}
	if err := recorder.Create(entry); err != nil {
		metrics.AuditRecords.WithLabelValues(method, "error").Inc()
		logger.Error().Err(err).Str("path", path).Msg("[Audit] failed to record audit log")
		return
	}
	metrics.AuditRecords.WithLabelValues(method, "ok").Inc()
}

// secretSettingTarget reports whether the request addresses a secret setting
// through /settings/:domain/:key.
func secretSettingTarget(c *gin.Context) bool {
	domain, key := c.Param("domain"), c.Param("key")
	if domain == "" || key == "" {
		return false
	}
	d, ok := settings.ParseDomain(domain)
	if !ok {
		return false
	}
	spec, ok := settings.Catalog().Get(d, key)
	return ok && spec.IsSecret
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/scheduled-tasks/:id" + "PUT" → module="Scheduled Tasks", action="Update"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")

	parts := strings.SplitN(path, "/", 2)
	module = parts[0]
	if module == "" {
		module = "unknown"
	}
	module = titleWords(strings.ReplaceAll(module, "-", " "))

	switch method {
	case http.MethodPost:
		action = "Create"
	case http.MethodPut, http.MethodPatch:
		action = "Update"
	case http.MethodDelete:
		action = "Delete"
	case http.MethodGet:
		action = "Read"
	default:
		action = method
	}
	return module, action
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// formatAuditMessage creates a human-readable audit message.
func formatAuditMessage(username, method, path string, status int) string {
	var b strings.Builder
	b.WriteString("[Audit] ")
	if username == "" {
		username = "anonymous"
	}
	b.WriteString(username)
	b.WriteString(" ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	b.WriteString(" → ")
	if status >= 200 && status < 400 {
		b.WriteString("OK")
	} else {
		b.WriteString("Failed")
	}
	return b.String()
}

// safeMaskBody is maskBody for the request path: a masking failure drops the
// body from the record instead of failing the request.
func safeMaskBody(body []byte, secretSetting bool) (out string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("[Audit] failed to mask request body")
			out = "[unavailable]"
		}
	}()
	return maskBody(body, secretSetting)
}

// maskBody masks sensitive fields of a JSON body and truncates it. Bodies
// that are not JSON objects fall back to string masking.
func maskBody(body []byte, secretSetting bool) string {
	if len(body) == 0 {
		return ""
	}

	var doc map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out string
	if err := dec.Decode(&doc); err == nil {
		maskMap(doc)
		if secretSetting {
			for _, k := range []string{"value_text", "value_json"} {
				if _, ok := doc[k]; ok {
					doc[k] = maskedValue
				}
			}
		}
		masked, _ := json.Marshal(doc)
		out = string(masked)
	} else {
		out = maskSensitiveFields(string(body))
	}

	return truncateBody(out)
}

// truncateBody cuts s to maxAuditBody bytes on a rune boundary.
func truncateBody(s string) string {
	if len(s) <= maxAuditBody {
		return s
	}
	cut := maxAuditBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func maskMap(m map[string]interface{}) {
	for k, v := range m {
		if isSensitiveKey(k) {
			m[k] = maskedValue
			continue
		}
		switch child := v.(type) {
		case map[string]interface{}:
			maskMap(child)
		case []interface{}:
			for _, item := range child {
				if cm, ok := item.(map[string]interface{}); ok {
					maskMap(cm)
				}
			}
		}
	}
}

// maskSensitiveFields replaces sensitive values in a body that is not valid JSON
func maskSensitiveFields(body string) string {
	for _, key := range sensitiveKeys {
		body = maskJSONValue(body, key)
	}
	return body
}

// indexFoldASCII is strings.Index with ASCII case folding. Offsets refer to
// s itself; non-ASCII bytes only match themselves.
func indexFoldASCII(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if asciiEqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

func asciiEqualFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		x, y := a[i], b[i]
		if 'A' <= x && x <= 'Z' {
			x += 'a' - 'A'
		}
		if 'A' <= y && y <= 'Z' {
			y += 'a' - 'A'
		}
		if x != y {
			return false
		}
	}
	return true
}

// maskJSONValue does a best-effort mask of JSON string values for a given key
func maskJSONValue(body, key string) string {
	idx := indexFoldASCII(body, "\""+key+"\"")
	if idx == -1 {
		return body
	}

	colonIdx := strings.Index(body[idx+len(key)+2:], ":")
	if colonIdx == -1 {
		return body
	}
	valueStart := idx + len(key) + 2 + colonIdx + 1

	for valueStart < len(body) && (body[valueStart] == ' ' || body[valueStart] == '\t') {
		valueStart++
	}
	if valueStart >= len(body) {
		return body
	}

	if body[valueStart] == '"' {
		endQuote := strings.Index(body[valueStart+1:], "\"")
		if endQuote == -1 {
			return body
		}
		return body[:valueStart+1] + maskedValue + body[valueStart+1+endQuote:]
	}
	return body
}
