package settings

import "strings"

// Audit domain keys read by the audit policy cache.
const (
	AuditEnabled           = "enabled"
	AuditMethods           = "methods"
	AuditSkipPaths         = "skip_paths"
	AuditReadTriggerHeader = "read_trigger_header"
	AuditReadTriggerQuery  = "read_trigger_query"
	AuditRetentionDays     = "retention_days"
)

// Auth domain keys.
const (
	AuthJWTAlgorithm      = "jwt_algorithm"
	AuthAccessTTLMinutes  = "jwt_access_ttl_minutes"
	AuthRefreshTTLDays    = "jwt_refresh_ttl_days"
	AuthJWTSecret         = "jwt_secret"
	AuthLoginRateLimitMin = "login_rate_limit_per_minute"
)

// Scheduler domain keys.
const (
	SchedulerEnabled        = "enabled"
	SchedulerBrokerURL      = "broker_url"
	SchedulerResultBackend  = "result_backend"
	SchedulerRefreshSeconds = "refresh_seconds"
	SchedulerDefaultQueue   = "default_queue"
)

// Billing domain keys.
const (
	BillingProvider        = "provider"
	BillingCurrency        = "currency"
	BillingStripeSecretKey = "stripe_secret_key"
	BillingTrialDays       = "trial_days"
	BillingInvoiceSettings = "invoice_settings"
)

var catalog = NewRegistry(defaultSpecs())

// Catalog returns the process-wide setting catalog.
func Catalog() *Registry { return catalog }

func bound(n int64) *int64 { return &n }

// upperCSV normalizes a comma-separated list to trimmed upper-case items.
func upperCSV(s string) string {
	return strings.Join(SplitList(strings.ToUpper(s)), ",")
}

// trimCSV normalizes a comma-separated list to trimmed items.
func trimCSV(s string) string {
	return strings.Join(SplitList(s), ",")
}

// SplitList splits a comma-separated list, trimming items and dropping
// empty ones.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultSpecs() []Spec {
	return []Spec{
		// auth
		{
			Domain: DomainAuth, Key: AuthJWTAlgorithm, EnvVar: "JWT_ALGORITHM",
			Type: TypeString, Default: StringValue("HS256"), Required: true,
			Allowed: []string{"hs256", "hs384", "hs512"},
			Label:   "JWT signing algorithm",
		},
		{
			Domain: DomainAuth, Key: AuthAccessTTLMinutes, EnvVar: "JWT_ACCESS_TTL_MINUTES",
			Type: TypeInteger, Default: IntValue(60), Required: true,
			Min: bound(1), Max: bound(1440),
			Label: "Access token lifetime (minutes)",
		},
		{
			Domain: DomainAuth, Key: AuthRefreshTTLDays, EnvVar: "JWT_REFRESH_TTL_DAYS",
			Type: TypeInteger, Default: IntValue(7),
			Min: bound(1), Max: bound(90),
			Label: "Refresh token lifetime (days)",
		},
		{
			Domain: DomainAuth, Key: AuthJWTSecret, EnvVar: "JWT_SECRET_REF",
			Type: TypeString, Default: StringValue(""), IsSecret: true,
			Label: "JWT signing secret or vault reference",
		},
		{
			Domain: DomainAuth, Key: AuthLoginRateLimitMin, EnvVar: "LOGIN_RATE_LIMIT_PER_MINUTE",
			Type: TypeInteger, Default: IntValue(10),
			Min: bound(1), Max: bound(1000),
			Label: "Login attempts per minute per IP",
		},

		// audit
		{
			Domain: DomainAudit, Key: AuditEnabled, EnvVar: "AUDIT_ENABLED",
			Type: TypeBoolean, Default: BoolValue(true), Required: true,
			Label: "Enable audit logging",
		},
		{
			Domain: DomainAudit, Key: AuditMethods, EnvVar: "AUDIT_METHODS",
			Type: TypeString, Default: StringValue("POST,PUT,PATCH,DELETE"),
			FromEnv: upperCSV,
			Label:   "Audited HTTP methods",
		},
		{
			Domain: DomainAudit, Key: AuditSkipPaths, EnvVar: "AUDIT_SKIP_PATHS",
			Type: TypeString, Default: StringValue("/health,/metrics"),
			FromEnv: trimCSV,
			Label:   "Path prefixes never audited",
		},
		{
			Domain: DomainAudit, Key: AuditReadTriggerHeader, EnvVar: "AUDIT_READ_TRIGGER_HEADER",
			Type: TypeString, Default: StringValue("X-Audit-Read"),
			Label: "Header that opts a read request into auditing",
		},
		{
			Domain: DomainAudit, Key: AuditReadTriggerQuery, EnvVar: "AUDIT_READ_TRIGGER_QUERY",
			Type: TypeString, Default: StringValue("audit"),
			Label: "Query parameter that opts a read request into auditing",
		},
		{
			Domain: DomainAudit, Key: AuditRetentionDays, EnvVar: "AUDIT_RETENTION_DAYS",
			Type: TypeInteger, Default: IntValue(30),
			Min: bound(0), Max: bound(3650),
			Label: "Audit record retention (days, 0 keeps forever)",
		},

		// scheduler
		{
			Domain: DomainScheduler, Key: SchedulerEnabled, EnvVar: "SCHEDULER_ENABLED",
			Type: TypeBoolean, Default: BoolValue(true),
			Label: "Run database-defined scheduled tasks",
		},
		{
			Domain: DomainScheduler, Key: SchedulerBrokerURL, EnvVar: "SCHEDULER_BROKER_URL",
			Type: TypeString, Default: StringValue(""),
			Label: "Task broker URL (redis://)",
		},
		{
			Domain: DomainScheduler, Key: SchedulerResultBackend, EnvVar: "SCHEDULER_RESULT_BACKEND",
			Type: TypeString, Default: StringValue(""),
			Label: "Task result backend URL",
		},
		{
			Domain: DomainScheduler, Key: SchedulerRefreshSeconds, EnvVar: "SCHEDULER_REFRESH_SECONDS",
			Type: TypeInteger, Default: IntValue(30),
			Min: bound(1), Max: bound(3600),
			Label: "Schedule refresh cadence (seconds)",
		},
		{
			Domain: DomainScheduler, Key: SchedulerDefaultQueue, EnvVar: "SCHEDULER_DEFAULT_QUEUE",
			Type: TypeString, Default: StringValue("default"),
			Label: "Queue used for scheduled tasks (applied at startup)",
		},

		// billing
		{
			Domain: DomainBilling, Key: BillingProvider, EnvVar: "BILLING_PROVIDER",
			Type: TypeString, Default: StringValue("none"),
			Allowed: []string{"none", "stripe"},
			Label:   "Billing provider",
		},
		{
			Domain: DomainBilling, Key: BillingCurrency, EnvVar: "BILLING_CURRENCY",
			Type: TypeString, Default: StringValue("usd"),
			Allowed: []string{"eur", "gbp", "usd"},
			Label:   "Default currency",
		},
		{
			Domain: DomainBilling, Key: BillingStripeSecretKey, EnvVar: "STRIPE_SECRET_KEY",
			Type: TypeString, Default: StringValue(""), IsSecret: true,
			Label: "Stripe secret key or vault reference",
		},
		{
			Domain: DomainBilling, Key: BillingTrialDays, EnvVar: "BILLING_TRIAL_DAYS",
			Type: TypeInteger, Default: IntValue(14),
			Min: bound(0), Max: bound(365),
			Label: "Trial length (days)",
		},
		{
			Domain: DomainBilling, Key: BillingInvoiceSettings,
			Type: TypeJSON, Default: JSONValue(map[string]interface{}{"net_days": 30}),
			Label: "Invoice settings",
		},
	}
}
