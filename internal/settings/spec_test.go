package settings

import "testing"

func TestRegistry_GetAndList(t *testing.T) {
	reg := Catalog()

	if _, ok := reg.Get(DomainAuth, "nope"); ok {
		t.Error("unknown key should not be found")
	}
	if _, ok := reg.Get(Domain("people"), AuthJWTAlgorithm); ok {
		t.Error("unknown domain should not be found")
	}

	keys := reg.Keys(DomainAudit)
	want := []string{AuditEnabled, AuditMethods, AuditSkipPaths, AuditReadTriggerHeader, AuditReadTriggerQuery, AuditRetentionDays}
	if len(keys) != len(want) {
		t.Fatalf("audit keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	for _, d := range Domains() {
		for _, s := range reg.List(d) {
			if s.Domain != d {
				t.Errorf("%s listed under %s", s.Key, d)
			}
			if s.Default.Type() != s.Type {
				t.Errorf("%s.%s default type %s != %s", d, s.Key, s.Default.Type(), s.Type)
			}
			if err := Check(s, s.Default); err != nil {
				t.Errorf("%s.%s default fails its own constraints: %v", d, s.Key, err)
			}
		}
	}
}

func TestNewRegistry_PanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate spec")
		}
	}()
	NewRegistry([]Spec{
		{Domain: DomainAuth, Key: "k", Type: TypeString, Default: StringValue("")},
		{Domain: DomainAuth, Key: "k", Type: TypeString, Default: StringValue("")},
	})
}

func TestParseDomain(t *testing.T) {
	if d, ok := ParseDomain(" Audit "); !ok || d != DomainAudit {
		t.Errorf("ParseDomain = %v, %v", d, ok)
	}
	if _, ok := ParseDomain("people"); ok {
		t.Error("unknown domain should not parse")
	}
}

func TestSplitListAndEnvNormalizers(t *testing.T) {
	if got := upperCSV(" post, put ,,delete"); got != "POST,PUT,DELETE" {
		t.Errorf("upperCSV = %q", got)
	}
	if got := trimCSV(" /health , /metrics "); got != "/health,/metrics" {
		t.Errorf("trimCSV = %q", got)
	}
	if got := SplitList(""); len(got) != 0 {
		t.Errorf("SplitList(\"\") = %v", got)
	}
}
