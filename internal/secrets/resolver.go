// Package secrets resolves setting values that point at an external
// Vault or OpenBao KV store instead of carrying the secret itself.
//
// A reference looks like scheme://mount/path#field where scheme is one of
// vault, openbao or bao and field defaults to "value".
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/huangang/backoffice/backend/internal/config"
	"github.com/huangang/backoffice/backend/internal/metrics"
)

// ErrResolve matches every failure returned by Resolver.Resolve.
var ErrResolve = errors.New("secret resolution failed")

// Error describes one failed resolution. Reason is the human readable
// cause; Err is the underlying transport error, if any.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("secret store: %s: %v", e.Reason, e.Err)
	}
	return "secret store: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrResolve }

var schemes = []string{"vault://", "openbao://", "bao://"}

const defaultField = "value"

// IsReference reports whether value names a secret in the external store.
func IsReference(value string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(value, s) {
			return true
		}
	}
	return false
}

// Reference is a parsed indirection reference.
type Reference struct {
	Mount string
	Path  string
	Field string
}

// ParseReference splits a reference into mount, path and field.
func ParseReference(value string) (Reference, error) {
	rest := ""
	for _, s := range schemes {
		if strings.HasPrefix(value, s) {
			rest = strings.TrimPrefix(value, s)
			break
		}
	}

	ref := Reference{Field: defaultField}
	if idx := strings.Index(rest, "#"); idx != -1 {
		if f := strings.TrimSpace(rest[idx+1:]); f != "" {
			ref.Field = f
		}
		rest = rest[:idx]
	}

	rest = strings.Trim(rest, "/")
	parts := strings.SplitN(rest, "/", 2)
	ref.Mount = parts[0]
	if len(parts) == 2 {
		ref.Path = strings.Trim(parts[1], "/")
	}
	if ref.Mount == "" || ref.Path == "" {
		return Reference{}, &Error{Reason: fmt.Sprintf("malformed reference %q: mount and path are required", value)}
	}
	return ref, nil
}

// APIPath returns the logical path read from the store for the given KV
// version. Version "1" addresses the path directly; any other version
// goes through the data/ segment.
func (r Reference) APIPath(kvVersion string) string {
	if kvVersion == "1" {
		return r.Mount + "/" + r.Path
	}
	return r.Mount + "/data/" + strings.TrimPrefix(r.Path, "data/")
}

// Resolver performs lazy lookups against the configured store.
type Resolver struct {
	cfg config.VaultConfig
}

func NewResolver(cfg config.VaultConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns value unchanged unless it is a reference, in which case
// the named field is fetched from the store. Failures always surface.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}

	secret, err := r.resolve(ctx, value)
	if err != nil {
		metrics.SecretResolutions.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.SecretResolutions.WithLabelValues("ok").Inc()
	return secret, nil
}

func (r *Resolver) resolve(ctx context.Context, value string) (string, error) {
	if r.cfg.Address == "" {
		return "", &Error{Reason: "vault address is not configured"}
	}
	if r.cfg.Token == "" {
		return "", &Error{Reason: "vault token is not configured"}
	}

	ref, err := ParseReference(value)
	if err != nil {
		return "", err
	}

	client, err := r.client()
	if err != nil {
		return "", &Error{Reason: "client setup failed", Err: err}
	}

	path := ref.APIPath(r.cfg.KVVersion)
	sec, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("request for %s failed", path), Err: err}
	}
	if sec == nil || sec.Data == nil {
		return "", &Error{Reason: fmt.Sprintf("no secret at %s", path)}
	}

	data := sec.Data
	if r.cfg.KVVersion != "1" {
		nested, ok := sec.Data["data"].(map[string]interface{})
		if !ok {
			return "", &Error{Reason: fmt.Sprintf("secret at %s has no data payload", path)}
		}
		data = nested
	}

	raw, ok := data[ref.Field]
	if !ok || raw == nil {
		return "", &Error{Reason: fmt.Sprintf("field %q not found in secret %s", ref.Field, path)}
	}
	return stringify(raw), nil
}

func (r *Resolver) client() (*vault.Client, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = r.cfg.Address
	cfg.MaxRetries = 0
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cfg.Timeout = timeout

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	client.SetToken(r.cfg.Token)
	if r.cfg.Namespace != "" {
		client.SetNamespace(r.cfg.Namespace)
	}
	return client, nil
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
