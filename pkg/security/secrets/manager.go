package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"mercator-hq/exporter/pkg/config"
)

// refPattern matches ${secret:name} references.
var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager resolves secrets from an ordered list of providers. The first
// provider holding a secret wins; resolved values are cached.
type Manager struct {
	providers []Provider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a manager over providers with a cache of the given
// TTL.
func NewManager(providers []Provider, ttl time.Duration) *Manager {
	return &Manager{
		providers: providers,
		cache:     NewCache(ttl),
		logger:    slog.Default().With("component", "security.secrets"),
	}
}

// NewFromConfig builds the manager described by cfg: the secrets
// directory, when set, followed by the environment.
func NewFromConfig(cfg config.SecretsConfig) (*Manager, error) {
	var providers []Provider
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir, cfg.Watch)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))
	return NewManager(providers, cfg.CacheTTL), nil
}

// Get returns the named secret.
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		return value, nil
	}

	var errs []error
	for _, p := range m.providers {
		value, err := p.Get(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.Warn("secret provider failed", "provider", p.Name(), "secret", redact(name), "error", err)
			}
			errs = append(errs, err)
			continue
		}
		m.cache.Set(name, value)
		m.logger.Debug("secret resolved", "provider", p.Name(), "secret", redact(name))
		return value, nil
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s (no providers configured)", ErrNotFound, name)
	}
	return "", fmt.Errorf("failed to resolve secret %q: %w", name, errors.Join(errs...))
}

// Resolve replaces every ${secret:name} reference in s. Strings without
// references are returned unchanged.
func (m *Manager) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		value, err := m.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// ResolveConfig resolves secret references in the credential fields of
// cfg in place.
func (m *Manager) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := map[string]*string{
		"artifacts.s3.access_key_id":     &cfg.Artifacts.S3.AccessKeyID,
		"artifacts.s3.secret_access_key": &cfg.Artifacts.S3.SecretAccessKey,
		"records.http.api_key":           &cfg.Records.HTTP.APIKey,
	}
	for i := range cfg.Auth.Keys {
		fields[fmt.Sprintf("auth.keys[%d].key", i)] = &cfg.Auth.Keys[i].Key
	}

	var errs []error
	for field, ptr := range fields {
		if !refPattern.MatchString(*ptr) {
			continue
		}
		value, err := m.Resolve(ctx, *ptr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		*ptr = value
	}
	return errors.Join(errs...)
}

// Refresh drops cached values in the manager and its providers.
func (m *Manager) Refresh() {
	for _, p := range m.providers {
		if r, ok := p.(Refresher); ok {
			r.Refresh()
		}
	}
	m.cache.Clear()
}

// Close releases provider resources such as file watchers.
func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// redact keeps the first and last two characters of a secret name for
// logs.
func redact(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
