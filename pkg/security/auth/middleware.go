package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"mercator-hq/exporter/pkg/api/types"
	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/telemetry/logging"
)

// APIKeySource defines where to extract API keys from
type APIKeySource struct {
	Type   string // header, query
	Name   string // Header name or query param
	Scheme string // "Bearer", etc. (optional)
}

type settings struct {
	enabled   bool
	sources   []APIKeySource
	anonymous export.Principal
}

// APIKeyMiddleware authenticates requests by API key and stores the
// resulting principal in the request context. When authentication is
// disabled every request runs as the configured anonymous principal.
type APIKeyMiddleware struct {
	validator *APIKeyValidator
	settings  atomic.Pointer[settings]
	logger    *slog.Logger
}

// NewAPIKeyMiddleware creates a new API key authentication middleware
func NewAPIKeyMiddleware(cfg config.AuthConfig) *APIKeyMiddleware {
	m := &APIKeyMiddleware{
		validator: NewAPIKeyValidator(nil),
		logger:    slog.Default().With("component", "security.auth"),
	}
	m.Update(cfg)
	return m
}

// Update applies a reloaded auth configuration.
func (m *APIKeyMiddleware) Update(cfg config.AuthConfig) {
	sources := make([]APIKeySource, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, APIKeySource{Type: s.Type, Name: s.Name, Scheme: s.Scheme})
	}
	m.validator.Replace(KeysFromConfig(cfg.Keys))
	m.settings.Store(&settings{
		enabled:   config.Bool(cfg.Enabled, config.DefaultAuthEnabled),
		sources:   sources,
		anonymous: PrincipalFromConfig(cfg.Anonymous),
	})
}

// Validator returns the key validator.
func (m *APIKeyMiddleware) Validator() *APIKeyValidator {
	return m.validator
}

// Authenticate resolves the principal of r.
func (m *APIKeyMiddleware) Authenticate(r *http.Request) (export.Principal, error) {
	s := m.settings.Load()
	if !s.enabled {
		return s.anonymous, nil
	}

	apiKey, err := extractAPIKey(r, s.sources)
	if err != nil {
		return export.Principal{}, err
	}
	info, err := m.validator.Validate(apiKey)
	if err != nil {
		return export.Principal{}, err
	}
	return info.Principal, nil
}

// Handle wraps an HTTP handler with API key authentication
func (m *APIKeyMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.Authenticate(r)
		if err != nil {
			m.logger.WarnContext(r.Context(), "authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			msg := "Invalid API key"
			if errors.Is(err, ErrMissingKey) {
				msg = "Missing API key"
			}
			_ = types.WriteError(w, types.NewErrorResponse(types.ErrorTypeAuthentication, msg, ""))
			return
		}

		m.logger.DebugContext(r.Context(), "request authenticated",
			"user_id", principal.UserID,
			"role", principal.Role,
			"tier", principal.Tier,
			"path", r.URL.Path,
		)

		ctx := WithPrincipal(r.Context(), principal)
		ctx = logging.WithUser(ctx, principal.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractAPIKey extracts the API key from the request using configured sources
func extractAPIKey(r *http.Request, sources []APIKeySource) (string, error) {
	for _, source := range sources {
		switch source.Type {
		case "header":
			value := r.Header.Get(source.Name)
			if value == "" {
				continue
			}
			if source.Scheme == "" {
				return value, nil
			}
			if key, ok := strings.CutPrefix(value, source.Scheme+" "); ok && key != "" {
				return key, nil
			}

		case "query":
			if value := r.URL.Query().Get(source.Name); value != "" {
				return value, nil
			}
		}
	}

	return "", ErrMissingKey
}

// Context key for the authenticated principal
type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a context carrying principal.
func WithPrincipal(ctx context.Context, principal export.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(ctx context.Context) (export.Principal, bool) {
	p, ok := ctx.Value(principalKey).(export.Principal)
	return p, ok
}
