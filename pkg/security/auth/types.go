package auth

import (
	"errors"

	"mercator-hq/exporter/pkg/export"
)

var (
	// ErrMissingKey is returned when no configured source carries a key.
	ErrMissingKey = errors.New("no API key found")

	// ErrInvalidKey is returned for keys that are not configured.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrKeyDisabled is returned for configured keys that are switched off.
	ErrKeyDisabled = errors.New("API key disabled")
)

// APIKeyInfo maps an API key to the principal it authenticates.
type APIKeyInfo struct {
	Key       string
	Principal export.Principal
	Enabled   bool
}

// APIKeyStore stores and validates API keys
type APIKeyStore interface {
	Validate(key string) (*APIKeyInfo, error)
	List() []*APIKeyInfo
}
