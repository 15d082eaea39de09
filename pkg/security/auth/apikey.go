package auth

import (
	"crypto/subtle"
	"sync"

	"mercator-hq/exporter/pkg/config"
	"mercator-hq/exporter/pkg/export"
)

// APIKeyValidator validates API keys against a configured set of keys
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[string]*APIKeyInfo
}

// NewAPIKeyValidator creates a new API key validator with the given keys
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	v := &APIKeyValidator{}
	v.Replace(keys)
	return v
}

// KeysFromConfig converts configured keys to key infos.
func KeysFromConfig(keys []config.APIKeyConfig) []*APIKeyInfo {
	infos := make([]*APIKeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, &APIKeyInfo{
			Key:       k.Key,
			Principal: PrincipalFromConfig(k),
			Enabled:   !k.Disabled,
		})
	}
	return infos
}

// PrincipalFromConfig builds the principal a configured key maps to.
func PrincipalFromConfig(k config.APIKeyConfig) export.Principal {
	return export.Principal{
		UserID: k.UserID,
		Role:   export.Role(k.Role),
		Tier:   export.Tier(k.Tier),
	}
}

// Validate checks if the given API key is valid and returns its info.
// Keys are compared in constant time.
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var found *APIKeyInfo
	for k, info := range v.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			found = info
		}
	}
	if found == nil {
		return nil, ErrInvalidKey
	}
	if !found.Enabled {
		return nil, ErrKeyDisabled
	}
	return found, nil
}

// List returns all configured API keys
func (v *APIKeyValidator) List() []*APIKeyInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]*APIKeyInfo, 0, len(v.keys))
	for _, key := range v.keys {
		keys = append(keys, key)
	}
	return keys
}

// Replace swaps the whole key set, as done on configuration reload.
func (v *APIKeyValidator) Replace(keys []*APIKeyInfo) {
	keyMap := make(map[string]*APIKeyInfo, len(keys))
	for _, key := range keys {
		keyMap[key.Key] = key
	}

	v.mu.Lock()
	v.keys = keyMap
	v.mu.Unlock()
}

// Add adds a new API key to the validator
func (v *APIKeyValidator) Add(info *APIKeyInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[info.Key] = info
}

// Remove removes an API key from the validator
func (v *APIKeyValidator) Remove(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.keys, key)
}
