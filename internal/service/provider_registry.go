package service

import (
	"deposit-gateway/config"
	"deposit-gateway/internal/core/domain"
)

// ProviderSettings is the resolved trust material for one provider.
type ProviderSettings struct {
	HMACSecret  string
	BaseURL     string
	IPAllowlist []string
}

// ProviderRegistry resolves per-provider configuration. Built once at
// startup and immutable afterwards.
type ProviderRegistry struct {
	providers map[domain.Provider]ProviderSettings
}

// NewProviderRegistry builds the registry from validated configuration.
func NewProviderRegistry(cfg config.ProvidersConfig) *ProviderRegistry {
	return &ProviderRegistry{
		providers: map[domain.Provider]ProviderSettings{
			domain.ProviderJazzCash:  settingsFrom(cfg.JazzCash),
			domain.ProviderEasyPaisa: settingsFrom(cfg.EasyPaisa),
			domain.ProviderSadaPay:   settingsFrom(cfg.SadaPay),
		},
	}
}

func settingsFrom(p config.ProviderConfig) ProviderSettings {
	return ProviderSettings{
		HMACSecret:  p.HMACSecret,
		BaseURL:     p.BaseURL,
		IPAllowlist: p.AllowedIPs(),
	}
}

// Get returns the settings for a provider.
func (r *ProviderRegistry) Get(p domain.Provider) (ProviderSettings, bool) {
	s, ok := r.providers[p]
	return s, ok
}

// IsIPAllowed checks a webhook source IP against the provider's allowlist.
// An empty allowlist is permissive (local development default). Matching is
// exact string comparison; no CIDR parsing.
func (r *ProviderRegistry) IsIPAllowed(p domain.Provider, ip string) bool {
	s, ok := r.providers[p]
	if !ok {
		return false
	}
	if len(s.IPAllowlist) == 0 {
		return true
	}
	for _, allowed := range s.IPAllowlist {
		if allowed == ip {
			return true
		}
	}
	return false
}
