package config

import (
	"strings"
	"time"
)

// GatewayConfig configures the verifier gateway client used by the verification
// worker and the reference gateway server.
type GatewayConfig struct {
	URL     string        `env:"URL"     envDefault:"http://localhost:8080"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	// RetryLimit retries transport errors and 5xx responses inside one handler call.
	RetryLimit int `env:"RETRY_LIMIT" envDefault:"2"`

	// OAuth2 client credentials; leave TokenURL empty to call without auth.
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"        envSeparator:","`

	// DescriptorCatalog is an optional YAML catalog of named descriptors served by
	// the reference gateway.
	DescriptorCatalog string `env:"DESCRIPTOR_CATALOG"`
}

// Sanitize applies guardrails to gateway configuration values.
func (g *GatewayConfig) Sanitize() {
	g.URL = strings.TrimRight(strings.TrimSpace(g.URL), "/")
	g.TokenURL = strings.TrimSpace(g.TokenURL)
	if g.Timeout <= 0 {
		g.Timeout = 30 * time.Second
	}
	if g.RetryLimit < 0 {
		g.RetryLimit = 0
	}
}

// OAuthEnabled reports whether client credentials are configured.
func (g *GatewayConfig) OAuthEnabled() bool {
	return g.TokenURL != "" && g.ClientID != ""
}
