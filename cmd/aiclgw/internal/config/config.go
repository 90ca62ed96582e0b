package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
)

// EnvPrefix is prepended to every environment variable, e.g.
// AICL_OIDC_CLIENT_ID for the oidc.client_id key.
const EnvPrefix = "AICL"

// Config holds the application configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string

	// Public base URL of the gateway
	ServerURL string

	// Database connection string (DSN) for the API token store
	DatabaseURL string

	// Maximum database connection pool size
	MaxDBConnections int

	// Enable debug logging
	Debug bool

	// Origins allowed by the CORS middleware
	AllowedOrigins []string

	Session       SessionConfig
	OIDC          OIDCConfig
	IdP           IdPConfig
	Cache         CacheConfig
	Tokens        TokensConfig
	Observability ObservabilityConfig
}

// SessionConfig controls the browser session store.
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend  string
	RedisURL string
	// CookieName names the cookie carrying the session id.
	CookieName string
	// HashKey signs the session cookie. EncryptKey encrypts it and must be
	// 16, 24 or 32 bytes. Random keys are generated when empty, which logs
	// everyone out on restart.
	HashKey    string
	EncryptKey string
	TTL        time.Duration
	// SecureCookie sets the Secure flag; disable only for plain-HTTP development.
	SecureCookie bool
}

// OIDCConfig holds the relying-party settings for the browser login flow.
type OIDCConfig struct {
	Issuer       string   // e.g. "http://keycloak:8080/realms/app-realm"
	ClientID     string   // e.g. "aicl-gateway"
	ClientSecret string   // empty for public clients
	RedirectURI  string   // defaults to ServerURL + "/auth/callback"
	Scopes       []string // default ["openid", "profile", "email"]
	// PostLogoutRedirect is where /auth/logout sends the browser.
	PostLogoutRedirect string
}

// IdPConfig holds the identity-provider admin API settings and the
// conventions used to map groups and realm roles.
type IdPConfig struct {
	BaseURL string
	Realm   string

	// Client-credentials grant against Realm.
	ClientID     string
	ClientSecret string

	// Password grant against AdminRealm; takes precedence when set.
	AdminUsername string
	AdminPassword string
	AdminRealm    string

	Timeout time.Duration

	TeamsGroup         string
	InstitutionsGroup  string
	TeamAttribute      string
	TeamAttributeValue string

	// RoleAliases maps lower-case realm role names to domain roles.
	// Nil keeps the directory defaults.
	RoleAliases map[string]identity.Role
}

// CacheConfig tunes the identity directory caches.
type CacheConfig struct {
	TTL       time.Duration
	ReportTTL time.Duration
	Size      int
}

// TokensConfig controls API token issuance and cleanup.
type TokensConfig struct {
	// MaxTTL caps the lifetime of issued tokens; zero allows tokens that
	// never expire.
	MaxTTL time.Duration
	// PruneInterval is how often expired and revoked tokens are deleted;
	// zero disables pruning.
	PruneInterval time.Duration
	// PruneGrace keeps dead tokens around this long for auditing.
	PruneGrace time.Duration
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	// OTLPEndpoint enables trace export when set (host:port).
	OTLPEndpoint   string
	OTLPInsecure   bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "localhost:4040")
	v.SetDefault("server_url", "http://localhost:4040")
	v.SetDefault("database_url", "file:aiclgw.db?cache=shared")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_url", "redis://localhost:6379/0")
	v.SetDefault("session.cookie_name", "aicl.session")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure_cookie", true)

	v.SetDefault("oidc.scopes", []string{"openid", "profile", "email"})

	v.SetDefault("idp.realm", "app-realm")
	v.SetDefault("idp.admin_realm", "master")
	v.SetDefault("idp.timeout", 10*time.Second)
	v.SetDefault("idp.teams_group", "Teams")
	v.SetDefault("idp.institutions_group", "Institutions")
	v.SetDefault("idp.team_attribute", "type")
	v.SetDefault("idp.team_attribute_value", "team")

	v.SetDefault("cache.ttl", 60*time.Second)
	v.SetDefault("cache.report_ttl", 5*time.Minute)
	v.SetDefault("cache.size", 1024)

	v.SetDefault("tokens.max_ttl", 90*24*time.Hour)
	v.SetDefault("tokens.prune_interval", time.Hour)
	v.SetDefault("tokens.prune_grace", 7*24*time.Hour)

	v.SetDefault("observability.service_name", "aiclgw")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
}

// ReadConfigFile loads path into the global viper instance. With an empty
// path it looks for aiclgw.yaml in the working directory and silently
// skips a missing file.
func ReadConfigFile(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("aiclgw")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// Load resolves configuration from AICL_ environment variables, any config
// file already read into viper, bound flags and defaults, in that order of
// precedence.
func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		ServerAddr:       v.GetString("server_addr"),
		ServerURL:        strings.TrimRight(v.GetString("server_url"), "/"),
		DatabaseURL:      v.GetString("database_url"),
		MaxDBConnections: v.GetInt("max_db_connections"),
		Debug:            v.GetBool("debug"),
		AllowedOrigins:   v.GetStringSlice("allowed_origins"),
		Session: SessionConfig{
			Backend:      strings.ToLower(v.GetString("session.backend")),
			RedisURL:     v.GetString("session.redis_url"),
			CookieName:   v.GetString("session.cookie_name"),
			HashKey:      v.GetString("session.hash_key"),
			EncryptKey:   v.GetString("session.encrypt_key"),
			TTL:          v.GetDuration("session.ttl"),
			SecureCookie: v.GetBool("session.secure_cookie"),
		},
		OIDC: OIDCConfig{
			Issuer:             v.GetString("oidc.issuer"),
			ClientID:           v.GetString("oidc.client_id"),
			ClientSecret:       v.GetString("oidc.client_secret"),
			RedirectURI:        v.GetString("oidc.redirect_uri"),
			Scopes:             v.GetStringSlice("oidc.scopes"),
			PostLogoutRedirect: v.GetString("oidc.post_logout_redirect"),
		},
		IdP: IdPConfig{
			BaseURL:            v.GetString("idp.base_url"),
			Realm:              v.GetString("idp.realm"),
			ClientID:           v.GetString("idp.client_id"),
			ClientSecret:       v.GetString("idp.client_secret"),
			AdminUsername:      v.GetString("idp.admin_username"),
			AdminPassword:      v.GetString("idp.admin_password"),
			AdminRealm:         v.GetString("idp.admin_realm"),
			Timeout:            v.GetDuration("idp.timeout"),
			TeamsGroup:         v.GetString("idp.teams_group"),
			InstitutionsGroup:  v.GetString("idp.institutions_group"),
			TeamAttribute:      v.GetString("idp.team_attribute"),
			TeamAttributeValue: v.GetString("idp.team_attribute_value"),
		},
		Cache: CacheConfig{
			TTL:       v.GetDuration("cache.ttl"),
			ReportTTL: v.GetDuration("cache.report_ttl"),
			Size:      v.GetInt("cache.size"),
		},
		Tokens: TokensConfig{
			MaxTTL:        v.GetDuration("tokens.max_ttl"),
			PruneInterval: v.GetDuration("tokens.prune_interval"),
			PruneGrace:    v.GetDuration("tokens.prune_grace"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   v.GetString("observability.otlp_endpoint"),
			OTLPInsecure:   v.GetBool("observability.otlp_insecure"),
			ServiceName:    v.GetString("observability.service_name"),
			ServiceVersion: v.GetString("observability.service_version"),
			Environment:    v.GetString("observability.environment"),
			MetricsEnabled: v.GetBool("observability.metrics_enabled"),
		},
	}

	if cfg.OIDC.RedirectURI == "" && cfg.ServerURL != "" {
		cfg.OIDC.RedirectURI = cfg.ServerURL + "/auth/callback"
	}
	if cfg.OIDC.PostLogoutRedirect == "" {
		cfg.OIDC.PostLogoutRedirect = "/"
	}
	if cfg.IdP.ClientID == "" {
		cfg.IdP.ClientID = cfg.OIDC.ClientID
	}
	if cfg.IdP.ClientSecret == "" {
		cfg.IdP.ClientSecret = cfg.OIDC.ClientSecret
	}

	aliases, err := parseRoleAliases(v.GetStringMapString("idp.role_aliases"))
	if err != nil {
		return nil, err
	}
	cfg.IdP.RoleAliases = aliases

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required")
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required")
	}
	switch cfg.Session.Backend {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("session.backend must be memory or redis, got %q", cfg.Session.Backend)
	}
	if k := len(cfg.Session.EncryptKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return nil, fmt.Errorf("session.encrypt_key must be 16, 24 or 32 bytes, got %d", k)
	}

	return cfg, nil
}

// ValidateGateway checks the settings needed to serve authenticated
// traffic. Database-only commands skip it.
func (c *Config) ValidateGateway() error {
	var missing []string
	if c.OIDC.Issuer == "" {
		missing = append(missing, "oidc.issuer")
	}
	if c.OIDC.ClientID == "" {
		missing = append(missing, "oidc.client_id")
	}
	if c.IdP.BaseURL == "" {
		missing = append(missing, "idp.base_url")
	}
	if c.IdP.AdminUsername == "" && c.IdP.ClientSecret == "" {
		missing = append(missing, "idp.client_secret or idp.admin_username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseRoleAliases(raw map[string]string) (map[string]identity.Role, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	aliases := make(map[string]identity.Role, len(raw))
	for name, roleName := range raw {
		role, err := identity.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("idp.role_aliases[%s]: %w", name, err)
		}
		aliases[strings.ToLower(name)] = role
	}
	return aliases, nil
}
