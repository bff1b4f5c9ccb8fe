package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	envPrefix = "STOREFRONT_"

	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultEnvironment      = "local"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultUpstreamTimeout  = 8 * time.Second
	defaultPageSize         = 12
	defaultDebounce         = 250 * time.Millisecond
	defaultLanguage         = "en"
	defaultCurrency         = "USD"
	defaultCartBackend      = CartBackendAPI
	defaultCartPollInterval = 10 * time.Second
	defaultRelatedTimeout   = 5 * time.Second
	defaultRelatedLimit     = 8
	defaultMongoDatabase    = "storefront"
	defaultLiveViewTTL      = 15 * time.Minute
)

// Cart backends accepted by CART_BACKEND.
const (
	CartBackendAPI       = "api"
	CartBackendFirestore = "firestore"
	CartBackendMongo     = "mongo"
)

var defaultCollections = []string{"laptops", "monitors", "pc-builds", "pos-systems", "accessories", "others"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Catalog   CatalogConfig
	Cart      CartConfig
	Related   RelatedConfig
	Messaging MessagingConfig
	Session   SessionConfig
	GCP       GCPConfig
	Mongo     MongoConfig
	Redis     RedisConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// PublicBaseURL is the origin used for absolute product links in chat messages.
	PublicBaseURL string
}

// Production reports whether the server runs with production safeguards.
func (s ServerConfig) Production() bool {
	return s.Environment == "prod" || s.Environment == "production"
}

// UpstreamConfig points at the product API. An empty BaseURL serves bundled fixtures.
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CatalogConfig controls listing behaviour.
type CatalogConfig struct {
	PageSize    int
	Debounce    time.Duration
	Language    string
	Currency    string
	Collections []string
	LiveViewTTL time.Duration
}

// CartConfig selects the remote cart backend and reconciliation cadence.
type CartConfig struct {
	Backend      string
	PollInterval time.Duration
	EventsTopic  string
}

// RelatedConfig bounds related-product resolution.
type RelatedConfig struct {
	FetchTimeout time.Duration
	Limit        int
}

// MessagingConfig holds the shop's contact number for deep links.
type MessagingConfig struct {
	WhatsAppPhone string
}

// SessionConfig holds cookie signing material.
type SessionConfig struct {
	SigningKey string
}

// GCPConfig stores Google Cloud project settings shared by Firestore, Pub/Sub and Firebase.
type GCPConfig struct {
	ProjectID               string
	FirestoreEmulatorHost   string
	FirebaseCredentialsFile string
	SecretsFallbackFile     string
}

// MongoConfig configures the mongo cart backend.
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig enables the cross-instance cart event relay when URL is set.
type RedisConfig struct {
	URL string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence
// over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single effective value using the same precedence rules as Load
// (dotenv < OS env < explicit map). It lets main build the secret resolver before Load.
func Lookup(key string, opts ...Option) (string, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return value, nil
}

// Load assembles the storefront configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "PORT", defaultPort),
			Environment:  strings.ToLower(stringWithDefault(lookup, "ENV", defaultEnvironment)),
			ReadTimeout:  durationWithDefault(lookup, "READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "IDLE_TIMEOUT", defaultIdleTimeout),

			PublicBaseURL: strings.TrimRight(stringWithDefault(lookup, "PUBLIC_BASE_URL", ""), "/"),
		},
		Upstream: UpstreamConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "UPSTREAM_BASE_URL", ""), "/"),
			Timeout: durationWithDefault(lookup, "UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		},
		Catalog: CatalogConfig{
			PageSize:    intWithDefault(lookup, "CATALOG_PAGE_SIZE", defaultPageSize),
			Debounce:    durationWithDefault(lookup, "CATALOG_DEBOUNCE", defaultDebounce),
			Language:    strings.ToLower(stringWithDefault(lookup, "CATALOG_LANGUAGE", defaultLanguage)),
			Currency:    strings.ToUpper(stringWithDefault(lookup, "CATALOG_CURRENCY", defaultCurrency)),
			Collections: csvWithDefault(lookup, "CATALOG_COLLECTIONS", defaultCollections),
			LiveViewTTL: durationWithDefault(lookup, "CATALOG_LIVE_VIEW_TTL", defaultLiveViewTTL),
		},
		Cart: CartConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "CART_BACKEND", defaultCartBackend)),
			PollInterval: durationWithDefault(lookup, "CART_POLL_INTERVAL", defaultCartPollInterval),
			EventsTopic:  stringWithDefault(lookup, "CART_EVENTS_TOPIC", ""),
		},
		Related: RelatedConfig{
			FetchTimeout: durationWithDefault(lookup, "RELATED_FETCH_TIMEOUT", defaultRelatedTimeout),
			Limit:        intWithDefault(lookup, "RELATED_LIMIT", defaultRelatedLimit),
		},
		Messaging: MessagingConfig{
			WhatsAppPhone: stringWithDefault(lookup, "WHATSAPP_PHONE", ""),
		},
		Session: SessionConfig{
			SigningKey: stringWithDefault(lookup, "SESSION_SIGNING_KEY", ""),
		},
		GCP: GCPConfig{
			ProjectID:               stringWithDefault(lookup, "GCP_PROJECT_ID", ""),
			FirestoreEmulatorHost:   stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
			FirebaseCredentialsFile: stringWithDefault(lookup, "FIREBASE_CREDENTIALS_FILE", ""),
			SecretsFallbackFile:     stringWithDefault(lookup, "SECRETS_FALLBACK_FILE", ""),
		},
		Mongo: MongoConfig{
			URI:      stringWithDefault(lookup, "MONGO_URI", ""),
			Database: stringWithDefault(lookup, "MONGO_DATABASE", defaultMongoDatabase),
		},
		Redis: RedisConfig{
			URL: stringWithDefault(lookup, "REDIS_URL", ""),
		},
	}

	secretFields := []*string{
		&cfg.Session.SigningKey,
		&cfg.Mongo.URI,
		&cfg.Redis.URL,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// lookupFunc resolves unprefixed keys; each key is looked up as STOREFRONT_<key>.
func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		key = envPrefix + key
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Catalog.PageSize <= 0 {
		missing = append(missing, "Catalog.PageSize")
	}
	if cfg.Catalog.Debounce < 0 {
		missing = append(missing, "Catalog.Debounce")
	}
	if len(cfg.Catalog.Collections) == 0 {
		missing = append(missing, "Catalog.Collections")
	}
	if cfg.Cart.PollInterval <= 0 {
		missing = append(missing, "Cart.PollInterval")
	}
	switch cfg.Cart.Backend {
	case CartBackendAPI:
	case CartBackendFirestore:
		if cfg.GCP.ProjectID == "" {
			missing = append(missing, "GCP.ProjectID")
		}
	case CartBackendMongo:
		if cfg.Mongo.URI == "" {
			missing = append(missing, "Mongo.URI")
		}
	default:
		missing = append(missing, "Cart.Backend")
	}
	if cfg.Cart.EventsTopic != "" && cfg.GCP.ProjectID == "" {
		missing = append(missing, "GCP.ProjectID")
	}
	if cfg.Related.Limit <= 0 {
		missing = append(missing, "Related.Limit")
	}
	if cfg.Related.FetchTimeout <= 0 {
		missing = append(missing, "Related.FetchTimeout")
	}
	if cfg.Server.Production() && strings.TrimSpace(cfg.Session.SigningKey) == "" {
		missing = append(missing, "Session.SigningKey")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		out := make([]string, len(fallback))
		copy(out, fallback)
		return out
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
