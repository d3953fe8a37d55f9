package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 75 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultRequestTimeout     = 60 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultCreateRatePerMin   = 30
	defaultRedisTimeout       = 500 * time.Millisecond
	defaultBroker             = "pubsub"
	defaultEventsTopic        = "orders"
	defaultRabbitExchange     = "orders_topic"
	defaultPaymentProvider    = "stripe"
	defaultTaxRate            = 0.18
	defaultDeliveryCharge     = 100
	defaultCurrency           = "inr"
	defaultTimeZone           = "UTC"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyCleanup = time.Hour
	defaultIdempotencyBatch   = 200
	defaultOutboxInterval     = 15 * time.Second
	defaultOutboxBatch        = 50
	defaultOutboxLease        = 30 * time.Second
	defaultOutboxMaxAttempts  = 8
	defaultOutboxBaseBackoff  = 5 * time.Second
	defaultOutboxMaxBackoff   = 10 * time.Minute
	defaultSecurityEnv        = "local"
	defaultOIDCJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer         = "https://accounts.google.com"
)

// Supported broker kinds.
const (
	BrokerPubSub   = "pubsub"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PriceCache  PriceCacheConfig
	Events      EventsConfig
	PSP         PSPConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
	Outbox      OutboxConfig
	Storage     StorageConfig
	Security    SecurityConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// CreateRatePerMinute caps order placement per caller. Zero disables the cap.
	CreateRatePerMinute int
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PriceCacheConfig points at the Redis instance holding catalog prices.
type PriceCacheConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// EventsConfig selects the lifecycle event broker.
type EventsConfig struct {
	Broker   string
	Topic    string
	PubSub   PubSubConfig
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
}

// PubSubConfig configures the Pub/Sub broker.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
}

// KafkaConfig configures the Kafka broker.
type KafkaConfig struct {
	Brokers []string
}

// RabbitMQConfig configures the RabbitMQ broker.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// PSPConfig collects payment provider settings.
type PSPConfig struct {
	Provider     string
	StripeAPIKey string
	// SuccessURL and CancelURL may contain {orderId}.
	SuccessURL string
	CancelURL  string
}

// PricingConfig holds the platform-wide pricing constants.
type PricingConfig struct {
	TaxRate        float64
	DeliveryCharge int64
	Currency       string
	TimeZone       string
	Location       *time.Location
}

// IdempotencyConfig controls idempotency key handling and record cleanup.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// OutboxConfig controls the background outbox dispatcher.
type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// StorageConfig lists buckets used by the service.
type StorageConfig struct {
	DeadLetterBucket string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretResolver resolves references to external secrets.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failed secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved empty. Names are redacted in Error.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the missing secret field names.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables OS environment lookups.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment (.env < OS < explicit map) so callers can
// build dependencies such as the secret resolver before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
}

// Load assembles the configuration from defaults, .env, the environment and Secret Manager.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "ORDERS_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "ORDERS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "ORDERS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "ORDERS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "ORDERS_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),

			CreateRatePerMinute: intWithDefault(lookup, "ORDERS_SERVER_CREATE_RATE_PER_MINUTE", defaultCreateRatePerMin),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "ORDERS_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDERS_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDERS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDERS_FIRESTORE_EMULATOR_HOST", ""),
		},
		PriceCache: PriceCacheConfig{
			Addr:     stringWithDefault(lookup, "ORDERS_PRICECACHE_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "ORDERS_PRICECACHE_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "ORDERS_PRICECACHE_REDIS_DB", 0),
			Timeout:  durationWithDefault(lookup, "ORDERS_PRICECACHE_TIMEOUT", defaultRedisTimeout),
		},
		Events: EventsConfig{
			Broker: strings.ToLower(stringWithDefault(lookup, "ORDERS_EVENTS_BROKER", defaultBroker)),
			Topic:  stringWithDefault(lookup, "ORDERS_EVENTS_TOPIC", defaultEventsTopic),
			PubSub: PubSubConfig{
				ProjectID:    stringWithDefault(lookup, "ORDERS_EVENTS_PUBSUB_PROJECT_ID", ""),
				EmulatorHost: stringWithDefault(lookup, "ORDERS_EVENTS_PUBSUB_EMULATOR_HOST", ""),
			},
			Kafka: KafkaConfig{
				Brokers: csvWithDefault(lookup, "ORDERS_EVENTS_KAFKA_BROKERS"),
			},
			RabbitMQ: RabbitMQConfig{
				URL:      stringWithDefault(lookup, "ORDERS_EVENTS_RABBITMQ_URL", ""),
				Exchange: stringWithDefault(lookup, "ORDERS_EVENTS_RABBITMQ_EXCHANGE", defaultRabbitExchange),
			},
		},
		PSP: PSPConfig{
			Provider:     strings.ToLower(stringWithDefault(lookup, "ORDERS_PSP_PROVIDER", defaultPaymentProvider)),
			StripeAPIKey: stringWithDefault(lookup, "ORDERS_PSP_STRIPE_API_KEY", ""),
			SuccessURL:   stringWithDefault(lookup, "ORDERS_PSP_SUCCESS_URL", ""),
			CancelURL:    stringWithDefault(lookup, "ORDERS_PSP_CANCEL_URL", ""),
		},
		Pricing: PricingConfig{
			TaxRate:        floatWithDefault(lookup, "ORDERS_PRICING_TAX_RATE", defaultTaxRate),
			DeliveryCharge: int64(intWithDefault(lookup, "ORDERS_PRICING_DELIVERY_CHARGE", defaultDeliveryCharge)),
			Currency:       strings.ToLower(stringWithDefault(lookup, "ORDERS_PRICING_CURRENCY", defaultCurrency)),
			TimeZone:       stringWithDefault(lookup, "ORDERS_PRICING_TIME_ZONE", defaultTimeZone),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "ORDERS_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "ORDERS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
			CleanupBatchSize: intWithDefault(lookup, "ORDERS_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Outbox: OutboxConfig{
			Interval:    durationWithDefault(lookup, "ORDERS_OUTBOX_INTERVAL", defaultOutboxInterval),
			BatchSize:   intWithDefault(lookup, "ORDERS_OUTBOX_BATCH", defaultOutboxBatch),
			Lease:       durationWithDefault(lookup, "ORDERS_OUTBOX_LEASE", defaultOutboxLease),
			MaxAttempts: intWithDefault(lookup, "ORDERS_OUTBOX_MAX_ATTEMPTS", defaultOutboxMaxAttempts),
			BaseBackoff: durationWithDefault(lookup, "ORDERS_OUTBOX_BASE_BACKOFF", defaultOutboxBaseBackoff),
			MaxBackoff:  durationWithDefault(lookup, "ORDERS_OUTBOX_MAX_BACKOFF", defaultOutboxMaxBackoff),
		},
		Storage: StorageConfig{
			DeadLetterBucket: stringWithDefault(lookup, "ORDERS_STORAGE_DEADLETTER_BUCKET", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "ORDERS_SECURITY_ENVIRONMENT", defaultSecurityEnv)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "ORDERS_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "ORDERS_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "ORDERS_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSub.ProjectID == "" {
		cfg.Events.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	resolver := options.secret
	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PriceCache.Password", &cfg.PriceCache.Password},
		{"Events.RabbitMQ.URL", &cfg.Events.RabbitMQ.URL},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if loc, err := time.LoadLocation(cfg.Pricing.TimeZone); err == nil {
		cfg.Pricing.Location = loc
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Server.RequestTimeout > 0, "Server.RequestTimeout")
	check(cfg.Server.CreateRatePerMinute >= 0, "Server.CreateRatePerMinute")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(cfg.PriceCache.Addr != "", "PriceCache.Addr")

	switch cfg.Events.Broker {
	case BrokerPubSub:
		check(cfg.Events.PubSub.ProjectID != "", "Events.PubSub.ProjectID")
	case BrokerKafka:
		check(len(cfg.Events.Kafka.Brokers) > 0, "Events.Kafka.Brokers")
	case BrokerRabbitMQ:
		check(cfg.Events.RabbitMQ.URL != "", "Events.RabbitMQ.URL")
		check(cfg.Events.RabbitMQ.Exchange != "", "Events.RabbitMQ.Exchange")
	default:
		invalid = append(invalid, "Events.Broker")
	}
	check(strings.TrimSpace(cfg.Events.Topic) != "", "Events.Topic")

	check(cfg.PSP.Provider == defaultPaymentProvider, "PSP.Provider")
	check(cfg.Pricing.TaxRate >= 0 && cfg.Pricing.TaxRate < 1, "Pricing.TaxRate")
	check(cfg.Pricing.DeliveryCharge >= 0, "Pricing.DeliveryCharge")
	_, err := currency.ParseISO(cfg.Pricing.Currency)
	check(err == nil, "Pricing.Currency")
	check(cfg.Pricing.Location != nil, "Pricing.TimeZone")

	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	check(cfg.Outbox.Interval > 0, "Outbox.Interval")
	check(cfg.Outbox.BatchSize > 0, "Outbox.BatchSize")
	check(cfg.Outbox.Lease > 0, "Outbox.Lease")
	check(cfg.Outbox.MaxAttempts > 0, "Outbox.MaxAttempts")
	check(cfg.Outbox.BaseBackoff > 0 && cfg.Outbox.MaxBackoff >= cfg.Outbox.BaseBackoff, "Outbox.Backoff")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
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

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

type lookupFunc func(string) (string, bool)

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup lookupFunc, key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup lookupFunc, key string) []string {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
