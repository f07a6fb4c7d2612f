package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	defaultEnvironment      = "development"
	defaultWebhookHeader    = "X-Razorpay-Signature"
	defaultReservationTTL   = 15 * time.Minute
	defaultGuestCartTTL     = 30 * 24 * time.Hour
	defaultSweepBatchSize   = 100
	defaultWebhookEventTTL  = 72 * time.Hour
	defaultEventsTopic      = "commerce-events"
	defaultShutdownTimeout  = 20 * time.Second
	defaultGatewayDialLimit = 10 * time.Second
)

// Config aggregates the runtime configuration for the commerce API.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Gateway   GatewayConfig
	Security  SecurityConfig
	PubSub    PubSubConfig
	Checkout  CheckoutConfig
}

// ServerConfig holds the HTTP server tunables.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig identifies the backing Firestore project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig carries the Razorpay credentials. An empty KeyID leaves the
// online gateway unconfigured; checkout then rejects online payments with a
// gateway-unavailable error instead of failing at call time.
type GatewayConfig struct {
	KeyID           string
	KeySecret       string
	WebhookSecret   string
	SignatureHeader string
	Timeout         time.Duration
}

// Configured reports whether online payments can be processed.
func (g GatewayConfig) Configured() bool {
	return strings.TrimSpace(g.KeyID) != "" && strings.TrimSpace(g.KeySecret) != ""
}

// SecurityConfig carries boundary security settings.
type SecurityConfig struct {
	Environment string
	JWTSecret   string
	JobToken    string
}

// PubSubConfig identifies the event publishing topic.
type PubSubConfig struct {
	ProjectID   string
	EventsTopic string
}

// CheckoutConfig tunes the reservation and housekeeping behaviour.
type CheckoutConfig struct {
	ReservationTTL  time.Duration
	GuestCartTTL    time.Duration
	SweepBatchSize  int
	WebhookEventTTL time.Duration
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.fields) == 0 {
		return "configuration invalid"
	}
	fields := append([]string(nil), e.fields...)
	sort.Strings(fields)
	return fmt.Sprintf("configuration invalid: missing or invalid fields [%s]", strings.Join(fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.fields...)
}

// SecretResolver resolves secret:// references to their payloads.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(ctx context.Context, ref string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError wraps a failure to resolve a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %s: %v", e.Ref, e.Err)
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

// WithEnvMap injects an explicit key/value map for environment lookups.
// Values in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided
// maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			KeyID:           stringWithDefault(lookup, "API_RAZORPAY_KEY_ID", ""),
			KeySecret:       stringWithDefault(lookup, "API_RAZORPAY_KEY_SECRET", ""),
			WebhookSecret:   stringWithDefault(lookup, "API_RAZORPAY_WEBHOOK_SECRET", ""),
			SignatureHeader: stringWithDefault(lookup, "API_RAZORPAY_SIGNATURE_HEADER", defaultWebhookHeader),
			Timeout:         durationWithDefault(lookup, "API_RAZORPAY_TIMEOUT", defaultGatewayDialLimit),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			JWTSecret:   stringWithDefault(lookup, "API_SECURITY_JWT_SECRET", ""),
			JobToken:    stringWithDefault(lookup, "API_SECURITY_JOB_TOKEN", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:   stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			EventsTopic: stringWithDefault(lookup, "API_PUBSUB_EVENTS_TOPIC", defaultEventsTopic),
		},
		Checkout: CheckoutConfig{
			ReservationTTL:  durationWithDefault(lookup, "API_CHECKOUT_RESERVATION_TTL", defaultReservationTTL),
			GuestCartTTL:    durationWithDefault(lookup, "API_CHECKOUT_GUEST_CART_TTL", defaultGuestCartTTL),
			SweepBatchSize:  intWithDefault(lookup, "API_CHECKOUT_SWEEP_BATCH", defaultSweepBatchSize),
			WebhookEventTTL: durationWithDefault(lookup, "API_CHECKOUT_WEBHOOK_EVENT_TTL", defaultWebhookEventTTL),
		},
	}

	// PubSub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Gateway.KeySecret,
		&cfg.Gateway.WebhookSecret,
		&cfg.Security.JWTSecret,
		&cfg.Security.JobToken,
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

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !strings.HasPrefix(trimmed, "secret://") {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: trimmed, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", &SecretError{Ref: trimmed, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Security.JWTSecret) == "" {
		missing = append(missing, "Security.JWTSecret")
	}
	if cfg.Checkout.ReservationTTL <= 0 {
		missing = append(missing, "Checkout.ReservationTTL")
	}
	if cfg.Checkout.SweepBatchSize <= 0 {
		missing = append(missing, "Checkout.SweepBatchSize")
	}
	// Online payments need the webhook secret as well; COD-only deployments
	// may leave the whole gateway block empty.
	if cfg.Gateway.Configured() && strings.TrimSpace(cfg.Gateway.WebhookSecret) == "" {
		missing = append(missing, "Gateway.WebhookSecret")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
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
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
