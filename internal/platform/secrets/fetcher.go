package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	refScheme      = "secret://"
	defaultVersion = "latest"
	maxAttempts    = 4
)

// ErrInvalidReference indicates a reference that does not follow the
// secret:// format.
var ErrInvalidReference = errors.New("secrets: invalid secret reference")

var clientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references through Google Secret Manager with
// an in-process cache. It satisfies config.SecretResolver.
type Fetcher struct {
	client         secretManagerClient
	ownsClient     bool
	logger         *zap.Logger
	defaultProject string

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject configures the project used for short references that
// omit the projects/ prefix.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithClient injects a preconfigured Secret Manager client, primarily for
// tests.
func WithClient(client secretManagerClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher builds a Fetcher, dialing Secret Manager unless a client was
// injected.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger: zap.NewNop(),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		client, err := clientFactory(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: create client: %w", err)
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

// Close releases the underlying client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret fetches the payload for a secret:// reference, serving
// repeat lookups from cache.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("secrets: fetcher not initialised")
	}

	name, err := f.resourceName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	entry, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		return entry.value, nil
	}

	value, err := f.access(ctx, name)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[name] = cacheEntry{value: value, fetchedAt: time.Now().UTC()}
	f.mu.Unlock()

	f.logger.Debug("secret resolved", zap.String("name", name))
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	backoff := gax.Backoff{
		Initial:    200 * time.Millisecond,
		Max:        3 * time.Second,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err == nil {
			if resp.GetPayload() == nil {
				return "", fmt.Errorf("secrets: empty payload for %s", name)
			}
			return string(resp.GetPayload().GetData()), nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return "", sleepErr
		}
	}
	return "", fmt.Errorf("secrets: access %s: %w", name, lastErr)
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		return true
	}
	return false
}

// resourceName normalises a secret:// reference into a full Secret Manager
// version resource name. Accepted forms:
//
//	secret://projects/<p>/secrets/<name>/versions/<v>
//	secret://projects/<p>/secrets/<name>
//	secret://<name>            (requires a default project)
func (f *Fetcher) resourceName(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, refScheme) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	path := strings.Trim(strings.TrimPrefix(trimmed, refScheme), "/")
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidReference)
	}

	if strings.HasPrefix(path, "projects/") {
		parts := strings.Split(path, "/")
		switch len(parts) {
		case 6:
			return path, nil
		case 4:
			return path + "/versions/" + defaultVersion, nil
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
	}

	if strings.Contains(path, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if f.defaultProject == "" {
		return "", fmt.Errorf("%w: short reference %q needs a default project", ErrInvalidReference, ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.defaultProject, path, defaultVersion), nil
}
