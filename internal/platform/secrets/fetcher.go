package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	meterName           = "github.com/bakejoy/api/internal/platform/secrets"
)

// secretManagerClientFactory is swapped by tests that exercise the
// no-credentials boot path.
var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// secretRef is a parsed secret://NAME?version=V&project=P reference.
// The canonical form strips the query so the same secret resolved with
// different versions still invalidates together.
type secretRef struct {
	raw       string
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(ref string) (secretRef, error) {
	if strings.TrimSpace(ref) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	query := u.Query()

	return secretRef{
		raw:       ref,
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// fallbackStore lazily loads the local KEY=VALUE secrets file used during
// development and when Secret Manager cannot be reached.
type fallbackStore struct {
	path   string
	logger *zap.Logger

	once   sync.Once
	values map[string]string
	err    error
}

func (s *fallbackStore) get(ref secretRef, version string) (string, bool) {
	s.once.Do(s.load)
	if s.err != nil {
		s.logger.Debug("secrets: fallback file unusable", zap.Error(s.err))
		return "", false
	}
	if value, ok := s.values[versionedKey(ref.canonical, version)]; ok {
		return value, true
	}
	value, ok := s.values[ref.canonical]
	return value, ok
}

func (s *fallbackStore) load() {
	s.values = map[string]string{}

	path := strings.TrimSpace(s.path)
	if path == "" {
		return
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.err = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		// Older fallback files used sm:// for Secret Manager references.
		if rest, ok := strings.CutPrefix(key, "sm://"); ok {
			key = "secret://" + rest
		}
		if ref, err := parseReference(key); err == nil {
			version := ref.version
			if version == "" {
				version = defaultVersion
			}
			s.values[ref.canonical] = value
			s.values[versionedKey(ref.canonical, version)] = value
		} else {
			s.values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		s.err = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

type cachedValue struct {
	secret    string
	canonical string
	version   string
	fetchedAt time.Time
	origin    string
}

// Fetcher resolves secret:// references against Google Secret Manager, with
// an in-process cache, per-environment project routing, version pinning, and
// a local file fallback for development.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string
	fallback       *fallbackStore

	mu          sync.RWMutex
	cache       map[string]cachedValue
	subscribers map[string][]chan struct{}

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	versionPins  map[string]string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment selects the environment used for project routing and
// environment-scoped version pins.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap routes secret lookups to per-environment projects.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.projectMap = copyStringMap(m) }
}

// WithFallbackFile points at the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects the OpenTelemetry meter used for fetch metrics.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a prebuilt client, mainly for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options to client construction.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithVersionPins pins secrets to explicit versions. Keys are canonical
// references, optionally prefixed "env:" to scope the pin to one environment.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.versionPins = copyStringMap(pins) }
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created,
// the fetcher still works in fallback-only mode so local development does not
// need cloud credentials.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projectMap:   map[string]string{},
		versionPins:  map[string]string{},
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		cfg.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
		latency = nil
	}
	cacheHits, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if err != nil {
		cfg.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
		cacheHits = nil
	}

	f := &Fetcher{
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.defaultProj,
		projectByEnv:   copyStringMap(cfg.projectMap),
		versionPins:    copyStringMap(cfg.versionPins),
		fallback:       &fallbackStore{path: cfg.fallbackPath, logger: cfg.logger},
		cache:          make(map[string]cachedValue),
		subscribers:    make(map[string][]chan struct{}),
		latency:        latency,
		cacheHits:      cacheHits,
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable, running on fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the client and wakes every subscriber.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for canonical, channels := range f.subscribers {
		delete(f.subscribers, canonical)
		for _, ch := range channels {
			closeQuietly(ch)
		}
	}
	f.mu.Unlock()

	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for a secret:// reference. Cached values
// are served without a network round trip. Auth and availability failures
// fall back to the local file; a genuinely missing secret does not, so typos
// in secret names surface instead of silently reading stale local values.
func (f *Fetcher) Resolve(ctx context.Context, rawRef string) (string, error) {
	start := time.Now()
	ref, err := parseReference(rawRef)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.cached(key); ok {
		f.countCacheHit(ctx, ref)
		f.recordLatency(ctx, time.Since(start), "cache", nil)
		return value, nil
	}

	if project := f.routeProject(ref); project != "" && f.client != nil {
		value, fetchErr := f.access(ctx, project, ref.name, version)
		switch {
		case fetchErr == nil:
			f.remember(key, ref, version, value, "remote")
			f.recordLatency(ctx, time.Since(start), "remote", nil)
			return value, nil
		case !fallbackWorthy(fetchErr):
			f.recordLatency(ctx, time.Since(start), "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, fetchErr)
		}
		f.logger.Debug("secrets: using local fallback", zap.String("ref", ref.canonical), zap.Error(fetchErr))
	}

	value, ok := f.fallback.get(ref, version)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
		f.recordLatency(ctx, time.Since(start), "error", err)
		return "", err
	}
	f.remember(key, ref, version, value, "fallback")
	f.recordLatency(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

// Invalidate drops every cached version of the secret and notifies
// subscribers, typically after a rotation event.
func (f *Fetcher) Invalidate(rawRef string) {
	ref, err := parseReference(rawRef)
	if err != nil {
		return
	}

	f.mu.Lock()
	for key, entry := range f.cache {
		if entry.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
	channels := f.subscribers[ref.canonical]
	f.mu.Unlock()

	for _, ch := range channels {
		signalQuietly(ch)
	}
}

// Notify is the hook rotation events call; it behaves like Invalidate.
func (f *Fetcher) Notify(rawRef string) {
	f.Invalidate(rawRef)
}

// Subscribe returns a channel that receives a tick whenever the secret is
// invalidated, plus a cancel function that unregisters the subscription.
func (f *Fetcher) Subscribe(rawRef string) (<-chan struct{}, func()) {
	ref, err := parseReference(rawRef)
	if err != nil {
		closed := make(chan struct{})
		close(closed)
		return closed, func() {}
	}

	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subscribers[ref.canonical] = append(f.subscribers[ref.canonical], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		channels := f.subscribers[ref.canonical]
		for i, registered := range channels {
			if registered == ch {
				channels = append(channels[:i], channels[i+1:]...)
				break
			}
		}
		if len(channels) == 0 {
			delete(f.subscribers, ref.canonical)
			return
		}
		f.subscribers[ref.canonical] = channels
	}
	return ch, cancel
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) routeProject(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if project := strings.TrimSpace(f.projectByEnv[f.env]); project != "" {
		return project
	}
	return strings.TrimSpace(f.defaultProject)
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.canonical]); pin != "" {
		return pin
	}
	return defaultVersion
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.secret, ok
}

func (f *Fetcher) remember(key string, ref secretRef, version, value, origin string) {
	f.mu.Lock()
	f.cache[key] = cachedValue{
		secret:    value,
		canonical: ref.canonical,
		version:   version,
		fetchedAt: time.Now(),
		origin:    origin,
	}
	f.mu.Unlock()
}

func (f *Fetcher) recordLatency(ctx context.Context, d time.Duration, origin string, err error) {
	if f.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", origin)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	f.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

// countCacheHit labels the metric with a digest of the reference rather than
// the reference itself to keep secret names out of metric cardinality.
func (f *Fetcher) countCacheHit(ctx context.Context, ref secretRef) {
	if f.cacheHits == nil {
		return
	}
	digest := sha256.Sum256([]byte(ref.canonical))
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8])),
	))
}

// fallbackWorthy reports whether the fetch failure is the kind where the
// local file should stand in: missing credentials or an unreachable backend.
func fallbackWorthy(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func signalQuietly(ch chan struct{}) {
	if ch == nil {
		return
	}
	defer func() { _ = recover() }()
	select {
	case ch <- struct{}{}:
	default:
	}
}

func closeQuietly(ch chan struct{}) {
	defer func() { _ = recover() }()
	close(ch)
}
