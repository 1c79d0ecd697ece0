package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type scriptedSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newScriptedSecretClient() *scriptedSecretClient {
	return &scriptedSecretClient{
		values: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *scriptedSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := req.GetName()
	c.calls[name]++
	if err := c.errs[name]; err != nil {
		return nil, err
	}
	if value, ok := c.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (c *scriptedSecretClient) Close() error { return nil }

func (c *scriptedSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func writeFallbackFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestResolveServesSecondReadFromCache(t *testing.T) {
	ctx := context.Background()

	client := newScriptedSecretClient()
	resource := "projects/bakejoy-prod/secrets/zarinpal_merchant_id/versions/latest"
	client.values[resource] = "merchant-id-value"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("bakejoy-prod"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://zarinpal_merchant_id")
		if err != nil {
			t.Fatalf("Resolve attempt %d: %v", i+1, err)
		}
		if got != "merchant-id-value" {
			t.Fatalf("Resolve attempt %d = %q, want merchant-id-value", i+1, got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("secret manager called %d times, want 1", calls)
	}
}

func TestResolveUsesFallbackFileWhenAccessDenied(t *testing.T) {
	ctx := context.Background()

	client := newScriptedSecretClient()
	resource := "projects/bakejoy-prod/secrets/sms_api_key/versions/latest"
	client.errs[resource] = status.Error(codes.PermissionDenied, "denied")

	path := writeFallbackFile(t, "secret://sms_api_key=local-sms-key\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("bakejoy-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://sms_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-sms-key" {
		t.Fatalf("Resolve = %q, want local-sms-key", got)
	}
}

func TestResolveDoesNotMaskMissingSecrets(t *testing.T) {
	ctx := context.Background()

	client := newScriptedSecretClient()
	resource := "projects/bakejoy-prod/secrets/zarinpal_merchant_id/versions/latest"
	client.errs[resource] = status.Error(codes.NotFound, "missing")

	path := writeFallbackFile(t, "secret://zarinpal_merchant_id=stale-local-value\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("bakejoy-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://zarinpal_merchant_id"); err == nil {
		t.Fatal("a NotFound from secret manager must not fall back to the local file")
	}
}

func TestResolveHonoursVersionPins(t *testing.T) {
	ctx := context.Background()

	client := newScriptedSecretClient()
	pinned := "projects/bakejoy-prod/secrets/zarinpal_merchant_id/versions/5"
	client.values[pinned] = "rotated-away-from"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("bakejoy-prod"),
		WithVersionPins(map[string]string{"secret://zarinpal_merchant_id": "5"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://zarinpal_merchant_id")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "rotated-away-from" {
		t.Fatalf("Resolve = %q, want the pinned version payload", got)
	}
	if calls := client.callCount(pinned); calls != 1 {
		t.Fatalf("pinned version fetched %d times, want 1", calls)
	}
}

func TestResolveRoutesProjectByEnvironment(t *testing.T) {
	ctx := context.Background()

	client := newScriptedSecretClient()
	staging := "projects/bakejoy-staging/secrets/sms_api_key/versions/latest"
	client.values[staging] = "staging-key"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("staging"),
		WithDefaultProject("bakejoy-prod"),
		WithProjectMap(map[string]string{"staging": "bakejoy-staging"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://sms_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "staging-key" {
		t.Fatalf("Resolve = %q, want staging-key", got)
	}
}

func TestInvalidateDropsCacheAndNotifies(t *testing.T) {
	ctx := context.Background()

	client := newScriptedSecretClient()
	resource := "projects/bakejoy-prod/secrets/zarinpal_merchant_id/versions/latest"
	client.values[resource] = "first"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("bakejoy-prod"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://zarinpal_merchant_id"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	notify, cancel := fetcher.Subscribe("secret://zarinpal_merchant_id")
	defer cancel()

	fetcher.Invalidate("secret://zarinpal_merchant_id")

	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("invalidation never reached the subscriber")
	}

	client.mu.Lock()
	client.values[resource] = "second"
	client.mu.Unlock()

	got, err := fetcher.Resolve(ctx, "secret://zarinpal_merchant_id")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if got != "second" {
		t.Fatalf("Resolve after invalidate = %q, want the refetched value", got)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("secret manager called %d times, want 2 after invalidation", calls)
	}
}

func TestNewFetcherWithoutCredentialsRunsOnFallbackFile(t *testing.T) {
	ctx := context.Background()

	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	path := writeFallbackFile(t, "# local development secrets\nsecret://zarinpal_merchant_id=dev-merchant\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path), WithDefaultProject("ignored"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://zarinpal_merchant_id")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "dev-merchant" {
		t.Fatalf("Resolve = %q, want dev-merchant", got)
	}
}
