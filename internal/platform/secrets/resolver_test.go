package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/fc-prod/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_live"

	resolver := NewResolver(ctx, WithClient(client), WithProject("fc-prod"), WithFallbackFile(""))
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
		if got != "sk_live" {
			t.Fatalf("expected sk_live, got %s", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/redis/versions/3"] = "pinned"

	resolver := NewResolver(ctx, WithClient(client), WithProject("fc-prod"), WithFallbackFile(""))
	got, err := resolver.ResolveSecret(ctx, "secret://redis?version=3&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	fallback := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(fallback, []byte("# local\nsm://stripe_api_key=sk_local\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newFakeSecretClient()
	client.errors["projects/fc-dev/secrets/stripe_api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	resolver := NewResolver(ctx, WithClient(client), WithProject("fc-dev"), WithFallbackFile(fallback))
	got, err := resolver.ResolveSecret(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "sk_local" {
		t.Fatalf("expected sk_local, got %s", got)
	}
}

func TestResolveSurfacesHardErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/fc-dev/secrets/broken/versions/latest"] = status.Error(codes.Internal, "boom")

	resolver := NewResolver(ctx, WithClient(client), WithProject("fc-dev"), WithFallbackFile(""))
	if _, err := resolver.ResolveSecret(ctx, "secret://broken"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := resolver.ResolveSecret(ctx, "https://not-a-secret"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err, ok := f.errors[name]; ok {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
