package vectorstore

import (
	"context"
	"os"
	"testing"

	"github.com/certen/cortex/pkg/config"
	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/storage"
)

func requireTestDB(t *testing.T) *storage.Client {
	t.Helper()
	if os.Getenv("CORTEX_TEST_DB") == "" {
		t.Skip("set CORTEX_TEST_DB=1 with a reachable database to run vectorstore integration tests")
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	client, err := storage.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSearchRejectsMissingTenantScope(t *testing.T) {
	store := New(nil, 3, 0)
	_, err := store.Search(context.Background(), "", []float64{1, 2, 3}, 5)
	if !errs.Is(err, errs.KindTenantIsolation) {
		t.Fatalf("expected TenantIsolationError, got %v", err)
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	store := New(nil, 3, 0)
	err := store.Upsert(context.Background(), "tenant-a", 1, "model-x", []float64{1, 2})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestUpsertSearchDeleteRoundTrip(t *testing.T) {
	client := requireTestDB(t)
	store := New(client, 3, 1000)
	ctx := context.Background()
	tenant := "tenant-vector-test"

	if err := store.Upsert(ctx, tenant, 1, "model-x", []float64{1, 0, 0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(ctx, tenant, 2, "model-x", []float64{0, 1, 0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := store.Search(ctx, tenant, []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].FactID != 1 {
		t.Fatalf("expected closest match to be fact 1, got %d", matches[0].FactID)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Fatal("expected ascending distance order")
	}

	if err := store.Delete(ctx, tenant, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	matches, err = store.Search(ctx, tenant, []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].FactID != 2 {
		t.Fatalf("expected only fact 2 to remain, got %v", matches)
	}
}
