package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/certen/cortex/pkg/config"
)

// testClient opens a live database connection for integration tests.
// Tests that need it call t.Skip via requireTestDB first.
func requireTestDB(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("CORTEX_TEST_DB") == "" {
		t.Skip("set CORTEX_TEST_DB=1 with a reachable database to run storage integration tests")
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStoreFactAppendsChainLink(t *testing.T) {
	client := requireTestDB(t)
	repo := NewLedgerRepository(client)
	ctx := context.Background()

	id1, err := repo.StoreFact(ctx, FactDraft{
		TenantID: "tenant-chain-test", Project: "p1", FactType: FactKnowledge, Content: "first fact",
	})
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}

	id2, err := repo.StoreFact(ctx, FactDraft{
		TenantID: "tenant-chain-test", Project: "p1", FactType: FactKnowledge, Content: "second fact",
	})
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}
	if id2 == id1 {
		t.Fatal("expected distinct fact ids")
	}

	verification, err := repo.VerifyChain(ctx, "tenant-chain-test", nil, nil)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !verification.Valid {
		t.Fatalf("expected valid chain, got violations %v", verification.Violations)
	}
}

func TestStoreFactRejectsDuplicateImmutableContent(t *testing.T) {
	client := requireTestDB(t)
	repo := NewLedgerRepository(client)
	ctx := context.Background()

	draft := FactDraft{TenantID: "tenant-dup-test", Project: "p1", FactType: FactAxiom, Content: "2+2=4"}
	id1, err := repo.StoreFact(ctx, draft)
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}

	_, err = repo.StoreFact(ctx, draft)
	if err == nil {
		t.Fatal("expected Conflict storing duplicate axiom content")
	}

	fact, err := repo.GetFact(ctx, "tenant-dup-test", id1, nil)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if fact.Content != "2+2=4" {
		t.Fatalf("unexpected fact content %q", fact.Content)
	}
}

func TestDeprecateFactSetsValidUntil(t *testing.T) {
	client := requireTestDB(t)
	repo := NewLedgerRepository(client)
	ctx := context.Background()

	id, err := repo.StoreFact(ctx, FactDraft{TenantID: "tenant-deprecate-test", Project: "p1", FactType: FactKnowledge, Content: "to be deprecated"})
	if err != nil {
		t.Fatalf("StoreFact: %v", err)
	}

	if _, err := repo.DeprecateFact(ctx, "tenant-deprecate-test", id, "superseded", nil); err != nil {
		t.Fatalf("DeprecateFact: %v", err)
	}

	fact, err := repo.GetFact(ctx, "tenant-deprecate-test", id, nil)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if fact.ValidUntil == nil {
		t.Fatal("expected valid_until to be set after deprecation")
	}

	asOfPast := time.Now().Add(-time.Hour)
	_, err = repo.GetFact(ctx, "tenant-deprecate-test", id, &asOfPast)
	if err != nil {
		t.Fatalf("expected fact to still be visible as of the past: %v", err)
	}
}
