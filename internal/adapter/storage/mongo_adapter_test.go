package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/warehouse-tracker/internal/port"
)

func getMongoDB(t *testing.T) *mongo.Database {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017/?replicaSet=rs0"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	var hello bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	if _, ok := hello["setName"]; !ok {
		t.Skip("MongoDB is not a replica set; transactions unavailable")
	}

	db := client.Database("warehouse_test")
	db.Drop(context.Background())
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return db
}

func TestMongoTransaction_Commit(t *testing.T) {
	store := NewMongoStore(getMongoDB(t), nil)
	ctx := context.Background()

	id, err := store.Add(ctx, "counters", []byte(`{"n":1,"label":"a"}`))
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	err = store.RunTransaction(ctx, func(ctx context.Context, tx port.Txn) error {
		doc, err := tx.Get(ctx, "counters", id)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, "counters", id, map[string]any{"n": readCounter(t, doc) + 1}); err != nil {
			return err
		}
		return tx.Set(ctx, "receipts", "r1", []byte(`{"n":2}`))
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err := store.Get(ctx, "counters", id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got := readCounter(t, doc); got != 2 {
		t.Errorf("expected counter 2, got %d", got)
	}
}

func TestMongoTransaction_AbortDiscardsWrites(t *testing.T) {
	store := NewMongoStore(getMongoDB(t), nil)
	ctx := context.Background()
	boom := errors.New("boom")

	id, _ := store.Add(ctx, "counters", []byte(`{"n":1}`))

	err := store.RunTransaction(ctx, func(ctx context.Context, tx port.Txn) error {
		if err := tx.Update(ctx, "counters", id, map[string]any{"n": 99}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	doc, _ := store.Get(ctx, "counters", id)
	if got := readCounter(t, doc); got != 1 {
		t.Errorf("expected counter unchanged at 1, got %d", got)
	}
}

func TestMongoQueryOrdered(t *testing.T) {
	store := NewMongoStore(getMongoDB(t), nil)
	ctx := context.Background()

	store.Add(ctx, "sites", []byte(`{"name":"Manila"}`))
	store.Add(ctx, "sites", []byte(`{"name":"Cebu"}`))

	docs, err := store.QueryOrdered(ctx, "sites", "name", port.Ascending)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	site, err := store.Get(ctx, "sites", docs[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(site.Data) != `{"name":"Cebu"}` {
		t.Errorf("expected Cebu first, got %s", site.Data)
	}
}

func TestCommitWithRetry_RetriesUnknownOutcome(t *testing.T) {
	calls := 0
	err := commitWithRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return mongo.CommandError{Code: 50, Message: "timeout", Labels: []string{labelUnknownCommitResult}}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected commit to succeed, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 commit calls, got %d", calls)
	}
}

func TestCommitWithRetry_GivesUpWithoutConflict(t *testing.T) {
	calls := 0
	unknown := mongo.CommandError{Code: 50, Message: "timeout", Labels: []string{labelUnknownCommitResult}}
	err := commitWithRetry(context.Background(), func(context.Context) error {
		calls++
		return unknown
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != maxCommitAttempts {
		t.Errorf("expected %d commit calls, got %d", maxCommitAttempts, calls)
	}
	// The body must not be re-run when the commit may already have applied.
	if errors.Is(mapMongoError(err), port.ErrConflict) {
		t.Errorf("unknown commit outcome must not be retried as a conflict: %v", err)
	}
}

func TestCommitWithRetry_StopsOnOtherErrors(t *testing.T) {
	calls := 0
	transient := mongo.CommandError{Code: 112, Message: "write conflict", Labels: []string{labelTransientTransaction}}
	err := commitWithRetry(context.Background(), func(context.Context) error {
		calls++
		return transient
	})
	if calls != 1 {
		t.Errorf("expected a single commit call, got %d", calls)
	}
	if !errors.Is(mapMongoError(err), port.ErrConflict) {
		t.Errorf("expected transient errors to map to ErrConflict, got: %v", err)
	}
}

func TestMapMongoError_UnknownCommitIsNotConflict(t *testing.T) {
	err := mongo.CommandError{Code: 50, Message: "timeout", Labels: []string{labelUnknownCommitResult}}
	if errors.Is(mapMongoError(err), port.ErrConflict) {
		t.Errorf("expected unknown commit result to stay a plain error")
	}
	if mapMongoError(nil) != nil {
		t.Errorf("expected nil to stay nil")
	}
}
