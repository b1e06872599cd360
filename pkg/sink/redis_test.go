package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none
// is running. Integration tests use testcontainers instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestSnapshotKey_String(t *testing.T) {
	key := SnapshotKey{AppID: "appABC", Table: "Tasks"}
	if got := key.String(); got != "airtable:snapshot:appABC:Tasks" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewRedisSink_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisSink should panic with nil redis client")
		}
	}()
	NewRedisSink(nil, 0)
}

func TestRedisSink_RoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	s := NewRedisSink(client, time.Hour)
	meta := sampleMeta()

	n, err := s.Write(ctx, sampleTable(), meta)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Write() = %d, want 3", n)
	}

	key := SnapshotKey{AppID: meta.AppID, Table: meta.Table}
	ttl := client.TTL(ctx, key.String()).Val()
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}

	snap, err := LoadSnapshot(ctx, client, key)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if snap.Meta.RunID != meta.RunID {
		t.Errorf("RunID = %q, want %q", snap.Meta.RunID, meta.RunID)
	}
	if got := snap.Table.FieldNames; len(got) != 3 || got[0] != "id" || got[1] != "A" || got[2] != "B" {
		t.Errorf("FieldNames = %v", got)
	}
	if snap.Table.Len() != 3 {
		t.Fatalf("rows = %d, want 3", snap.Table.Len())
	}
	if v, ok := snap.Table.Rows[1]["A"]; !ok || v != nil {
		t.Errorf("row r2 A = %v (present %v), want present nil", v, ok)
	}
	if snap.Table.Rows[2]["B"] != "x" {
		t.Errorf("row r3 B = %v", snap.Table.Rows[2]["B"])
	}
}

func TestLoadSnapshot_NotFound(t *testing.T) {
	client := setupTestRedis(t)

	_, err := LoadSnapshot(context.Background(), client, SnapshotKey{AppID: "appNone", Table: "Nope"})
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestLoadSnapshot_Invalid(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	key := SnapshotKey{AppID: "appBad", Table: "Broken"}
	client.Set(ctx, key.String(), "not json", 0)

	_, err := LoadSnapshot(ctx, client, key)
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("error = %v, want ErrInvalidSnapshot", err)
	}
}

func TestLoadSnapshot_FillsOmittedFieldsWithNil(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	key := SnapshotKey{AppID: "appSparse", Table: "Tasks"}
	client.Set(ctx, key.String(), `{"field_names":["id","A"],"rows":[{"id":"r1"},null]}`, 0)
	defer client.Del(ctx, key.String())

	snap, err := LoadSnapshot(ctx, client, key)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	for i, row := range snap.Table.Rows {
		value, ok := row["A"]
		if !ok || value != nil {
			t.Errorf("row %d A = %#v (present %v), want nil", i, value, ok)
		}
	}
}
