package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/airtable-client/pkg/table"
	"github.com/redis/go-redis/v9"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrSnapshotNotFound indicates no snapshot is stored for the key.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshot indicates the stored value cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// SnapshotKey identifies the stored snapshot of one table.
type SnapshotKey struct {
	AppID string
	Table string
}

// String generates the Redis key.
// Format: airtable:snapshot:<app>:<table>
func (k SnapshotKey) String() string {
	return strings.Join([]string{"airtable", "snapshot", k.AppID, k.Table}, ":")
}

// Snapshot is a stored table with its run metadata.
type Snapshot struct {
	Meta  Meta
	Table *table.Table
}

// storedSnapshot is the JSON layout written to Redis. Rows keep field
// order so the value is readable with redis-cli.
type storedSnapshot struct {
	Meta       Meta                                  `json:"meta"`
	FieldNames []string                              `json:"field_names"`
	Rows       []*orderedmap.OrderedMap[string, any] `json:"rows"`
}

type loadedSnapshot struct {
	Meta       Meta        `json:"meta"`
	FieldNames []string    `json:"field_names"`
	Rows       []table.Row `json:"rows"`
}

// RedisSink stores the whole table as one JSON value. Each write replaces
// the previous snapshot, whatever the mode.
type RedisSink struct {
	redis *redis.Client
	ttl   time.Duration
	owned bool
}

// NewRedisSink creates a sink on an existing client. ttl 0 keeps snapshots
// until overwritten.
func NewRedisSink(redisClient *redis.Client, ttl time.Duration) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisSink{redis: redisClient, ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, tbl *table.Table, meta Meta) (int, error) {
	stored := storedSnapshot{
		Meta:       meta,
		FieldNames: tbl.FieldNames,
		Rows:       make([]*orderedmap.OrderedMap[string, any], 0, tbl.Len()),
	}
	for _, row := range tbl.Rows {
		stored.Rows = append(stored.Rows, orderedRow(tbl, row))
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	key := SnapshotKey{AppID: meta.AppID, Table: meta.Table}
	if err := s.redis.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		return 0, fmt.Errorf("redis set: %w", err)
	}
	return tbl.Len(), nil
}

func (s *RedisSink) Close() error {
	if s.owned {
		return s.redis.Close()
	}
	return nil
}

// LoadSnapshot reads back the snapshot stored for key.
// Returns ErrSnapshotNotFound if none exists.
func LoadSnapshot(ctx context.Context, redisClient *redis.Client, key SnapshotKey) (*Snapshot, error) {
	data, err := redisClient.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var loaded loadedSnapshot
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if len(loaded.FieldNames) == 0 || loaded.FieldNames[0] != table.IDColumn {
		return nil, fmt.Errorf("%w: missing %q column", ErrInvalidSnapshot, table.IDColumn)
	}

	// Hand-written values may omit fields.
	for i, row := range loaded.Rows {
		if row == nil {
			row = table.Row{}
			loaded.Rows[i] = row
		}
		for _, name := range loaded.FieldNames {
			if _, ok := row[name]; !ok {
				row[name] = nil
			}
		}
	}

	return &Snapshot{
		Meta:  loaded.Meta,
		Table: table.New(loaded.FieldNames, loaded.Rows),
	}, nil
}
