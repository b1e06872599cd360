package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tune sinks created by Open.
type Options struct {
	Mode Mode

	// RedisTTL is the snapshot expiry. A "ttl" query parameter on the
	// target overrides it.
	RedisTTL time.Duration
}

// Option configures Open.
type Option func(*Options)

// WithMode sets the write mode.
func WithMode(m Mode) Option {
	return func(o *Options) { o.Mode = m }
}

// WithRedisTTL sets the default snapshot expiry.
func WithRedisTTL(d time.Duration) Option {
	return func(o *Options) { o.RedisTTL = d }
}

// Open creates the sink addressed by target. Connections to network
// databases are verified where the driver allows it cheaply.
func Open(ctx context.Context, target string, opts ...Option) (Sink, error) {
	o := Options{Mode: ModeReplace}
	for _, opt := range opts {
		opt(&o)
	}

	scheme, rest, hasScheme := strings.Cut(target, "://")
	if !hasScheme {
		return openFile(target, o.Mode)
	}

	switch strings.ToLower(scheme) {
	case "file":
		return openFile(rest, o.Mode)

	case "sqlite", "sqlite3":
		path, q, err := splitQuery(rest)
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite target needs a file path", ErrUnsupportedTarget)
		}
		return openSQL(ctx, DriverSQLite, SQLiteDSN(path), q.Get("table"), o.Mode)

	case "postgres", "postgresql":
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse postgres target: %w", err)
		}
		q := u.Query()
		tableName := q.Get("table")
		q.Del("table")
		u.RawQuery = q.Encode()
		return openSQL(ctx, DriverPostgres, u.String(), tableName, o.Mode)

	case "mysql":
		// go-sql-driver DSNs (user:pass@tcp(host:port)/db) are not URLs.
		dsn, q, err := splitQuery(rest)
		if err != nil {
			return nil, err
		}
		tableName := q.Get("table")
		q.Del("table")
		if len(q) > 0 {
			dsn += "?" + q.Encode()
		}
		return openSQL(ctx, DriverMySQL, dsn, tableName, o.Mode)

	case "mongodb", "mongodb+srv":
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse mongodb target: %w", err)
		}
		db, coll, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), ".")
		if !ok || db == "" || coll == "" {
			return nil, fmt.Errorf("%w: mongodb target needs /database.collection", ErrUnsupportedTarget)
		}
		u.Path = "/"
		return NewMongoSink(u.String(), db, coll, o.Mode)

	case "elastic+http", "elastic+https":
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse elastic target: %w", err)
		}
		index := strings.Trim(u.Path, "/")
		if index == "" || strings.Contains(index, "/") {
			return nil, fmt.Errorf("%w: elastic target needs exactly one index name", ErrUnsupportedTarget)
		}
		u.Scheme = strings.TrimPrefix(strings.ToLower(scheme), "elastic+")
		u.Path = ""
		return NewElasticSink(u.String(), index, o.Mode)

	case "redis", "rediss":
		return openRedis(ctx, target, o.RedisTTL)

	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedTarget, scheme)
	}
}

func openFile(path string, mode Mode) (Sink, error) {
	lower := strings.TrimSuffix(strings.ToLower(path), ".gz")
	switch {
	case path == "-", strings.HasSuffix(lower, ".csv"):
		return NewCSVSink(path, mode), nil
	case strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"):
		return NewJSONLSink(path, mode), nil
	default:
		return nil, fmt.Errorf("%w: file %q (want .csv, .jsonl or .ndjson, optionally .gz)", ErrUnsupportedTarget, path)
	}
}

func openSQL(ctx context.Context, driver, dsn, tableName string, mode Mode) (Sink, error) {
	s, err := NewSQLSink(driver, dsn, tableName, mode)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return s, nil
}

func openRedis(ctx context.Context, target string, ttl time.Duration) (Sink, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse redis target: %w", err)
	}
	q := u.Query()
	if v := q.Get("ttl"); v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid redis ttl %q: %w", v, err)
		}
		q.Del("ttl")
		u.RawQuery = q.Encode()
	}

	redisOpts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := NewRedisSink(client, ttl)
	s.owned = true
	return s, nil
}

// splitQuery separates "path?query" without URL-parsing the path.
func splitQuery(s string) (string, url.Values, error) {
	path, raw, _ := strings.Cut(s, "?")
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse query %q: %w", raw, err)
	}
	return path, q, nil
}
