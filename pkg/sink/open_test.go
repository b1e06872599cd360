package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Files(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		target string
		want   string
	}{
		{filepath.Join(dir, "a.csv"), "csv"},
		{filepath.Join(dir, "a.CSV.gz"), "csv"},
		{filepath.Join(dir, "a.jsonl"), "jsonl"},
		{filepath.Join(dir, "a.ndjson"), "jsonl"},
		{filepath.Join(dir, "a.jsonl.gz"), "jsonl"},
		{"file://" + filepath.Join(dir, "b.csv"), "csv"},
		{"-", "csv"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			s, err := Open(context.Background(), tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
			assert.NoError(t, s.Close())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")

	s, err := Open(context.Background(), "sqlite://"+path+"?table=custom", WithMode(ModeAppend))
	require.NoError(t, err)
	defer s.Close()

	sqlSink, ok := s.(*SQLSink)
	require.True(t, ok)
	assert.Equal(t, "custom", sqlSink.tableName)
	assert.Equal(t, ModeAppend, sqlSink.mode)
	assert.Equal(t, DriverSQLite, sqlSink.Name())
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"unknown extension", "out.xlsx"},
		{"unknown scheme", "ftp://host/file"},
		{"sqlite without path", "sqlite://"},
		{"mongo without collection", "mongodb://localhost:27017/db"},
		{"elastic without index", "elastic+http://localhost:9200"},
		{"elastic nested index", "elastic+http://localhost:9200/a/b"},
		{"redis bad ttl", "redis://localhost:6379/0?ttl=soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.target)
			assert.Error(t, err)
		})
	}
}

func TestOpen_UnsupportedIsTyped(t *testing.T) {
	_, err := Open(context.Background(), "out.txt")
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
}

func TestSplitQuery(t *testing.T) {
	path, q, err := splitQuery("user:pw@tcp(db:3306)/app?table=t&parseTime=true")
	require.NoError(t, err)
	assert.Equal(t, "user:pw@tcp(db:3306)/app", path)
	assert.Equal(t, "t", q.Get("table"))
	assert.Equal(t, "true", q.Get("parseTime"))

	path, q, err = splitQuery("/tmp/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", path)
	assert.Empty(t, q)
}
