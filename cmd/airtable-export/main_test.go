package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/airtable-client/internal/config"
	"github.com/Sternrassler/airtable-client/internal/testutil"
	"github.com/Sternrassler/airtable-client/pkg/ratelimit"
	"github.com/Sternrassler/airtable-client/pkg/secret"
	"github.com/Sternrassler/airtable-client/pkg/sink"
	"github.com/Sternrassler/airtable-client/pkg/table"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.APIKey = "keyTEST"
	cfg.AppID = "appENV"
	cfg.Table = "FromEnv"
	return cfg
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		wantApp  string
		wantOuts []string
		wantMode sink.Mode
	}{
		{
			name:     "env defaults with stdout",
			args:     nil,
			wantApp:  "appENV",
			wantOuts: []string{"-"},
			wantMode: sink.ModeReplace,
		},
		{
			name:     "flags override env",
			args:     []string{"-app", "appFLAG", "-out", "a.csv", "-out", "sqlite://b.db", "-mode", "append"},
			wantApp:  "appFLAG",
			wantOuts: []string{"a.csv", "sqlite://b.db"},
			wantMode: sink.ModeAppend,
		},
		{name: "column with out", args: []string{"-column", "Name", "-out", "a.csv"}, wantErr: true},
		{name: "bad mode", args: []string{"-mode", "merge"}, wantErr: true},
		{name: "negative max records", args: []string{"-max-records", "-1"}, wantErr: true},
		{name: "stray argument", args: []string{"extra"}, wantErr: true},
		{name: "empty table", args: []string{"-table", ""}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args, envConfig(), io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantApp, opts.cfg.AppID)
			assert.Equal(t, tt.wantOuts, []string(opts.outs))
			assert.Equal(t, tt.wantMode, opts.mode)
		})
	}
}

func TestParseFlags_ColumnSuppressesDefaultOutput(t *testing.T) {
	opts, err := parseFlags([]string{"-column", "Name"}, envConfig(), io.Discard)
	require.NoError(t, err)
	assert.Empty(t, opts.outs)
	assert.Equal(t, "Name", opts.column)
}

func TestWriteColumn(t *testing.T) {
	tbl := table.New([]string{"id", "Name", "Count"}, []table.Row{
		{"id": "rec1", "Name": "a", "Count": 1.0},
		{"id": "rec2", "Name": nil, "Count": 2.0},
	})

	var buf bytes.Buffer
	require.NoError(t, writeColumn(&buf, tbl, "Name"))
	assert.Equal(t, "\"a\"\nnull\n", buf.String())

	err := writeColumn(&buf, tbl, "Missing")
	assert.True(t, errors.Is(err, table.ErrUnknownField))
}

func setupExport(t *testing.T, args ...string) (*testutil.MockAirtable, *exporter) {
	t.Helper()

	server := testutil.NewMockAirtable()
	t.Cleanup(server.Close)
	server.APIKey = "keyTEST"
	server.PageSize = 2
	server.SetTable("appTEST", "Tasks",
		testutil.NewRecordJSON("rec1", "Name", "a", "Done", true),
		testutil.NewRecordJSON("rec2", "Name", "b"),
		testutil.NewRecordJSON("rec3", "Count", 3),
	)

	env := envConfig()
	env.BaseURL = server.BaseURL()
	env.AppID = "appTEST"
	env.Table = "Tasks"

	opts, err := parseFlags(args, env, io.Discard)
	require.NoError(t, err)

	exp, err := newExporter(context.Background(), opts, secret.Static("keyTEST"),
		ratelimit.NewMemoryTracker(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sink.CloseAll(exp.sinks) })

	return server, exp
}

func TestExporter_RunOnceWritesSinks(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "tasks.csv")
	jsonlPath := filepath.Join(dir, "tasks.jsonl")

	server, exp := setupExport(t, "-out", csvPath, "-out", jsonlPath)

	require.NoError(t, exp.runOnce(context.Background()))
	assert.Equal(t, 2, server.GetRequestCount())
	require.NoError(t, sink.CloseAll(exp.sinks))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,Name,Done,Count", lines[0])
	assert.Equal(t, "rec1,a,true,", lines[1])

	data, err = os.ReadFile(jsonlPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"id":"rec3"`)
}

func TestExporter_RunOnceColumn(t *testing.T) {
	_, exp := setupExport(t, "-column", "Name")
	var buf bytes.Buffer
	exp.stdout = &buf

	require.NoError(t, exp.runOnce(context.Background()))
	assert.Equal(t, "\"a\"\n\"b\"\nnull\n", buf.String())
}

func TestExporter_RunOnceFailsWithWrongKey(t *testing.T) {
	_, exp := setupExport(t, "-column", "Name")
	exp.keys = secret.Static("wrong")

	err := exp.runOnce(context.Background())
	assert.Error(t, err)
}

func TestExporter_InvalidSchedule(t *testing.T) {
	_, exp := setupExport(t, "-column", "Name")

	err := exp.runScheduled(context.Background(), "every now and then")
	assert.Error(t, err)
}
