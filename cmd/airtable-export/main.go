// Command airtable-export pulls every record of an Airtable table, flattens
// it and writes the result to one or more sinks.
//
// Usage:
//
//	airtable-export -app appXXXX -table Tasks -out tasks.csv -out sqlite://tasks.db
//	airtable-export -app appXXXX -table Tasks -column Status
//	airtable-export -app appXXXX -table Tasks -out redis://localhost:6379/0 -schedule "*/15 * * * *"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/airtable-client/internal/config"
	"github.com/Sternrassler/airtable-client/pkg/fetcher"
	"github.com/Sternrassler/airtable-client/pkg/logging"
	"github.com/Sternrassler/airtable-client/pkg/metrics"
	"github.com/Sternrassler/airtable-client/pkg/ratelimit"
	"github.com/Sternrassler/airtable-client/pkg/secret"
	"github.com/Sternrassler/airtable-client/pkg/sink"
	"github.com/Sternrassler/airtable-client/pkg/table"
	"github.com/Sternrassler/airtable-client/pkg/transport"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	cfg        config.Config
	outs       stringList
	column     string
	schedule   string
	mode       sink.Mode
	maxRecords int
}

// parseFlags registers flags with env-derived defaults so that flags
// override the environment.
func parseFlags(args []string, env config.Config, stderr io.Writer) (*options, error) {
	opts := &options{cfg: env}
	var mode string

	fs := flag.NewFlagSet("airtable-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.cfg.AppID, "app", env.AppID, "Airtable base id (env "+config.EnvAppID+")")
	fs.StringVar(&opts.cfg.Table, "table", env.Table, "table name or id (env "+config.EnvTable+")")
	fs.StringVar(&opts.cfg.View, "view", env.View, "view to read (env "+config.EnvView+")")
	fs.StringVar(&opts.cfg.MetricsAddr, "metrics-addr", env.MetricsAddr, "serve /metrics and /health on this address (env "+config.EnvMetricsAddr+")")
	fs.Var(&opts.outs, "out", "output target, repeatable (file path, sqlite://, postgres://, mysql://, mongodb://, elastic+http://, redis://)")
	fs.StringVar(&opts.column, "column", "", "print one column as JSON lines instead of writing sinks")
	fs.StringVar(&opts.schedule, "schedule", "", "cron expression; run repeatedly until interrupted")
	fs.StringVar(&mode, "mode", string(sink.ModeReplace), "sink write mode: replace or append")
	fs.IntVar(&opts.maxRecords, "max-records", 0, "stop after this many records (0 = all)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	m, err := sink.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	opts.mode = m

	if opts.column != "" && len(opts.outs) > 0 {
		return nil, errors.New("-column and -out are mutually exclusive")
	}
	if opts.column == "" && len(opts.outs) == 0 {
		opts.outs = stringList{"-"}
	}
	if opts.maxRecords < 0 {
		return nil, errors.New("-max-records must not be negative")
	}

	if err := opts.cfg.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], config.FromEnv(), os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "airtable-export: %v\n", err)
		os.Exit(2)
	}

	logging.Setup(opts.cfg.Logging())
	logger := logging.NewLogger(logging.ComponentExporter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error().Err(err).Msg("Export failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logger zerolog.Logger) error {
	if opts.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	keys, err := opts.cfg.KeyProvider(ctx)
	if err != nil {
		return fmt.Errorf("resolve api key: %w", err)
	}

	limiter, closeLimiter, err := opts.cfg.Limiter(ctx, logging.NewLogger(logging.ComponentTransport))
	if err != nil {
		return err
	}
	defer closeLimiter()

	exp, err := newExporter(ctx, opts, keys, limiter, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.CloseAll(exp.sinks); err != nil {
			logger.Warn().Err(err).Msg("Failed to close sinks")
		}
	}()

	if opts.schedule == "" {
		return exp.runOnce(ctx)
	}
	return exp.runScheduled(ctx, opts.schedule)
}

// exporter performs one fetch-flatten-write cycle per run.
type exporter struct {
	cfg        config.Config
	maxRecords int
	keys       secret.Provider
	transport  transport.Transport
	sinks      []sink.Sink
	column     string
	stdout     io.Writer
	logger     zerolog.Logger
}

func newExporter(ctx context.Context, opts *options, keys secret.Provider, limiter ratelimit.Limiter, logger zerolog.Logger) (*exporter, error) {
	tcfg := transport.DefaultConfig()
	tcfg.UserAgent = opts.cfg.UserAgent
	tcfg.Limiter = limiter
	t, err := transport.New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	exp := &exporter{
		cfg:        opts.cfg,
		maxRecords: opts.maxRecords,
		keys:       keys,
		transport:  t,
		column:     opts.column,
		stdout:     os.Stdout,
		logger:     logger,
	}

	for _, target := range opts.outs {
		s, err := sink.Open(ctx, target, sink.WithMode(opts.mode))
		if err != nil {
			sink.CloseAll(exp.sinks)
			return nil, fmt.Errorf("open %s: %w", target, err)
		}
		exp.sinks = append(exp.sinks, s)
	}
	return exp, nil
}

func (e *exporter) runOnce(ctx context.Context) error {
	start := time.Now()

	// The key is resolved per run so a rotated secret is picked up.
	apiKey, err := e.keys.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("resolve api key: %w", err)
	}

	fcfg := e.cfg.Fetcher(apiKey)
	fcfg.MaxRecords = e.maxRecords
	fcfg.Observer = fetcher.MultiObserver{
		fetcher.NewLogObserver(logging.NewLogger(logging.ComponentFetcher)),
		fetcher.MetricsObserver{},
	}
	f, err := fetcher.New(e.transport, fcfg)
	if err != nil {
		return err
	}

	_, tbl, err := fetcher.FetchTable(ctx, f, nil)
	if err != nil {
		return err
	}

	if e.column != "" {
		return writeColumn(e.stdout, tbl, e.column)
	}

	meta := sink.NewMeta(e.cfg.AppID, e.cfg.Table)
	if err := sink.WriteAll(ctx, e.sinks, tbl, meta); err != nil {
		return err
	}

	e.logger.Info().
		Str("run_id", meta.RunID).
		Str("table", e.cfg.Table).
		Int("rows", tbl.Len()).
		Int("sinks", len(e.sinks)).
		Dur("duration", time.Since(start)).
		Msg("Export complete")
	return nil
}

// runScheduled runs the export on a cron schedule until ctx is done. A
// failed run is logged and the schedule continues.
func (e *exporter) runScheduled(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if err := e.runOnce(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Scheduled export failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	e.logger.Info().Str("schedule", schedule).Msg("Starting scheduled export")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	e.logger.Info().Msg("Scheduler stopped")
	return nil
}

// writeColumn prints each value of the named column as one JSON line.
func writeColumn(w io.Writer, tbl *table.Table, name string) error {
	values, err := table.Column(tbl, name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("write column value: %w", err)
		}
	}
	return nil
}
