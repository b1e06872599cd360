// Package mcpserver exposes Airtable tables to AI agents as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/airtable-client/internal/config"
	"github.com/Sternrassler/airtable-client/pkg/fetcher"
	"github.com/Sternrassler/airtable-client/pkg/logging"
	"github.com/Sternrassler/airtable-client/pkg/secret"
	"github.com/Sternrassler/airtable-client/pkg/table"
	"github.com/Sternrassler/airtable-client/pkg/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Server is the MCP server. Every tool call fetches the table afresh.
type Server struct {
	mcp       *server.MCPServer
	cfg       config.Config
	keys      secret.Provider
	transport transport.Transport
	logger    zerolog.Logger
}

// Deps holds what the server needs to reach Airtable. Config supplies the
// default base and table for calls that do not name them.
type Deps struct {
	Config    config.Config
	Keys      secret.Provider
	Transport transport.Transport
}

// New creates the server and registers its tools.
func New(deps Deps) *Server {
	s := &Server{
		cfg:       deps.Config,
		keys:      deps.Keys,
		transport: deps.Transport,
		logger:    logging.NewLogger(logging.ComponentMCP),
	}

	s.mcp = server.NewMCPServer(
		"airtable-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// ServeStdio serves MCP on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info().Msg("Starting stdio server")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	app := mcp.WithString("app", mcp.Description("Base id (defaults to the configured base)"))
	tbl := mcp.WithString("table", mcp.Description("Table name or id (defaults to the configured table)"))
	view := mcp.WithString("view", mcp.Description("View to read (optional)"))

	s.mcp.AddTool(mcp.NewTool("list_fields",
		mcp.WithDescription("List the column names of a table. The first column is always the record id."),
		app, tbl, view,
	), s.handleListFields)

	s.mcp.AddTool(mcp.NewTool("fetch_table",
		mcp.WithDescription("Fetch every record of a table as {fields, rows}. Each row lists values in field order; missing values are null."),
		app, tbl, view,
		mcp.WithNumber("limit", mcp.Description("Maximum number of records to fetch (0 = all)")),
	), s.handleFetchTable)

	s.mcp.AddTool(mcp.NewTool("get_column",
		mcp.WithDescription("Return the values of one column in record order."),
		app, tbl, view,
		mcp.WithString("column", mcp.Description("Column name"), mcp.Required()),
	), s.handleGetColumn)
}

func (s *Server) handleListFields(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tbl, err := s.fetch(ctx, req, 0)
	if err != nil {
		return nil, err
	}
	return jsonResult(tbl.FieldNames)
}

// tableResult is the fetch_table payload.
type tableResult struct {
	Fields []string `json:"fields"`
	Rows   [][]any  `json:"rows"`
}

func (s *Server) handleFetchTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}

	tbl, err := s.fetch(ctx, req, limit)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, tbl.Len())
	for _, row := range tbl.Rows {
		rows = append(rows, tbl.Values(row))
	}
	return jsonResult(tableResult{Fields: tbl.FieldNames, Rows: rows})
}

func (s *Server) handleGetColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	column := req.GetString("column", "")
	if column == "" {
		return nil, fmt.Errorf("column is required")
	}

	tbl, err := s.fetch(ctx, req, 0)
	if err != nil {
		return nil, err
	}
	values, err := table.Column(tbl, column)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(values)
}

// fetch resolves the target table from the request and fetches it.
func (s *Server) fetch(ctx context.Context, req mcp.CallToolRequest, limit int) (*table.Table, error) {
	cfg := s.cfg
	cfg.AppID = req.GetString("app", cfg.AppID)
	cfg.Table = req.GetString("table", cfg.Table)
	cfg.View = req.GetString("view", cfg.View)
	if cfg.AppID == "" || cfg.Table == "" {
		return nil, fmt.Errorf("app and table are required when no default is configured")
	}

	apiKey, err := s.keys.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve api key: %w", err)
	}

	fcfg := cfg.Fetcher(apiKey)
	fcfg.MaxRecords = limit
	fcfg.Observer = fetcher.MultiObserver{
		fetcher.NewLogObserver(s.logger),
		fetcher.MetricsObserver{},
	}
	f, err := fetcher.New(s.transport, fcfg)
	if err != nil {
		return nil, err
	}

	_, tbl, err := fetcher.FetchTable(ctx, f, nil)
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
