package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/airtable-client/pkg/record"
	"github.com/Sternrassler/airtable-client/pkg/table"
	"github.com/Sternrassler/airtable-client/pkg/transport"
	"github.com/go-playground/validator/v10"
)

// DefaultBaseURL is the Airtable REST API root.
const DefaultBaseURL = "https://api.airtable.com/v0"

// MaxPageSize is the largest page Airtable serves.
const MaxPageSize = 100

var validate = validator.New()

// Config holds fetcher configuration.
type Config struct {
	// BaseURL is the API root, without trailing slash.
	BaseURL string `validate:"required,url"`

	// AppID identifies the base ("app...").
	AppID string `validate:"required"`

	// Table is the table name or ID. It is path-escaped.
	Table string `validate:"required"`

	// APIKey is sent as a bearer token and never logged.
	APIKey string `validate:"required"`

	// Optional list parameters, repeated on every page request.
	View            string
	PageSize        int `validate:"gte=0,lte=100"`
	MaxRecords      int `validate:"gte=0"`
	FilterByFormula string
	Fields          []string

	// Observer receives progress events. nil disables them.
	Observer Observer `validate:"-"`
}

// DefaultConfig returns a configuration for one table on the public API.
func DefaultConfig(appID, tableName, apiKey string) Config {
	return Config{
		BaseURL: DefaultBaseURL,
		AppID:   appID,
		Table:   tableName,
		APIKey:  apiKey,
	}
}

// Fetcher pages through one table. It holds no state between Fetch calls
// and is safe to reuse.
type Fetcher struct {
	transport transport.Transport
	config    Config
	endpoint  string
	headers   http.Header
	observer  Observer
}

// New creates a new Fetcher.
func New(t transport.Transport, cfg Config) (*Fetcher, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid fetcher config: %w", err)
	}

	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/" +
		url.PathEscape(cfg.AppID) + "/" + url.PathEscape(cfg.Table)

	return &Fetcher{
		transport: t,
		config:    cfg,
		endpoint:  endpoint,
		headers:   http.Header{"Authorization": {"Bearer " + cfg.APIKey}},
		observer:  observer,
	}, nil
}

// Endpoint returns the list URL without query parameters.
func (f *Fetcher) Endpoint() string {
	return f.endpoint
}

// Table returns the configured table name.
func (f *Fetcher) Table() string {
	return f.config.Table
}

// Fetch retrieves all records in response order, page after page.
// On any failure it returns nil records and a *TransportError or
// *MalformedResponseError.
func (f *Fetcher) Fetch(ctx context.Context) ([]record.Record, error) {
	start := time.Now()
	records := []record.Record{}

	var offset *string
	page := 1
	for ; ; page++ {
		params := f.queryParams()
		if offset != nil {
			params.Set("offset", *offset)
		}

		resp, err := f.transport.Request(ctx, http.MethodGet, f.endpoint, params, f.headers)
		if err != nil {
			return nil, &TransportError{URL: f.endpoint, Page: page, Err: err}
		}
		if !resp.OK() {
			return nil, &TransportError{
				StatusCode: resp.StatusCode,
				URL:        f.endpoint,
				Page:       page,
				Body:       string(resp.Body),
			}
		}

		p, err := record.DecodePage(resp.Body)
		if err != nil {
			reason := "invalid JSON body"
			if errors.Is(err, record.ErrMissingRecords) || errors.Is(err, record.ErrInvalidRecord) {
				reason = err.Error()
			}
			return nil, &MalformedResponseError{Page: page, Reason: reason, Err: err}
		}

		records = append(records, p.Records...)
		f.observer.OnPage(PageEvent{
			Table:   f.config.Table,
			Page:    page,
			Records: len(p.Records),
			Total:   len(records),
			HasMore: p.HasMore(),
		})

		if !p.HasMore() {
			break
		}
		offset = p.Offset
	}

	f.observer.OnComplete(CompleteEvent{
		Table:    f.config.Table,
		Pages:    page,
		Records:  len(records),
		Duration: time.Since(start),
	})
	return records, nil
}

// queryParams builds the options shared by every page request.
func (f *Fetcher) queryParams() url.Values {
	params := url.Values{}
	if f.config.View != "" {
		params.Set("view", f.config.View)
	}
	if f.config.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(f.config.PageSize))
	}
	if f.config.MaxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(f.config.MaxRecords))
	}
	if f.config.FilterByFormula != "" {
		params.Set("filterByFormula", f.config.FilterByFormula)
	}
	for _, field := range f.config.Fields {
		params.Add("fields[]", field)
	}
	return params
}

// FetchTable fetches all records and flattens them. A nil flattener uses
// the default collision policy.
func FetchTable(ctx context.Context, f *Fetcher, flattener *table.Flattener) ([]record.Record, *table.Table, error) {
	records, err := f.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	if flattener == nil {
		flattener = table.NewFlattener()
	}
	tbl, err := flattener.Flatten(records)
	if err != nil {
		return nil, nil, fmt.Errorf("flatten %s: %w", f.config.Table, err)
	}
	return records, tbl, nil
}
