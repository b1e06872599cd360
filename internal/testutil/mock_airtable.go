// Package testutil provides testing utilities for the Airtable client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix the mock serves, matching the public API.
const APIPrefix = "/v0"

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAirtable is a configurable mock of the Airtable list-records endpoint.
// Registered tables are served page by page with opaque offset tokens.
type MockAirtable struct {
	server *httptest.Server
	mu     sync.RWMutex

	// APIKey, when set, must be presented as a bearer token.
	APIKey string

	// PageSize is used when the request has no pageSize parameter.
	PageSize int

	tables    map[string][]string
	overrides map[string][]MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	Queries           []url.Values
}

// NewMockAirtable creates and starts a mock server.
func NewMockAirtable() *MockAirtable {
	mock := &MockAirtable{
		PageSize:  100,
		tables:    make(map[string][]string),
		overrides: make(map[string][]MockResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the server root.
func (m *MockAirtable) URL() string {
	return m.server.URL
}

// BaseURL returns the API root to configure clients with.
func (m *MockAirtable) BaseURL() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockAirtable) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAirtable) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.Queries = nil
}

// SetTable registers records for appID/table. Each record is a JSON object
// literal so tests control field order exactly.
func (m *MockAirtable) SetTable(appID, table string, records ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[appID+"/"+table] = records
}

// QueueResponse makes the next request for appID/table return resp instead
// of table data. Queued responses are consumed in order.
func (m *MockAirtable) QueueResponse(appID, table string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := appID + "/" + table
	m.overrides[key] = append(m.overrides[key], resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAirtable) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetQueries returns a copy of the query strings received so far.
func (m *MockAirtable) GetQueries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]url.Values, len(m.Queries))
	copy(out, m.Queries)
	return out
}

func (m *MockAirtable) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	m.Queries = append(m.Queries, r.URL.Query())
	apiKey := m.APIKey
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
		writeError(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, APIPrefix+"/")
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Could not find what you are looking for")
		return
	}
	key := rest

	m.mu.Lock()
	if queued := m.overrides[key]; len(queued) > 0 {
		resp := queued[0]
		m.overrides[key] = queued[1:]
		m.mu.Unlock()
		writeMockResponse(w, resp)
		return
	}
	records, exists := m.tables[key]
	defaultPageSize := m.PageSize
	m.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "TABLE_NOT_FOUND", fmt.Sprintf("Could not find table %s", key))
		return
	}

	pageSize := defaultPageSize
	if v := r.URL.Query().Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_REQUEST_UNKNOWN", "Invalid pageSize")
			return
		}
		pageSize = n
	}

	start := 0
	if token := r.URL.Query().Get("offset"); token != "" {
		n, err := parseOffset(token)
		if err != nil || n > len(records) {
			writeError(w, http.StatusUnprocessableEntity, "LIST_RECORDS_ITERATOR_NOT_AVAILABLE", "Invalid offset")
			return
		}
		start = n
	}

	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}

	var b strings.Builder
	b.WriteString(`{"records":[`)
	b.WriteString(strings.Join(records[start:end], ","))
	b.WriteString(`]`)
	if end < len(records) {
		fmt.Fprintf(&b, `,"offset":%q`, formatOffset(end))
	}
	b.WriteString(`}`)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func formatOffset(n int) string {
	return fmt.Sprintf("itr%06d/rec", n)
}

func parseOffset(token string) (int, error) {
	digits := strings.TrimSuffix(strings.TrimPrefix(token, "itr"), "/rec")
	return strconv.Atoi(digits)
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]string{"type": errType, "message": message},
	})
	w.WriteHeader(status)
	w.Write(body)
}

// NewRecordJSON renders a record object with fields in the given order.
// kv alternates field names and values.
func NewRecordJSON(id string, kv ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, `{"id":%q,"createdTime":"2024-01-01T00:00:00.000Z","fields":{`, id)
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteString(",")
		}
		name, _ := kv[i].(string)
		value, _ := json.Marshal(kv[i+1])
		fmt.Fprintf(&b, "%q:%s", name, value)
	}
	b.WriteString("}}")
	return b.String()
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"type":"SERVER_ERROR","message":"Try again"}}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"error":"RATE_LIMIT_REACHED","message":"Rate limit exceeded"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  strconv.Itoa(retryAfter),
		},
	}
}

// NewMalformedResponse creates a 200 whose body lacks "records".
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"offset":"itr000001/rec"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
