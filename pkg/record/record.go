// Package record defines the raw Airtable record and page types as they
// arrive from the list-records endpoint.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// IDField is the structural identifier column name.
const IDField = "id"

var (
	// ErrMissingRecords indicates a response body without a "records" array.
	ErrMissingRecords = errors.New("response has no records array")

	// ErrInvalidRecord indicates a record without an identifier.
	ErrInvalidRecord = errors.New("record has no id")
)

// Fields holds a record's field values in the order the server sent them.
type Fields = orderedmap.OrderedMap[string, any]

// Record is one Airtable row: an opaque identifier plus sparse named fields.
type Record struct {
	// ID is assigned by Airtable (e.g. "recXXXXXXXXXXXXXX").
	ID string `json:"id"`

	// CreatedTime is the server-side creation timestamp, RFC 3339.
	CreatedTime string `json:"createdTime,omitempty"`

	// Fields maps field name to value. Absent fields are not present at all;
	// Airtable omits empty cells.
	Fields *Fields `json:"fields"`
}

// NewRecord builds a record from alternating key/value pairs.
// It is mostly useful in tests and examples.
func NewRecord(id string, kv ...any) Record {
	fields := orderedmap.New[string, any]()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("record.NewRecord: key at %d is %T, want string", i, kv[i]))
		}
		fields.Set(key, kv[i+1])
	}
	return Record{ID: id, Fields: fields}
}

// FieldNames returns the record's field names in server order.
func (r Record) FieldNames() []string {
	if r.Fields == nil {
		return nil
	}
	names := make([]string, 0, r.Fields.Len())
	for pair := r.Fields.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Get returns the value of a field and whether it was present.
func (r Record) Get(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	return r.Fields.Get(name)
}

// Len returns the number of populated fields.
func (r Record) Len() int {
	if r.Fields == nil {
		return 0
	}
	return r.Fields.Len()
}

// Page is one response of the list-records endpoint.
type Page struct {
	Records []Record `json:"records"`

	// Offset is the continuation token. Nil on the final page.
	Offset *string `json:"offset,omitempty"`
}

// HasMore reports whether another page must be requested.
func (p *Page) HasMore() bool {
	return p.Offset != nil
}

// DecodePage parses a list-records response body.
// A body that is valid JSON but has no "records" key yields ErrMissingRecords.
func DecodePage(body []byte) (*Page, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	rawRecords, ok := probe["records"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawRecords), []byte("null")) {
		return nil, ErrMissingRecords
	}

	page := &Page{}
	if err := json.Unmarshal(rawRecords, &page.Records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	if rawOffset, ok := probe["offset"]; ok {
		var offset *string
		if err := json.Unmarshal(rawOffset, &offset); err != nil {
			return nil, fmt.Errorf("decode offset: %w", err)
		}
		page.Offset = offset
	}

	for i := range page.Records {
		if page.Records[i].ID == "" {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidRecord, i)
		}
		if page.Records[i].Fields == nil {
			page.Records[i].Fields = orderedmap.New[string, any]()
		}
	}

	return page, nil
}
