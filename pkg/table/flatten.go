package table

import (
	"fmt"

	"github.com/Sternrassler/airtable-client/pkg/record"
)

// CollisionPolicy decides what happens to a data field literally named like
// the identifier column.
type CollisionPolicy string

const (
	// CollisionRename moves the data field to a distinct column
	// ("fields.id", or "fields.id_2", ... if that name is taken).
	CollisionRename CollisionPolicy = "rename"

	// CollisionReject fails Flatten with a FieldCollisionError.
	CollisionReject CollisionPolicy = "reject"
)

// renamedIDField is the base name for a renamed "id" data field.
const renamedIDField = "fields." + record.IDField

// Option configures a Flattener.
type Option func(*Flattener)

// WithCollisionPolicy sets the identifier collision policy.
func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(f *Flattener) {
		f.policy = p
	}
}

// Flattener turns records into a Table. The zero value is not usable;
// use NewFlattener.
type Flattener struct {
	policy CollisionPolicy
}

// NewFlattener creates a Flattener. The default policy is CollisionRename.
func NewFlattener(opts ...Option) *Flattener {
	f := &Flattener{policy: CollisionRename}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flatten flattens records with the default options.
func Flatten(records []record.Record) (*Table, error) {
	return NewFlattener().Flatten(records)
}

// Flatten computes the union schema of records and one fully populated Row
// per record. An empty input yields FieldNames == ["id"] and no rows.
func (f *Flattener) Flatten(records []record.Record) (*Table, error) {
	idAlias, err := f.resolveIDAlias(records)
	if err != nil {
		return nil, err
	}

	fieldNames := []string{record.IDField}
	seen := map[string]struct{}{record.IDField: {}}

	for _, rec := range records {
		if rec.Fields == nil {
			continue
		}
		for pair := rec.Fields.Oldest(); pair != nil; pair = pair.Next() {
			name := columnName(pair.Key, idAlias)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			fieldNames = append(fieldNames, name)
		}
	}

	rows := make([]Row, len(records))
	for i, rec := range records {
		row := make(Row, len(fieldNames))
		row[record.IDField] = rec.ID
		for _, name := range fieldNames[1:] {
			// Absent fields are stored as nil.
			value, _ := rec.Get(sourceName(name, idAlias))
			row[name] = value
		}
		rows[i] = row
	}

	return New(fieldNames, rows), nil
}

// resolveIDAlias returns the column name for data fields called "id", or ""
// when no record carries one.
func (f *Flattener) resolveIDAlias(records []record.Record) (string, error) {
	var (
		collides bool
		names    = make(map[string]struct{})
	)

	for _, rec := range records {
		if rec.Fields == nil {
			continue
		}
		if _, ok := rec.Fields.Get(record.IDField); ok {
			if f.policy == CollisionReject {
				return "", &FieldCollisionError{RecordID: rec.ID, Field: record.IDField}
			}
			collides = true
		}
		for pair := rec.Fields.Oldest(); pair != nil; pair = pair.Next() {
			names[pair.Key] = struct{}{}
		}
	}

	if !collides {
		return "", nil
	}

	alias := renamedIDField
	for n := 2; ; n++ {
		if _, taken := names[alias]; !taken {
			return alias, nil
		}
		alias = fmt.Sprintf("%s_%d", renamedIDField, n)
	}
}

// columnName maps a record field name to its table column.
func columnName(field, idAlias string) string {
	if field == record.IDField && idAlias != "" {
		return idAlias
	}
	return field
}

// sourceName maps a table column back to the record field it reads.
func sourceName(column, idAlias string) string {
	if idAlias != "" && column == idAlias {
		return record.IDField
	}
	return column
}
