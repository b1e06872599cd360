// Package table rectangularizes sparse Airtable records.
//
// Flatten computes the union of every field name seen across a record set,
// in first-seen order with the record identifier first, and produces one Row
// per record in which every field of the union is present. Fields a record
// does not carry hold nil, so the key is present but the value is absent.
//
// Example usage:
//
//	tbl, err := table.Flatten(records)
//	if err != nil {
//		return err
//	}
//	names, err := table.Column(tbl, "Name")
//
// The output depends only on the input order: the same records always give
// the same FieldNames and Rows.
package table

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/airtable-client/pkg/record"
)

// IDColumn is always the first entry of FieldNames.
const IDColumn = record.IDField

var (
	// ErrUnknownField is matched by UnknownFieldError.
	ErrUnknownField = errors.New("unknown field")

	// ErrFieldCollision is matched by FieldCollisionError.
	ErrFieldCollision = errors.New("data field collides with record id")
)

// UnknownFieldError is returned by Column for a name outside the schema.
type UnknownFieldError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%q is not a valid field name", e.Name)
}

// Is reports ErrUnknownField equivalence.
func (e *UnknownFieldError) Is(target error) bool {
	return target == ErrUnknownField
}

// FieldCollisionError is returned under CollisionReject when a record carries
// a data field named like the identifier column.
type FieldCollisionError struct {
	RecordID string
	Field    string
}

// Error implements the error interface.
func (e *FieldCollisionError) Error() string {
	return fmt.Sprintf("record %s: data field %q collides with the identifier column", e.RecordID, e.Field)
}

// Is reports ErrFieldCollision equivalence.
func (e *FieldCollisionError) Is(target error) bool {
	return target == ErrFieldCollision
}

// Row maps every field name of its Table to a value.
type Row map[string]any

// Table is the rectangular form of a record set.
type Table struct {
	// FieldNames starts with record.IDField followed by every data field in
	// first-seen order. Each name appears once.
	FieldNames []string

	// Rows holds one Row per input record, in input order.
	Rows []Row

	index map[string]int
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of name in FieldNames.
func (t *Table) Index(name string) (int, bool) {
	if t.index == nil {
		for i, n := range t.FieldNames {
			if n == name {
				return i, true
			}
		}
		return 0, false
	}
	i, ok := t.index[name]
	return i, ok
}

// New builds a Table from already rectangular data, e.g. a stored snapshot.
func New(fieldNames []string, rows []Row) *Table {
	t := &Table{FieldNames: fieldNames, Rows: rows}
	t.buildIndex()
	return t
}

func (t *Table) buildIndex() {
	t.index = make(map[string]int, len(t.FieldNames))
	for i, n := range t.FieldNames {
		t.index[n] = i
	}
}

// HasField reports whether name is part of the schema.
func (t *Table) HasField(name string) bool {
	_, ok := t.Index(name)
	return ok
}

// Values returns the row's values ordered like FieldNames.
func (t *Table) Values(row Row) []any {
	values := make([]any, len(t.FieldNames))
	for i, name := range t.FieldNames {
		values[i] = row[name]
	}
	return values
}

// Column returns the value of field name from every row, in row order,
// including nil for records without the field.
func Column(t *Table, name string) ([]any, error) {
	if !t.HasField(name) {
		return nil, &UnknownFieldError{Name: name}
	}

	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[name]
	}
	return values, nil
}
