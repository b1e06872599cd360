package table

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/airtable-client/pkg/record"
)

func TestFlatten_SparseRecords(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "A", 1),
		record.NewRecord("r2", "B", 2),
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "A", "B"}, tbl.FieldNames)
	assert.Equal(t, []Row{
		{"id": "r1", "A": 1, "B": nil},
		{"id": "r2", "A": nil, "B": 2},
	}, tbl.Rows)
}

func TestFlatten_Empty(t *testing.T) {
	for _, input := range [][]record.Record{nil, {}} {
		tbl, err := Flatten(input)
		require.NoError(t, err)
		assert.Equal(t, []string{"id"}, tbl.FieldNames)
		assert.Empty(t, tbl.Rows)
		assert.Equal(t, 0, tbl.Len())
	}
}

func TestFlatten_FirstSeenOrder(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "Zeta", "z", "Alpha", "a"),
		record.NewRecord("r2", "Mid", "m", "Zeta", "z2"),
		record.NewRecord("r3", "Alpha", "a3", "Beta", true, "Mid", nil),
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "Zeta", "Alpha", "Mid", "Beta"}, tbl.FieldNames)
}

func TestFlatten_EveryRowHasExactlyTheSchemaKeys(t *testing.T) {
	var records []record.Record
	for i := 0; i < 50; i++ {
		kv := []any{}
		for j := 0; j < i%7; j++ {
			kv = append(kv, fmt.Sprintf("F%d", (i+j)%11), i*j)
		}
		records = append(records, record.NewRecord(fmt.Sprintf("rec%02d", i), kv...))
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, len(records))

	for i, row := range tbl.Rows {
		assert.Len(t, row, len(tbl.FieldNames), "row %d", i)
		for _, name := range tbl.FieldNames {
			_, ok := row[name]
			assert.True(t, ok, "row %d missing key %q", i, name)
		}
		assert.Equal(t, records[i].ID, row["id"])
	}
}

func TestFlatten_Idempotent(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "A", 1, "List", []any{"x", "y"}),
		record.NewRecord("r2", "C", false),
		record.NewRecord("r3"),
	}

	first, err := Flatten(records)
	require.NoError(t, err)
	second, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, first.FieldNames, second.FieldNames)
	assert.Equal(t, first.Rows, second.Rows)
}

func TestFlatten_PresentNullIsKept(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "A", nil),
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "A"}, tbl.FieldNames)
	assert.Nil(t, tbl.Rows[0]["A"])
}

func TestFlatten_IDCollisionRename(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "id", "user-supplied", "A", 1),
		record.NewRecord("r2", "A", 2),
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "fields.id", "A"}, tbl.FieldNames)
	assert.Equal(t, "r1", tbl.Rows[0]["id"])
	assert.Equal(t, "user-supplied", tbl.Rows[0]["fields.id"])
	assert.Equal(t, "r2", tbl.Rows[1]["id"])
	assert.Nil(t, tbl.Rows[1]["fields.id"])
}

func TestFlatten_IDCollisionRenameAvoidsTakenAlias(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "fields.id", "real", "id", "shadow"),
		record.NewRecord("r2", "fields.id_2", "also real"),
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "fields.id", "fields.id_3", "fields.id_2"}, tbl.FieldNames)
	assert.Equal(t, "real", tbl.Rows[0]["fields.id"])
	assert.Equal(t, "shadow", tbl.Rows[0]["fields.id_3"])
	assert.Equal(t, "r1", tbl.Rows[0]["id"])
}

func TestFlatten_IDCollisionReject(t *testing.T) {
	records := []record.Record{
		record.NewRecord("r1", "A", 1),
		record.NewRecord("r2", "id", "x"),
	}

	tbl, err := NewFlattener(WithCollisionPolicy(CollisionReject)).Flatten(records)
	require.Error(t, err)
	assert.Nil(t, tbl)
	assert.True(t, errors.Is(err, ErrFieldCollision))

	var collision *FieldCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "r2", collision.RecordID)
}

func TestFlatten_RecordWithNilFields(t *testing.T) {
	records := []record.Record{
		{ID: "r1"},
		record.NewRecord("r2", "A", "x"),
	}

	tbl, err := Flatten(records)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "A"}, tbl.FieldNames)
	assert.Equal(t, Row{"id": "r1", "A": nil}, tbl.Rows[0])
}

func TestFlatten_AbsentFieldIsUntypedNil(t *testing.T) {
	tbl, err := Flatten([]record.Record{
		record.NewRecord("r1", "A", 1),
		record.NewRecord("r2"),
	})
	require.NoError(t, err)

	value, ok := tbl.Rows[1]["A"]
	require.True(t, ok, "absent field must still be a key of the row")
	if value != nil {
		t.Errorf("absent field = %#v, want untyped nil", value)
	}
}
