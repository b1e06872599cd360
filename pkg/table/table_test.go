package table

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/airtable-client/pkg/record"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := Flatten([]record.Record{
		record.NewRecord("r1", "A", 1.0),
		record.NewRecord("r2", "B", "two"),
		record.NewRecord("r3", "A", 3.0, "B", "three"),
	})
	require.NoError(t, err)
	return tbl
}

func TestColumn(t *testing.T) {
	tbl := sampleTable(t)

	tests := []struct {
		name string
		want []any
	}{
		{name: "id", want: []any{"r1", "r2", "r3"}},
		{name: "A", want: []any{1.0, nil, 3.0}},
		{name: "B", want: []any{nil, "two", "three"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Column(tbl, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumn_UnknownField(t *testing.T) {
	tbl := sampleTable(t)

	got, err := Column(tbl, "Z")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownField))

	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Z", unknown.Name)
	assert.Equal(t, `"Z" is not a valid field name`, err.Error())
}

func TestColumn_EmptyTable(t *testing.T) {
	tbl, err := Flatten(nil)
	require.NoError(t, err)

	ids, err := Column(tbl, "id")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTable_IndexAndValues(t *testing.T) {
	tbl := sampleTable(t)

	i, ok := tbl.Index("B")
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = tbl.Index("nope")
	assert.False(t, ok)

	assert.Equal(t, []any{"r2", nil, "two"}, tbl.Values(tbl.Rows[1]))
}

func TestTable_IndexWithoutPrebuiltIndex(t *testing.T) {
	tbl := &Table{FieldNames: []string{"id", "X"}}

	i, ok := tbl.Index("X")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	assert.False(t, tbl.HasField("Y"))
}
