package record

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodePage(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantIDs     []string
		wantOffset  string
		wantHasMore bool
		wantErr     error
	}{
		{
			name:        "final page",
			body:        `{"records":[{"id":"rec1","createdTime":"2024-01-01T00:00:00.000Z","fields":{"Name":"a"}}]}`,
			wantIDs:     []string{"rec1"},
			wantHasMore: false,
		},
		{
			name:        "page with offset",
			body:        `{"records":[{"id":"rec1","fields":{}},{"id":"rec2","fields":{}}],"offset":"itr123/rec2"}`,
			wantIDs:     []string{"rec1", "rec2"},
			wantOffset:  "itr123/rec2",
			wantHasMore: true,
		},
		{
			name:        "empty page with offset",
			body:        `{"records":[],"offset":"itr456"}`,
			wantIDs:     []string{},
			wantOffset:  "itr456",
			wantHasMore: true,
		},
		{
			name:        "null offset is final",
			body:        `{"records":[],"offset":null}`,
			wantIDs:     []string{},
			wantHasMore: false,
		},
		{
			name:    "missing records",
			body:    `{"offset":"abc"}`,
			wantErr: ErrMissingRecords,
		},
		{
			name:    "null records",
			body:    `{"records":null}`,
			wantErr: ErrMissingRecords,
		},
		{
			name:    "record without id",
			body:    `{"records":[{"fields":{"A":1}}]}`,
			wantErr: ErrInvalidRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := DecodePage([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodePage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePage() unexpected error: %v", err)
			}

			ids := make([]string, 0, len(page.Records))
			for _, r := range page.Records {
				ids = append(ids, r.ID)
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
			if page.HasMore() != tt.wantHasMore {
				t.Errorf("HasMore() = %v, want %v", page.HasMore(), tt.wantHasMore)
			}
			if tt.wantHasMore && *page.Offset != tt.wantOffset {
				t.Errorf("Offset = %q, want %q", *page.Offset, tt.wantOffset)
			}
		})
	}
}

func TestDecodePage_InvalidJSON(t *testing.T) {
	_, err := DecodePage([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if errors.Is(err, ErrMissingRecords) {
		t.Error("invalid JSON should not be reported as missing records")
	}
}

func TestDecodePage_PreservesFieldOrder(t *testing.T) {
	body := `{"records":[{"id":"rec1","fields":{"Zeta":1,"Alpha":"x","Mid":[1,2],"Flag":true,"Empty":null}}]}`

	page, err := DecodePage([]byte(body))
	if err != nil {
		t.Fatalf("DecodePage() error = %v", err)
	}

	got := page.Records[0].FieldNames()
	want := []string{"Zeta", "Alpha", "Mid", "Flag", "Empty"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FieldNames() = %v, want %v", got, want)
	}

	if v, _ := page.Records[0].Get("Zeta"); v != float64(1) {
		t.Errorf("Zeta = %v (%T), want float64(1)", v, v)
	}
	if v, _ := page.Records[0].Get("Mid"); !reflect.DeepEqual(v, []any{float64(1), float64(2)}) {
		t.Errorf("Mid = %v, want [1 2]", v)
	}
	if v, ok := page.Records[0].Get("Empty"); !ok || v != nil {
		t.Errorf("Empty = %v, %v; want nil, true", v, ok)
	}
}

func TestDecodePage_MissingFieldsObject(t *testing.T) {
	page, err := DecodePage([]byte(`{"records":[{"id":"rec1"}]}`))
	if err != nil {
		t.Fatalf("DecodePage() error = %v", err)
	}
	if page.Records[0].Fields == nil {
		t.Fatal("Fields should be initialised")
	}
	if page.Records[0].Len() != 0 {
		t.Errorf("Len() = %d, want 0", page.Records[0].Len())
	}
}

func TestNewRecord(t *testing.T) {
	r := NewRecord("rec1", "B", 2, "A", 1)

	if r.ID != "rec1" {
		t.Errorf("ID = %q, want rec1", r.ID)
	}
	if got := r.FieldNames(); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("FieldNames() = %v, want [B A]", got)
	}
	if _, ok := r.Get("C"); ok {
		t.Error("Get(C) should report absent")
	}
}

func TestRecord_ZeroValue(t *testing.T) {
	var r Record
	if r.FieldNames() != nil {
		t.Error("FieldNames() on zero record should be nil")
	}
	if _, ok := r.Get("A"); ok {
		t.Error("Get() on zero record should report absent")
	}
	if r.Len() != 0 {
		t.Error("Len() on zero record should be 0")
	}
}
