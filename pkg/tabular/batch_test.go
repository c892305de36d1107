package tabular

import "testing"

func TestBatchAddAndLookup(t *testing.T) {
	b := NewBatch(2)
	if err := b.Add("JULD", []any{1.5, 2.5}); err != nil {
		t.Fatalf("Add(JULD) error: %v", err)
	}
	if err := b.Add("PRES", []any{10.0, nil}); err != nil {
		t.Fatalf("Add(PRES) error: %v", err)
	}

	if got := b.NumRows(); got != 2 {
		t.Errorf("NumRows() = %d, want 2", got)
	}
	want := []string{"JULD", "PRES"}
	got := b.Columns()
	if len(got) != len(want) {
		t.Fatalf("Columns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Columns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	col, ok := b.Column("PRES")
	if !ok {
		t.Fatal("Column(PRES) not found")
	}
	if col[1] != nil {
		t.Errorf("PRES[1] = %v, want nil", col[1])
	}
	if _, ok := b.Column("TEMP"); ok {
		t.Error("Column(TEMP) = found, want missing")
	}
}

func TestBatchAddRejectsLengthMismatch(t *testing.T) {
	b := NewBatch(3)
	if err := b.Add("JULD", []any{1.0}); err == nil {
		t.Fatal("Add() = nil, want length mismatch error")
	}
	if _, ok := b.Column("JULD"); ok {
		t.Error("rejected column was still stored")
	}
}

func TestBatchAddRejectsDuplicate(t *testing.T) {
	b := NewBatch(1)
	if err := b.Add("JULD", []any{1.0}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := b.Add("JULD", []any{2.0}); err == nil {
		t.Fatal("Add(duplicate) = nil, want error")
	}
}
