package table

import (
	"math"
	"strings"
	"testing"
)

func TestTable_EncodeDecode(t *testing.T) {
	tb := New("trips", "person", "BUS-DEFAULT")
	tb.Append("p1", "1200")
	tb.Append("p,2", "")

	data, err := tb.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode("trips", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Len() != 2 || got.Rows[1][0] != "p,2" {
		t.Errorf("rows = %v", got.Rows)
	}
	v, err := got.Float(1, 1)
	if err != nil || !math.IsNaN(v) {
		t.Errorf("Float = %v, %v; want NaN", v, err)
	}
}

func TestTable_AppendPads(t *testing.T) {
	tb := New("x", "a", "b", "c")
	tb.Append("1")
	if len(tb.Rows[0]) != 3 {
		t.Errorf("row len = %d, want 3", len(tb.Rows[0]))
	}
	if tb.Column("c") != 2 || tb.Column("z") != -1 {
		t.Error("Column lookup mismatch")
	}
}

func TestFormatFloat(t *testing.T) {
	if got := FormatFloat(1200); got != "1200" {
		t.Errorf("FormatFloat(1200) = %q", got)
	}
	if got := FormatFloat(math.NaN()); got != "" {
		t.Errorf("FormatFloat(NaN) = %q, want empty", got)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, err := ReadCSV("x", strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}
