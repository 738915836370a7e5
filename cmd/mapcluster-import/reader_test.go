package main

import (
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
)

type testPlace struct {
	ID        string   `parquet:"fsq_place_id"`
	Name      string   `parquet:"name"`
	Latitude  *float64 `parquet:"latitude"`
	Longitude *float64 `parquet:"longitude"`
}

type noCoords struct {
	ID string `parquet:"fsq_place_id"`
}

func ptr(v float64) *float64 { return &v }

func writePlaces(t *testing.T, dir, name string, rows []testPlace) {
	t.Helper()
	if err := parquet.WriteFile(filepath.Join(dir, name), rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
}

func placesDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePlaces(t, dir, "a.parquet", []testPlace{
		{ID: "a1", Name: "Cafe", Latitude: ptr(52.5), Longitude: ptr(13.4)},
		{ID: "a2", Name: "Closed"},
		{ID: "a3", Name: "Museum", Latitude: ptr(48.8), Longitude: ptr(2.3)},
	})
	writePlaces(t, dir, "b.parquet", []testPlace{
		{ID: "b1", Name: "Park", Latitude: ptr(40.7), Longitude: ptr(-74)},
		{ID: "b2", Name: "Pier", Latitude: ptr(-33.9), Longitude: ptr(151.2)},
	})
	return dir
}

type readRow struct {
	row placeRow
	pos position
}

func readAll(t *testing.T, r *parquetReader, from position, maxRows int) []readRow {
	t.Helper()
	var got []readRow
	n, err := r.Read(from, maxRows, func(row placeRow, pos position) bool {
		got = append(got, readRow{row, pos})
		return true
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(got) {
		t.Fatalf("reported %d rows, delivered %d", n, len(got))
	}
	return got
}

func TestParquetReader_ReadsAllFilesInOrder(t *testing.T) {
	r, err := newParquetReader(placesDir(t), "fsq_place_id", "name")
	if err != nil {
		t.Fatal(err)
	}

	got := readAll(t, r, position{}, 0)
	wantIDs := []string{"a1", "a2", "a3", "b1", "b2"}
	wantPos := []position{{0, 1}, {0, 2}, {0, 3}, {1, 1}, {1, 2}}
	if len(got) != len(wantIDs) {
		t.Fatalf("expected %d rows, got %d", len(wantIDs), len(got))
	}
	for i, g := range got {
		if g.row.ID != wantIDs[i] || g.pos != wantPos[i] {
			t.Errorf("row %d: got %s at %+v, want %s at %+v", i, g.row.ID, g.pos, wantIDs[i], wantPos[i])
		}
	}
	if got[1].row.Latitude != nil || got[1].row.Longitude != nil {
		t.Error("null coordinates must stay nil")
	}
	if got[0].row.Name != "Cafe" || *got[0].row.Latitude != 52.5 || *got[0].row.Longitude != 13.4 {
		t.Errorf("unexpected first row %+v", got[0].row)
	}
}

func TestParquetReader_Resume(t *testing.T) {
	r, err := newParquetReader(placesDir(t), "fsq_place_id", "name")
	if err != nil {
		t.Fatal(err)
	}

	got := readAll(t, r, position{FileIndex: 0, RowOffset: 2}, 0)
	if len(got) != 3 || got[0].row.ID != "a3" || got[1].row.ID != "b1" {
		t.Fatalf("unexpected resumed rows %+v", got)
	}

	got = readAll(t, r, position{FileIndex: 0, RowOffset: 3}, 0)
	if len(got) != 2 || got[0].row.ID != "b1" {
		t.Fatalf("resume at end of file must continue with the next one, got %+v", got)
	}
}

func TestParquetReader_MaxRowsAndStop(t *testing.T) {
	r, err := newParquetReader(placesDir(t), "fsq_place_id", "name")
	if err != nil {
		t.Fatal(err)
	}

	if got := readAll(t, r, position{FileIndex: 0, RowOffset: 2}, 2); len(got) != 2 || got[1].row.ID != "b1" {
		t.Fatalf("expected 2 rows across files, got %+v", got)
	}

	calls := 0
	n, err := r.Read(position{}, 0, func(placeRow, position) bool {
		calls++
		return calls < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || n != 1 {
		t.Errorf("expected stop after the second row, got %d calls and %d accepted", calls, n)
	}
}

func TestParquetReader_Errors(t *testing.T) {
	if _, err := newParquetReader(t.TempDir(), "id", "name"); err == nil {
		t.Error("expected error for a directory without parquet files")
	}

	dir := t.TempDir()
	if err := parquet.WriteFile(filepath.Join(dir, "x.parquet"), []noCoords{{ID: "x"}}); err != nil {
		t.Fatal(err)
	}
	r, err := newParquetReader(dir, "fsq_place_id", "name")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(position{}, 0, func(placeRow, position) bool { return true }); err == nil {
		t.Error("expected error for a file without coordinate columns")
	}
}
