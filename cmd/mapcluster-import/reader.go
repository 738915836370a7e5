package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/parquet-go/parquet-go"
)

// readBatchRows is the number of rows pulled from a row group per read.
const readBatchRows = 1000

// placeRow is one point of interest read from a parquet file.
type placeRow struct {
	ID        string
	Name      string
	Latitude  *float64
	Longitude *float64
}

// position addresses a row: the file it lives in and its offset inside the file.
type position struct {
	FileIndex int
	RowOffset int
}

// readCallback is called for every row. Returning false stops the read.
type readCallback func(row placeRow, pos position) bool

// placeColumns holds leaf column indexes; -1 means absent.
type placeColumns struct {
	id        int
	name      int
	latitude  int
	longitude int
}

// parquetReader streams rows from every parquet file of a directory in name order.
type parquetReader struct {
	files   []string
	idCol   string
	nameCol string
}

func newParquetReader(dataDir, idCol, nameCol string) (*parquetReader, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("glob parquet files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files found in %s", dataDir)
	}
	slices.Sort(files)
	return &parquetReader{files: files, idCol: idCol, nameCol: nameCol}, nil
}

// Read streams rows starting at from. maxRows=0 means no limit.
// Returns the number of rows passed to cb.
func (r *parquetReader) Read(from position, maxRows int, cb readCallback) (int, error) {
	total := 0
	for fi := from.FileIndex; fi < len(r.files); fi++ {
		skip := 0
		if fi == from.FileIndex {
			skip = from.RowOffset
		}
		remaining := 0
		if maxRows > 0 {
			remaining = maxRows - total
		}

		n, done, err := r.readFile(fi, skip, remaining, cb)
		total += n
		if err != nil {
			return total, fmt.Errorf("read %s: %w", filepath.Base(r.files[fi]), err)
		}
		if done || (maxRows > 0 && total >= maxRows) {
			break
		}
	}
	return total, nil
}

func (r *parquetReader) resolveColumns(pf *parquet.File) (placeColumns, error) {
	cols := placeColumns{id: -1, name: -1, latitude: -1, longitude: -1}
	for i, path := range pf.Schema().Columns() {
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case r.idCol:
			cols.id = i
		case r.nameCol:
			cols.name = i
		case "latitude", "lat":
			cols.latitude = i
		case "longitude", "lon", "lng":
			cols.longitude = i
		}
	}
	if cols.latitude < 0 || cols.longitude < 0 {
		return cols, errors.New("latitude and longitude columns are required")
	}
	return cols, nil
}

// readFile reads one file, skipping its first skip rows.
func (r *parquetReader) readFile(fileIndex, skip, maxRows int, cb readCallback) (n int, done bool, err error) {
	h, err := openParquet(r.files[fileIndex])
	if err != nil {
		return 0, false, err
	}
	defer h.Close()

	cols, err := r.resolveColumns(h.pf)
	if err != nil {
		return 0, false, err
	}

	offset := 0
	for _, rg := range h.pf.RowGroups() {
		rgRows := int(rg.NumRows())
		if offset+rgRows <= skip {
			offset += rgRows
			continue
		}

		rows := parquet.NewRowGroupReader(rg)
		buf := make([]parquet.Row, readBatchRows)
		for {
			cnt, readErr := rows.ReadRows(buf)
			for i := range cnt {
				if offset < skip {
					offset++
					continue
				}
				offset++
				if !cb(rowToPlace(buf[i], cols), position{FileIndex: fileIndex, RowOffset: offset}) {
					return n, true, nil
				}
				n++
				if maxRows > 0 && n >= maxRows {
					return n, true, nil
				}
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return n, false, fmt.Errorf("read rows: %w", readErr)
			}
		}
	}
	return n, false, nil
}

// rowToPlace extracts a placeRow from a generic parquet row by column index.
func rowToPlace(row parquet.Row, cols placeColumns) placeRow {
	var p placeRow
	for _, v := range row {
		if v.IsNull() {
			continue
		}
		switch v.Column() {
		case cols.id:
			p.ID = v.String()
		case cols.name:
			p.Name = v.String()
		case cols.latitude:
			p.Latitude = floatValue(v)
		case cols.longitude:
			p.Longitude = floatValue(v)
		}
	}
	return p
}

func floatValue(v parquet.Value) *float64 {
	var f float64
	switch v.Kind() {
	case parquet.Double:
		f = v.Double()
	case parquet.Float:
		f = float64(v.Float())
	default:
		return nil
	}
	return &f
}

// parquetHandle wraps parquet.File and the underlying os.File for cleanup.
type parquetHandle struct {
	pf   *parquet.File
	file *os.File
}

func (h *parquetHandle) Close() {
	_ = h.file.Close()
}

func openParquet(path string) (*parquetHandle, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	return &parquetHandle{pf: pf, file: f}, nil
}
