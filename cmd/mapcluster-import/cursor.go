package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// Cursor is the resume point of an import.
type Cursor struct {
	Layer     string    `json:"layer"`
	FileIndex int       `json:"file_index"`
	RowOffset int       `json:"row_offset"`
	Imported  int       `json:"imported"`
	Skipped   int       `json:"skipped"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updated_at"`
	// Held lists ids reserved for the next items from the cursor position on.
	Held *HeldIDs `json:"held,omitempty"`
}

// HeldIDs are item ids reserved at a position but not yet committed.
type HeldIDs struct {
	FileIndex int       `json:"file_index"`
	RowOffset int       `json:"row_offset"`
	IDs       []item.ID `json:"ids"`
}

// cursorTracker persists import progress as a JSON file next to the data.
type cursorTracker struct {
	mu     sync.Mutex
	cursor Cursor
	path   string
	dirty  bool
}

// newCursorTracker loads the cursor of layer from dataDir if one exists.
func newCursorTracker(dataDir, layer string) (*cursorTracker, error) {
	path := filepath.Join(filepath.Clean(dataDir), "cursor-"+layer+".json")
	ct := &cursorTracker{path: path, cursor: Cursor{Layer: layer}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &ct.cursor); err != nil {
			return nil, fmt.Errorf("parse cursor %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read cursor %s: %w", path, err)
	}
	return ct, nil
}

// Get returns a copy of the current cursor.
func (ct *cursorTracker) Get() Cursor {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.cursor
}

// Advance moves the cursor past a committed batch.
func (ct *cursorTracker) Advance(pos position, imported, skipped int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.cursor.FileIndex = pos.FileIndex
	ct.cursor.RowOffset = pos.RowOffset
	ct.cursor.Imported += imported
	ct.cursor.Skipped += skipped
	ct.cursor.UpdatedAt = time.Now()
	ct.dirty = true
}

// Held returns the ids reserved for the items read from pos on.
func (ct *cursorTracker) Held(pos position) []item.ID {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	h := ct.cursor.Held
	if h == nil || h.FileIndex != pos.FileIndex || h.RowOffset != pos.RowOffset {
		return nil
	}
	return slices.Clone(h.IDs)
}

// Hold records ids reserved for the items read from pos on. No ids clears
// the record.
func (ct *cursorTracker) Hold(pos position, ids []item.ID) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if len(ids) == 0 {
		if ct.cursor.Held != nil {
			ct.cursor.Held = nil
			ct.dirty = true
		}
		return
	}
	ct.cursor.Held = &HeldIDs{FileIndex: pos.FileIndex, RowOffset: pos.RowOffset, IDs: slices.Clone(ids)}
	ct.dirty = true
}

// Finish marks the import complete.
func (ct *cursorTracker) Finish() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.cursor.Done = true
	ct.cursor.Held = nil
	ct.cursor.UpdatedAt = time.Now()
	ct.dirty = true
}

// Reset starts over from the first row.
func (ct *cursorTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.cursor = Cursor{Layer: ct.cursor.Layer}
	ct.dirty = true
}

// Save writes the cursor atomically if it changed.
func (ct *cursorTracker) Save() error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !ct.dirty {
		return nil
	}
	data, err := json.MarshalIndent(ct.cursor, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	tmp := ct.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := os.Rename(tmp, ct.path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	ct.dirty = false
	return nil
}
