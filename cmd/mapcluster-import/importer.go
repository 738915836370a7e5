package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
)

// itemWriter stores raw items in a layer under ids reserved beforehand, so
// a batch replayed after a crash overwrites its first attempt.
type itemWriter interface {
	ReserveIDs(ctx context.Context, layer string, n int) (item.ID, error)
	PutItems(ctx context.Context, layer string, entries []domlayer.Entry) error
}

// rowSource streams parquet rows from a resume position.
type rowSource interface {
	Read(from position, maxRows int, cb readCallback) (int, error)
}

// pinStyle is the footprint given to every imported item.
type pinStyle struct {
	Origin  item.Origin
	Size    item.Size
	MinZoom int
	MaxZoom int
}

func (s pinStyle) spec(loc geo.Location) item.Spec {
	spec := item.ScreenSpec(loc, s.Origin, s.Size)
	spec.MinZoom, spec.MaxZoom = s.MinZoom, s.MaxZoom
	return spec
}

// placePayload is stored with every imported item.
type placePayload struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type importResult struct {
	Imported int
	Skipped  int
	Duration time.Duration
}

// importer reads rows and writes them to a layer in batches. The cursor
// advances only after a batch is stored, and the ids of a batch are saved in
// the cursor before it is written.
type importer struct {
	items     itemWriter
	layer     string
	batchSize int
	style     pinStyle
	cursor    *cursorTracker
	metrics   *importMetrics
	logger    *zap.Logger
}

type pendingBatch struct {
	specs   []item.Spec
	skipped int
	last    position
}

// Run imports up to maxRows rows (0 means all) starting at the cursor.
func (im *importer) Run(ctx context.Context, src rowSource, maxRows int) (importResult, error) {
	start := time.Now()
	cur := im.cursor.Get()
	from := position{FileIndex: cur.FileIndex, RowOffset: cur.RowOffset}

	var (
		res      importResult
		batch    = pendingBatch{specs: make([]item.Spec, 0, im.batchSize), last: from}
		flushErr error
	)
	flush := func() error {
		if len(batch.specs) == 0 && batch.skipped == 0 {
			return nil
		}
		if err := im.write(ctx, batch); err != nil {
			return err
		}
		res.Imported += len(batch.specs)
		res.Skipped += batch.skipped
		batch = pendingBatch{specs: batch.specs[:0], last: batch.last}
		return nil
	}

	_, err := src.Read(from, maxRows, func(row placeRow, pos position) bool {
		if ctx.Err() != nil {
			return false
		}
		batch.last = pos
		spec, reason := im.toSpec(row)
		if reason != "" {
			batch.skipped++
			im.metrics.rowsSkipped.WithLabelValues(reason).Inc()
		} else {
			batch.specs = append(batch.specs, spec)
		}
		if len(batch.specs) >= im.batchSize {
			if flushErr = flush(); flushErr != nil {
				return false
			}
		}
		return true
	})
	if flushErr != nil {
		return res, flushErr
	}
	if err != nil {
		return res, err
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err := flush(); err != nil {
		return res, err
	}

	im.cursor.Finish()
	if err := im.cursor.Save(); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (im *importer) write(ctx context.Context, b pendingBatch) error {
	cur := im.cursor.Get()
	from := position{FileIndex: cur.FileIndex, RowOffset: cur.RowOffset}
	held := im.cursor.Held(from)

	if len(b.specs) > 0 {
		start := time.Now()
		ids, err := im.assignIDs(ctx, from, held, len(b.specs))
		if err != nil {
			return err
		}
		entries := make([]domlayer.Entry, len(b.specs))
		for i, sp := range b.specs {
			entries[i] = domlayer.Entry{ID: ids[i], Spec: sp}
		}
		if err := im.items.PutItems(ctx, im.layer, entries); err != nil {
			return fmt.Errorf("put batch ending at file %d row %d: %w", b.last.FileIndex, b.last.RowOffset, err)
		}
		held = ids[len(b.specs):]
		im.metrics.batchDuration.Observe(time.Since(start).Seconds())
		im.metrics.batchesTotal.Inc()
		im.metrics.rowsImported.Add(float64(len(b.specs)))
	}

	im.cursor.Advance(b.last, len(b.specs), b.skipped)
	im.cursor.Hold(b.last, held)
	im.metrics.cursorFile.Set(float64(b.last.FileIndex))
	if err := im.cursor.Save(); err != nil {
		return err
	}
	im.logger.Debug("Batch stored",
		zap.Int("items", len(b.specs)),
		zap.Int("skipped", b.skipped),
		zap.Int("file", b.last.FileIndex),
		zap.Int("row", b.last.RowOffset),
	)
	return nil
}

// assignIDs returns at least n ids for the rows from pos on. Ids held from an
// earlier attempt come first; missing ones are reserved and saved in the
// cursor before any item is written under them.
func (im *importer) assignIDs(ctx context.Context, pos position, held []item.ID, n int) ([]item.ID, error) {
	if len(held) >= n {
		return held, nil
	}
	missing := n - len(held)
	first, err := im.items.ReserveIDs(ctx, im.layer, missing)
	if err != nil {
		return nil, fmt.Errorf("reserve %d ids: %w", missing, err)
	}
	ids := slices.Grow(slices.Clone(held), missing)
	for i := range missing {
		ids = append(ids, first+item.ID(i))
	}
	im.cursor.Hold(pos, ids)
	if err := im.cursor.Save(); err != nil {
		return nil, err
	}
	return ids, nil
}

// toSpec converts a row, or returns the reason it is skipped.
func (im *importer) toSpec(row placeRow) (item.Spec, string) {
	if row.Latitude == nil || row.Longitude == nil {
		return item.Spec{}, "no_coords"
	}
	loc := geo.Location{Lat: *row.Latitude, Lon: *row.Longitude}
	if !geo.ValidateCoordinates(loc.Lat, loc.Lon) {
		return item.Spec{}, "invalid_coords"
	}
	spec := im.style.spec(loc)
	if row.ID != "" || row.Name != "" {
		spec.Payload = placePayload{ID: row.ID, Name: row.Name}
	}
	return spec, ""
}
