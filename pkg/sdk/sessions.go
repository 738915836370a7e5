package mapcluster

import (
	"context"
	"fmt"
	"time"
)

// SessionService tracks viewport sessions. A session remembers what its
// client was shown, so every Update returns only the difference.
type SessionService struct {
	svc viewportUseCase
	obs *observer
}

// Open starts a session on a layer. Nothing is visible until the first Update.
func (s *SessionService) Open(ctx context.Context, layer string) (_ Session, err error) {
	start := time.Now()
	defer func() { s.obs.observe("session.open", start, err) }()

	info, err := s.svc.Open(ctx, layer)
	if err != nil {
		return Session{}, fmt.Errorf("open session: %w", err)
	}
	return Session{ID: info.ID, Layer: info.Layer, Revision: info.Revision}, nil
}

// Update moves the session's viewport and returns the visibility changes.
func (s *SessionService) Update(ctx context.Context, id string, vp Viewport) (_ Update, err error) {
	start := time.Now()
	defer func() { s.obs.observe("session.update", start, err) }()

	rect, err := vp.toRect()
	if err != nil {
		return Update{}, fmt.Errorf("update viewport: %w", err)
	}
	upd, err := s.svc.Update(ctx, id, rect, vp.Zoom)
	if err != nil {
		return Update{}, fmt.Errorf("update viewport: %w", err)
	}
	return Update{Revision: upd.Revision, Changes: changesFromDomain(upd.Changes, upd)}, nil
}

// Visible returns everything the session currently shows.
func (s *SessionService) Visible(ctx context.Context, id string) (_ []Item, _ int, err error) {
	start := time.Now()
	defer func() { s.obs.observe("session.visible", start, err) }()

	view, err := s.svc.Visible(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("visible items: %w", err)
	}
	return itemsFromDomain(view.Items, view), view.Revision, nil
}

// Close ends a session.
func (s *SessionService) Close(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("session.close", start, err) }()

	if err = s.svc.Close(ctx, id); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
