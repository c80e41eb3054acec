// Package history records an append-only audit trail of what happened to
// each image and answers the aggregate queries over it.
//
// Recording is best-effort: a failed write is logged and returned, and
// callers are expected to discard the error so the action that triggered
// the event is never blocked by the audit log.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagevault/internal/metrics"
	"imagevault/internal/models"
)

// Store is the part of the record store the tracker needs.
type Store interface {
	AppendEvent(ctx context.Context, event *models.HistoryEvent) error
	ListEventsByImage(ctx context.Context, imageID uuid.UUID, limit int) ([]models.HistoryEvent, error)
	ListEventsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.UserHistoryEntry, error)
	CountEventsByAction(ctx context.Context, imageID uuid.UUID) (map[models.Action]int, error)
	CountDistinctActors(ctx context.Context, imageID uuid.UUID) (int, error)
	LatestEvent(ctx context.Context, imageID uuid.UUID) (*models.HistoryEvent, error)
}

// Publisher forwards recorded events to an external feed.
type Publisher interface {
	Publish(ctx context.Context, event *models.HistoryEvent) error
}

// Clock abstracts time retrieval so tests are deterministic.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Tracker struct {
	store     Store
	publisher Publisher
	clock     Clock
	logger    *zap.Logger
}

type Option func(*Tracker)

func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func NewTracker(store Store, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{store: store, clock: realClock{}, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Actor wraps a user id for RecordAction. Use uuid.NullUUID{} for system events.
func Actor(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}

// RecordAction is the only way history gets written. An empty description
// is derived from details. The returned error has already been logged.
func (t *Tracker) RecordAction(ctx context.Context, imageID uuid.UUID, actor uuid.NullUUID, details models.ActionDetails, description string) error {
	const op = "history.RecordAction"

	if description == "" {
		description = details.Describe()
	}
	event := &models.HistoryEvent{
		ID:          uuid.New(),
		ImageID:     imageID,
		ActorID:     actor,
		Action:      details.Action(),
		Metadata:    details.Metadata(),
		Description: description,
		Timestamp:   t.clock.Now().UTC(),
	}

	if err := t.store.AppendEvent(ctx, event); err != nil {
		metrics.HistoryWriteFailures.Inc()
		t.logger.Error("failed to record image history",
			zap.String("image_id", imageID.String()),
			zap.String("action", string(event.Action)),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", op, err)
	}

	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, event); err != nil {
			t.logger.Warn("failed to publish history event",
				zap.String("image_id", imageID.String()),
				zap.String("action", string(event.Action)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// GetImageHistory returns the events of one image, newest first. limit <= 0
// means no cap.
func (t *Tracker) GetImageHistory(ctx context.Context, imageID uuid.UUID, limit int) ([]models.HistoryEvent, error) {
	events, err := t.store.ListEventsByImage(ctx, imageID, limit)
	if err != nil {
		return nil, fmt.Errorf("history.GetImageHistory: %w", err)
	}
	return events, nil
}

// GetUserImageHistory returns the events of every image owned by userID,
// newest first, each joined with a summary of its image.
func (t *Tracker) GetUserImageHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.UserHistoryEntry, error) {
	entries, err := t.store.ListEventsByOwner(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history.GetUserImageHistory: %w", err)
	}
	return entries, nil
}

func (t *Tracker) GetImageStats(ctx context.Context, imageID uuid.UUID) (*models.ImageStats, error) {
	const op = "history.GetImageStats"

	breakdown, err := t.store.CountEventsByAction(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	actors, err := t.store.CountDistinctActors(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	latest, err := t.store.LatestEvent(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	total := 0
	for _, n := range breakdown {
		total += n
	}
	return &models.ImageStats{
		ImageID:         imageID,
		TotalActions:    total,
		UniqueUsers:     actors,
		ActionBreakdown: breakdown,
		LastActivity:    latest,
	}, nil
}
