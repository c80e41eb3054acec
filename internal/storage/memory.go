package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"imagevault/internal/models"
)

// Memory is an in-process record store. It keeps images and history events
// in maps guarded by one mutex and copies values in and out so callers
// never share memory with it.
type Memory struct {
	mu     sync.RWMutex
	images map[uuid.UUID]models.Image
	events []memoryEvent
	seq    int64
}

type memoryEvent struct {
	seq   int64
	event models.HistoryEvent
}

func NewMemory() *Memory {
	return &Memory{images: make(map[uuid.UUID]models.Image)}
}

func (m *Memory) CreateImage(ctx context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.images[img.ID]; ok {
		return fmt.Errorf("storage.CreateImage: image %s already exists", img.ID)
	}
	m.images[img.ID] = cloneImage(*img)
	return nil
}

func (m *Memory) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	img, ok := m.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneImage(img)
	return &out, nil
}

func (m *Memory) UpdateImage(ctx context.Context, id uuid.UUID, upd models.ImageUpdate) error {
	if upd.Status != nil {
		return fmt.Errorf("storage.UpdateImage: %w: status changes go through TransitionImage", models.ErrInvalidTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	img, ok := m.images[id]
	if !ok {
		return ErrNotFound
	}
	upd.Apply(&img)
	m.images[id] = img
	return nil
}

func (m *Memory) TransitionImage(ctx context.Context, id uuid.UUID, from models.ProcessingStatus, upd models.ImageUpdate) error {
	if err := checkTransition(from, upd); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	img, ok := m.images[id]
	if !ok {
		return ErrNotFound
	}
	if img.Status != from {
		return fmt.Errorf("%w: image %s is %s, expected %s", ErrStatusConflict, id, img.Status, from)
	}
	upd.Apply(&img)
	m.images[id] = img
	return nil
}

// DeleteImage removes the image and cascades to its history.
func (m *Memory) DeleteImage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.images[id]; !ok {
		return ErrNotFound
	}
	delete(m.images, id)

	kept := m.events[:0]
	for _, e := range m.events {
		if e.event.ImageID != id {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}

func (m *Memory) AppendEvent(ctx context.Context, event *models.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.images[event.ImageID]; !ok {
		return fmt.Errorf("storage.AppendEvent: %w: image %s", ErrNotFound, event.ImageID)
	}
	m.seq++
	m.events = append(m.events, memoryEvent{seq: m.seq, event: cloneEvent(*event)})
	return nil
}

func (m *Memory) ListEventsByImage(ctx context.Context, imageID uuid.UUID, limit int) ([]models.HistoryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.newestFirst(func(e models.HistoryEvent) bool { return e.ImageID == imageID })
	matched = capEvents(matched, limit)

	out := make([]models.HistoryEvent, len(matched))
	for i, e := range matched {
		out[i] = cloneEvent(e.event)
	}
	return out, nil
}

func (m *Memory) ListEventsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.UserHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.newestFirst(func(e models.HistoryEvent) bool {
		img, ok := m.images[e.ImageID]
		return ok && img.OwnerID == ownerID
	})
	matched = capEvents(matched, limit)

	out := make([]models.UserHistoryEntry, len(matched))
	for i, e := range matched {
		img := m.images[e.event.ImageID]
		out[i] = models.UserHistoryEntry{
			HistoryEvent: cloneEvent(e.event),
			Image:        models.ImageSummary{ID: img.ID, Title: img.Title, MimeType: img.MimeType},
		}
	}
	return out, nil
}

func (m *Memory) CountEventsByAction(ctx context.Context, imageID uuid.UUID) (map[models.Action]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.Action]int)
	for _, e := range m.events {
		if e.event.ImageID == imageID {
			counts[e.event.Action]++
		}
	}
	return counts, nil
}

func (m *Memory) CountDistinctActors(ctx context.Context, imageID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actors := make(map[uuid.UUID]struct{})
	for _, e := range m.events {
		if e.event.ImageID == imageID && e.event.ActorID.Valid {
			actors[e.event.ActorID.UUID] = struct{}{}
		}
	}
	return len(actors), nil
}

// LatestEvent returns nil, nil when the image has no history.
func (m *Memory) LatestEvent(ctx context.Context, imageID uuid.UUID) (*models.HistoryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.newestFirst(func(e models.HistoryEvent) bool { return e.ImageID == imageID })
	if len(matched) == 0 {
		return nil, nil
	}
	e := cloneEvent(matched[0].event)
	return &e, nil
}

// newestFirst orders by timestamp, then insertion order, both descending.
// Callers hold the lock.
func (m *Memory) newestFirst(keep func(models.HistoryEvent) bool) []memoryEvent {
	var matched []memoryEvent
	for _, e := range m.events {
		if keep(e.event) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		ti, tj := matched[i].event.Timestamp, matched[j].event.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return matched[i].seq > matched[j].seq
	})
	return matched
}

func capEvents(events []memoryEvent, limit int) []memoryEvent {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}

func cloneImage(img models.Image) models.Image {
	if img.ProcessedSize != nil {
		v := *img.ProcessedSize
		img.ProcessedSize = &v
	}
	if img.ProcessingTime != nil {
		v := *img.ProcessingTime
		img.ProcessingTime = &v
	}
	return img
}

func cloneEvent(e models.HistoryEvent) models.HistoryEvent {
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
