package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"imagevault/internal/models"
)

const eventColumns = `h.id, h.image_id, h.user_id, h.action, h.metadata, h.description, h.timestamp`

// newest first; seq breaks timestamp ties in insertion order
const eventOrder = `ORDER BY h.timestamp DESC, h.seq DESC`

func (s *Storage) AppendEvent(ctx context.Context, event *models.HistoryEvent) error {
	const op = "storage.AppendEvent"

	metadata, err := encodeMetadata(event.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO image_history (id, image_id, user_id, action, metadata, description, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.ImageID, event.ActorID, string(event.Action), metadata, event.Description, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) ListEventsByImage(ctx context.Context, imageID uuid.UUID, limit int) ([]models.HistoryEvent, error) {
	const op = "storage.ListEventsByImage"

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM image_history h WHERE h.image_id = $1 `+eventOrder+` LIMIT $2`,
		imageID, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var events []models.HistoryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

func (s *Storage) ListEventsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.UserHistoryEntry, error) {
	const op = "storage.ListEventsByOwner"

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+`, i.title, i.mime_type
		FROM image_history h
		JOIN images i ON i.id = h.image_id
		WHERE i.owner_id = $1 `+eventOrder+` LIMIT $2`,
		ownerID, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []models.UserHistoryEntry
	for rows.Next() {
		var (
			entry    models.UserHistoryEntry
			action   string
			metadata []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.ImageID, &entry.ActorID, &action, &metadata, &entry.Description, &entry.Timestamp,
			&entry.Image.Title, &entry.Image.MimeType,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entry.Action = models.Action(action)
		entry.Image.ID = entry.ImageID
		if entry.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

func (s *Storage) CountEventsByAction(ctx context.Context, imageID uuid.UUID) (map[models.Action]int, error) {
	const op = "storage.CountEventsByAction"

	rows, err := s.pool.Query(ctx,
		`SELECT action, COUNT(*) FROM image_history WHERE image_id = $1 GROUP BY action`, imageID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	counts := make(map[models.Action]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		counts[models.Action(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return counts, nil
}

func (s *Storage) CountDistinctActors(ctx context.Context, imageID uuid.UUID) (int, error) {
	const op = "storage.CountDistinctActors"

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM image_history WHERE image_id = $1`, imageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *Storage) LatestEvent(ctx context.Context, imageID uuid.UUID) (*models.HistoryEvent, error) {
	const op = "storage.LatestEvent"

	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM image_history h WHERE h.image_id = $1 `+eventOrder+` LIMIT 1`, imageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func scanEvent(row pgx.Row) (*models.HistoryEvent, error) {
	var (
		e        models.HistoryEvent
		action   string
		metadata []byte
	)
	if err := row.Scan(&e.ID, &e.ImageID, &e.ActorID, &action, &metadata, &e.Description, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Action = models.Action(action)

	var err error
	if e.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

// limitArg maps "no limit" to NULL, which Postgres reads as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
