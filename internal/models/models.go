package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the state of an image in the processing pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

var ErrInvalidTransition = errors.New("models: invalid processing status transition")

func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	status := ProcessingStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("models: unknown processing status %q", s)
	}
	return status, nil
}

func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can leave s.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s -> to is an edge of
// pending -> processing -> completed | failed.
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Image is one uploaded asset.
type Image struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	OwnerID         uuid.UUID        `json:"ownerId" db:"owner_id"`
	Title           string           `json:"title" db:"title"`
	MimeType        string           `json:"mimeType" db:"mime_type"`
	Size            int64            `json:"size" db:"size"`
	OriginalSize    int64            `json:"originalSize" db:"original_size"`
	ProcessedSize   *int64           `json:"processedSize" db:"processed_size"`
	Path            string           `json:"-" db:"path"`
	ThumbnailPath   string           `json:"-" db:"thumbnail_path"`
	IsPublic        bool             `json:"isPublic" db:"is_public"`
	Encrypted       bool             `json:"encrypted" db:"encrypted"`
	ThumbnailExists bool             `json:"thumbnailExists" db:"thumbnail_exists"`
	Status          ProcessingStatus `json:"processingStatus" db:"processing_status"`
	ProcessingTime  *int64           `json:"processingTime" db:"processing_time"` // milliseconds
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
}

// ImageUpdate holds the subset of fields to change; nil fields are left alone.
// Title and IsPublic belong to request handlers, the rest to the worker.
type ImageUpdate struct {
	Title           *string
	IsPublic        *bool
	Status          *ProcessingStatus
	ProcessedSize   *int64
	Encrypted       *bool
	ThumbnailExists *bool
	ThumbnailPath   *string
	ProcessingTime  *int64
	Path            *string
}

func (u ImageUpdate) Empty() bool {
	return u == ImageUpdate{}
}

// Apply copies the set fields of u onto img.
func (u ImageUpdate) Apply(img *Image) {
	if u.Title != nil {
		img.Title = *u.Title
	}
	if u.IsPublic != nil {
		img.IsPublic = *u.IsPublic
	}
	if u.Status != nil {
		img.Status = *u.Status
	}
	if u.ProcessedSize != nil {
		v := *u.ProcessedSize
		img.ProcessedSize = &v
	}
	if u.Encrypted != nil {
		img.Encrypted = *u.Encrypted
	}
	if u.ThumbnailExists != nil {
		img.ThumbnailExists = *u.ThumbnailExists
	}
	if u.ThumbnailPath != nil {
		img.ThumbnailPath = *u.ThumbnailPath
	}
	if u.ProcessingTime != nil {
		v := *u.ProcessingTime
		img.ProcessingTime = &v
	}
	if u.Path != nil {
		img.Path = *u.Path
	}
}

// Ptr returns a pointer to v. Handy for building ImageUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}

// HistoryEvent is one immutable audit record of an action taken on an image.
// ActorID is null for system generated events.
type HistoryEvent struct {
	ID          uuid.UUID      `json:"id"`
	ImageID     uuid.UUID      `json:"imageId"`
	ActorID     uuid.NullUUID  `json:"userId"`
	Action      Action         `json:"action"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
}

type ImageSummary struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	MimeType string    `json:"mimeType"`
}

// UserHistoryEntry is a history event joined with the image it belongs to.
type UserHistoryEntry struct {
	HistoryEvent
	Image ImageSummary `json:"image"`
}

type ImageStats struct {
	ImageID         uuid.UUID      `json:"imageId"`
	TotalActions    int            `json:"totalActions"`
	UniqueUsers     int            `json:"uniqueUsers"`
	ActionBreakdown map[Action]int `json:"actionBreakdown"`
	LastActivity    *HistoryEvent  `json:"lastActivity"`
}
