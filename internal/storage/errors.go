package storage

import (
	"errors"
	"fmt"

	"imagevault/internal/models"
)

var (
	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrStatusConflict means a transition found the image in an unexpected status.
	ErrStatusConflict = errors.New("storage: processing status conflict")
)

// checkTransition rejects a status change that is not an edge of the
// processing state machine, whatever the record currently holds.
func checkTransition(from models.ProcessingStatus, upd models.ImageUpdate) error {
	if upd.Status != nil && !from.CanTransition(*upd.Status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, *upd.Status)
	}
	return nil
}
