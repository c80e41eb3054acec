package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"imagevault/internal/models"
)

func (t *Tracker) TrackUpload(ctx context.Context, imageID, userID uuid.UUID, fileSize int64, fileName string) error {
	return t.RecordAction(ctx, imageID, Actor(userID), models.Upload{FileSize: fileSize, FileName: fileName}, "")
}

func (t *Tracker) TrackView(ctx context.Context, imageID uuid.UUID, viewer uuid.NullUUID, ipAddress, userAgent string) error {
	return t.RecordAction(ctx, imageID, viewer, models.View{IPAddress: ipAddress, UserAgent: userAgent}, "")
}

func (t *Tracker) TrackDownload(ctx context.Context, imageID uuid.UUID, viewer uuid.NullUUID, ipAddress string) error {
	return t.RecordAction(ctx, imageID, viewer, models.Download{IPAddress: ipAddress}, "")
}

func (t *Tracker) TrackShare(ctx context.Context, imageID, userID, sharedWith uuid.UUID) error {
	return t.RecordAction(ctx, imageID, Actor(userID), models.Share{SharedWithUserID: sharedWith.String()}, "")
}

func (t *Tracker) TrackRename(ctx context.Context, imageID, userID uuid.UUID, oldTitle, newTitle string) error {
	return t.RecordAction(ctx, imageID, Actor(userID), models.Rename{OldTitle: oldTitle, NewTitle: newTitle}, "")
}

func (t *Tracker) TrackPrivacyChange(ctx context.Context, imageID, userID uuid.UUID, oldPublic, newPublic bool) error {
	return t.RecordAction(ctx, imageID, Actor(userID), models.PrivacyChange{OldPublic: oldPublic, NewPublic: newPublic}, "")
}

func (t *Tracker) TrackDelete(ctx context.Context, imageID, userID uuid.UUID, fileName string, fileSize int64) error {
	return t.RecordAction(ctx, imageID, Actor(userID), models.Delete{FileName: fileName, FileSize: fileSize}, "")
}

func (t *Tracker) TrackProcessingStart(ctx context.Context, imageID uuid.UUID) error {
	return t.RecordAction(ctx, imageID, uuid.NullUUID{}, models.ProcessingStart{}, "")
}

func (t *Tracker) TrackProcessingComplete(ctx context.Context, imageID uuid.UUID, elapsed time.Duration, processedSize int64) error {
	return t.RecordAction(ctx, imageID, uuid.NullUUID{}, models.ProcessingComplete{
		ProcessingTime: elapsed.Milliseconds(),
		ProcessedSize:  processedSize,
	}, "")
}

func (t *Tracker) TrackProcessingFailed(ctx context.Context, imageID uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.RecordAction(ctx, imageID, uuid.NullUUID{}, models.ProcessingFailed{Error: msg}, "")
}

func (t *Tracker) TrackThumbnailGenerated(ctx context.Context, imageID uuid.UUID) error {
	return t.RecordAction(ctx, imageID, uuid.NullUUID{}, models.ThumbnailGenerated{}, "")
}

func (t *Tracker) TrackEncryptionApplied(ctx context.Context, imageID uuid.UUID) error {
	return t.RecordAction(ctx, imageID, uuid.NullUUID{}, models.EncryptionApplied{}, "")
}

func (t *Tracker) TrackShareLinkCreated(ctx context.Context, imageID, userID uuid.UUID, token string) error {
	return t.RecordAction(ctx, imageID, Actor(userID), models.ShareLinkCreated{Token: token}, "")
}

func (t *Tracker) TrackShareLinkAccessed(ctx context.Context, imageID uuid.UUID, token, ipAddress string) error {
	return t.RecordAction(ctx, imageID, uuid.NullUUID{}, models.ShareLinkAccessed{Token: token, IPAddress: ipAddress}, "")
}

func (t *Tracker) TrackLike(ctx context.Context, imageID, userID uuid.UUID, liked bool) error {
	if liked {
		return t.RecordAction(ctx, imageID, Actor(userID), models.LikeAdded{}, "")
	}
	return t.RecordAction(ctx, imageID, Actor(userID), models.LikeRemoved{}, "")
}
