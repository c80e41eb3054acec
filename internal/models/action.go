package models

import (
	"fmt"
	"math"
)

// Action is the kind of a history event.
type Action string

const (
	ActionUpload             Action = "upload"
	ActionView               Action = "view"
	ActionDownload           Action = "download"
	ActionShare              Action = "share"
	ActionRename             Action = "rename"
	ActionDelete             Action = "delete"
	ActionPrivacyChange      Action = "privacy_change"
	ActionProcessingStart    Action = "processing_start"
	ActionProcessingComplete Action = "processing_complete"
	ActionProcessingFailed   Action = "processing_failed"
	ActionThumbnailGenerated Action = "thumbnail_generated"
	ActionEncryptionApplied  Action = "encryption_applied"
	ActionShareLinkCreated   Action = "share_link_created"
	ActionShareLinkAccessed  Action = "share_link_accessed"
	ActionLikeAdded          Action = "like_added"
	ActionLikeRemoved        Action = "like_removed"
)

// Actions lists every action kind.
var Actions = []Action{
	ActionUpload, ActionView, ActionDownload, ActionShare, ActionRename, ActionDelete,
	ActionPrivacyChange, ActionProcessingStart, ActionProcessingComplete, ActionProcessingFailed,
	ActionThumbnailGenerated, ActionEncryptionApplied, ActionShareLinkCreated,
	ActionShareLinkAccessed, ActionLikeAdded, ActionLikeRemoved,
}

// ActionDetails is the typed payload of one action kind. The set of
// implementations is closed to this package; each one owns its description.
type ActionDetails interface {
	Action() Action
	Metadata() map[string]any
	Describe() string
	sealed()
}

type Upload struct {
	FileSize int64
	FileName string
}

type View struct {
	IPAddress string
	UserAgent string
}

type Download struct {
	IPAddress string
}

type Share struct {
	SharedWithUserID string
}

type Rename struct {
	OldTitle string
	NewTitle string
}

type Delete struct {
	FileName string
	FileSize int64
}

type PrivacyChange struct {
	OldPublic bool
	NewPublic bool
}

type ProcessingStart struct{}

type ProcessingComplete struct {
	ProcessingTime int64 // milliseconds
	ProcessedSize  int64
}

type ProcessingFailed struct {
	Error string
}

type ThumbnailGenerated struct{}

type EncryptionApplied struct{}

type ShareLinkCreated struct {
	Token string
}

type ShareLinkAccessed struct {
	Token     string
	IPAddress string
}

type LikeAdded struct{}

type LikeRemoved struct{}

func (Upload) Action() Action             { return ActionUpload }
func (View) Action() Action               { return ActionView }
func (Download) Action() Action           { return ActionDownload }
func (Share) Action() Action              { return ActionShare }
func (Rename) Action() Action             { return ActionRename }
func (Delete) Action() Action             { return ActionDelete }
func (PrivacyChange) Action() Action      { return ActionPrivacyChange }
func (ProcessingStart) Action() Action    { return ActionProcessingStart }
func (ProcessingComplete) Action() Action { return ActionProcessingComplete }
func (ProcessingFailed) Action() Action   { return ActionProcessingFailed }
func (ThumbnailGenerated) Action() Action { return ActionThumbnailGenerated }
func (EncryptionApplied) Action() Action  { return ActionEncryptionApplied }
func (ShareLinkCreated) Action() Action   { return ActionShareLinkCreated }
func (ShareLinkAccessed) Action() Action  { return ActionShareLinkAccessed }
func (LikeAdded) Action() Action          { return ActionLikeAdded }
func (LikeRemoved) Action() Action        { return ActionLikeRemoved }

func (Upload) sealed()             {}
func (View) sealed()               {}
func (Download) sealed()           {}
func (Share) sealed()              {}
func (Rename) sealed()             {}
func (Delete) sealed()             {}
func (PrivacyChange) sealed()      {}
func (ProcessingStart) sealed()    {}
func (ProcessingComplete) sealed() {}
func (ProcessingFailed) sealed()   {}
func (ThumbnailGenerated) sealed() {}
func (EncryptionApplied) sealed()  {}
func (ShareLinkCreated) sealed()   {}
func (ShareLinkAccessed) sealed()  {}
func (LikeAdded) sealed()          {}
func (LikeRemoved) sealed()        {}

func (d Upload) Describe() string {
	if d.FileSize <= 0 {
		return "Image uploaded (unknown size)"
	}
	return fmt.Sprintf("Image uploaded (%dKB)", int64(math.Round(float64(d.FileSize)/1024)))
}

func (View) Describe() string     { return "Image viewed" }
func (Download) Describe() string { return "Image downloaded" }
func (Share) Describe() string    { return "Image shared with user" }

func (d Rename) Describe() string {
	return fmt.Sprintf("Renamed from \"%s\" to \"%s\"", d.OldTitle, d.NewTitle)
}

func (Delete) Describe() string { return "Image deleted" }

func (d PrivacyChange) Describe() string {
	if d.NewPublic {
		return "Privacy changed to public"
	}
	return "Privacy changed to private"
}

func (ProcessingStart) Describe() string { return "Image processing started" }

func (d ProcessingComplete) Describe() string {
	return fmt.Sprintf("Processing completed in %dms", d.ProcessingTime)
}

func (d ProcessingFailed) Describe() string {
	if d.Error == "" {
		return "Processing failed: Unknown error"
	}
	return "Processing failed: " + d.Error
}

func (ThumbnailGenerated) Describe() string { return "Thumbnail generated" }
func (EncryptionApplied) Describe() string  { return "Encryption applied to image" }
func (ShareLinkCreated) Describe() string   { return "Share link created" }
func (ShareLinkAccessed) Describe() string  { return "Share link accessed" }
func (LikeAdded) Describe() string          { return "Image liked" }
func (LikeRemoved) Describe() string        { return "Like removed" }

func (d Upload) Metadata() map[string]any {
	return compact(map[string]any{"fileSize": d.FileSize, "fileName": d.FileName})
}

func (d View) Metadata() map[string]any {
	return compact(map[string]any{"ipAddress": d.IPAddress, "userAgent": d.UserAgent})
}

func (d Download) Metadata() map[string]any {
	return compact(map[string]any{"ipAddress": d.IPAddress})
}

func (d Share) Metadata() map[string]any {
	return compact(map[string]any{"sharedWithUserId": d.SharedWithUserID})
}

func (d Rename) Metadata() map[string]any {
	return map[string]any{"oldValue": d.OldTitle, "newValue": d.NewTitle}
}

func (d Delete) Metadata() map[string]any {
	return compact(map[string]any{"fileName": d.FileName, "fileSize": d.FileSize})
}

func (d PrivacyChange) Metadata() map[string]any {
	return map[string]any{"oldValue": d.OldPublic, "newValue": d.NewPublic}
}

func (ProcessingStart) Metadata() map[string]any { return nil }

func (d ProcessingComplete) Metadata() map[string]any {
	m := map[string]any{"processingTime": d.ProcessingTime}
	if d.ProcessedSize > 0 {
		m["processedSize"] = d.ProcessedSize
	}
	return m
}

func (d ProcessingFailed) Metadata() map[string]any {
	return compact(map[string]any{"error": d.Error})
}

func (ThumbnailGenerated) Metadata() map[string]any { return nil }
func (EncryptionApplied) Metadata() map[string]any  { return nil }

func (d ShareLinkCreated) Metadata() map[string]any {
	return compact(map[string]any{"shareToken": d.Token})
}

func (d ShareLinkAccessed) Metadata() map[string]any {
	return compact(map[string]any{"shareToken": d.Token, "ipAddress": d.IPAddress})
}

func (LikeAdded) Metadata() map[string]any   { return nil }
func (LikeRemoved) Metadata() map[string]any { return nil }

// compact drops zero strings and numbers so optional metadata stays optional.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val == "" {
				delete(m, k)
			}
		case int64:
			if val == 0 {
				delete(m, k)
			}
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
