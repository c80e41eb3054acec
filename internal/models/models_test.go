package models

import (
	"testing"
)

func TestProcessingStatus_Transitions(t *testing.T) {
	all := []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]ProcessingStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]ProcessingStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
		if from.Terminal() {
			for _, to := range all {
				if from.CanTransition(to) {
					t.Errorf("terminal %s can move to %s", from, to)
				}
			}
		}
	}

	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("non-terminal status reported terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("terminal status reported non-terminal")
	}
}

func TestParseProcessingStatus(t *testing.T) {
	if s, err := ParseProcessingStatus("completed"); err != nil || s != StatusCompleted {
		t.Fatalf("ParseProcessingStatus(completed) = %q, %v", s, err)
	}
	if _, err := ParseProcessingStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestImageUpdate_Apply(t *testing.T) {
	img := Image{Title: "a.jpg", Status: StatusProcessing, Path: "/a.jpg"}
	upd := ImageUpdate{
		Status:         Ptr(StatusCompleted),
		Encrypted:      Ptr(true),
		ProcessedSize:  Ptr(int64(42)),
		ProcessingTime: Ptr(int64(7)),
		Path:           Ptr("/a.jpg.enc"),
	}
	upd.Apply(&img)

	if img.Status != StatusCompleted || !img.Encrypted || img.Path != "/a.jpg.enc" {
		t.Fatalf("unexpected image %+v", img)
	}
	if *img.ProcessedSize != 42 || *img.ProcessingTime != 7 || img.Title != "a.jpg" {
		t.Fatalf("unexpected image %+v", img)
	}

	*upd.ProcessedSize = 1
	if *img.ProcessedSize != 42 {
		t.Fatal("Apply aliased the update's pointer")
	}

	if !(ImageUpdate{}).Empty() || upd.Empty() {
		t.Fatal("Empty is wrong")
	}
}

func TestActionDetails_Describe(t *testing.T) {
	tests := []struct {
		details ActionDetails
		want    string
	}{
		{Upload{FileSize: 5 * 1024 * 1024}, "Image uploaded (5120KB)"},
		{Upload{FileSize: 1536}, "Image uploaded (2KB)"},
		{Upload{}, "Image uploaded (unknown size)"},
		{View{}, "Image viewed"},
		{Download{}, "Image downloaded"},
		{Share{}, "Image shared with user"},
		{Rename{OldTitle: "a.jpg", NewTitle: "beach"}, `Renamed from "a.jpg" to "beach"`},
		{Delete{}, "Image deleted"},
		{PrivacyChange{NewPublic: true}, "Privacy changed to public"},
		{PrivacyChange{OldPublic: true}, "Privacy changed to private"},
		{ProcessingStart{}, "Image processing started"},
		{ProcessingComplete{ProcessingTime: 1234}, "Processing completed in 1234ms"},
		{ProcessingFailed{Error: "decode failed"}, "Processing failed: decode failed"},
		{ProcessingFailed{}, "Processing failed: Unknown error"},
		{ThumbnailGenerated{}, "Thumbnail generated"},
		{EncryptionApplied{}, "Encryption applied to image"},
		{ShareLinkCreated{}, "Share link created"},
		{ShareLinkAccessed{}, "Share link accessed"},
		{LikeAdded{}, "Image liked"},
		{LikeRemoved{}, "Like removed"},
	}

	covered := map[Action]bool{}
	for _, tt := range tests {
		if got := tt.details.Describe(); got != tt.want {
			t.Errorf("%s: Describe() = %q, want %q", tt.details.Action(), got, tt.want)
		}
		covered[tt.details.Action()] = true
	}
	for _, a := range Actions {
		if !covered[a] {
			t.Errorf("no description case for %s", a)
		}
	}
}

func TestActionDetails_Metadata(t *testing.T) {
	m := Upload{FileSize: 10, FileName: "a.jpg"}.Metadata()
	if m["fileSize"] != int64(10) || m["fileName"] != "a.jpg" {
		t.Fatalf("upload metadata %v", m)
	}
	if m := (View{}).Metadata(); m != nil {
		t.Fatalf("empty view metadata = %v, want nil", m)
	}
	if m := (ProcessingComplete{}).Metadata(); m["processingTime"] != int64(0) {
		t.Fatalf("processing time dropped: %v", m)
	}
	m = PrivacyChange{OldPublic: true}.Metadata()
	if m["oldValue"] != true || m["newValue"] != false {
		t.Fatalf("privacy metadata %v", m)
	}
}
