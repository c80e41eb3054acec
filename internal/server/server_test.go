package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"imagevault/internal/codec"
	"imagevault/internal/filestore"
	"imagevault/internal/history"
	"imagevault/internal/models"
	"imagevault/internal/storage"
	"imagevault/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []worker.Job
}

func (q *recordingQueue) Enqueue(job worker.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

type stubCache struct {
	statuses map[uuid.UUID]models.ProcessingStatus
	forgot   []uuid.UUID
}

func (c *stubCache) GetStatus(ctx context.Context, id uuid.UUID) (models.ProcessingStatus, bool, error) {
	s, ok := c.statuses[id]
	return s, ok, nil
}

func (c *stubCache) Forget(ctx context.Context, id uuid.UUID) error {
	c.forgot = append(c.forgot, id)
	return nil
}

type testEnv struct {
	dir     string
	server  *Server
	store   *storage.Memory
	codec   *codec.Codec
	tracker *history.Tracker
	queue   *recordingQueue
	cache   *stubCache
	owner   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	files := filestore.NewLocal()

	key := make([]byte, 32)
	rand.Read(key)
	c, err := codec.New(key, files)
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}

	store := storage.NewMemory()
	tracker := history.NewTracker(store, logger)
	queue := &recordingQueue{}
	cache := &stubCache{statuses: map[uuid.UUID]models.ProcessingStatus{}}

	cfg := &models.Config{ServerAddr: ":0", StoragePath: dir}
	srv := NewServer(cfg, Deps{
		Store:   store,
		Files:   files,
		Queue:   queue,
		Codec:   c,
		History: tracker,
		Cache:   cache,
	}, logger)

	return &testEnv{
		dir: dir, server: srv, store: store, codec: c, tracker: tracker,
		queue: queue, cache: cache, owner: uuid.New(),
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, user uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set(UserHeader, user.String())
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// addCompleted stores an encrypted image, and its thumbnail when thumb is set.
func (e *testEnv) addCompleted(t *testing.T, content, thumb []byte, public bool) *models.Image {
	t.Helper()
	id := uuid.New()
	path := filepath.Join(e.dir, id.String()+".png"+codec.EncryptedSuffix)
	if err := e.codec.Encrypt(path, content); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	img := &models.Image{
		ID:              id,
		OwnerID:         e.owner,
		Title:           "photo.png",
		MimeType:        "image/png",
		Size:            int64(len(content)),
		Path:            path,
		IsPublic:        public,
		Encrypted:       true,
		ThumbnailExists: true,
		ThumbnailPath:   filepath.Join(e.dir, id.String()+"_thumb.jpg"+codec.EncryptedSuffix),
		Status:          models.StatusCompleted,
	}
	if thumb != nil {
		if err := e.codec.Encrypt(img.ThumbnailPath, thumb); err != nil {
			t.Fatalf("Encrypt thumbnail: %v", err)
		}
	}
	if err := e.store.CreateImage(context.Background(), img); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return img
}

func (e *testEnv) addWithStatus(t *testing.T, status models.ProcessingStatus) *models.Image {
	t.Helper()
	img := &models.Image{ID: uuid.New(), OwnerID: e.owner, Title: "a.jpg", Status: status}
	if err := e.store.CreateImage(context.Background(), img); err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.RGBA{255, 0, 0, 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(content)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func upload(t *testing.T, e *testEnv, body *bytes.Buffer, contentType string, user uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", contentType)
	if user != uuid.Nil {
		req.Header.Set(UserHeader, user.String())
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUpload_MissingFile(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"title": "nothing"}, "", nil)

	rec := upload(t, e, body, ct, e.owner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(e.queue.jobs) != 0 {
		t.Fatal("job enqueued for a failed upload")
	}
}

func TestUpload_RequiresUser(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, nil, "a.png", pngBytes(t))

	if rec := upload(t, e, body, ct, uuid.Nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestUpload_RejectsNonImage(t *testing.T) {
	e := newTestEnv(t)
	body, ct := multipartBody(t, nil, "notes.txt", []byte("just some text"))

	if rec := upload(t, e, body, ct, e.owner); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpload_CreatesPendingImageAndEnqueues(t *testing.T) {
	e := newTestEnv(t)
	content := pngBytes(t)
	body, ct := multipartBody(t, map[string]string{"title": "Sunset", "isPublic": "true"}, "Sunset.PNG", content)

	rec := upload(t, e, body, ct, e.owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created models.Image
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != models.StatusPending || created.Title != "Sunset" || !created.IsPublic {
		t.Fatalf("unexpected image %+v", created)
	}
	if created.MimeType != "image/png" || created.OriginalSize != int64(len(content)) {
		t.Fatalf("unexpected image %+v", created)
	}

	if len(e.queue.jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(e.queue.jobs))
	}
	job := e.queue.jobs[0]
	if job.ImageID != created.ID || job.Filename != "Sunset.PNG" {
		t.Fatalf("unexpected job %+v", job)
	}
	if !strings.HasSuffix(job.Path, filepath.Join("uploads", created.ID.String()+".png")) {
		t.Fatalf("unexpected path %s", job.Path)
	}
	stored, err := os.ReadFile(job.Path)
	if err != nil || !bytes.Equal(stored, content) {
		t.Fatal("upload not written to disk")
	}

	events, _ := e.tracker.GetImageHistory(context.Background(), created.ID, 0)
	if len(events) != 1 || events[0].Action != models.ActionUpload {
		t.Fatalf("unexpected history %+v", events)
	}
}

func TestGetImage_NotServableStates(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		status models.ProcessingStatus
		want   int
	}{
		{models.StatusPending, http.StatusAccepted},
		{models.StatusProcessing, http.StatusAccepted},
		{models.StatusFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			img := e.addWithStatus(t, tt.status)
			rec := e.do(t, http.MethodGet, "/images/"+img.ID.String(), nil, e.owner)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetImage_ServesDecrypted(t *testing.T) {
	e := newTestEnv(t)
	content := pngBytes(t)
	img := e.addCompleted(t, content, nil, false)

	rec := e.do(t, http.MethodGet, "/images/"+img.ID.String(), nil, e.owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatal("served bytes differ from the original")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %s", ct)
	}

	stats, _ := e.tracker.GetImageStats(context.Background(), img.ID)
	if stats.ActionBreakdown[models.ActionView] != 1 {
		t.Fatalf("view not tracked: %v", stats.ActionBreakdown)
	}
}

func TestGetImage_Thumbnail(t *testing.T) {
	e := newTestEnv(t)
	content := pngBytes(t)
	thumb := []byte("thumbnail bytes")

	withThumb := e.addCompleted(t, content, thumb, true)
	rec := e.do(t, http.MethodGet, "/images/"+withThumb.ID.String()+"?thumbnail=true", nil, uuid.Nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), thumb) {
		t.Fatalf("thumbnail not served: %d", rec.Code)
	}

	missing := e.addCompleted(t, content, nil, true)
	rec = e.do(t, http.MethodGet, "/images/"+missing.ID.String()+"?thumbnail=true", nil, uuid.Nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), content) {
		t.Fatalf("missing thumbnail did not fall back to the original: %d", rec.Code)
	}
}

func TestGetImage_CorruptFileIsServerError(t *testing.T) {
	e := newTestEnv(t)
	img := e.addCompleted(t, pngBytes(t), nil, false)
	os.WriteFile(img.Path, []byte("garbage that is long enough to pass the header check"), 0o644)

	rec := e.do(t, http.MethodGet, "/images/"+img.ID.String(), nil, e.owner)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestGetImage_Access(t *testing.T) {
	e := newTestEnv(t)
	private := e.addCompleted(t, pngBytes(t), nil, false)

	if rec := e.do(t, http.MethodGet, "/images/"+private.ID.String(), nil, uuid.New()); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger got %d, want 403", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/images/"+private.ID.String(), nil, uuid.Nil); rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous got %d, want 403", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/images/"+uuid.NewString(), nil, e.owner); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown image got %d, want 404", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/images/not-a-uuid", nil, e.owner); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id got %d, want 400", rec.Code)
	}
}

func TestStatus_CacheFirst(t *testing.T) {
	e := newTestEnv(t)
	img := e.addWithStatus(t, models.StatusPending)

	rec := e.do(t, http.MethodGet, "/images/"+img.ID.String()+"/status", nil, uuid.Nil)
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusOK || body["processingStatus"] != "pending" {
		t.Fatalf("store status: %d %v", rec.Code, body)
	}

	e.cache.statuses[img.ID] = models.StatusProcessing
	rec = e.do(t, http.MethodGet, "/images/"+img.ID.String()+"/status", nil, uuid.Nil)
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["processingStatus"] != "processing" {
		t.Fatalf("cached status ignored: %v", body)
	}
}

func TestMutationsAreTracked(t *testing.T) {
	e := newTestEnv(t)
	img := e.addCompleted(t, pngBytes(t), nil, false)
	base := "/images/" + img.ID.String()

	if rec := e.do(t, http.MethodPatch, base, []byte(`{"title":"beach"}`), uuid.New()); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger rename got %d, want 403", rec.Code)
	}
	if rec := e.do(t, http.MethodPatch, base, []byte(`{"title":"beach"}`), e.owner); rec.Code != http.StatusOK {
		t.Fatalf("rename got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPatch, base+"/visibility", []byte(`{"isPublic":true}`), e.owner); rec.Code != http.StatusOK {
		t.Fatalf("visibility got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPatch, base+"/visibility", []byte(`{}`), e.owner); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty visibility got %d, want 400", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, base+"/view", []byte(`{"action":"download"}`), uuid.New()); rec.Code != http.StatusNoContent {
		t.Fatalf("download got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, base+"/view", []byte(`{"action":"print"}`), e.owner); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action got %d, want 400", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, base+"/like", nil, uuid.New()); rec.Code != http.StatusNoContent {
		t.Fatalf("like got %d", rec.Code)
	}
	rec := e.do(t, http.MethodPost, base+"/share-link", nil, e.owner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("share link got %d", rec.Code)
	}
	var link map[string]string
	json.Unmarshal(rec.Body.Bytes(), &link)
	if len(link["token"]) != 64 {
		t.Fatalf("unexpected token %q", link["token"])
	}

	rec = e.do(t, http.MethodGet, base+"/history", nil, e.owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("history got %d", rec.Code)
	}
	var hist struct {
		History []models.HistoryEvent `json:"history"`
	}
	json.Unmarshal(rec.Body.Bytes(), &hist)
	want := []models.Action{
		models.ActionShareLinkCreated,
		models.ActionLikeAdded,
		models.ActionDownload,
		models.ActionPrivacyChange,
		models.ActionRename,
	}
	if len(hist.History) != len(want) {
		t.Fatalf("history has %d events, want %d", len(hist.History), len(want))
	}
	for i, a := range want {
		if hist.History[i].Action != a {
			t.Fatalf("event %d = %s, want %s", i, hist.History[i].Action, a)
		}
	}
	if hist.History[4].Description != `Renamed from "photo.png" to "beach"` {
		t.Fatalf("rename description = %q", hist.History[4].Description)
	}
	if hist.History[3].Description != "Privacy changed to public" {
		t.Fatalf("privacy description = %q", hist.History[3].Description)
	}

	rec = e.do(t, http.MethodGet, base+"/stats", nil, e.owner)
	var stats models.ImageStats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if rec.Code != http.StatusOK || stats.TotalActions != 5 || stats.UniqueUsers != 3 {
		t.Fatalf("stats %d %+v", rec.Code, stats)
	}

	if rec := e.do(t, http.MethodGet, base+"/stats", nil, uuid.New()); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger stats got %d, want 403", rec.Code)
	}
}

func TestUserHistory(t *testing.T) {
	e := newTestEnv(t)
	first := e.addCompleted(t, pngBytes(t), nil, false)
	second := e.addCompleted(t, pngBytes(t), nil, false)
	e.tracker.TrackRename(context.Background(), first.ID, e.owner, "photo.png", "one")
	e.tracker.TrackRename(context.Background(), second.ID, e.owner, "photo.png", "two")

	if rec := e.do(t, http.MethodGet, "/images/history", nil, uuid.Nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous got %d, want 401", rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/images/history?limit=1", nil, e.owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		History []models.UserHistoryEntry `json:"history"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.History) != 1 || body.History[0].Image.ID != second.ID {
		t.Fatalf("unexpected history %+v", body.History)
	}
}

func TestDelete(t *testing.T) {
	e := newTestEnv(t)
	img := e.addCompleted(t, pngBytes(t), []byte("thumb"), false)

	rec := e.do(t, http.MethodDelete, "/images/"+img.ID.String(), nil, e.owner)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := e.store.GetImage(context.Background(), img.ID); err == nil {
		t.Fatal("record survived delete")
	}
	for _, p := range []string{img.Path, img.ThumbnailPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s survived delete", p)
		}
	}
	if len(e.cache.forgot) != 1 || e.cache.forgot[0] != img.ID {
		t.Fatal("cached status not dropped")
	}
}
