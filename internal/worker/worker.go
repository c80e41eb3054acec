// Package worker drains image processing jobs one at a time.
//
// Jobs are held in memory only. Anything still queued when the process
// stops is lost and its image stays pending.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imagevault/internal/metrics"
	"imagevault/internal/models"
	"imagevault/internal/processor"
	"imagevault/internal/storage"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// Job identifies one uploaded file waiting to be processed.
type Job struct {
	Path     string
	Filename string
	ImageID  uuid.UUID
}

type Transformer interface {
	Process(ctx context.Context, path, filename string) (*processor.Result, error)
}

type Encryptor interface {
	EncryptFile(path string) (string, error)
}

// Files is the slice of file storage the worker touches directly.
type Files interface {
	Exists(path string) (bool, error)
	Remove(path string) error
}

type ImageStore interface {
	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	UpdateImage(ctx context.Context, id uuid.UUID, upd models.ImageUpdate) error
	TransitionImage(ctx context.Context, id uuid.UUID, from models.ProcessingStatus, upd models.ImageUpdate) error
}

// Recorder receives the processing milestones. Its errors are already
// logged by the implementation and are discarded here.
type Recorder interface {
	TrackProcessingStart(ctx context.Context, imageID uuid.UUID) error
	TrackProcessingComplete(ctx context.Context, imageID uuid.UUID, elapsed time.Duration, processedSize int64) error
	TrackProcessingFailed(ctx context.Context, imageID uuid.UUID, cause error) error
	TrackEncryptionApplied(ctx context.Context, imageID uuid.UUID) error
	TrackThumbnailGenerated(ctx context.Context, imageID uuid.UUID) error
}

// StatusCache mirrors status changes for fast polling.
type StatusCache interface {
	SetStatus(ctx context.Context, imageID uuid.UUID, status models.ProcessingStatus) error
}

type Worker struct {
	transformer Transformer
	encryptor   Encryptor
	files       Files
	store       ImageStore
	history     Recorder
	cache       StatusCache
	logger      *zap.Logger

	mu       sync.Mutex
	queue    []Job
	draining bool
	started  bool
	stopped  bool
	idle     chan struct{}
	baseCtx  context.Context
}

type Option func(*Worker)

func WithStatusCache(c StatusCache) Option {
	return func(w *Worker) { w.cache = c }
}

func New(transformer Transformer, encryptor Encryptor, files Files, store ImageStore, history Recorder, logger *zap.Logger, opts ...Option) *Worker {
	idle := make(chan struct{})
	close(idle)

	w := &Worker{
		transformer: transformer,
		encryptor:   encryptor,
		files:       files,
		store:       store,
		history:     history,
		logger:      logger,
		idle:        idle,
		baseCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start lets the worker drain. Jobs enqueued before Start are kept and
// picked up now. Cancelling ctx does not interrupt a job that is already
// running; use Stop for shutdown.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.baseCtx = context.WithoutCancel(ctx)
	w.kickLocked()

	w.logger.Info("worker started", zap.Int("queued", len(w.queue)))
}

// Enqueue appends job to the queue and never blocks.
func (w *Worker) Enqueue(job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		w.logger.Warn("worker stopped, dropping job",
			zap.String("image_id", job.ImageID.String()),
			zap.String("path", job.Path),
		)
		return
	}

	w.queue = append(w.queue, job)
	metrics.JobsEnqueued.Inc()
	metrics.QueueDepth.Set(float64(len(w.queue)))
	w.kickLocked()
}

// Wait blocks until no drain is running or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	w.mu.Lock()
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets the in-flight job finish and drops whatever is still queued.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	if err := w.Wait(ctx); err != nil {
		return fmt.Errorf("worker.Stop: %w", err)
	}

	w.mu.Lock()
	dropped := w.queue
	w.queue = nil
	w.mu.Unlock()
	metrics.QueueDepth.Set(0)

	for _, job := range dropped {
		w.logger.Warn("dropping queued job on shutdown, image stays pending",
			zap.String("image_id", job.ImageID.String()),
			zap.String("path", job.Path),
		)
	}
	w.logger.Info("worker stopped", zap.Int("dropped", len(dropped)))
	return nil
}

// kickLocked starts a drain if there is work and none is running.
// w.mu must be held.
func (w *Worker) kickLocked() {
	if !w.started || w.stopped || w.draining || len(w.queue) == 0 {
		return
	}
	w.draining = true
	w.idle = make(chan struct{})
	go w.drain()
}

func (w *Worker) drain() {
	for {
		w.mu.Lock()
		if w.stopped || len(w.queue) == 0 {
			w.draining = false
			close(w.idle)
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.queue[0] = Job{}
		w.queue = w.queue[1:]
		metrics.QueueDepth.Set(float64(len(w.queue)))
		ctx := w.baseCtx
		w.mu.Unlock()

		start := time.Now()
		outcome := w.process(ctx, job)
		metrics.JobsProcessed.WithLabelValues(outcome).Inc()
		if outcome != outcomeSkipped {
			metrics.JobDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) string {
	log := w.logger.With(zap.String("image_id", job.ImageID.String()), zap.String("filename", job.Filename))

	img, err := w.store.GetImage(ctx, job.ImageID)
	if err != nil {
		log.Error("failed to load image for processing", zap.Error(err))
		return outcomeSkipped
	}
	if img.Status != models.StatusPending {
		log.Info("image is not pending, skipping", zap.String("status", string(img.Status)))
		return outcomeSkipped
	}

	err = w.store.TransitionImage(ctx, job.ImageID, models.StatusPending,
		models.ImageUpdate{Status: models.Ptr(models.StatusProcessing)})
	if err != nil {
		log.Error("failed to mark image processing", zap.Error(err))
		return outcomeSkipped
	}
	w.setStatus(ctx, job.ImageID, models.StatusProcessing)
	_ = w.history.TrackProcessingStart(ctx, job.ImageID)

	r, err := w.execute(ctx, job, time.Now())
	if err != nil {
		w.discard(log, r.leftovers)
		w.fail(ctx, log, job, r, err)
		return outcomeFailed
	}

	res := r.res
	_ = w.history.TrackProcessingComplete(ctx, job.ImageID, r.elapsed, res.ProcessedSize)
	_ = w.history.TrackEncryptionApplied(ctx, job.ImageID)
	if res.ThumbnailCreated {
		_ = w.history.TrackThumbnailGenerated(ctx, job.ImageID)
	}
	w.setStatus(ctx, job.ImageID, models.StatusCompleted)

	log.Info("image processed",
		zap.Int64("original_size", res.OriginalSize),
		zap.Int64("processed_size", res.ProcessedSize),
		zap.Bool("resized", res.Resized),
		zap.Bool("thumbnail", res.ThumbnailCreated),
		zap.Duration("elapsed", r.elapsed),
	)
	return outcomeCompleted
}

// run is what a job has produced so far. execute fills it in as it goes,
// so a failed job still reports what is on disk.
type run struct {
	res     *processor.Result
	elapsed time.Duration
	// encPath is set once the original has been replaced by its ciphertext.
	encPath string
	// leftovers are derived files that must not outlive a failed job.
	leftovers []string
}

// execute runs transform, encryption and the final transition. A panic
// anywhere in there becomes an error.
func (w *Worker) execute(ctx context.Context, job Job, started time.Time) (r run, err error) {
	const op = "worker.execute"

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", op, p)
		}
	}()

	ok, err := w.files.Exists(job.Path)
	if err != nil {
		return r, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return r, fmt.Errorf("%s: source file %s is missing", op, job.Path)
	}

	res, err := w.transformer.Process(ctx, job.Path, job.Filename)
	if err != nil {
		return r, err
	}
	r.res = res
	if res.ThumbnailCreated {
		r.leftovers = append(r.leftovers, res.ThumbnailPath)
	}

	err = w.store.UpdateImage(ctx, job.ImageID, models.ImageUpdate{
		ProcessedSize:   models.Ptr(res.ProcessedSize),
		ThumbnailExists: models.Ptr(res.ThumbnailCreated),
	})
	if err != nil {
		return r, fmt.Errorf("%s: save transform result: %w", op, err)
	}

	encPath, err := w.encryptor.EncryptFile(job.Path)
	if err != nil {
		return r, fmt.Errorf("%s: encrypt image: %w", op, err)
	}
	r.encPath = encPath
	final := models.ImageUpdate{
		Status:    models.Ptr(models.StatusCompleted),
		Encrypted: models.Ptr(true),
		Path:      models.Ptr(encPath),
	}
	if res.ThumbnailCreated {
		thumbPath, err := w.encryptor.EncryptFile(res.ThumbnailPath)
		if err != nil {
			return r, fmt.Errorf("%s: encrypt thumbnail: %w", op, err)
		}
		r.leftovers = append(r.leftovers, thumbPath)
		final.ThumbnailPath = models.Ptr(thumbPath)
	}

	r.elapsed = time.Since(started)
	final.ProcessingTime = models.Ptr(r.elapsed.Milliseconds())

	if err := w.store.TransitionImage(ctx, job.ImageID, models.StatusProcessing, final); err != nil {
		return r, fmt.Errorf("%s: mark completed: %w", op, err)
	}
	return r, nil
}

// discard removes derived files left behind by a failed job.
func (w *Worker) discard(log *zap.Logger, paths []string) {
	for _, path := range paths {
		if err := w.files.Remove(path); err != nil {
			log.Warn("failed to remove leftover file", zap.String("path", path), zap.Error(err))
		}
	}
}

// fail marks the image failed. If the original was already encrypted the
// record follows it to the ciphertext, since the plaintext is gone.
func (w *Worker) fail(ctx context.Context, log *zap.Logger, job Job, r run, cause error) {
	log.Error("image processing failed", zap.Error(cause))

	upd := models.ImageUpdate{
		Status:          models.Ptr(models.StatusFailed),
		ThumbnailExists: models.Ptr(false),
	}
	if r.encPath != "" {
		upd.Encrypted = models.Ptr(true)
		upd.Path = models.Ptr(r.encPath)
	}
	err := w.store.TransitionImage(ctx, job.ImageID, models.StatusProcessing, upd)
	switch {
	case errors.Is(err, storage.ErrStatusConflict):
		log.Warn("image left processing before it could be marked failed", zap.Error(err))
		return
	case err != nil:
		log.Error("failed to mark image failed", zap.Error(err))
	default:
		w.setStatus(ctx, job.ImageID, models.StatusFailed)
	}
	_ = w.history.TrackProcessingFailed(ctx, job.ImageID, cause)
}

func (w *Worker) setStatus(ctx context.Context, id uuid.UUID, status models.ProcessingStatus) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetStatus(ctx, id, status); err != nil {
		w.logger.Warn("failed to cache image status",
			zap.String("image_id", id.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
