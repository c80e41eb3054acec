package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"imagevault/internal/codec"
	"imagevault/internal/filestore"
	"imagevault/internal/models"
)

type Options struct {
	MaxWidth         int
	MaxHeight        int
	ThumbnailSize    int
	Quality          int
	ThumbnailQuality int
}

func DefaultOptions() Options {
	return Options{
		MaxWidth:         models.DefaultMaxWidth,
		MaxHeight:        models.DefaultMaxHeight,
		ThumbnailSize:    models.DefaultThumbnailSize,
		Quality:          models.DefaultJPEGQuality,
		ThumbnailQuality: models.DefaultThumbnailQuality,
	}
}

func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		MaxWidth:         cfg.MaxWidth,
		MaxHeight:        cfg.MaxHeight,
		ThumbnailSize:    cfg.ThumbnailSize,
		Quality:          cfg.JPEGQuality,
		ThumbnailQuality: cfg.ThumbnailQuality,
	}
}

// Result describes what Process did to a file.
type Result struct {
	OriginalSize     int64
	ProcessedSize    int64
	Width            int
	Height           int
	Resized          bool
	ThumbnailCreated bool
	ThumbnailPath    string
}

// Pipeline decodes an uploaded image, shrinks it to fit the configured
// bounds and writes a square thumbnail next to it.
type Pipeline struct {
	files  filestore.FileStore
	opts   Options
	logger *zap.Logger
}

func New(files filestore.FileStore, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{files: files, opts: opts, logger: logger}
}

// Process transforms the file at path in place. filename is the name the
// user uploaded and is only used for logging. A thumbnail failure is not an
// error; it shows up as Result.ThumbnailCreated == false.
func (p *Pipeline) Process(ctx context.Context, path, filename string) (*Result, error) {
	const op = "processor.Process"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := p.files.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, filename, err)
	}

	bounds := src.Bounds()
	res := &Result{
		OriginalSize:  int64(len(data)),
		ProcessedSize: int64(len(data)),
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
	}

	p.logger.Info("processing image",
		zap.String("filename", filename),
		zap.String("path", path),
		zap.Int64("size", res.OriginalSize),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
	)

	img := src
	if p.needsResize(res.Width, res.Height) {
		resized := imaging.Fit(src, p.opts.MaxWidth, p.opts.MaxHeight, imaging.Lanczos)
		out, err := encodeJPEG(resized, p.opts.Quality)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := p.files.WriteFile(path, out); err != nil {
			return nil, fmt.Errorf("%s: replace original: %w", op, err)
		}

		img = resized
		res.Resized = true
		res.ProcessedSize = int64(len(out))
		res.Width, res.Height = resized.Bounds().Dx(), resized.Bounds().Dy()

		p.logger.Info("resized image",
			zap.String("path", path),
			zap.Int("width", res.Width),
			zap.Int("height", res.Height),
			zap.Int64("processed_size", res.ProcessedSize),
		)
	}

	thumbPath := codec.ThumbnailPath(path)
	if err := p.writeThumbnail(img, thumbPath); err != nil {
		p.logger.Warn("thumbnail creation failed", zap.String("path", path), zap.Error(err))
	} else {
		res.ThumbnailCreated = true
		res.ThumbnailPath = thumbPath
	}

	return res, nil
}

func (p *Pipeline) needsResize(width, height int) bool {
	return width > p.opts.MaxWidth || height > p.opts.MaxHeight
}

func (p *Pipeline) writeThumbnail(img image.Image, path string) error {
	thumb := imaging.Fill(img, p.opts.ThumbnailSize, p.opts.ThumbnailSize, imaging.Center, imaging.Lanczos)
	out, err := encodeJPEG(thumb, p.opts.ThumbnailQuality)
	if err != nil {
		return err
	}
	return p.files.WriteFile(path, out)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
