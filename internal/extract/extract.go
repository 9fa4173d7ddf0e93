package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"documind/internal/config"
	"documind/internal/models"
)

// ErrUnsupportedType is returned when no extractor handles the file type.
var ErrUnsupportedType = errors.New("unsupported file type")

// Input identifies one source to extract. Exactly one of Path or URL
// is set.
type Input struct {
	Path     string
	URL      string
	Filename string
}

// Extractor produces the normalized raw extraction for one source.
// Implementations never call language models; they only pull text,
// images and tables out of the source format.
type Extractor interface {
	Extract(ctx context.Context, input Input) (*models.RawExtraction, error)
}

// Dispatcher routes a source to the extractor registered for its type.
type Dispatcher struct {
	extractors map[models.FileType]Extractor
}

func NewDispatcher(cfg config.PipelineConfig) (*Dispatcher, error) {
	textExt, err := newFileLoaderExtractor()
	if err != nil {
		return nil, fmt.Errorf("create file extractor: %w", err)
	}
	timeout := time.Duration(cfg.CallTimeout) * time.Second

	d := &Dispatcher{extractors: map[models.FileType]Extractor{
		models.FileTypeText:  textExt,
		models.FileTypeWord:  textExt,
		models.FileTypeCSV:   &csvExtractor{},
		models.FileTypeURL:   newURLExtractor(timeout),
		models.FileTypeImage: &imageExtractor{},
	}}

	if cfg.ConverterURL != "" {
		conv := newConverterExtractor(cfg.ConverterURL, timeout)
		d.extractors[models.FileTypePDF] = conv
		d.extractors[models.FileTypeExcel] = conv
		d.extractors[models.FileTypePPT] = conv
	}
	return d, nil
}

// Register overrides the extractor for a type. Used in tests and for
// custom deployments.
func (d *Dispatcher) Register(t models.FileType, e Extractor) {
	d.extractors[t] = e
}

// Extract dispatches by file type.
func (d *Dispatcher) Extract(ctx context.Context, fileType models.FileType, input Input) (*models.RawExtraction, error) {
	ext, ok := d.extractors[fileType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
	raw, err := ext.Extract(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", fileType, err)
	}
	if raw == nil {
		raw = &models.RawExtraction{}
	}
	return raw, nil
}

// DetectType maps a filename or URL to its file type.
func DetectType(filename, url string) (models.FileType, error) {
	if url != "" {
		return models.FileTypeURL, nil
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return models.FileTypePDF, nil
	case ".docx", ".doc":
		return models.FileTypeWord, nil
	case ".xlsx", ".xls":
		return models.FileTypeExcel, nil
	case ".csv":
		return models.FileTypeCSV, nil
	case ".pptx", ".ppt":
		return models.FileTypePPT, nil
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp":
		return models.FileTypeImage, nil
	case ".txt", ".md", ".markdown", ".log":
		return models.FileTypeText, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}
}
