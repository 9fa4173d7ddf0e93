package vision

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"documind/internal/models"
)

const minAcceptedTextLen = 10

// VLM describes an image with a vision-language model. Used when OCR
// output is below the confidence threshold.
type VLM interface {
	DescribeImage(ctx context.Context, image models.EmbeddedImage) (string, error)
}

// Resolver runs the hybrid OCR-then-VLM path over a document's
// embedded images with bounded concurrency.
type Resolver struct {
	ocr       OCRClient
	vlm       VLM
	threshold float64
	minBytes  int
	workers   int
	retries   int
}

func NewResolver(ocr OCRClient, vlm VLM, threshold float64, minBytes, workers, retries int) *Resolver {
	if threshold <= 0 {
		threshold = 0.70
	}
	if workers <= 0 {
		workers = 4
	}
	if retries < 0 {
		retries = 0
	}
	return &Resolver{
		ocr:       ocr,
		vlm:       vlm,
		threshold: threshold,
		minBytes:  minBytes,
		workers:   workers,
		retries:   retries,
	}
}

// Resolve produces text for every image worth processing, ordered by
// the image's position in the source document. Images below the size
// floor are skipped. A failure on one image fails the whole document.
func (r *Resolver) Resolve(ctx context.Context, images []models.EmbeddedImage) ([]models.VisionResult, error) {
	var eligible []models.EmbeddedImage
	for _, img := range images {
		if r.minBytes > 0 && len(img.Data) < r.minBytes {
			continue
		}
		eligible = append(eligible, img)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	results := make([]models.VisionResult, len(eligible))
	errs := make([]error, len(eligible))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup

	for i, img := range eligible {
		wg.Add(1)
		go func(i int, img models.EmbeddedImage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := r.resolveOne(ctx, img)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res
		}(i, img)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		ia, ib := results[a].Image, results[b].Image
		if ia.Page != ib.Page {
			return ia.Page < ib.Page
		}
		if ia.Sheet != ib.Sheet {
			return ia.Sheet < ib.Sheet
		}
		return ia.Index < ib.Index
	})
	return results, nil
}

// resolveOne tries OCR first; when the result misses the confidence
// threshold or is too short, the VLM answer supersedes it.
func (r *Resolver) resolveOne(ctx context.Context, img models.EmbeddedImage) (models.VisionResult, error) {
	var (
		ocrText string
		ocrConf float64
	)
	if r.ocr != nil {
		text, conf, err := r.recognize(ctx, img)
		if err != nil {
			log.Printf("ocr failed for %s, falling back to vlm: %v", img.Name, err)
		} else {
			ocrText, ocrConf = text, conf
		}
	}

	if ocrConf >= r.threshold && len(strings.TrimSpace(ocrText)) >= minAcceptedTextLen {
		return models.VisionResult{
			Image:      img,
			Text:       strings.TrimSpace(ocrText),
			Source:     models.VisionSourceOCR,
			Confidence: ocrConf,
		}, nil
	}

	if r.vlm == nil {
		return models.VisionResult{}, fmt.Errorf("image %s: ocr below threshold and no vlm configured", img.Name)
	}
	return r.describe(ctx, img, ocrConf)
}

// recognize runs OCR with a bounded retry for transient failures.
func (r *Resolver) recognize(ctx context.Context, img models.EmbeddedImage) (string, float64, error) {
	var (
		text string
		conf float64
		err  error
	)
	for attempt := 0; attempt <= r.retries; attempt++ {
		text, conf, err = r.ocr.Recognize(ctx, img.Data)
		if err == nil {
			return text, conf, nil
		}
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
	}
	return "", 0, err
}

func (r *Resolver) describe(ctx context.Context, img models.EmbeddedImage, ocrConf float64) (models.VisionResult, error) {
	desc, err := r.vlm.DescribeImage(ctx, img)
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("vlm describe %s: %w", img.Name, err)
	}
	return models.VisionResult{
		Image:      img,
		Text:       strings.TrimSpace(desc),
		Source:     models.VisionSourceVLM,
		Confidence: ocrConf,
	}, nil
}
