package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"documind/internal/models"
)

// converterExtractor delegates binary office/pdf formats to an
// external converter service that returns the page and row structure
// as JSON. The service owns the parser internals.
type converterExtractor struct {
	apiURL string
	client *http.Client
}

type converterImage struct {
	Name  string `json:"name"`
	Data  string `json:"data"` // base64
	Page  int    `json:"page,omitempty"`
	Sheet string `json:"sheet,omitempty"`
	Index int    `json:"index"`
}

type converterResponse struct {
	Blocks []models.TextBlock `json:"blocks"`
	Images []converterImage   `json:"images"`
	Tables []models.TableData `json:"tables"`
}

func newConverterExtractor(apiURL string, timeout time.Duration) *converterExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &converterExtractor{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *converterExtractor) Extract(ctx context.Context, input Input) (*models.RawExtraction, error) {
	body, contentType, err := buildFileForm(input.Path, input.Filename)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("build converter request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call converter: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("converter status %d: %s", resp.StatusCode, msg)
	}

	var conv converterResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("decode converter response: %w", err)
	}

	raw := &models.RawExtraction{
		Blocks: conv.Blocks,
		Tables: conv.Tables,
	}
	for _, img := range conv.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", img.Name, err)
		}
		raw.Images = append(raw.Images, models.EmbeddedImage{
			Name:  img.Name,
			Data:  data,
			Page:  img.Page,
			Sheet: img.Sheet,
			Index: img.Index,
		})
	}
	return raw, nil
}

func buildFileForm(path, filename string) (io.Reader, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
