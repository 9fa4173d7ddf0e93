package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OCRClient recognizes printed text in an image. The engine itself is
// an external service.
type OCRClient interface {
	Recognize(ctx context.Context, image []byte) (text string, confidence float64, err error)
}

// HTTPOCRClient calls a JSON OCR endpoint.
type HTTPOCRClient struct {
	apiURL string
	client *http.Client
}

type ocrRequest struct {
	Image string `json:"image"` // base64
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewHTTPOCRClient(apiURL string, timeout time.Duration) *HTTPOCRClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPOCRClient{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPOCRClient) Recognize(ctx context.Context, image []byte) (string, float64, error) {
	payload, err := json.Marshal(ocrRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return "", 0, fmt.Errorf("encode ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("call ocr: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, fmt.Errorf("ocr status %d: %s", resp.StatusCode, msg)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode ocr response: %w", err)
	}
	return out.Text, out.Confidence, nil
}
