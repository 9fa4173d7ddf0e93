package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"documind/internal/models"
)

func TestConverterExtractorUploadsAndDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename

		json.NewEncoder(w).Encode(converterResponse{
			Blocks: []models.TextBlock{{Text: "Page one text", Page: 1}},
			Images: []converterImage{{
				Name: "fig1.png",
				Data: base64.StdEncoding.EncodeToString([]byte("img-bytes")),
				Page: 2,
			}},
			Tables: []models.TableData{{Sheet: "Sheet1", Headers: []string{"A"}, Rows: [][]string{{"1"}}}},
		})
	}))
	defer srv.Close()

	raw, err := newConverterExtractor(srv.URL, 5*time.Second).Extract(context.Background(), Input{
		Path:     path,
		Filename: "report.pdf",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if gotFilename != "report.pdf" {
		t.Errorf("uploaded filename = %q", gotFilename)
	}
	if len(raw.Blocks) != 1 || raw.Blocks[0].Page != 1 {
		t.Errorf("blocks = %+v", raw.Blocks)
	}
	if len(raw.Images) != 1 || string(raw.Images[0].Data) != "img-bytes" || raw.Images[0].Page != 2 {
		t.Errorf("images = %+v", raw.Images)
	}
	if len(raw.Tables) != 1 || raw.Tables[0].Sheet != "Sheet1" {
		t.Errorf("tables = %+v", raw.Tables)
	}
}

func TestConverterExtractorErrorStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	if err := os.WriteFile(path, []byte("zip"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conversion failed", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	if _, err := newConverterExtractor(srv.URL, 5*time.Second).Extract(context.Background(), Input{Path: path, Filename: "deck.pptx"}); err == nil {
		t.Fatal("expected error for converter failure")
	}
}
