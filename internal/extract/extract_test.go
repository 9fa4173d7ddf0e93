package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"documind/internal/config"
	"documind/internal/models"
)

func cfgWithConverter(url string) config.PipelineConfig {
	return config.PipelineConfig{ConverterURL: url, CallTimeout: 5}
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		filename string
		url      string
		want     models.FileType
	}{
		{"report.pdf", "", models.FileTypePDF},
		{"notes.DOCX", "", models.FileTypeWord},
		{"sheet.xlsx", "", models.FileTypeExcel},
		{"data.csv", "", models.FileTypeCSV},
		{"deck.pptx", "", models.FileTypePPT},
		{"scan.PNG", "", models.FileTypeImage},
		{"readme.md", "", models.FileTypeText},
		{"server.log", "", models.FileTypeText},
		{"", "https://example.com/page", models.FileTypeURL},
	}
	for _, tc := range cases {
		got, err := DetectType(tc.filename, tc.url)
		if err != nil {
			t.Errorf("DetectType(%q, %q): %v", tc.filename, tc.url, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DetectType(%q, %q) = %s, want %s", tc.filename, tc.url, got, tc.want)
		}
	}

	if _, err := DetectType("binary.exe", ""); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestCSVExtractorBuildsOneTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.csv")
	body := "Item,Qty\nbolt,40\n,\nnut,12\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	raw, err := (&csvExtractor{}).Extract(context.Background(), Input{Path: path, Filename: "inventory.csv"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(raw.Tables) != 1 {
		t.Fatalf("got %d tables", len(raw.Tables))
	}
	table := raw.Tables[0]
	if table.Sheet != "inventory" {
		t.Errorf("sheet = %q", table.Sheet)
	}
	if len(table.Headers) != 2 || table.Headers[0] != "Item" {
		t.Errorf("headers = %v", table.Headers)
	}
	// empty row skipped
	if len(table.Rows) != 2 || table.Rows[1][0] != "nut" {
		t.Errorf("rows = %v", table.Rows)
	}
}

func TestCSVExtractorEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	raw, err := (&csvExtractor{}).Extract(context.Background(), Input{Path: path})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(raw.Tables) != 0 {
		t.Errorf("empty file produced tables: %v", raw.Tables)
	}
}

func TestImageExtractorWrapsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	raw, err := (&imageExtractor{}).Extract(context.Background(), Input{Path: path, Filename: "scan.png"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(raw.Images) != 1 || raw.Images[0].Name != "scan.png" || len(raw.Images[0].Data) != 4 {
		t.Errorf("images = %+v", raw.Images)
	}
}

func TestURLExtractorStripsChrome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Quarterly Report</title>
			<script>var x = 1;</script></head>
			<body><nav>Home | About</nav>
			<h1>Results</h1><p>Revenue grew 12%.</p>
			<footer>Copyright</footer></body></html>`))
	}))
	defer srv.Close()

	raw, err := newURLExtractor(5*time.Second).Extract(context.Background(), Input{URL: srv.URL})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	texts := make(map[string]bool)
	for _, block := range raw.Blocks {
		texts[block.Text] = true
	}
	for _, want := range []string{"Quarterly Report", "Results", "Revenue grew 12%."} {
		if !texts[want] {
			t.Errorf("missing block %q in %v", want, raw.Blocks)
		}
	}
	for _, banned := range []string{"var x = 1;", "Home | About", "Copyright"} {
		if texts[banned] {
			t.Errorf("stripped content leaked: %q", banned)
		}
	}
}

func TestURLExtractorNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := newURLExtractor(5*time.Second).Extract(context.Background(), Input{URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

type stubExtractor struct{ raw *models.RawExtraction }

func (s *stubExtractor) Extract(ctx context.Context, input Input) (*models.RawExtraction, error) {
	return s.raw, nil
}

func TestDispatcherRoutesByType(t *testing.T) {
	d, err := NewDispatcher(cfgWithConverter(""))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.Register(models.FileTypePDF, &stubExtractor{raw: &models.RawExtraction{
		Blocks: []models.TextBlock{{Text: "from pdf"}},
	}})

	raw, err := d.Extract(context.Background(), models.FileTypePDF, Input{Path: "x.pdf"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(raw.Blocks) != 1 || raw.Blocks[0].Text != "from pdf" {
		t.Errorf("blocks = %v", raw.Blocks)
	}
}

func TestDispatcherUnknownType(t *testing.T) {
	d, err := NewDispatcher(cfgWithConverter(""))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	// no converter configured, so pdf has no extractor
	if _, err := d.Extract(context.Background(), models.FileTypePDF, Input{Path: "x.pdf"}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDispatcherNilExtractionNormalized(t *testing.T) {
	d, err := NewDispatcher(cfgWithConverter(""))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.Register(models.FileTypeText, &stubExtractor{raw: nil})
	raw, err := d.Extract(context.Background(), models.FileTypeText, Input{Path: "a.txt"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if raw == nil {
		t.Fatal("nil extraction not normalized")
	}
}
