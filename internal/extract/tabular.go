package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"documind/internal/models"
)

// csvExtractor parses a CSV file into one table with a header row.
type csvExtractor struct{}

func (e *csvExtractor) Extract(ctx context.Context, input Input) (*models.RawExtraction, error) {
	f, err := os.Open(input.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &models.RawExtraction{}, nil
	}

	name := input.Filename
	if name == "" {
		name = filepath.Base(input.Path)
	}
	sheet := strings.TrimSuffix(name, filepath.Ext(name))

	table := models.TableData{
		Sheet:   sheet,
		Headers: records[0],
	}
	for _, row := range records[1:] {
		if rowEmpty(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return &models.RawExtraction{Tables: []models.TableData{table}}, nil
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// imageExtractor treats the whole file as a single embedded image so
// it flows through the vision resolver like any document-embedded one.
type imageExtractor struct{}

func (e *imageExtractor) Extract(ctx context.Context, input Input) (*models.RawExtraction, error) {
	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	name := input.Filename
	if name == "" {
		name = filepath.Base(input.Path)
	}
	return &models.RawExtraction{
		Images: []models.EmbeddedImage{{Name: name, Data: data, Index: 0}},
	}, nil
}
