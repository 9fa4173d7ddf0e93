package extract

import (
	"context"
	"fmt"
	"strings"

	"documind/internal/models"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// fileLoaderExtractor handles plain text and word-style documents
// through the eino file loader with an extension-aware parser.
type fileLoaderExtractor struct {
	loader *file.FileLoader
}

func newFileLoaderExtractor() (*fileLoaderExtractor, error) {
	parserExt, err := parser.NewExtParser(context.Background(), &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("create ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(context.Background(), &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("create file loader: %w", err)
	}
	return &fileLoaderExtractor{loader: loader}, nil
}

func (e *fileLoaderExtractor) Extract(ctx context.Context, input Input) (*models.RawExtraction, error) {
	docs, err := e.loader.Load(ctx, document.Source{URI: input.Path})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", input.Filename, err)
	}

	raw := &models.RawExtraction{}
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		raw.Blocks = append(raw.Blocks, models.TextBlock{Text: content})
	}
	return raw, nil
}
