package chunker

import (
	"fmt"
	"strings"

	"documind/internal/config"
	"documind/internal/models"
)

// Piece is a chunk before identity stamping: text plus its locator.
type Piece struct {
	Text     string
	Metadata models.ChunkMetadata
}

// Chunker splits structured document content into retrievable pieces.
// Narrative content gets fixed-size windows with overlap; tabular
// content gets one piece per row plus a per-table summary.
type Chunker struct {
	chunkSize    int
	overlap      int
	maxChars     int
	rowGroupSize int
}

func New(cfg config.ChunkerConfig) *Chunker {
	return &Chunker{
		chunkSize:    cfg.ChunkSize,
		overlap:      cfg.ChunkOverlap,
		maxChars:     cfg.MaxChunkChars,
		rowGroupSize: cfg.RowGroupSize,
	}
}

// Narrative windows the text by rune count with overlap, preferring
// to break on whitespace near the window edge.
func (c *Chunker) Narrative(text string) []Piece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	size := c.chunkSize
	if size <= 0 {
		size = 512
	}
	overlap := c.overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var pieces []Piece
	ordinal := 0
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		} else {
			// back up to the nearest whitespace so words stay whole
			cut := end
			for cut > start+size/2 && !isSpace(runes[cut-1]) {
				cut--
			}
			if cut > start+size/2 {
				end = cut
			}
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, Piece{
				Text:     c.truncate(piece),
				Metadata: models.ChunkMetadata{Ordinal: ordinal},
			})
			ordinal++
		}
		if end == len(runes) {
			break
		}
		// The whitespace backoff can shrink the window below the
		// overlap; never step backwards.
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces
}

// Tabular produces one piece per row group and a closing summary piece
// per table. The concatenation of the piece texts is the canonical
// clean content for tabular documents, so re-chunking from stored
// content reproduces the same pieces.
func (c *Chunker) Tabular(tables []models.TableData) []Piece {
	group := c.rowGroupSize
	if group <= 0 {
		group = 1
	}
	var pieces []Piece
	ordinal := 0
	for _, table := range tables {
		for i := 0; i < len(table.Rows); i += group {
			end := i + group
			if end > len(table.Rows) {
				end = len(table.Rows)
			}
			var lines []string
			for r := i; r < end; r++ {
				lines = append(lines, formatRow(table.Sheet, r+1, table.Headers, table.Rows[r]))
			}
			pieces = append(pieces, Piece{
				Text: c.truncate(strings.Join(lines, "\n")),
				Metadata: models.ChunkMetadata{
					Sheet:   table.Sheet,
					Row:     i + 1,
					Ordinal: ordinal,
				},
			})
			ordinal++
		}
		pieces = append(pieces, Piece{
			Text: c.truncate(tableSummary(table)),
			Metadata: models.ChunkMetadata{
				Sheet:   table.Sheet,
				Ordinal: ordinal,
			},
		})
		ordinal++
	}
	return pieces
}

// TabularFromContent rebuilds tabular pieces from stored clean
// content, one line per piece. Used on the fast-track path where the
// original row structure is no longer at hand.
func (c *Chunker) TabularFromContent(content string) []Piece {
	var pieces []Piece
	ordinal := 0
	row := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		meta := models.ChunkMetadata{Ordinal: ordinal}
		if strings.HasPrefix(line, "[") && strings.Contains(line, " - Row ") {
			row++
			meta.Row = row
			if sheet := sheetFromRowLine(line); sheet != "" {
				meta.Sheet = sheet
			}
		}
		pieces = append(pieces, Piece{Text: c.truncate(line), Metadata: meta})
		ordinal++
	}
	return pieces
}

// CleanContent renders tabular pieces back into the canonical stored
// form.
func CleanContent(pieces []Piece) string {
	texts := make([]string, 0, len(pieces))
	for _, p := range pieces {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n")
}

func (c *Chunker) truncate(text string) string {
	max := c.maxChars
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func formatRow(sheet string, rowNum int, headers, row []string) string {
	var parts []string
	for i, cell := range row {
		header := fmt.Sprintf("col%d", i+1)
		if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
			header = strings.TrimSpace(headers[i])
		}
		parts = append(parts, fmt.Sprintf("%s: %s", header, strings.TrimSpace(cell)))
	}
	return fmt.Sprintf("[%s - Row %d] %s", sheet, rowNum, strings.Join(parts, ", "))
}

func tableSummary(table models.TableData) string {
	headers := make([]string, 0, len(table.Headers))
	for _, h := range table.Headers {
		if trimmed := strings.TrimSpace(h); trimmed != "" {
			headers = append(headers, trimmed)
		}
	}
	return fmt.Sprintf("Sheet '%s' contains %d rows with columns: %s",
		table.Sheet, len(table.Rows), strings.Join(headers, ", "))
}

func sheetFromRowLine(line string) string {
	end := strings.Index(line, " - Row ")
	if end <= 1 {
		return ""
	}
	return line[1:end]
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
