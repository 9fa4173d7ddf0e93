package models

// TextBlock is one ordered piece of extracted text with its locator.
type TextBlock struct {
	Text  string `json:"text"`
	Page  int    `json:"page,omitempty"`
	Sheet string `json:"sheet,omitempty"`
}

// EmbeddedImage is an image pulled out of a source document, carrying
// the locator it was found at so vision results can be merged back in
// document order.
type EmbeddedImage struct {
	Name  string `json:"name"`
	Data  []byte `json:"-"`
	Page  int    `json:"page,omitempty"`
	Sheet string `json:"sheet,omitempty"`
	Index int    `json:"index"`
}

// TableData is a row-structured record set from a tabular source.
type TableData struct {
	Sheet   string     `json:"sheet"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// RawExtraction is the normalized output of every format extractor:
// ordered text blocks, ordered embedded images, and for tabular
// sources the row-structured tables instead of flat text.
type RawExtraction struct {
	Blocks []TextBlock     `json:"blocks"`
	Images []EmbeddedImage `json:"images"`
	Tables []TableData     `json:"tables"`
}

// VisionSource identifies which recognition path produced a result.
type VisionSource string

const (
	VisionSourceOCR VisionSource = "ocr"
	VisionSourceVLM VisionSource = "vlm"
)

// VisionResult is the resolved text for one embedded image.
type VisionResult struct {
	Image      EmbeddedImage `json:"image"`
	Text       string        `json:"text"`
	Source     VisionSource  `json:"source"`
	Confidence float64       `json:"confidence"`
}
