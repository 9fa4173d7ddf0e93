package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const structurerSystemPrompt = `You are a document structuring assistant.
Given raw extracted document content, respond with a single JSON object:
{
  "title": "short document title",
  "summary": "2-3 sentence summary",
  "key_points": ["point", ...],
  "clean_content": "the full content, cleaned of extraction noise, in reading order"
}
Respond with JSON only, no markdown fences, no commentary.`

const correctivePrompt = `Your previous reply was not valid JSON. Respond again with ONLY the JSON object described in the instructions, nothing else.`

// StructureResult is the structuring outcome for one document.
type StructureResult struct {
	StructuredData json.RawMessage
	CleanContent   string
	Degraded       bool
}

type structuredPayload struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"key_points"`
	CleanContent string   `json:"clean_content"`
}

// StructureDocument asks the model to organize raw content into the
// structured form. An invalid reply gets one corrective round trip;
// after that the raw content is kept as-is with the degraded flag set.
// Model unavailability also degrades rather than failing ingestion.
func (s *Service) StructureDocument(ctx context.Context, filename, rawContent string) (*StructureResult, error) {
	rawContent = strings.TrimSpace(rawContent)
	if rawContent == "" {
		return &StructureResult{StructuredData: json.RawMessage("{}"), Degraded: true}, nil
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: structurerSystemPrompt},
		{Role: schema.User, Content: fmt.Sprintf("Document %q:\n\n%s", filename, rawContent)},
	}

	reply, err := s.generate(ctx, messages)
	if err != nil {
		log.Printf("structuring %s failed, keeping raw content: %v", filename, err)
		return degradedResult(rawContent), nil
	}

	payload, ok := parseStructured(reply)
	if !ok {
		messages = append(messages,
			&schema.Message{Role: schema.Assistant, Content: reply},
			&schema.Message{Role: schema.User, Content: correctivePrompt},
		)
		reply, err = s.generate(ctx, messages)
		if err != nil {
			log.Printf("corrective structuring %s failed, keeping raw content: %v", filename, err)
			return degradedResult(rawContent), nil
		}
		payload, ok = parseStructured(reply)
	}
	if !ok {
		log.Printf("structuring %s produced invalid JSON twice, keeping raw content", filename)
		return degradedResult(rawContent), nil
	}

	clean := strings.TrimSpace(payload.CleanContent)
	if clean == "" {
		clean = rawContent
	}
	structured, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode structured data: %w", err)
	}
	return &StructureResult{StructuredData: structured, CleanContent: clean}, nil
}

func (s *Service) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	var content string
	err := s.withRetry(ctx, func(ctx context.Context) error {
		msg, err := s.chatModel.Generate(ctx, messages)
		if err != nil {
			return err
		}
		content = msg.Content
		return nil
	})
	return content, err
}

func degradedResult(rawContent string) *StructureResult {
	return &StructureResult{
		StructuredData: json.RawMessage("{}"),
		CleanContent:   rawContent,
		Degraded:       true,
	}
}

// parseStructured pulls the JSON object out of the model reply,
// tolerating markdown fences around it.
func parseStructured(reply string) (*structuredPayload, bool) {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var payload structuredPayload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return nil, false
	}
	return &payload, true
}
