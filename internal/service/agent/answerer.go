package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"documind/internal/models"

	"github.com/cloudwego/eino/schema"
)

const vlmPrompt = `Describe the content of this image for a document index. Transcribe any visible text verbatim, then describe charts, diagrams or photos in one or two sentences.`

// DescribeImage sends the image to the vision-language model as a
// base64 data URL part.
func (s *Service) DescribeImage(ctx context.Context, image models.EmbeddedImage) (string, error) {
	if len(image.Data) == 0 {
		return "", errors.New("empty image")
	}
	mime := http.DetectContentType(image.Data)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(image.Data))

	messages := []*schema.Message{
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: vlmPrompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL: dataURL,
					},
				},
			},
		},
	}

	reply, err := s.generate(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// StreamAnswer streams the grounded answer for a question. The caller
// owns the reader and must Close it.
func (s *Service) StreamAnswer(ctx context.Context, systemPrompt string, history []*models.ChatMessage, question string) (*schema.StreamReader[*schema.Message], error) {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: question})

	reader, err := s.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generate answer stream: %w", err)
	}
	return reader, nil
}
