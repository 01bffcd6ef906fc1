// Package ai talks to the upstream generative-AI provider: the streaming
// chat completion path and the single-shot image generation path.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mxfan/gemchat/backend/internal/config"
	modelchat "github.com/mxfan/gemchat/backend/internal/model/chat"
)

// Streamer is the consumer-facing contract of the streaming client: an
// ordered, finite sequence of classified fragments delivered through
// onFragment, terminated by a nil return (end-of-stream) or an error.
// Fragments delivered before an error stay delivered.
type Streamer interface {
	Stream(ctx context.Context, history []modelchat.Message, newText string, attachments []modelchat.Attachment, modelName string, onFragment func(Fragment)) error
}

// Service implements Streamer and the image generation client against one
// configured provider.
type Service struct {
	chatModel  model.ChatModel
	cfg        config.AIConfig
	httpClient *http.Client
}

// NewService builds the provider clients from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	return &Service{
		chatModel:  chatModel,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Stream sends the conversation plus the new turn upstream and forwards each
// fragment, in arrival order, to onFragment. modelName is a pass-through
// backend selector; empty means the configured default. The stream is bounded
// by the configured timeout; exceeding it surfaces as a normal stream error.
func (s *Service) Stream(ctx context.Context, history []modelchat.Message, newText string, attachments []modelchat.Attachment, modelName string, onFragment func(Fragment)) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	defer cancel()

	messages := buildMessages(history, newText, attachments)

	var opts []model.Option
	if modelName != "" && modelName != s.cfg.ChatModel {
		opts = append(opts, model.WithModel(modelName))
	}

	stream, err := s.chatModel.Stream(ctx, messages, opts...)
	if err != nil {
		return fmt.Errorf("failed to open upstream stream: %w", err)
	}
	defer stream.Close()

	splitter := NewThinkSplitter()
	delivered := 0
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			// Fragments already forwarded stay applied; partial output is
			// the caller's to keep or discard.
			return fmt.Errorf("upstream stream failed after %d fragments: %w", delivered, recvErr)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		for _, frag := range splitter.Feed(chunk.Content) {
			onFragment(frag)
			delivered++
		}
	}
	for _, frag := range splitter.Flush() {
		onFragment(frag)
		delivered++
	}

	log.Printf("[ai] stream complete, fragments=%d", delivered)
	return nil
}

// buildMessages converts stored history plus the new turn into the provider
// message format. Attachments travel as multi-content parts carrying data
// URLs; images get image parts, everything else file parts.
func buildMessages(history []modelchat.Message, newText string, attachments []modelchat.Attachment) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)

	for _, msg := range history {
		switch msg.Role {
		case modelchat.RoleUser:
			if len(msg.Attachments) > 0 {
				messages = append(messages, &schema.Message{
					Role:         schema.User,
					MultiContent: buildParts(msg.Text, msg.Attachments),
				})
			} else {
				messages = append(messages, schema.UserMessage(msg.Text))
			}
		case modelchat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Text, nil))
		}
	}

	if len(attachments) > 0 {
		messages = append(messages, &schema.Message{
			Role:         schema.User,
			MultiContent: buildParts(newText, attachments),
		})
	} else {
		messages = append(messages, schema.UserMessage(newText))
	}

	return messages
}

func buildParts(text string, attachments []modelchat.Attachment) []schema.ChatMessagePart {
	parts := make([]schema.ChatMessagePart, 0, len(attachments)+1)
	for _, att := range attachments {
		url := dataURL(att)
		if strings.HasPrefix(att.MimeType, "image/") {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      url,
					MIMEType: att.MimeType,
				},
			})
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URL:      url,
				MIMEType: att.MimeType,
			},
		})
	}
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: text,
		})
	}
	return parts
}

func dataURL(att modelchat.Attachment) string {
	return "data:" + att.MimeType + ";base64," + att.Data
}
