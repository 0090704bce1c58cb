package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	DefaultTimeout = 60 * time.Second
	// DefaultSummaryPrompt takes the character bound and the page text.
	DefaultSummaryPrompt = "請用繁體中文把以下網頁內容整理成不超過 %d 字的重點摘要，只保留和事實有關的資訊：\n\n%s"
)

// Service is the completion gateway: chat completions, page summaries and web lookup.
type Service struct {
	chat          model.BaseChatModel
	search        *WebSearch
	fetcher       *PageFetcher
	timeout       time.Duration
	summaryPrompt string
}

type Options struct {
	Timeout       time.Duration
	SummaryPrompt string
}

func NewService(chat model.BaseChatModel, search *WebSearch, fetcher *PageFetcher, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SummaryPrompt == "" {
		opts.SummaryPrompt = DefaultSummaryPrompt
	}
	return &Service{
		chat:          chat,
		search:        search,
		fetcher:       fetcher,
		timeout:       opts.Timeout,
		summaryPrompt: opts.SummaryPrompt,
	}
}

// NewChatModel builds the chat model for provider from its config entry.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("create gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// Complete answers input with the system prompt and prior turns as context.
func (s *Service) Complete(ctx context.Context, systemPrompt string, history []*models.Message, input string) (string, error) {
	msgs := convertMessages(systemPrompt, history)
	msgs = append(msgs, schema.UserMessage(input))
	return s.generate(ctx, msgs)
}

// CompleteWithImage sends image inline as a data URL together with instruction.
func (s *Service) CompleteWithImage(ctx context.Context, systemPrompt string, history []*models.Message, image []byte, mimeType, instruction string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("image is empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	msgs := convertMessages(systemPrompt, history)
	msgs = append(msgs, &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: instruction},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      dataURL,
					Detail:   schema.ImageURLDetailHigh,
					MIMEType: mimeType,
				},
			},
		},
	})
	return s.generate(ctx, msgs)
}

// Summarize condenses text to at most limit characters.
func (s *Service) Summarize(ctx context.Context, text string, limit int) (string, error) {
	prompt := fmt.Sprintf(s.summaryPrompt, limit, text)
	out, err := s.generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return Truncate(out, limit), nil
}

// SearchWeb returns up to limit distinct result URLs for query.
func (s *Service) SearchWeb(ctx context.Context, query string, limit int) ([]string, error) {
	if s.search == nil {
		return nil, errors.New("web search not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.search.Search(ctx, query, limit)
}

// FetchText downloads target and returns its visible text cut to limit characters.
func (s *Service) FetchText(ctx context.Context, target string, limit int) (string, error) {
	if s.fetcher == nil {
		return "", errors.New("page fetcher not configured")
	}
	return s.fetcher.FetchText(ctx, target, limit)
}

func (s *Service) generate(ctx context.Context, msgs []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.chat.Generate(ctx, msgs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("generate: %w: %w", models.ErrGatewayTimeout, err)
		}
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate: empty response")
	}
	return strings.TrimSpace(resp.Content), nil
}

func convertMessages(systemPrompt string, history []*models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		if msg == nil {
			continue
		}
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
