package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EXCurryBar/mybot/internal/history"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/observability"
	"github.com/EXCurryBar/mybot/internal/summarycache"
)

// NoInformationReply is sent when web augmentation finds nothing usable.
const NoInformationReply = "無法取得相關網路資訊，請嘗試其他問題"

const defaultStoreTimeout = 5 * time.Second

// Gateway is the subset of the completion gateway the assistant needs.
type Gateway interface {
	Complete(ctx context.Context, systemPrompt string, history []*models.Message, input string) (string, error)
	CompleteWithImage(ctx context.Context, systemPrompt string, history []*models.Message, image []byte, mimeType, instruction string) (string, error)
	Summarize(ctx context.Context, text string, limit int) (string, error)
	SearchWeb(ctx context.Context, query string, limit int) ([]string, error)
	FetchText(ctx context.Context, url string, limit int) (string, error)
}

type Config struct {
	SystemPrompt     string
	ImageInstruction string
	SynthesisPrompt  string
	FailMarkers      []string

	SearchDepth    int
	QueryLimit     int
	PageTextLimit  int
	SummaryLimit   int
	SummaryWorkers int
	StoreTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.SearchDepth <= 0 {
		c.SearchDepth = 5
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = 100
	}
	if c.PageTextLimit <= 0 {
		c.PageTextLimit = 5000
	}
	if c.SummaryLimit <= 0 {
		c.SummaryLimit = 300
	}
	if c.SummaryWorkers <= 0 {
		c.SummaryWorkers = 3
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
}

// Service answers free-form messages, falling back to a web lookup when the
// first answer admits it does not know.
type Service struct {
	gw      Gateway
	history history.Store
	cache   summarycache.Cache
	cfg     Config
}

func NewService(gw Gateway, store history.Store, cache summarycache.Cache, cfg Config) *Service {
	cfg.setDefaults()
	return &Service{gw: gw, history: store, cache: cache, cfg: cfg}
}

// Reply answers input in the conversation identified by key and records both turns.
func (s *Service) Reply(ctx context.Context, key, input string) (string, error) {
	hist := s.readHistory(ctx, key)

	answer, err := s.gw.Complete(ctx, s.cfg.SystemPrompt, hist, input)
	if err != nil {
		return "", fmt.Errorf("assistant reply: %w", err)
	}
	if NeedsAugmentation(answer, s.cfg.FailMarkers) {
		observability.LoggerFromContext(ctx).Info("answer needs web lookup")
		answer = s.augment(ctx, input)
	}

	s.remember(ctx, key, input, answer)
	return answer, nil
}

// DescribeImage answers an image turn; the history keeps a placeholder for it.
func (s *Service) DescribeImage(ctx context.Context, key string, image []byte, mimeType string) (string, error) {
	hist := s.readHistory(ctx, key)

	answer, err := s.gw.CompleteWithImage(ctx, s.cfg.SystemPrompt, hist, image, mimeType, s.cfg.ImageInstruction)
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	s.remember(ctx, key, models.ImagePlaceholder, answer)
	return answer, nil
}

// NeedsAugmentation reports whether answer contains any failure marker.
func NeedsAugmentation(answer string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(answer, m) {
			return true
		}
	}
	return false
}

// TruncateQuery keeps the first limit characters of input, marking the cut with "...".
func TruncateQuery(input string, limit int) string {
	runes := []rune(input)
	if limit <= 0 || len(runes) <= limit {
		return input
	}
	return string(runes[:limit]) + "..."
}

func (s *Service) readHistory(ctx context.Context, key string) []*models.Message {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	hist, err := s.history.Read(ctx, key)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("read history failed, continuing without it", "err", err)
		return nil
	}
	return hist
}

// remember persists the exchange even when the caller's context is already cancelled.
func (s *Service) remember(ctx context.Context, key, input, answer string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	log := observability.LoggerFromContext(ctx)
	if err := s.history.Append(ctx, key, models.RoleUser, input); err != nil {
		log.Error("append user turn failed", "err", err)
		return
	}
	if err := s.history.Append(ctx, key, models.RoleAssistant, answer); err != nil {
		log.Error("append assistant turn failed", "err", err)
	}
}
