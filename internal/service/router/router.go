// Package router decides what each inbound message turns into: a ledger
// write, an expense chart or an assistant answer.
package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/EXCurryBar/mybot/internal/chart"
	"github.com/EXCurryBar/mybot/internal/imageproc"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/observability"
	"github.com/EXCurryBar/mybot/internal/service/accounting"
	"github.com/EXCurryBar/mybot/internal/session"
)

const (
	ApologyReply       = "抱歉，目前無法回覆，請稍後再試"
	ImageDownloadReply = "❌ 圖片下載失敗，請稍後再試"
	ImageInvalidReply  = "❌ 無法解析圖片，請稍後再試"

	defaultEventTimeout = 3 * time.Minute
)

type Assistant interface {
	Reply(ctx context.Context, key, input string) (string, error)
	DescribeImage(ctx context.Context, key string, image []byte, mimeType string) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, owner, text string) accounting.Intent
	ClassifyImage(ctx context.Context, owner string, image []byte, mimeType string) accounting.Intent
}

type Accountant interface {
	Record(ctx context.Context, draft models.Draft) string
	Analyze(ctx context.Context, owner string, req accounting.AnalysisRequest) *models.Reply
}

// Transport is the messaging platform side: image downloads and replies.
type Transport interface {
	Reply(ctx context.Context, token string, reply *models.Reply) error
	Download(ctx context.Context, messageID string) ([]byte, error)
}

type Options struct {
	// ChartRetention is how long a delivered chart stays on disk for the
	// platform to fetch it.
	ChartRetention time.Duration
	EventTimeout   time.Duration
}

type Service struct {
	assistant  Assistant
	classifier Classifier
	accountant Accountant
	transport  Transport

	retention    time.Duration
	eventTimeout time.Duration
	schedule     func(path string, delay time.Duration)
}

func NewService(a Assistant, c Classifier, acc Accountant, t Transport, opts Options) *Service {
	if opts.ChartRetention <= 0 {
		opts.ChartRetention = chart.DefaultRetention
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = defaultEventTimeout
	}
	return &Service{
		assistant:    a,
		classifier:   c,
		accountant:   acc,
		transport:    t,
		retention:    opts.ChartRetention,
		eventTimeout: opts.EventTimeout,
		schedule: func(path string, delay time.Duration) {
			chart.ScheduleRemoval(path, delay)
		},
	}
}

// Process handles ev and delivers the reply, if any. A rendered chart is
// removed after the retention once delivered. When the platform rejects it the
// file is removed right away and a text notice goes out on the same token.
func (s *Service) Process(ctx context.Context, ev models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.eventTimeout)
	defer cancel()

	reply := s.Handle(ctx, ev)
	if reply == nil {
		return nil
	}
	err := s.transport.Reply(ctx, ev.ReplyToken, reply)
	if reply.LocalPath != "" {
		if err == nil {
			s.schedule(reply.LocalPath, s.retention)
			return nil
		}
		_ = os.Remove(reply.LocalPath)
		// a rejected reply leaves the token unused, so the user still hears back
		observability.LoggerFromContext(ctx).Warn("chart reply rejected", "err", err, "url", reply.ImageURL)
		if ferr := s.transport.Reply(ctx, ev.ReplyToken, models.TextReply(accounting.ChartFailedReply)); ferr != nil {
			return fmt.Errorf("deliver reply: %w", errors.Join(err, ferr))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	return nil
}

// Handle computes the reply for ev. A nil reply means the event is ignored.
func (s *Service) Handle(ctx context.Context, ev models.Event) *models.Reply {
	key := session.Key(ev.Source)
	ctx = observability.WithSession(ctx, key)

	switch ev.Kind {
	case models.PayloadText:
		return s.handleText(ctx, key, ev)
	case models.PayloadImage:
		return s.handleImage(ctx, key, ev)
	default:
		return nil
	}
}

func (s *Service) handleText(ctx context.Context, key string, ev models.Event) *models.Reply {
	if ev.Source.Kind != models.SourceDirect {
		// groups and rooms only hear the bot when they mention it
		if !ev.Mentioned {
			return nil
		}
		return s.answer(ctx, key, ev.Text)
	}

	switch intent := s.classifier.Classify(ctx, ev.Source.UserID, ev.Text).(type) {
	case accounting.Income:
		return models.TextReply(s.accountant.Record(ctx, intent.Draft))
	case accounting.Expense:
		return models.TextReply(s.accountant.Record(ctx, intent.Draft))
	case accounting.AnalysisRequest:
		return s.accountant.Analyze(ctx, ev.Source.UserID, intent)
	case accounting.Unclassified:
		observability.LoggerFromContext(ctx).Debug("not a ledger command", "reason", intent.Err)
	}
	return s.answer(ctx, key, ev.Text)
}

func (s *Service) answer(ctx context.Context, key, text string) *models.Reply {
	out, err := s.assistant.Reply(ctx, key, text)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("assistant reply failed", "err", err)
		return models.TextReply(ApologyReply)
	}
	return models.TextReply(out)
}

func (s *Service) handleImage(ctx context.Context, key string, ev models.Event) *models.Reply {
	if ev.Source.Kind != models.SourceDirect {
		return nil
	}
	log := observability.LoggerFromContext(ctx)

	raw, err := s.transport.Download(ctx, ev.ImageID)
	if err != nil {
		log.Error("image download failed", "err", err)
		return models.TextReply(ImageDownloadReply)
	}
	data, format, err := imageproc.Normalize(raw)
	if err == nil && format == imageproc.FormatUnknown {
		err = models.ErrImageFormatUnrecognized
	}
	if err != nil {
		log.Error("image unusable", "err", err, "format", format)
		return models.TextReply(ImageInvalidReply)
	}

	owner := ev.Source.UserID
	switch intent := s.classifier.ClassifyImage(ctx, owner, data, format.MIME()).(type) {
	case accounting.Income:
		return models.TextReply(s.accountant.Record(ctx, intent.Draft))
	case accounting.Expense:
		return models.TextReply(s.accountant.Record(ctx, intent.Draft))
	}

	out, err := s.assistant.DescribeImage(ctx, key, data, format.MIME())
	if err != nil {
		if errors.Is(err, models.ErrGatewayTimeout) {
			log.Warn("image description timed out", "err", err)
		} else {
			log.Error("image description failed", "err", err)
		}
		return models.TextReply(ApologyReply)
	}
	return models.TextReply(out)
}
