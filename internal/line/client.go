// Package line adapts the LINE Messaging API to the bot's event and reply types.
package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/format"
	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

const (
	maxImageSize = 20 << 20
	// maxTextRunes is the Messaging API limit for one text message.
	maxTextRunes = 5000
)

// ErrInvalidSignature is returned by ParseRequest when X-Line-Signature does not match.
var ErrInvalidSignature = webhook.ErrInvalidSignature

type Client struct {
	secret string
	api    *messaging_api.MessagingApiAPI
	blob   *messaging_api.MessagingApiBlobAPI
}

func NewClient(cfg config.LineConfig, timeout time.Duration) (*Client, error) {
	if cfg.ChannelSecret == "" || cfg.ChannelToken == "" {
		return nil, errors.New("line channel secret and token are required")
	}
	httpClient := &http.Client{Timeout: timeout}
	apiOpts := []messaging_api.MessagingApiAPIOption{messaging_api.WithHTTPClient(httpClient)}
	if cfg.APIEndpoint != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(cfg.APIEndpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(cfg.ChannelToken, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("init messaging api: %w", err)
	}
	blobOpts := []messaging_api.MessagingApiBlobAPIOption{messaging_api.WithBlobHTTPClient(httpClient)}
	if cfg.DataEndpoint != "" {
		blobOpts = append(blobOpts, messaging_api.WithBlobEndpoint(cfg.DataEndpoint))
	}
	blob, err := messaging_api.NewMessagingApiBlobAPI(cfg.ChannelToken, blobOpts...)
	if err != nil {
		return nil, fmt.Errorf("init blob api: %w", err)
	}
	return &Client{secret: cfg.ChannelSecret, api: api, blob: blob}, nil
}

// ParseRequest verifies the signature and returns the text and image message
// events of a webhook call. Other event types are dropped.
func (c *Client) ParseRequest(r *http.Request) ([]models.Event, error) {
	cb, err := webhook.ParseRequest(c.secret, r)
	if err != nil {
		return nil, err
	}
	events := make([]models.Event, 0, len(cb.Events))
	for _, ev := range cb.Events {
		if out, ok := toEvent(ev); ok {
			events = append(events, out)
		}
	}
	return events, nil
}

// Reply sends reply against token. Text is stripped of markdown first.
func (c *Client) Reply(ctx context.Context, token string, reply *models.Reply) error {
	if reply == nil {
		return nil
	}
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: token,
		Messages:   buildMessages(reply),
	})
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	return nil
}

// Download fetches the binary content of an image message. Bodies over
// maxImageSize are rejected rather than truncated.
func (c *Client) Download(ctx context.Context, messageID string) ([]byte, error) {
	resp, err := c.blob.WithContext(ctx).GetMessageContent(messageID)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %w", models.ErrImageDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", models.ErrImageDownload, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrImageDownload, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", models.ErrImageDownload)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", models.ErrImageDownload, maxImageSize)
	}
	return data, nil
}

func buildMessages(reply *models.Reply) []messaging_api.MessageInterface {
	if reply.ImageURL != "" {
		preview := reply.PreviewURL
		if preview == "" {
			preview = reply.ImageURL
		}
		return []messaging_api.MessageInterface{
			messaging_api.ImageMessage{
				OriginalContentUrl: reply.ImageURL,
				PreviewImageUrl:    preview,
			},
		}
	}
	text := format.PlainText(reply.Text)
	if text == "" {
		text = reply.Text
	}
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes])
	}
	return []messaging_api.MessageInterface{messaging_api.TextMessage{Text: text}}
}
