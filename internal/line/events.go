package line

import (
	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// toEvent converts a webhook event. ok is false for anything other than a
// text or image message.
func toEvent(ev webhook.EventInterface) (models.Event, bool) {
	var msg webhook.MessageEvent
	switch e := ev.(type) {
	case webhook.MessageEvent:
		msg = e
	case *webhook.MessageEvent:
		if e == nil {
			return models.Event{}, false
		}
		msg = *e
	default:
		return models.Event{}, false
	}

	out := models.Event{
		ID:         msg.WebhookEventId,
		Source:     toSource(msg.Source),
		ReplyToken: msg.ReplyToken,
	}
	switch m := msg.Message.(type) {
	case webhook.TextMessageContent:
		fillText(&out, &m)
	case *webhook.TextMessageContent:
		fillText(&out, m)
	case webhook.ImageMessageContent:
		out.Kind, out.ImageID = models.PayloadImage, m.Id
	case *webhook.ImageMessageContent:
		out.Kind, out.ImageID = models.PayloadImage, m.Id
	default:
		return models.Event{}, false
	}
	if out.ID == "" {
		out.ID = out.ImageID
	}
	return out, true
}

func fillText(out *models.Event, m *webhook.TextMessageContent) {
	out.Kind = models.PayloadText
	out.Text = m.Text
	out.Mentioned = mentionsSelf(m.Mention)
	if out.ID == "" {
		out.ID = m.Id
	}
}

func mentionsSelf(mention *webhook.Mention) bool {
	if mention == nil {
		return false
	}
	for _, m := range mention.Mentionees {
		switch u := m.(type) {
		case webhook.UserMentionee:
			if u.IsSelf {
				return true
			}
		case *webhook.UserMentionee:
			if u != nil && u.IsSelf {
				return true
			}
		}
	}
	return false
}

func toSource(src webhook.SourceInterface) models.Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return models.Source{Kind: models.SourceDirect, UserID: s.UserId}
	case *webhook.UserSource:
		return models.Source{Kind: models.SourceDirect, UserID: s.UserId}
	case webhook.GroupSource:
		return models.Source{Kind: models.SourceGroup, UserID: s.UserId, GroupID: s.GroupId}
	case *webhook.GroupSource:
		return models.Source{Kind: models.SourceGroup, UserID: s.UserId, GroupID: s.GroupId}
	case webhook.RoomSource:
		return models.Source{Kind: models.SourceRoom, UserID: s.UserId, RoomID: s.RoomId}
	case *webhook.RoomSource:
		return models.Source{Kind: models.SourceRoom, UserID: s.UserId, RoomID: s.RoomId}
	default:
		return models.Source{Kind: models.SourceDirect}
	}
}
