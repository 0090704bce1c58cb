package models

// PayloadKind tells text events from image events.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
)

// Event is an inbound message already parsed off the transport.
type Event struct {
	ID         string      `json:"id"`
	Source     Source      `json:"source"`
	Kind       PayloadKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ImageID    string      `json:"image_id,omitempty"`
	Mentioned  bool        `json:"mentioned"`
	ReplyToken string      `json:"reply_token"`
}

// Reply is a single outbound message. ImageURL wins over Text when set.
// LocalPath points at a generated file to be removed once delivered.
type Reply struct {
	Text       string `json:"text,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
	LocalPath  string `json:"-"`
}

// TextReply wraps plain text as a Reply.
func TextReply(text string) *Reply {
	return &Reply{Text: text}
}
