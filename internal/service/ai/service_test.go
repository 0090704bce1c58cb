package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply    string
	err      error
	block    bool
	received [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = append(f.received, input)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type fakeTool struct {
	result string
	err    error
	calls  int
}

func (f *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "fake"}, nil
}

func (f *fakeTool) InvokableRun(context.Context, string, ...tool.Option) (string, error) {
	f.calls++
	return f.result, f.err
}

func TestCompleteBuildsConversation(t *testing.T) {
	chat := &fakeChatModel{reply: "  answer  "}
	svc := NewService(chat, nil, nil, Options{})

	history := []*models.Message{
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
	}
	got, err := svc.Complete(context.Background(), "be helpful", history, "q2")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "answer" {
		t.Fatalf("expected trimmed answer, got %q", got)
	}
	sent := chat.received[0]
	if len(sent) != 4 {
		t.Fatalf("expected system + 2 history + input, got %d", len(sent))
	}
	if sent[0].Role != schema.System || sent[2].Role != schema.Assistant || sent[3].Content != "q2" {
		t.Fatalf("unexpected message layout: %+v", sent)
	}
}

func TestCompleteWithImageSendsDataURL(t *testing.T) {
	chat := &fakeChatModel{reply: "a cat"}
	svc := NewService(chat, nil, nil, Options{})

	if _, err := svc.CompleteWithImage(context.Background(), "", nil, []byte{0xFF, 0xD8}, "image/jpeg", "describe"); err != nil {
		t.Fatalf("complete with image: %v", err)
	}
	msg := chat.received[0][0]
	if len(msg.MultiContent) != 2 {
		t.Fatalf("expected text and image parts, got %d", len(msg.MultiContent))
	}
	img := msg.MultiContent[1].ImageURL
	if img == nil || !strings.HasPrefix(img.URL, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected image part: %+v", img)
	}
	if _, err := svc.CompleteWithImage(context.Background(), "", nil, nil, "", "describe"); err == nil {
		t.Fatalf("expected error for empty image")
	}
}

func TestGenerateTimeoutIsGatewayTimeout(t *testing.T) {
	chat := &fakeChatModel{block: true}
	svc := NewService(chat, nil, nil, Options{Timeout: 20 * time.Millisecond})

	_, err := svc.Complete(context.Background(), "", nil, "hello")
	if !errors.Is(err, models.ErrGatewayTimeout) {
		t.Fatalf("expected ErrGatewayTimeout, got %v", err)
	}
}

func TestGenerateErrorIsNotTimeout(t *testing.T) {
	chat := &fakeChatModel{err: errors.New("401 unauthorized")}
	svc := NewService(chat, nil, nil, Options{})
	_, err := svc.Complete(context.Background(), "", nil, "hello")
	if err == nil || errors.Is(err, models.ErrGatewayTimeout) {
		t.Fatalf("expected plain error, got %v", err)
	}
}

func TestSummarizeBoundsLength(t *testing.T) {
	chat := &fakeChatModel{reply: strings.Repeat("字", 50)}
	svc := NewService(chat, nil, nil, Options{})

	got, err := svc.Summarize(context.Background(), "long page", 10)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len([]rune(got)) != 10 {
		t.Fatalf("summary not bounded: %d runes", len([]rune(got)))
	}
	if !strings.Contains(chat.received[0][0].Content, "long page") {
		t.Fatalf("page text missing from prompt")
	}
}

func TestSearchFallsBackToDuckDuckGo(t *testing.T) {
	google := &fakeTool{err: errors.New("quota exceeded")}
	duck := &fakeTool{result: `{"message":"ok","results":[{"url":"https://a.example"},{"url":"https://b.example"}]}`}
	ws := &WebSearch{google: google, duck: duck}

	urls, err := ws.Search(context.Background(), "weather", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://a.example" {
		t.Fatalf("unexpected urls: %v", urls)
	}
	if google.calls != 1 || duck.calls != 1 {
		t.Fatalf("expected one call per provider, got google=%d duck=%d", google.calls, duck.calls)
	}
}

func TestSearchAllProvidersFail(t *testing.T) {
	ws := &WebSearch{duck: &fakeTool{err: errors.New("down")}}
	if _, err := ws.Search(context.Background(), "x", 3); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ws.Search(context.Background(), "   ", 3); err == nil {
		t.Fatalf("expected empty query error")
	}
}

func TestExtractURLs(t *testing.T) {
	google := `{"query":"q","items":[
		{"link":"https://a.example/1","title":"A"},
		{"link":"https://a.example/1","title":"dup"},
		{"link":"ftp://skip.example","title":"ftp"},
		{"link":"https://b.example/2","title":"B"},
		{"link":"https://c.example/3","title":"C"}]}`
	got := ExtractURLs(google, 2)
	if len(got) != 2 || got[0] != "https://a.example/1" || got[1] != "https://b.example/2" {
		t.Fatalf("unexpected google urls: %v", got)
	}
	if got := ExtractURLs("not json", 5); len(got) != 0 {
		t.Fatalf("expected no urls from garbage, got %v", got)
	}
}
