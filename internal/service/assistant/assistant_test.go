package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/summarycache"
)

type fakeGateway struct {
	mu sync.Mutex

	answers     []string // returned by Complete in order
	completeErr error
	imageAnswer string
	urls        []string
	searchErr   error
	pages       map[string]string
	summaryErr  error

	completeInputs []string
	searchQueries  []string
	fetches        []string
	summaries      int
}

func (f *fakeGateway) Complete(_ context.Context, _ string, _ []*models.Message, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeInputs = append(f.completeInputs, input)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	if len(f.answers) == 0 {
		return "", errors.New("no scripted answer")
	}
	a := f.answers[0]
	f.answers = f.answers[1:]
	return a, nil
}

func (f *fakeGateway) CompleteWithImage(context.Context, string, []*models.Message, []byte, string, string) (string, error) {
	return f.imageAnswer, nil
}

func (f *fakeGateway) Summarize(_ context.Context, text string, limit int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "summary of " + text, nil
}

func (f *fakeGateway) SearchWeb(_ context.Context, query string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchQueries = append(f.searchQueries, query)
	return f.urls, f.searchErr
}

func (f *fakeGateway) FetchText(_ context.Context, url string, limit int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, url)
	page, ok := f.pages[url]
	if !ok {
		return "", errors.New("404")
	}
	return page, nil
}

type memoryHistory struct {
	mu        sync.Mutex
	msgs      map[string][]*models.Message
	readErr   error
	appendErr error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{msgs: make(map[string][]*models.Message)}
}

func (h *memoryHistory) Append(ctx context.Context, key string, role models.Role, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	h.msgs[key] = append(h.msgs[key], &models.Message{SessionKey: key, Role: role, Content: content})
	return nil
}

func (h *memoryHistory) Read(_ context.Context, key string) ([]*models.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readErr != nil {
		return nil, h.readErr
	}
	return append([]*models.Message(nil), h.msgs[key]...), nil
}

func newTestService(gw *fakeGateway, hist *memoryHistory) *Service {
	cache := summarycache.NewMemory(time.Hour, 16)
	return NewService(gw, hist, cache, Config{
		FailMarkers: []string{"我不知道"},
		SearchDepth: 3,
	})
}

func TestReplyWithoutMarkerSkipsSearch(t *testing.T) {
	gw := &fakeGateway{answers: []string{"台北今天晴天"}}
	hist := newMemoryHistory()
	svc := newTestService(gw, hist)

	got, err := svc.Reply(context.Background(), "user:U1", "天氣如何")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got != "台北今天晴天" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(gw.searchQueries) != 0 || len(gw.completeInputs) != 1 {
		t.Fatalf("expected a single completion and no search, got %d completions %d searches",
			len(gw.completeInputs), len(gw.searchQueries))
	}
	msgs := hist.msgs["user:U1"]
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Content != "台北今天晴天" {
		t.Fatalf("history not recorded: %+v", msgs)
	}
}

func TestReplyWithMarkerAugmentsOnce(t *testing.T) {
	gw := &fakeGateway{
		answers: []string{"抱歉，我不知道最新比分", "最新比分是 3:2"},
		urls:    []string{"https://a.example", "https://a.example", "https://b.example", "https://c.example"},
		pages: map[string]string{
			"https://a.example": "page a",
			"https://b.example": "page b",
		},
	}
	svc := newTestService(gw, newMemoryHistory())

	got, err := svc.Reply(context.Background(), "user:U1", "昨晚比分")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got != "最新比分是 3:2" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(gw.completeInputs) != 2 {
		t.Fatalf("expected exactly one synthesis call, got %d completions", len(gw.completeInputs))
	}
	synth := gw.completeInputs[1]
	if !strings.Contains(synth, "問題：昨晚比分") || !strings.Contains(synth, "summary of page a") || !strings.Contains(synth, "summary of page b") {
		t.Fatalf("synthesis input missing material: %q", synth)
	}
	if len(gw.fetches) != 3 {
		t.Fatalf("expected duplicate url fetched once, fetched %v", gw.fetches)
	}
}

func TestReplyAugmentationWithoutMaterial(t *testing.T) {
	gw := &fakeGateway{
		answers: []string{"我不知道"},
		urls:    []string{"https://dead.example"},
	}
	svc := newTestService(gw, newMemoryHistory())

	got, err := svc.Reply(context.Background(), "user:U1", "x")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got != NoInformationReply {
		t.Fatalf("expected no-information reply, got %q", got)
	}
	if len(gw.completeInputs) != 1 {
		t.Fatalf("synthesis must not run without material")
	}

	gw = &fakeGateway{answers: []string{"我不知道"}, searchErr: errors.New("search down")}
	svc = newTestService(gw, newMemoryHistory())
	if got, _ := svc.Reply(context.Background(), "user:U1", "x"); got != NoInformationReply {
		t.Fatalf("expected no-information reply on search failure, got %q", got)
	}
}

func TestReplyTruncatesSearchQuery(t *testing.T) {
	long := strings.Repeat("問", 150)
	gw := &fakeGateway{answers: []string{"我不知道"}}
	svc := newTestService(gw, newMemoryHistory())

	if _, err := svc.Reply(context.Background(), "user:U1", long); err != nil {
		t.Fatalf("reply: %v", err)
	}
	q := gw.searchQueries[0]
	if q != strings.Repeat("問", 100)+"..." {
		t.Fatalf("unexpected query (%d runes)", len([]rune(q)))
	}
}

func TestSummaryCacheReused(t *testing.T) {
	gw := &fakeGateway{
		answers: []string{"我不知道", "answer 1", "我不知道", "answer 2"},
		urls:    []string{"https://a.example"},
		pages:   map[string]string{"https://a.example": "page a"},
	}
	svc := newTestService(gw, newMemoryHistory())

	for i := 0; i < 2; i++ {
		if _, err := svc.Reply(context.Background(), "user:U1", fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("reply: %v", err)
		}
	}
	if len(gw.fetches) != 1 || gw.summaries != 1 {
		t.Fatalf("expected cached summary on second lookup, fetches=%d summaries=%d", len(gw.fetches), gw.summaries)
	}
}

func TestReplyHistoryFailuresAreNotFatal(t *testing.T) {
	gw := &fakeGateway{answers: []string{"ok"}}
	hist := newMemoryHistory()
	hist.readErr = models.ErrPersistenceUnavailable
	hist.appendErr = models.ErrPersistenceUnavailable
	svc := newTestService(gw, hist)

	got, err := svc.Reply(context.Background(), "user:U1", "hi")
	if err != nil || got != "ok" {
		t.Fatalf("expected reply despite store failure, got %q %v", got, err)
	}
}

func TestReplyPersistsAfterCancellation(t *testing.T) {
	gw := &fakeGateway{answers: []string{"ok"}}
	hist := newMemoryHistory()
	svc := newTestService(gw, hist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Reply(ctx, "user:U1", "hi"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if len(hist.msgs["user:U1"]) != 2 {
		t.Fatalf("history append should survive caller cancellation")
	}
}

func TestReplyGatewayFailure(t *testing.T) {
	gw := &fakeGateway{completeErr: models.ErrGatewayTimeout}
	hist := newMemoryHistory()
	svc := newTestService(gw, hist)

	_, err := svc.Reply(context.Background(), "user:U1", "hi")
	if !errors.Is(err, models.ErrGatewayTimeout) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}
	if len(hist.msgs["user:U1"]) != 0 {
		t.Fatalf("failed exchange must not be recorded")
	}
}

func TestDescribeImageStoresPlaceholder(t *testing.T) {
	gw := &fakeGateway{imageAnswer: "一隻橘色的貓坐在窗邊"}
	hist := newMemoryHistory()
	svc := newTestService(gw, hist)

	got, err := svc.DescribeImage(context.Background(), "user:U1", []byte{1}, "image/jpeg")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if got != gw.imageAnswer {
		t.Fatalf("unexpected answer %q", got)
	}
	if hist.msgs["user:U1"][0].Content != models.ImagePlaceholder {
		t.Fatalf("image turn should be stored as placeholder")
	}
}

func TestNeedsAugmentation(t *testing.T) {
	markers := []string{"無法", ""}
	if !NeedsAugmentation("我無法回答", markers) {
		t.Fatalf("expected marker hit")
	}
	if NeedsAugmentation("可以回答", markers) {
		t.Fatalf("empty marker must not match everything")
	}
}

func TestTruncateQuery(t *testing.T) {
	if got := TruncateQuery("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	exact := strings.Repeat("a", 100)
	if got := TruncateQuery(exact, 100); got != exact {
		t.Fatalf("exact length must not be marked")
	}
}
