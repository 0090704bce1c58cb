package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"
)

const imageEntryInstruction = "請判斷這張圖片（例如收據、發票或轉帳截圖）是否代表一筆收入或支出，依照規則只輸出 JSON。"

// Completer is the part of the completion gateway the classifier calls.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []*models.Message, input string) (string, error)
	CompleteWithImage(ctx context.Context, systemPrompt string, history []*models.Message, image []byte, mimeType, instruction string) (string, error)
}

// Classifier turns a direct message into an Intent using one gateway call.
type Classifier struct {
	gw     Completer
	prompt string
	now    func() time.Time
}

func NewClassifier(gw Completer, prompt string, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{gw: gw, prompt: prompt, now: now}
}

func (c *Classifier) systemPrompt() string {
	return fmt.Sprintf("%s\n\n今天是 %s。", c.prompt, c.now().Format("2006-01-02"))
}

// Classify never fails: gateway errors and timeouts come back as Unclassified.
func (c *Classifier) Classify(ctx context.Context, owner, text string) Intent {
	out, err := c.gw.Complete(ctx, c.systemPrompt(), nil, text)
	if err != nil {
		return Unclassified{Err: fmt.Errorf("%w: %w", models.ErrClassificationFailure, err)}
	}
	return Parse(owner, out)
}

// ClassifyImage asks whether an image (a receipt, say) is a ledger entry.
func (c *Classifier) ClassifyImage(ctx context.Context, owner string, image []byte, mimeType string) Intent {
	out, err := c.gw.CompleteWithImage(ctx, c.systemPrompt(), nil, image, mimeType, imageEntryInstruction)
	if err != nil {
		return Unclassified{Err: fmt.Errorf("%w: %w", models.ErrClassificationFailure, err)}
	}
	return Parse(owner, out)
}
