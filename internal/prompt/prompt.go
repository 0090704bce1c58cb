// Package prompt loads the instruction texts and failure markers the bot sends
// with every completion.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/EXCurryBar/mybot/internal/config"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// Set holds every prompt used at runtime.
type Set struct {
	System           string
	Accounting       string
	ImageInstruction string
	Synthesis        string
	Summary          string
	FailMarkers      []string
}

const defaultSystem = `你是一個友善的 LINE 聊天助理，請使用繁體中文回答，回答要精簡、正確。
如果你不知道答案或缺少即時資訊，請直接說明無法回答，不要捏造內容。`

const defaultAccounting = `你是一個記帳助理。請判斷使用者訊息是否為記帳或消費分析的要求，並且只輸出一個 JSON 物件，不要輸出其他文字。
格式：{"type": "收入" | "支出" | "分析" | "其他", "amount": 數字或 null, "item": 字串, "year": 整數或 null, "month": 整數或 null, "day": 整數或 null}
規則：
- 賺錢、薪水、收到款項屬於「收入」；花費、購買、付款屬於「支出」。
- 要求查看花費比例、統計或圖表屬於「分析」，此時 amount 為 null。
- 訊息沒有提到的日期欄位一律填 null，不要自行推測。
- 與記帳無關的訊息 type 填「其他」。`

const defaultImageInstruction = `請詳細描述這張圖片的內容，至少 50 個字，包含主要物體、顏色與構圖。
如果圖片模糊或無法辨識，請說明原因並建議使用者重新拍攝。`

const defaultSynthesis = `你是一個資料整理助理。請根據提供的網路資料回答使用者的問題，使用繁體中文，回答要完整但精簡。
只使用資料中的資訊；資料不足以回答時請明白說明。`

const defaultSummary = "請用繁體中文把以下網頁內容整理成不超過 %d 字的重點摘要，只保留和事實有關的資訊：\n\n%s"

var defaultFailMarkers = []string{
	"我無法",
	"無法提供",
	"無法取得",
	"沒有即時",
	"不知道",
	"I don't know",
	"I cannot",
	"I'm not able to",
	"real-time",
}

// Defaults returns the built-in prompts.
func Defaults() *Set {
	return &Set{
		System:           defaultSystem,
		Accounting:       defaultAccounting,
		ImageInstruction: defaultImageInstruction,
		Synthesis:        defaultSynthesis,
		Summary:          defaultSummary,
		FailMarkers:      append([]string(nil), defaultFailMarkers...),
	}
}

// Load starts from Defaults and replaces every prompt whose file is configured.
func Load(ctx context.Context, cfg config.PromptConfig) (*Set, error) {
	set := Defaults()
	if cfg == (config.PromptConfig{}) {
		return set, nil
	}

	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init prompt parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init prompt loader: %w", err)
	}

	targets := []struct {
		path string
		dst  *string
	}{
		{cfg.SystemPrompt, &set.System},
		{cfg.AccountingPrompt, &set.Accounting},
		{cfg.ImageInstruction, &set.ImageInstruction},
		{cfg.SynthesisPrompt, &set.Synthesis},
		{cfg.SummaryPrompt, &set.Summary},
	}
	for _, tgt := range targets {
		if tgt.path == "" {
			continue
		}
		text, err := readFile(ctx, loader, tgt.path)
		if err != nil {
			return nil, err
		}
		*tgt.dst = text
	}

	if cfg.FailMarkers != "" {
		text, err := readFile(ctx, loader, cfg.FailMarkers)
		if err != nil {
			return nil, err
		}
		markers, err := ParseMarkers(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfg.FailMarkers, err)
		}
		set.FailMarkers = markers
	}
	if strings.Count(set.Summary, "%") < 2 {
		return nil, errors.New("summary prompt needs a %d bound and a %s text placeholder")
	}
	return set, nil
}

func readFile(ctx context.Context, loader *file.FileLoader, path string) (string, error) {
	docs, err := loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", path, err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(content)
	}
	text := builder.String()
	if text == "" {
		return "", fmt.Errorf("prompt %s is empty", path)
	}
	return text, nil
}

// ParseMarkers accepts a JSON array of strings or one marker per line.
func ParseMarkers(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	var raw []string
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, err
		}
	} else {
		raw = strings.Split(text, "\n")
	}
	markers := make([]string, 0, len(raw))
	for _, m := range raw {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	return markers, nil
}
