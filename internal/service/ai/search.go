package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/observability"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/tidwall/gjson"
)

const WebSearchHTTPTimeout = 10 * time.Second

// WebSearch asks Google first and falls back to DuckDuckGo.
type WebSearch struct {
	google tool.InvokableTool
	duck   tool.InvokableTool
}

// NewWebSearch wires the providers enabled in cfg. Google needs an API key and
// engine id; DuckDuckGo needs nothing.
func NewWebSearch(ctx context.Context, cfg config.SearchConfig, maxResults int) (*WebSearch, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ws := &WebSearch{}
	if cfg.GoogleAPIKey != "" && cfg.GoogleEngineID != "" {
		googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
			ToolName:       "web_search_google",
			ToolDesc:       "Google Search Tool",
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleEngineID,
			Lang:           cfg.Lang,
			Num:            maxResults,
		})
		if err != nil {
			return nil, fmt.Errorf("init google search: %w", err)
		}
		ws.google = googleTool
	}
	if cfg.DuckDuckGo || ws.google == nil {
		duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   "web_search_ddg",
			ToolDesc:   "DuckDuckGo Search Tool (no token required)",
			MaxResults: maxResults,
			Region:     duckduckgo.RegionWT,
			Timeout:    WebSearchHTTPTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init duckduckgo search: %w", err)
		}
		ws.duck = duckTool
	}
	return ws, nil
}

// Search returns up to limit distinct URLs, in provider rank order.
func (w *WebSearch) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)
	log := observability.LoggerFromContext(ctx)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			if urls := ExtractURLs(result, limit); len(urls) > 0 {
				return urls, nil
			}
		} else {
			log.Warn("google search failed", "err", err)
		}
	}

	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return ExtractURLs(result, limit), nil
		}
		log.Warn("duckduckgo search failed", "err", err)
	}

	return nil, errors.New("no search provider succeeded")
}

// ExtractURLs reads result links from a Google ("items.#.link") or DuckDuckGo
// ("results.#.url") tool response, dropping duplicates and non-http entries.
func ExtractURLs(result string, limit int) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, path := range []string{"items.#.link", "results.#.url"} {
		for _, v := range gjson.Get(result, path).Array() {
			u := strings.TrimSpace(v.String())
			if u == "" || seen[u] || !looksLikeURL(u) {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
			if limit > 0 && len(urls) >= limit {
				return urls
			}
		}
	}
	return urls
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
