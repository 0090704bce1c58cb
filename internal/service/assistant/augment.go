package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/EXCurryBar/mybot/internal/observability"

	"golang.org/x/sync/errgroup"
)

type source struct {
	url     string
	summary string
}

// augment searches the web for input and makes one synthesis call over the
// page summaries it could gather.
func (s *Service) augment(ctx context.Context, input string) string {
	log := observability.LoggerFromContext(ctx)
	query := TruncateQuery(input, s.cfg.QueryLimit)

	urls, err := s.gw.SearchWeb(ctx, query, s.cfg.SearchDepth)
	if err != nil {
		log.Warn("web search failed", "err", err)
		return NoInformationReply
	}
	sources := s.collect(ctx, dedupe(urls, s.cfg.SearchDepth))
	if len(sources) == 0 {
		return NoInformationReply
	}

	answer, err := s.gw.Complete(ctx, s.cfg.SynthesisPrompt, nil, synthesisInput(input, sources))
	if err != nil {
		log.Warn("synthesis failed", "err", err)
		return NoInformationReply
	}
	if strings.TrimSpace(answer) == "" {
		return NoInformationReply
	}
	return answer
}

// collect summarizes urls concurrently and keeps the ones that produced text, in url order.
func (s *Service) collect(ctx context.Context, urls []string) []source {
	results := make([]string, len(urls))
	var g errgroup.Group
	g.SetLimit(s.cfg.SummaryWorkers)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = s.summaryFor(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var sources []source
	for i, sum := range results {
		if sum != "" {
			sources = append(sources, source{url: urls[i], summary: sum})
		}
	}
	return sources
}

func (s *Service) summaryFor(ctx context.Context, url string) string {
	if s.cache != nil {
		if sum, ok := s.cache.Get(ctx, url); ok {
			return sum
		}
	}
	log := observability.LoggerFromContext(ctx).With("url", url)

	text, err := s.gw.FetchText(ctx, url, s.cfg.PageTextLimit)
	if err != nil {
		log.Debug("fetch page failed", "err", err)
		return ""
	}
	sum, err := s.gw.Summarize(ctx, text, s.cfg.SummaryLimit)
	if err != nil {
		log.Debug("summarize page failed", "err", err)
		return ""
	}
	sum = strings.TrimSpace(sum)
	if sum == "" {
		return ""
	}
	if s.cache != nil {
		s.cache.Set(ctx, url, sum)
	}
	return sum
}

func dedupe(urls []string, limit int) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func synthesisInput(question string, sources []source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "問題：%s\n\n補充資料：\n", question)
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, src.url, src.summary)
	}
	return strings.TrimSpace(b.String())
}
