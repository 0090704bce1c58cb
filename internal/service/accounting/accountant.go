package accounting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/EXCurryBar/mybot/internal/chart"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/observability"
)

const (
	SaveFailedReply  = "❌ 記帳失敗，請稍後再試"
	QueryFailedReply = "❌ 查詢記帳資料失敗，請稍後再試"
	ChartFailedReply = "❌ 圖表產生失敗，請稍後再試"

	defaultStoreTimeout  = 5 * time.Second
	defaultRenderTimeout = 15 * time.Second
)

// Ledger is what the accountant needs from the record store.
type Ledger interface {
	Write(ctx context.Context, draft models.Draft) (*models.Record, error)
	MonthlyAggregate(ctx context.Context, owner string, year, month int) (models.Aggregate, error)
	ExpenseByItem(ctx context.Context, owner string, year, month *int) ([]models.CategoryTotal, error)
	Now() time.Time
}

// ChartRenderer draws pie charts in the background.
type ChartRenderer interface {
	RenderPie(ctx context.Context, owner string, totals []models.CategoryTotal) <-chan chart.Result
}

type Options struct {
	PublicBaseURL string
	StoreTimeout  time.Duration
	RenderTimeout time.Duration
}

// Accountant turns classified intents into ledger writes and replies.
type Accountant struct {
	ledger  Ledger
	charts  ChartRenderer
	baseURL string

	storeTimeout  time.Duration
	renderTimeout time.Duration
}

func NewAccountant(ledger Ledger, charts ChartRenderer, opts Options) *Accountant {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = defaultRenderTimeout
	}
	return &Accountant{
		ledger:        ledger,
		charts:        charts,
		baseURL:       strings.TrimRight(opts.PublicBaseURL, "/"),
		storeTimeout:  opts.StoreTimeout,
		renderTimeout: opts.RenderTimeout,
	}
}

// Record stores draft and answers with a confirmation plus this month's totals.
// A failed write produces SaveFailedReply and nothing is stored.
func (a *Accountant) Record(ctx context.Context, draft models.Draft) string {
	log := observability.LoggerFromContext(ctx)

	// the write outlives a caller that has already given up
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.storeTimeout)
	defer cancel()

	rec, err := a.ledger.Write(wctx, draft)
	if err != nil {
		log.Error("ledger write failed", "err", err)
		return SaveFailedReply
	}

	var b strings.Builder
	label := "支出"
	if rec.Kind == models.KindIncome {
		label = "收入"
	}
	fmt.Fprintf(&b, "✅ 已記錄%s\n日期：%d/%d/%d\n", label, rec.Year, rec.Month, rec.Day)
	if rec.Item != "" {
		fmt.Fprintf(&b, "項目：%s\n", rec.Item)
	}
	fmt.Fprintf(&b, "金額：%s 元", formatAmount(rec.Amount))

	now := a.ledger.Now()
	agg, err := a.ledger.MonthlyAggregate(wctx, rec.Owner, now.Year(), int(now.Month()))
	if err != nil {
		log.Warn("monthly aggregate failed", "err", err)
		return b.String()
	}
	fmt.Fprintf(&b, "\n\n📊 本月收入：%s 元\n本月支出：%s 元\n本月結餘：%s 元",
		formatAmount(agg.Income), formatAmount(agg.Expense), formatAmount(agg.Balance))
	return b.String()
}

// Analyze replies with an expense pie for the requested period. Both fields
// missing means the current month; a month alone is taken in the current
// year; a year alone covers the whole year.
func (a *Accountant) Analyze(ctx context.Context, owner string, req AnalysisRequest) *models.Reply {
	log := observability.LoggerFromContext(ctx)
	year, month := a.period(req)

	qctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	totals, err := a.ledger.ExpenseByItem(qctx, owner, year, month)
	cancel()
	if err != nil {
		log.Error("expense query failed", "err", err)
		return models.TextReply(QueryFailedReply)
	}
	if len(totals) == 0 {
		return models.TextReply(fmt.Sprintf("📭 %s沒有支出紀錄", periodLabel(year, month)))
	}

	rctx, cancel := context.WithTimeout(ctx, a.renderTimeout)
	defer cancel()
	results := a.charts.RenderPie(rctx, owner, totals)
	select {
	case res, ok := <-results:
		if !ok {
			res.Err = errors.New("renderer closed without result")
		}
		if res.Err != nil {
			log.Error("chart render failed", "err", res.Err)
			return models.TextReply(ChartFailedReply)
		}
		url := a.baseURL + chart.URLPrefix + res.Name
		return &models.Reply{ImageURL: url, PreviewURL: url, LocalPath: res.Path}
	case <-rctx.Done():
		log.Error("chart render timed out", "err", rctx.Err())
		// a result that raced the deadline is never sent, so drop its file
		select {
		case res, ok := <-results:
			if ok && res.Err == nil && res.Path != "" {
				_ = os.Remove(res.Path)
			}
		default:
		}
		return models.TextReply(ChartFailedReply)
	}
}

func (a *Accountant) period(req AnalysisRequest) (*int, *int) {
	now := a.ledger.Now()
	year, month := req.Year, req.Month
	if year == nil {
		y := now.Year()
		year = &y
		if month == nil {
			m := int(now.Month())
			month = &m
		}
	}
	return year, month
}

func periodLabel(year, month *int) string {
	switch {
	case year != nil && month != nil:
		return fmt.Sprintf("%d 年 %d 月", *year, *month)
	case year != nil:
		return fmt.Sprintf("%d 年", *year)
	default:
		return "這段期間"
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
