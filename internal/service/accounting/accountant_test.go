package accounting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EXCurryBar/mybot/internal/chart"
	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/ledger"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/storage"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.March, 15, 9, 0, 0, 0, time.Local)

func intp(v int) *int { return &v }

type fakeRenderer struct {
	totals []models.CategoryTotal
	result chart.Result
	block  bool
}

func (f *fakeRenderer) RenderPie(_ context.Context, _ string, totals []models.CategoryTotal) <-chan chart.Result {
	f.totals = totals
	out := make(chan chart.Result, 1)
	if !f.block {
		out <- f.result
		close(out)
	}
	return out
}

func newTestAccountant(t *testing.T, r ChartRenderer) (*Accountant, *ledger.Ledger, *sql.DB) {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })

	l := ledger.New(ledger.NewSQLStore(db), ledger.WithClock(func() time.Time { return fixedNow }))
	a := NewAccountant(l, r, Options{
		PublicBaseURL: "https://bot.example/",
		RenderTimeout: 50 * time.Millisecond,
	})
	return a, l, db
}

func TestRecordRepliesWithMonthlySummary(t *testing.T) {
	a, _, _ := newTestAccountant(t, &fakeRenderer{})
	ctx := context.Background()

	a.Record(ctx, models.Draft{Owner: "U1", Kind: models.KindIncome, Amount: 100, Item: "稿費"})
	got := a.Record(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 40, Item: "午餐", Day: intp(2)})

	require.Contains(t, got, "✅ 已記錄支出")
	require.Contains(t, got, "日期：2024/3/2")
	require.Contains(t, got, "項目：午餐")
	require.Contains(t, got, "金額：40 元")
	require.Contains(t, got, "本月收入：100 元")
	require.Contains(t, got, "本月支出：40 元")
	require.Contains(t, got, "本月結餘：60 元")
}

func TestRecordFailure(t *testing.T) {
	a, _, db := newTestAccountant(t, &fakeRenderer{})
	db.Close()

	got := a.Record(context.Background(), models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 10})
	require.Equal(t, SaveFailedReply, got)
}

func TestAnalyzeRendersChart(t *testing.T) {
	r := &fakeRenderer{result: chart.Result{Path: "/tmp/images/U1-x.png", Name: "U1-x.png"}}
	a, l, _ := newTestAccountant(t, r)
	ctx := context.Background()

	_, err := l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 40, Item: "午餐"})
	require.NoError(t, err)
	_, err = l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 60, Item: "交通"})
	require.NoError(t, err)

	reply := a.Analyze(ctx, "U1", AnalysisRequest{})
	require.Equal(t, "https://bot.example/images/U1-x.png", reply.ImageURL)
	require.Equal(t, reply.ImageURL, reply.PreviewURL)
	require.Equal(t, "/tmp/images/U1-x.png", reply.LocalPath)
	require.Equal(t, []models.CategoryTotal{{Item: "交通", Amount: 60}, {Item: "午餐", Amount: 40}}, r.totals)
}

func TestAnalyzePeriodDefaults(t *testing.T) {
	a, l, _ := newTestAccountant(t, &fakeRenderer{result: chart.Result{Name: "c.png"}})
	ctx := context.Background()

	_, err := l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 40, Month: intp(1)})
	require.NoError(t, err)

	// current month has nothing
	reply := a.Analyze(ctx, "U1", AnalysisRequest{})
	require.Empty(t, reply.ImageURL)
	require.Contains(t, reply.Text, "2024 年 3 月")

	// month alone resolves against the current year
	reply = a.Analyze(ctx, "U1", AnalysisRequest{Month: intp(1)})
	require.NotEmpty(t, reply.ImageURL)

	// a year alone covers all of it
	reply = a.Analyze(ctx, "U1", AnalysisRequest{Year: intp(2024)})
	require.NotEmpty(t, reply.ImageURL)
}

func TestAnalyzeRenderFailures(t *testing.T) {
	r := &fakeRenderer{result: chart.Result{Err: errors.New("boom")}}
	a, l, _ := newTestAccountant(t, r)
	ctx := context.Background()
	_, err := l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 40})
	require.NoError(t, err)

	require.Equal(t, ChartFailedReply, a.Analyze(ctx, "U1", AnalysisRequest{}).Text)

	r.block = true
	require.Equal(t, ChartFailedReply, a.Analyze(ctx, "U1", AnalysisRequest{}).Text)
}

// lateRenderer finishes a chart only after the deadline has passed, so the
// result and the timeout are both ready when the accountant selects.
type lateRenderer struct {
	dir   string
	calls int
}

func (r *lateRenderer) RenderPie(ctx context.Context, owner string, _ []models.CategoryTotal) <-chan chart.Result {
	r.calls++
	name := fmt.Sprintf("%s-%d.png", owner, r.calls)
	path := filepath.Join(r.dir, name)
	out := make(chan chart.Result, 1)
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		out <- chart.Result{Err: err}
	} else {
		out <- chart.Result{Path: path, Name: name}
	}
	close(out)
	<-ctx.Done()
	return out
}

func TestAnalyzeTimeoutRemovesRacedChart(t *testing.T) {
	r := &lateRenderer{dir: t.TempDir()}
	a, l, _ := newTestAccountant(t, r)
	ctx := context.Background()
	_, err := l.Write(ctx, models.Draft{Owner: "U1", Kind: models.KindExpense, Amount: 40, Item: "午餐"})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		reply := a.Analyze(ctx, "U1", AnalysisRequest{})
		path := filepath.Join(r.dir, fmt.Sprintf("U1-%d.png", r.calls))
		_, statErr := os.Stat(path)
		if reply.ImageURL != "" {
			require.NoError(t, statErr, "delivered chart must stay on disk")
			continue
		}
		require.Equal(t, ChartFailedReply, reply.Text)
		require.True(t, os.IsNotExist(statErr), "chart from a timed out render must be removed")
	}
}
