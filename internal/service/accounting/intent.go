package accounting

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/tidwall/gjson"
)

// Intent is the closed set of classifier outcomes: Income, Expense,
// AnalysisRequest or Unclassified.
type Intent interface {
	intent()
}

type Income struct {
	Draft models.Draft
}

type Expense struct {
	Draft models.Draft
}

// AnalysisRequest asks for a spending breakdown; nil fields default at analysis time.
type AnalysisRequest struct {
	Year  *int
	Month *int
}

// Unclassified means the message is not a ledger command, or could not be read as one.
type Unclassified struct {
	Err error
}

func (Income) intent()          {}
func (Expense) intent()         {}
func (AnalysisRequest) intent() {}
func (Unclassified) intent()    {}

func unclassified(format string, args ...any) Unclassified {
	return Unclassified{Err: fmt.Errorf("%w: %s", models.ErrClassificationFailure, fmt.Sprintf(format, args...))}
}

// Parse reads the extractor's JSON answer for owner. Anything that is not a
// complete ledger command comes back as Unclassified.
func Parse(owner, raw string) Intent {
	body := extractJSON(raw)
	if body == "" || !gjson.Valid(body) {
		return unclassified("no json object in %q", raw)
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return unclassified("json is not an object")
	}

	year := optInt(doc.Get("year"), 1, 9999)
	month := optInt(doc.Get("month"), 1, 12)
	day := optInt(doc.Get("day"), 1, 31)

	switch kind := strings.ToLower(strings.TrimSpace(doc.Get("type").String())); kind {
	case "收入", "income":
		draft, err := entryDraft(owner, models.KindIncome, doc, year, month, day)
		if err != nil {
			return Unclassified{Err: err}
		}
		return Income{Draft: draft}
	case "支出", "expense":
		draft, err := entryDraft(owner, models.KindExpense, doc, year, month, day)
		if err != nil {
			return Unclassified{Err: err}
		}
		return Expense{Draft: draft}
	case "分析", "analysis", "analysis-request":
		return AnalysisRequest{Year: year, Month: month}
	default:
		return unclassified("type %q", kind)
	}
}

func entryDraft(owner string, kind models.Kind, doc gjson.Result, year, month, day *int) (models.Draft, error) {
	amt := doc.Get("amount")
	if !amt.Exists() || amt.Type == gjson.Null {
		return models.Draft{}, fmt.Errorf("%w: %s without amount", models.ErrClassificationFailure, kind)
	}
	var amount float64
	switch amt.Type {
	case gjson.Number:
		amount = amt.Float()
	case gjson.String:
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(amt.String()), ",", ""), 64)
		if err != nil {
			return models.Draft{}, fmt.Errorf("%w: amount %q", models.ErrClassificationFailure, amt.String())
		}
		amount = v
	default:
		return models.Draft{}, fmt.Errorf("%w: amount %s", models.ErrClassificationFailure, amt.Raw)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return models.Draft{}, fmt.Errorf("%w: amount %v out of range", models.ErrClassificationFailure, amount)
	}
	return models.Draft{
		Owner:  owner,
		Kind:   kind,
		Amount: amount,
		Item:   clipItem(strings.TrimSpace(doc.Get("item").String())),
		Year:   year,
		Month:  month,
		Day:    day,
	}, nil
}

// maxItemRunes matches the mysql ledger_records.item column, VARCHAR(255).
const maxItemRunes = 255

func clipItem(item string) string {
	r := []rune(item)
	if len(r) <= maxItemRunes {
		return item
	}
	return string(r[:maxItemRunes])
}

// optInt returns nil for missing, null, unparsable or out-of-range values.
func optInt(r gjson.Result, lo, hi int) *int {
	var v int
	switch r.Type {
	case gjson.Number:
		v = int(r.Int())
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(r.String()))
		if err != nil {
			return nil
		}
		v = n
	default:
		return nil
	}
	if v < lo || v > hi {
		return nil
	}
	return &v
}

// extractJSON pulls the outermost object out of a reply that may wrap it in
// prose or a fenced code block.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
