package models

import "time"

// Kind classifies a transaction record.
type Kind string

const (
	KindIncome   Kind = "income"
	KindExpense  Kind = "expense"
	KindAnalysis Kind = "analysis-request"
	KindError    Kind = "error"
)

// Record is a stored ledger entry. Year, Month and Day are always set once stored.
type Record struct {
	ID        string    `json:"id" bson:"_id"`
	Owner     string    `json:"owner" bson:"user_id"`
	Kind      Kind      `json:"kind" bson:"type"`
	Amount    float64   `json:"amount" bson:"amount"`
	Item      string    `json:"item" bson:"item"`
	Year      int       `json:"year" bson:"year"`
	Month     int       `json:"month" bson:"month"`
	Day       int       `json:"day" bson:"day"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Draft is a parsed but not yet stored record; nil date fields get defaulted on write.
type Draft struct {
	Owner  string
	Kind   Kind
	Amount float64
	Item   string
	Year   *int
	Month  *int
	Day    *int
}

// Aggregate is the monthly income/expense summary of one owner.
type Aggregate struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Balance float64 `json:"balance"`
}

// CategoryTotal is the summed amount of one item label.
type CategoryTotal struct {
	Item   string  `json:"item"`
	Amount float64 `json:"amount"`
}
