package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the fact record rules are evaluated against.
// It is passed by value so conditions cannot mutate the caller's copy.
type Cart struct {
	TotalValue       decimal.Decimal `json:"totalValue"`
	ItemQuantity     int             `json:"itemQuantity"`
	CustomerCategory string          `json:"customerCategory"`
	IsFirstPurchase  bool            `json:"isFirstPurchase"`
}

// NewCart builds a Cart from its four mandatory fields
func NewCart(totalValue decimal.Decimal, itemQuantity int, customerCategory string, isFirstPurchase bool) Cart {
	return Cart{
		TotalValue:       totalValue,
		ItemQuantity:     itemQuantity,
		CustomerCategory: customerCategory,
		IsFirstPurchase:  isFirstPurchase,
	}
}

// Outcome is the result of evaluating one Rule.
// The zero value is NotMatched.
type Outcome struct {
	Matched bool            `json:"matched"`
	Value   decimal.Decimal `json:"value"`
}

// NotMatched is returned by rules whose condition does not hold
var NotMatched = Outcome{}

// Matched wraps the discount of a rule that fired
func Matched(value decimal.Decimal) Outcome {
	return Outcome{Matched: true, Value: value}
}

// Equal reports whether two outcomes carry the same match flag and value
func (o Outcome) Equal(other Outcome) bool {
	return o.Matched == other.Matched && o.Value.Equal(other.Value)
}

func (o Outcome) String() string {
	if !o.Matched {
		return "NotMatched"
	}
	return "Matched(" + o.Value.String() + ")"
}

// Rule pairs a condition tree with the discount percentage it grants
type Rule struct {
	ID        string
	Name      string
	Condition Condition
	Discount  decimal.Decimal
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EvaluationResult is what the Engine reports for a single rule
type EvaluationResult struct {
	RuleID     string
	RuleName   string
	Expression string
	Outcome    Outcome
	Trace      *Trace `json:",omitempty"`
}

// Trace holds the compiled CEL evaluation of a rule, present only when tracing is enabled
type Trace struct {
	Expression string `json:"expression"`
	Matched    bool   `json:"matched"`
	Agrees     bool   `json:"agrees"`
	Error      string `json:"error,omitempty"`
}
