package rules

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Observer is notified after a rule matches.
// It sees the outcome but cannot change what Evaluate returns.
type Observer func(rule *Rule, outcome Outcome)

// NewRule creates an active rule with a fresh ID
func NewRule(name string, condition Condition, discount decimal.Decimal) *Rule {
	now := time.Now()
	return &Rule{
		ID:        uuid.NewString(),
		Name:      name,
		Condition: condition,
		Discount:  discount,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Evaluate applies the rule to the cart.
// A rule without a condition never matches.
func (r *Rule) Evaluate(cart Cart, observers ...Observer) Outcome {
	if r.Condition == nil || !r.Condition.Evaluate(cart) {
		return NotMatched
	}

	outcome := Matched(r.Discount)
	for _, notify := range observers {
		if notify != nil {
			notify(r, outcome)
		}
	}
	return outcome
}

// Expression returns the CEL rendering of the rule's condition
func (r *Rule) Expression() string {
	return render(r.Condition)
}

// EvaluateAll applies every rule to the cart and returns the outcomes in rule order.
// Rules are independent; several may match the same cart and no combination is applied.
func EvaluateAll(ruleSet []*Rule, cart Cart, observers ...Observer) []Outcome {
	outcomes := make([]Outcome, len(ruleSet))
	for i, rule := range ruleSet {
		if rule == nil {
			continue
		}
		outcomes[i] = rule.Evaluate(cart, observers...)
	}
	return outcomes
}

// LogObserver announces every applied rule on logger
func LogObserver(logger *slog.Logger) Observer {
	return func(rule *Rule, outcome Outcome) {
		logger.Info("Rule applied: "+outcome.Value.String()+"% discount",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"discount", outcome.Value.String(),
		)
	}
}
