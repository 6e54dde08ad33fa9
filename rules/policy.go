package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Policy decides how the outcomes of a rule set combine into one discount
type Policy string

const (
	// PolicyAll reports every match and combines nothing
	PolicyAll Policy = "all"
	// PolicySum adds up every matched discount
	PolicySum Policy = "sum"
	// PolicyMax keeps the largest matched discount
	PolicyMax Policy = "max"
	// PolicyFirst keeps the first match in rule order
	PolicyFirst Policy = "first"
)

// Summary is the result of applying a Policy to a list of outcomes
type Summary struct {
	Policy   Policy          `json:"policy"`
	Discount decimal.Decimal `json:"discount"`
	// Applied holds the indexes of the outcomes that contributed to Discount.
	// For PolicyAll it lists every match.
	Applied []int `json:"applied"`
}

// ParsePolicy converts a policy name to a Policy
func ParsePolicy(name string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown policy %q (must be one of: all, sum, max, first)", ErrInvalidArgument, name)
	}
	return p, nil
}

// Valid reports whether p is a known policy
func (p Policy) Valid() bool {
	switch p {
	case PolicyAll, PolicySum, PolicyMax, PolicyFirst:
		return true
	}
	return false
}

// Apply combines outcomes according to the policy
func (p Policy) Apply(outcomes []Outcome) Summary {
	s := Summary{Policy: p, Discount: decimal.Zero, Applied: []int{}}

	for i, o := range outcomes {
		if !o.Matched {
			continue
		}

		switch p {
		case PolicySum:
			s.Discount = s.Discount.Add(o.Value)
			s.Applied = append(s.Applied, i)
		case PolicyMax:
			if len(s.Applied) == 0 || o.Value.GreaterThan(s.Discount) {
				s.Discount = o.Value
				s.Applied = []int{i}
			}
		case PolicyFirst:
			s.Discount = o.Value
			s.Applied = append(s.Applied, i)
			return s
		default:
			s.Applied = append(s.Applied, i)
		}
	}

	return s
}
