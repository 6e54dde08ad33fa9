package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidArgument is wrapped by every construction-time validation failure
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRuleNotFound is returned when a rule ID is unknown
	ErrRuleNotFound = errors.New("rule not found")
	// ErrRuleExists is returned when a rule ID is already registered
	ErrRuleExists = errors.New("rule already exists")
)

const maxConditionDepth = 32

var maxDiscount = decimal.NewFromInt(100)

// ValidateRule checks a rule before it is registered with an Engine.
// Evaluation never validates; a rule that fails here can still be evaluated directly.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidArgument)
	}

	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: rule ID cannot be empty", ErrInvalidArgument)
	}

	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule %s has an empty name", ErrInvalidArgument, r.ID)
	}

	if r.Discount.IsNegative() || r.Discount.GreaterThan(maxDiscount) {
		return fmt.Errorf("%w: rule %s discount %s%% is outside [0, 100]", ErrInvalidArgument, r.ID, r.Discount)
	}

	if err := ValidateCondition(r.Condition); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}

	return nil
}

// ValidateCondition walks a condition tree and rejects missing nodes,
// negative thresholds, empty categories and trees deeper than 32 levels
func ValidateCondition(c Condition) error {
	return validateCondition(c, 1)
}

func validateCondition(c Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: condition tree deeper than %d levels", ErrInvalidArgument, maxConditionDepth)
	}

	switch n := c.(type) {
	case nil:
		return fmt.Errorf("%w: condition is nil", ErrInvalidArgument)
	case quantityGreaterThan:
		if n.threshold < 0 {
			return fmt.Errorf("%w: quantity threshold %d is negative", ErrInvalidArgument, n.threshold)
		}
	case valueGreaterThan:
		if n.threshold.IsNegative() {
			return fmt.Errorf("%w: value threshold %s is negative", ErrInvalidArgument, n.threshold)
		}
	case categoryEquals:
		if n.category == "" {
			return fmt.Errorf("%w: category cannot be empty", ErrInvalidArgument)
		}
	case firstPurchase:
	case and:
		return validateChildren(n.left, n.right, depth)
	case or:
		return validateChildren(n.left, n.right, depth)
	default:
		return fmt.Errorf("%w: unsupported condition type %T", ErrInvalidArgument, c)
	}
	return nil
}

func validateChildren(left, right Condition, depth int) error {
	if err := validateCondition(left, depth+1); err != nil {
		return err
	}
	return validateCondition(right, depth+1)
}
