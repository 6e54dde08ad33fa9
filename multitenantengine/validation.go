package multitenantengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/discounts/rules"
)

const (
	maxIdentifierLength = 100
	maxNameLength       = 200
	maxRulesPerTenant   = 100
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// ValidateConfig checks a storefront definition before its engine is built.
// ruleCount is the size of the rule set the storefront will start with.
func ValidateConfig(cfg StorefrontConfig, ruleCount int) error {
	if err := validateIdentifier(cfg.ID); err != nil {
		return fmt.Errorf("%w: invalid tenant id %q: %v", rules.ErrInvalidArgument, cfg.ID, err)
	}

	if strings.TrimSpace(cfg.Name) != cfg.Name {
		return fmt.Errorf("%w: tenant %s name has leading/trailing whitespace: %q", rules.ErrInvalidArgument, cfg.ID, cfg.Name)
	}

	if len(cfg.Name) > maxNameLength {
		return fmt.Errorf("%w: tenant %s name length %d exceeds maximum of %d characters", rules.ErrInvalidArgument, cfg.ID, len(cfg.Name), maxNameLength)
	}

	if !cfg.Policy.Valid() {
		return fmt.Errorf("%w: tenant %s has invalid policy %q (must be one of: all, sum, max, first)", rules.ErrInvalidArgument, cfg.ID, cfg.Policy)
	}

	if ruleCount > maxRulesPerTenant {
		return fmt.Errorf("%w: tenant %s has %d rules, maximum allowed is %d", rules.ErrInvalidArgument, cfg.ID, ruleCount, maxRulesPerTenant)
	}

	return nil
}

// validateIdentifier checks the pattern, length and reserved words of a tenant id
func validateIdentifier(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(id), maxIdentifierLength)
	}

	if !validIdentifier.MatchString(id) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_-]*$ (start with letter or underscore, followed by letters, digits, underscores or hyphens)")
	}

	if isReservedIdentifier(id) {
		return fmt.Errorf("cannot use reserved identifier %q", id)
	}

	return nil
}

// isReservedIdentifier rejects ids that collide with API path segments
func isReservedIdentifier(id string) bool {
	reserved := map[string]bool{
		"health":   true,
		"evaluate": true,
		"tenants":  true,
		"rules":    true,
		"policy":   true,
		"default":  true,
	}

	return reserved[strings.ToLower(id)]
}
