package main

import (
	"fmt"
	"time"

	"github.com/liamcoop/discounts/multitenantengine"
	"github.com/liamcoop/discounts/rules"
	"github.com/shopspring/decimal"
)

// API request and response models with Swagger annotations

// CartRequest is the cart carried by an evaluation request. Every field is mandatory.
// totalValue accepts a JSON number or a decimal string.
type CartRequest struct {
	TotalValue       *decimal.Decimal `json:"totalValue" example:"1500.00"`
	ItemQuantity     *int             `json:"itemQuantity" example:"15"`
	CustomerCategory *string          `json:"customerCategory" example:"Regular"`
	IsFirstPurchase  *bool            `json:"isFirstPurchase" example:"false"`
} // @name CartRequest

// ToCart checks that every field is present and non-negative
func (c *CartRequest) ToCart() (rules.Cart, error) {
	switch {
	case c == nil:
		return rules.Cart{}, fmt.Errorf("%w: cart is required", rules.ErrInvalidArgument)
	case c.TotalValue == nil:
		return rules.Cart{}, fmt.Errorf("%w: cart.totalValue is required", rules.ErrInvalidArgument)
	case c.ItemQuantity == nil:
		return rules.Cart{}, fmt.Errorf("%w: cart.itemQuantity is required", rules.ErrInvalidArgument)
	case c.CustomerCategory == nil:
		return rules.Cart{}, fmt.Errorf("%w: cart.customerCategory is required", rules.ErrInvalidArgument)
	case c.IsFirstPurchase == nil:
		return rules.Cart{}, fmt.Errorf("%w: cart.isFirstPurchase is required", rules.ErrInvalidArgument)
	case c.TotalValue.IsNegative():
		return rules.Cart{}, fmt.Errorf("%w: cart.totalValue cannot be negative", rules.ErrInvalidArgument)
	case *c.ItemQuantity < 0:
		return rules.Cart{}, fmt.Errorf("%w: cart.itemQuantity cannot be negative", rules.ErrInvalidArgument)
	}

	return rules.NewCart(*c.TotalValue, *c.ItemQuantity, *c.CustomerCategory, *c.IsFirstPurchase), nil
}

// EvaluateRequest represents the request body for evaluating a cart
type EvaluateRequest struct {
	TenantID string       `json:"tenantId" example:"demo"`
	Cart     *CartRequest `json:"cart"`
	Rules    []string     `json:"rules,omitempty"`
} // @name EvaluateRequest

// EvaluationResultResponse represents a single rule evaluation result
type EvaluationResultResponse struct {
	RuleID     string          `json:"ruleId"`
	RuleName   string          `json:"ruleName" example:"VIP customer"`
	Expression string          `json:"expression" example:"customerCategory == \"VIP\""`
	Matched    bool            `json:"matched"`
	Discount   decimal.Decimal `json:"discount" example:"20"`
	Trace      *rules.Trace    `json:"trace,omitempty"`
} // @name EvaluationResultResponse

// EvaluateResponse represents the response for a cart evaluation.
// Discount combines the matched rules with the storefront policy.
type EvaluateResponse struct {
	EvaluationID   string                     `json:"evaluationId"`
	TenantID       string                     `json:"tenantId"`
	Policy         rules.Policy               `json:"policy" example:"all"`
	Discount       decimal.Decimal            `json:"discount" example:"15"`
	Applied        []int                      `json:"applied"`
	Results        []EvaluationResultResponse `json:"results"`
	EvaluationTime string                     `json:"evaluationTime" example:"120µs"`
} // @name EvaluateResponse

// TenantResponse represents a storefront in API responses
type TenantResponse struct {
	ID        string       `json:"id" example:"demo"`
	Name      string       `json:"name" example:"Demo Store"`
	Policy    rules.Policy `json:"policy" example:"all"`
	RuleCount int          `json:"ruleCount" example:"3"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
} // @name TenantResponse

// TenantsListResponse represents the response for listing storefronts
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
} // @name TenantsListResponse

// UpdatePolicyRequest represents the request body for changing a storefront policy
type UpdatePolicyRequest struct {
	Policy string `json:"policy" example:"max"`
} // @name UpdatePolicyRequest

// UpdateRuleRequest toggles a rule. Conditions are defined in code, not over HTTP.
type UpdateRuleRequest struct {
	Active *bool `json:"active" example:"false"`
} // @name UpdateRuleRequest

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name" example:"Bulk order"`
	Expression string          `json:"expression" example:"(itemQuantity > 10 && totalValue > 1000.0)"`
	Discount   decimal.Decimal `json:"discount" example:"15"`
	Active     bool            `json:"active" example:"true"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
} // @name RuleResponse

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
} // @name RulesListResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"tenant not found"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string           `json:"status" example:"healthy"`
	TenantsLoaded int              `json:"tenantsLoaded" example:"1"`
	Uptime        string           `json:"uptime"`
	Counters      map[string]int64 `json:"counters"`
} // @name HealthResponse

func newRuleResponse(r *rules.Rule) RuleResponse {
	return RuleResponse{
		ID:         r.ID,
		Name:       r.Name,
		Expression: r.Expression(),
		Discount:   r.Discount,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func newTenantResponse(sf *multitenantengine.Storefront) TenantResponse {
	resp := TenantResponse{
		ID:        sf.ID,
		Name:      sf.Name,
		Policy:    sf.Policy,
		CreatedAt: sf.CreatedAt,
		UpdatedAt: sf.UpdatedAt,
	}
	if all, err := sf.Engine.Rules(); err == nil {
		resp.RuleCount = len(all)
	}
	return resp
}

func newEvaluateResponse(q *multitenantengine.Quote, id string, elapsed time.Duration) EvaluateResponse {
	results := make([]EvaluationResultResponse, 0, len(q.Results))
	for _, r := range q.Results {
		results = append(results, EvaluationResultResponse{
			RuleID:     r.RuleID,
			RuleName:   r.RuleName,
			Expression: r.Expression,
			Matched:    r.Outcome.Matched,
			Discount:   r.Outcome.Value,
			Trace:      r.Trace,
		})
	}

	return EvaluateResponse{
		EvaluationID:   id,
		TenantID:       q.TenantID,
		Policy:         q.Summary.Policy,
		Discount:       q.Summary.Discount,
		Applied:        q.Summary.Applied,
		Results:        results,
		EvaluationTime: elapsed.String(),
	}
}
