package main

import (
	"github.com/liamcoop/discounts/rules"
	"github.com/shopspring/decimal"
)

// defaultCatalog builds the rules every configured storefront starts with.
// Each call returns fresh rules so storefronts never share rule IDs.
func defaultCatalog() []*rules.Rule {
	return []*rules.Rule{
		rules.NewRule("Bulk order",
			rules.And(rules.QuantityGreaterThan(10), rules.ValueGreaterThan(decimal.NewFromInt(1000))),
			decimal.NewFromInt(15)),
		rules.NewRule("VIP customer", rules.CategoryEquals("VIP"), decimal.NewFromInt(20)),
		rules.NewRule("First purchase", rules.FirstPurchase(), decimal.NewFromInt(10)),
	}
}
