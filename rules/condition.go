package rules

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Condition is a node of a boolean expression tree evaluated against a Cart.
// Implementations are immutable, so a tree may be shared between rules and
// evaluated from several goroutines at once.
type Condition interface {
	// Evaluate reports whether the condition holds for the cart.
	Evaluate(cart Cart) bool

	// String renders the node as a CEL expression over the cart variables.
	String() string
}

type quantityGreaterThan struct {
	threshold int
}

// QuantityGreaterThan holds when the cart has strictly more than threshold items
func QuantityGreaterThan(threshold int) Condition {
	return quantityGreaterThan{threshold: threshold}
}

func (c quantityGreaterThan) Evaluate(cart Cart) bool {
	return cart.ItemQuantity > c.threshold
}

func (c quantityGreaterThan) String() string {
	return varItemQuantity + " > " + strconv.Itoa(c.threshold)
}

type valueGreaterThan struct {
	threshold decimal.Decimal
}

// ValueGreaterThan holds when the cart total is strictly greater than threshold
func ValueGreaterThan(threshold decimal.Decimal) Condition {
	return valueGreaterThan{threshold: threshold}
}

func (c valueGreaterThan) Evaluate(cart Cart) bool {
	return cart.TotalValue.GreaterThan(c.threshold)
}

func (c valueGreaterThan) String() string {
	return varTotalValue + " > " + doubleLiteral(c.threshold)
}

type categoryEquals struct {
	category string
}

// CategoryEquals holds when the customer category is exactly category.
// The comparison is case-sensitive and does no normalization.
func CategoryEquals(category string) Condition {
	return categoryEquals{category: category}
}

func (c categoryEquals) Evaluate(cart Cart) bool {
	return cart.CustomerCategory == c.category
}

func (c categoryEquals) String() string {
	return varCustomerCategory + " == " + strconv.Quote(c.category)
}

type firstPurchase struct{}

// FirstPurchase holds for a customer's first purchase
func FirstPurchase() Condition {
	return firstPurchase{}
}

func (firstPurchase) Evaluate(cart Cart) bool {
	return cart.IsFirstPurchase
}

func (firstPurchase) String() string {
	return varIsFirstPurchase
}

type and struct {
	left, right Condition
}

// And holds when both children hold. Both sides are always evaluated.
func And(left, right Condition) Condition {
	return and{left: left, right: right}
}

func (c and) Evaluate(cart Cart) bool {
	l := evaluate(c.left, cart)
	r := evaluate(c.right, cart)
	return l && r
}

func (c and) String() string {
	return "(" + render(c.left) + " && " + render(c.right) + ")"
}

type or struct {
	left, right Condition
}

// Or holds when at least one child holds. Both sides are always evaluated.
func Or(left, right Condition) Condition {
	return or{left: left, right: right}
}

func (c or) Evaluate(cart Cart) bool {
	l := evaluate(c.left, cart)
	r := evaluate(c.right, cart)
	return l || r
}

func (c or) String() string {
	return "(" + render(c.left) + " || " + render(c.right) + ")"
}

// evaluate treats a missing child as false instead of panicking
func evaluate(c Condition, cart Cart) bool {
	if c == nil {
		return false
	}
	return c.Evaluate(cart)
}

func render(c Condition) string {
	if c == nil {
		return "false"
	}
	return c.String()
}

// doubleLiteral formats d so CEL parses it as a double, never as an int
func doubleLiteral(d decimal.Decimal) string {
	s := d.String()
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
