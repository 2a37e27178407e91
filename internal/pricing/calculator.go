package pricing

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// DefaultDeliveryFee is the flat delivery surcharge in minor units.
const DefaultDeliveryFee Money = 10000

// LineItem is a cart or invoice entry as seen by the calculator.
type LineItem struct {
	UnitPrice Money
	Quantity  int
	Rules     []DiscountRule
}

// LineQuote is the per-line breakdown shown by cart and invoice views.
type LineQuote struct {
	UnitPrice       Money           `json:"unitPrice"`
	Quantity        int             `json:"amount"`
	Gross           Money           `json:"gross"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Discount        Money           `json:"discount"`
	Total           Money           `json:"lineTotal"`
}

// OrderQuote aggregates line quotes with the optional delivery fee.
type OrderQuote struct {
	Lines       []LineQuote `json:"lines"`
	Subtotal    Money       `json:"subtotal"`
	Discount    Money       `json:"discount"`
	DeliveryFee Money       `json:"deliveryFee"`
	Total       Money       `json:"total"`
}

// SelectDiscountPercent returns the percentage of the highest-threshold rule
// whose MinQty does not exceed qty, or zero when none qualifies.
func SelectDiscountPercent(qty int, rules []DiscountRule) (decimal.Decimal, error) {
	if qty <= 0 {
		return decimal.Zero, fmt.Errorf("quantity %d: %w", qty, ErrInvalidQuantity)
	}
	sorted, err := NormalizeRules(rules)
	if err != nil {
		return decimal.Zero, err
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].MinQty <= qty {
			return sorted[i].DiscPerc, nil
		}
	}
	return decimal.Zero, nil
}

// LineDiscount returns unitPrice*qty*discPerc/100 rounded half-up to the
// minor unit. The result never exceeds unitPrice*qty.
func LineDiscount(unitPrice Money, qty int, rules []DiscountRule) (Money, error) {
	q, err := QuoteLine(LineItem{UnitPrice: unitPrice, Quantity: qty, Rules: rules})
	if err != nil {
		return 0, err
	}
	return q.Discount, nil
}

// LineTotal returns unitPrice*qty minus the line discount.
func LineTotal(unitPrice Money, qty int, rules []DiscountRule) (Money, error) {
	q, err := QuoteLine(LineItem{UnitPrice: unitPrice, Quantity: qty, Rules: rules})
	if err != nil {
		return 0, err
	}
	return q.Total, nil
}

// QuoteLine prices a single line.
func QuoteLine(item LineItem) (LineQuote, error) {
	if item.UnitPrice <= 0 {
		return LineQuote{}, fmt.Errorf("unit price %d: %w", item.UnitPrice, ErrInvalidPrice)
	}
	perc, err := SelectDiscountPercent(item.Quantity, item.Rules)
	if err != nil {
		return LineQuote{}, err
	}
	gross := decimal.NewFromInt(item.UnitPrice).Mul(decimal.NewFromInt(int64(item.Quantity)))
	if gross.GreaterThan(maxMoney) {
		return LineQuote{}, fmt.Errorf("%d x %d: %w", item.UnitPrice, item.Quantity, ErrOverflow)
	}
	discount := gross.Mul(perc).Div(hundred).Round(0)
	if discount.GreaterThan(gross) {
		discount = gross
	}
	grossMinor := gross.IntPart()
	discountMinor := discount.IntPart()
	return LineQuote{
		UnitPrice:       item.UnitPrice,
		Quantity:        item.Quantity,
		Gross:           grossMinor,
		DiscountPercent: perc,
		Discount:        discountMinor,
		Total:           grossMinor - discountMinor,
	}, nil
}

// OrderTotal sums line totals and adds deliveryFee when applyDeliveryFee is set.
func OrderTotal(items []LineItem, deliveryFee Money, applyDeliveryFee bool) (Money, error) {
	q, err := QuoteOrder(items, deliveryFee, applyDeliveryFee)
	if err != nil {
		return 0, err
	}
	return q.Total, nil
}

// QuoteOrder prices every line and builds the order summary.
func QuoteOrder(items []LineItem, deliveryFee Money, applyDeliveryFee bool) (OrderQuote, error) {
	if deliveryFee < 0 {
		return OrderQuote{}, fmt.Errorf("delivery fee %d: %w", deliveryFee, ErrInvalidPrice)
	}
	lines := make([]LineQuote, 0, len(items))
	for i, item := range items {
		q, err := QuoteLine(item)
		if err != nil {
			return OrderQuote{}, fmt.Errorf("line %d: %w", i, err)
		}
		lines = append(lines, q)
	}
	out := OrderQuote{Lines: lines}
	if applyDeliveryFee {
		out.DeliveryFee = deliveryFee
	}
	subtotal, ok := sumMoney(lo.Map(lines, func(l LineQuote, _ int) Money { return l.Gross }))
	if !ok {
		return OrderQuote{}, fmt.Errorf("subtotal: %w", ErrOverflow)
	}
	// Discounts never exceed their line's gross, so this sum and the
	// difference below stay within subtotal.
	discount, _ := sumMoney(lo.Map(lines, func(l LineQuote, _ int) Money { return l.Discount }))
	total, ok := sumMoney([]Money{subtotal - discount, out.DeliveryFee})
	if !ok {
		return OrderQuote{}, fmt.Errorf("total: %w", ErrOverflow)
	}
	out.Subtotal, out.Discount, out.Total = subtotal, discount, total
	return out, nil
}

// sumMoney adds non-negative amounts and reports false on overflow.
func sumMoney(amounts []Money) (Money, bool) {
	var sum Money
	for _, a := range amounts {
		if a > math.MaxInt64-sum {
			return 0, false
		}
		sum += a
	}
	return sum, true
}
