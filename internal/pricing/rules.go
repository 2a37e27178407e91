package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRule is returned when a discount rule set is malformed.
	ErrInvalidRule = errors.New("invalid discount rule")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidPrice is returned for non-positive unit prices or negative fees.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrOverflow is returned when an amount does not fit in Money.
	ErrOverflow = errors.New("amount out of range")
)

var (
	hundred   = decimal.NewFromInt(100)
	maxMinQty = decimal.NewFromInt(math.MaxInt32)
	maxMoney  = decimal.NewFromInt(math.MaxInt64)
)

// DiscountRule grants DiscPerc percent off once the purchased quantity reaches MinQty.
type DiscountRule struct {
	MinQty   int             `json:"minQty"`
	DiscPerc decimal.Decimal `json:"discPerc"`
}

// Rule is a convenience constructor for integral percentages.
func Rule(minQty int, discPerc int64) DiscountRule {
	return DiscountRule{MinQty: minQty, DiscPerc: decimal.NewFromInt(discPerc)}
}

// MarshalJSON renders discPerc as a JSON number rather than a quoted string.
func (r DiscountRule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"minQty":`)
	buf.WriteString(strconv.Itoa(r.MinQty))
	buf.WriteString(`,"discPerc":`)
	buf.WriteString(r.DiscPerc.String())
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON requires both fields to be present. Numbers and numeric
// strings are accepted because multipart forms submit strings.
func (r *DiscountRule) UnmarshalJSON(data []byte) error {
	var raw struct {
		MinQty   *json.RawMessage `json:"minQty"`
		DiscPerc *json.RawMessage `json:"discPerc"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode rule: %w", ErrInvalidRule)
	}
	if raw.MinQty == nil {
		return fmt.Errorf("minQty is required: %w", ErrInvalidRule)
	}
	if raw.DiscPerc == nil {
		return fmt.Errorf("discPerc is required: %w", ErrInvalidRule)
	}
	minQty, err := numberFromRaw(*raw.MinQty)
	if err != nil {
		return fmt.Errorf("minQty: %w", ErrInvalidRule)
	}
	if !minQty.IsInteger() {
		return fmt.Errorf("minQty must be an integer: %w", ErrInvalidRule)
	}
	if minQty.LessThan(decimal.NewFromInt(1)) || minQty.GreaterThan(maxMinQty) {
		return fmt.Errorf("minQty %s out of range: %w", minQty, ErrInvalidRule)
	}
	perc, err := numberFromRaw(*raw.DiscPerc)
	if err != nil {
		return fmt.Errorf("discPerc: %w", ErrInvalidRule)
	}
	r.MinQty = int(minQty.IntPart())
	r.DiscPerc = perc
	return nil
}

func numberFromRaw(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, errors.New("empty value")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	return decimal.NewFromString(string(trimmed))
}

// ParseRules decodes a JSON array of rules and normalises it. Anything other
// than an array, including null, is rejected.
func ParseRules(raw []byte) ([]DiscountRule, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("rules must be an array: %w", ErrInvalidRule)
	}
	var rules []DiscountRule
	if err := json.Unmarshal(trimmed, &rules); err != nil {
		if errors.Is(err, ErrInvalidRule) {
			return nil, err
		}
		return nil, fmt.Errorf("decode rules: %v: %w", err, ErrInvalidRule)
	}
	return NormalizeRules(rules)
}

// ValidateRules checks each rule in isolation and the set as a whole.
func ValidateRules(rules []DiscountRule) error {
	_, err := NormalizeRules(rules)
	return err
}

// NormalizeRules validates rules and returns a copy sorted ascending by
// MinQty. The input slice is never modified.
//
// A set is rejected when two rules share a MinQty or when a higher threshold
// grants a smaller discount than a lower one.
func NormalizeRules(rules []DiscountRule) ([]DiscountRule, error) {
	if len(rules) == 0 {
		return []DiscountRule{}, nil
	}
	for i, rule := range rules {
		if rule.MinQty < 1 {
			return nil, fmt.Errorf("rule %d: minQty must be at least 1: %w", i, ErrInvalidRule)
		}
		if rule.DiscPerc.IsNegative() || rule.DiscPerc.GreaterThan(hundred) {
			return nil, fmt.Errorf("rule %d: discPerc must be between 0 and 100: %w", i, ErrInvalidRule)
		}
	}
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b DiscountRule) int {
		return a.MinQty - b.MinQty
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.MinQty == cur.MinQty {
			return nil, fmt.Errorf("duplicate minQty %d: %w", cur.MinQty, ErrInvalidRule)
		}
		if cur.DiscPerc.LessThan(prev.DiscPerc) {
			return nil, fmt.Errorf("discPerc for minQty %d is lower than for minQty %d: %w", cur.MinQty, prev.MinQty, ErrInvalidRule)
		}
	}
	return sorted, nil
}
