package adcp

import (
	"encoding/json"
	"fmt"
)

// Budget accepts the three historical wire shapes for a budget value: a bare
// number, a {total, currency, pacing} object, or absence. The polymorphism
// stops here; callers only ever see ExtractBudget's (amount, currency) pair.
type Budget struct {
	amount   float64
	currency string
	pacing   string
	isObject bool
}

// budgetObject is the object form of a budget on the wire.
type budgetObject struct {
	Total    float64 `json:"total"`
	Currency string  `json:"currency,omitempty"`
	Pacing   string  `json:"pacing,omitempty"`
}

// NewBudget returns a scalar budget, as produced by current-spec requests.
func NewBudget(amount float64) *Budget {
	return &Budget{amount: amount}
}

// NewBudgetObject returns an object-form budget carrying its own currency.
func NewBudgetObject(total float64, currency, pacing string) *Budget {
	return &Budget{amount: total, currency: currency, pacing: pacing, isObject: true}
}

// UnmarshalJSON accepts a number or a budget object.
func (b *Budget) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = Budget{amount: n}
		return nil
	}
	var obj budgetObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("budget must be a number or a {total, currency} object: %w", err)
	}
	*b = Budget{amount: obj.Total, currency: obj.Currency, pacing: obj.Pacing, isObject: true}
	return nil
}

// MarshalJSON re-emits the shape that was received.
func (b Budget) MarshalJSON() ([]byte, error) {
	if b.isObject {
		return json.Marshal(budgetObject{Total: b.amount, Currency: b.currency, Pacing: b.pacing})
	}
	return json.Marshal(b.amount)
}

// Pacing returns the pacing hint from the object form, if any.
func (b *Budget) Pacing() string {
	if b == nil {
		return ""
	}
	return b.pacing
}

// ExtractBudget collapses a budget value into (amount, currency). A nil budget
// yields (0, defaultCurrency). An object-form budget that names a currency
// wins over the request-level default.
func ExtractBudget(b *Budget, defaultCurrency string) (float64, string) {
	if b == nil {
		return 0.0, defaultCurrency
	}
	if b.isObject && b.currency != "" {
		return b.amount, b.currency
	}
	return b.amount, defaultCurrency
}
