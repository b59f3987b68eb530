package billing

import (
	"fmt"

	"dcmart/backend/internal/domain"
)

// ErrInvalidTaxMode marks a tax mode outside the three recognized values.
// This is a configuration-integrity guard; a well-formed settings bundle can
// never trigger it.
type ErrInvalidTaxMode struct {
	Mode domain.TaxMode
}

func (e ErrInvalidTaxMode) Error() string {
	return fmt.Sprintf("invalid tax mode: %q", string(e.Mode))
}

// TaxResult breaks one amount into its net, tax, and gross components.
type TaxResult struct {
	Subtotal float64
	Tax      float64
	Total    float64
}

// ApplyInclusive treats the amount as tax-included and backs the tax out.
func ApplyInclusive(grossAmount float64, taxRate float64) (net float64, tax float64) {
	net = grossAmount / (1 + taxRate/100)
	return net, grossAmount - net
}

// ApplyExclusive treats the amount as tax-exclusive and adds the tax on top.
func ApplyExclusive(netAmount float64, taxRate float64) (gross float64, tax float64) {
	tax = netAmount * (taxRate / 100)
	return netAmount + tax, tax
}

// CalculateTax applies the configured tax mode to an amount.
func CalculateTax(amount float64, taxRate float64, mode domain.TaxMode) (TaxResult, error) {
	switch mode {
	case domain.TaxModeNone:
		return TaxResult{Subtotal: amount, Tax: 0, Total: amount}, nil
	case domain.TaxModeInclusive:
		net, tax := ApplyInclusive(amount, taxRate)
		return TaxResult{Subtotal: net, Tax: tax, Total: amount}, nil
	case domain.TaxModeExclusive:
		gross, tax := ApplyExclusive(amount, taxRate)
		return TaxResult{Subtotal: amount, Tax: tax, Total: gross}, nil
	default:
		return TaxResult{}, ErrInvalidTaxMode{Mode: mode}
	}
}
