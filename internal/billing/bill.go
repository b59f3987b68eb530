package billing

import (
	"math"

	"dcmart/backend/internal/domain"
)

// CalculateBill combines line markdowns, line discounts, the bill-level
// discount, tax, and cash rounding into the final totals. Pure and
// deterministic; the register calls it on every cart mutation.
//
// The accumulation order is load-bearing: markdown reduces the line gross
// before the percentage discount sees it, the fixed discount subtracts after
// the percentage, and each line is clamped at zero before it joins the
// subtotal. Rounding applies to the grand total only.
func CalculateBill(
	items []domain.PricedLine,
	billDiscount *domain.BillDiscount,
	taxMode domain.TaxMode,
	taxRate float64,
	roundingRule float64,
) (domain.BillTotals, error) {
	subtotal := 0.0
	discountTotal := 0.0
	markdownTotal := 0.0

	for _, item := range items {
		lineGross := item.Qty * item.UnitPrice

		if item.MarkdownPct != 0 {
			markdown := lineGross * (item.MarkdownPct / 100)
			markdownTotal += markdown
			lineGross -= markdown
		}

		lineDiscount := 0.0
		if item.DiscountPct != 0 {
			lineDiscount += lineGross * (item.DiscountPct / 100)
		}
		if item.DiscountAmt != 0 {
			lineDiscount += item.DiscountAmt
		}

		discountTotal += lineDiscount
		subtotal += math.Max(0, lineGross-lineDiscount)
	}

	if billDiscount != nil {
		amount := billDiscount.Value
		if billDiscount.Type == domain.BillDiscountPercent {
			amount = subtotal * (billDiscount.Value / 100)
		}
		discountTotal += amount
		subtotal = math.Max(0, subtotal-amount)
	}

	taxResult, err := CalculateTax(subtotal, taxRate, taxMode)
	if err != nil {
		return domain.BillTotals{}, err
	}

	total := taxResult.Total
	rounding := 0.0
	if roundingRule > 0 {
		rounded := math.Round(total/roundingRule) * roundingRule
		rounding = rounded - total
		total = rounded
	}

	return domain.BillTotals{
		Subtotal:      taxResult.Subtotal,
		DiscountTotal: discountTotal,
		MarkdownTotal: markdownTotal,
		VATTotal:      taxResult.Tax,
		Rounding:      rounding,
		Total:         total,
	}, nil
}
