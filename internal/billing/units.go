package billing

import (
	"fmt"
	"math"

	"dcmart/backend/internal/domain"
)

// ErrInvalidUnit marks a sale unit that is not convertible to the product's
// base unit. It is a configuration error, not an operator-recoverable one.
type ErrInvalidUnit struct {
	SaleUnit domain.SaleUnit
	BaseUnit domain.BaseUnit
}

func (e ErrInvalidUnit) Error() string {
	return fmt.Sprintf("invalid unit conversion: %s for base unit %s", e.SaleUnit, e.BaseUnit)
}

type unitConversion struct {
	base       domain.BaseUnit
	multiplier float64
}

// Fixed sale-unit table. Pack is listed for completeness but is resolved via
// the product's pack BOM before this table is consulted.
var unitConversions = map[domain.SaleUnit]unitConversion{
	domain.SaleUnitKilogram: {base: domain.BaseUnitGram, multiplier: 1000},
	domain.SaleUnitGram:     {base: domain.BaseUnitGram, multiplier: 1},
	domain.SaleUnitHecto:    {base: domain.BaseUnitGram, multiplier: 100},
	domain.SaleUnitPiece:    {base: domain.BaseUnitPiece, multiplier: 1},
	domain.SaleUnitPack:     {base: domain.BaseUnitPiece, multiplier: 1},
}

// ToBase converts a quantity in the given sale unit to the product's base
// unit. Pack units multiply by the pack BOM count.
func ToBase(product domain.Product, qty float64, saleUnit domain.SaleUnit) (float64, error) {
	if saleUnit == domain.SaleUnitPack && product.PackBOM != nil {
		return qty * product.PackBOM.Count, nil
	}

	conv, ok := unitConversions[saleUnit]
	if !ok || conv.base != product.BaseUnit {
		return 0, ErrInvalidUnit{SaleUnit: saleUnit, BaseUnit: product.BaseUnit}
	}
	return qty * conv.multiplier, nil
}

// FromBase is the inverse of ToBase.
func FromBase(product domain.Product, baseQty float64, saleUnit domain.SaleUnit) (float64, error) {
	if saleUnit == domain.SaleUnitPack && product.PackBOM != nil {
		return baseQty / product.PackBOM.Count, nil
	}

	conv, ok := unitConversions[saleUnit]
	if !ok || conv.base != product.BaseUnit {
		return 0, ErrInvalidUnit{SaleUnit: saleUnit, BaseUnit: product.BaseUnit}
	}
	return baseQty / conv.multiplier, nil
}

// SaleUnitPrice returns the undiscounted, pre-markdown price for one unit of
// the requested sale unit.
func SaleUnitPrice(product domain.Product, saleUnit domain.SaleUnit) (float64, error) {
	if saleUnit == domain.SaleUnitPack && product.PackBOM != nil {
		return product.PriceBase * product.PackBOM.Count, nil
	}

	conv, ok := unitConversions[saleUnit]
	if !ok || conv.base != product.BaseUnit {
		return 0, ErrInvalidUnit{SaleUnit: saleUnit, BaseUnit: product.BaseUnit}
	}
	return product.PriceBase * conv.multiplier, nil
}

// UnitStep returns the minimum quantity increment for a sale unit. Defaults
// cover the case of an unconfigured settings bundle.
func UnitStep(saleUnit domain.SaleUnit, steps domain.UnitSteps) float64 {
	switch saleUnit {
	case domain.SaleUnitKilogram:
		if steps.KgStep > 0 {
			return steps.KgStep
		}
		return 0.05
	case domain.SaleUnitGram, domain.SaleUnitHecto:
		if steps.GStep > 0 {
			return steps.GStep
		}
		return 1
	case domain.SaleUnitPiece, domain.SaleUnitPack:
		if steps.PcsStep > 0 {
			return steps.PcsStep
		}
		return 1
	default:
		return 1
	}
}

const quantityTolerance = 1e-3

// ValidateQuantity reports whether qty is a whole multiple of the unit's step
// within floating-point tolerance. Scales and packaging cannot measure finer
// than the configured step.
func ValidateQuantity(qty float64, saleUnit domain.SaleUnit, steps domain.UnitSteps) bool {
	step := UnitStep(saleUnit, steps)
	remainder := math.Mod(qty, step)
	return remainder < quantityTolerance || step-remainder < quantityTolerance
}
