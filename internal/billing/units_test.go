package billing

import (
	"errors"
	"math"
	"testing"

	"dcmart/backend/internal/domain"
)

func looseProduct() domain.Product {
	return domain.Product{
		ID:               "prod-rice",
		SKU:              "RICE-01",
		NameEN:           "Basmati Rice",
		BaseUnit:         domain.BaseUnitGram,
		DefaultSaleUnit:  domain.SaleUnitKilogram,
		AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitKilogram, domain.SaleUnitGram, domain.SaleUnitHecto},
		PriceBase:        0.45,
	}
}

func pieceProduct() domain.Product {
	return domain.Product{
		ID:               "prod-soap",
		SKU:              "SOAP-01",
		NameEN:           "Bath Soap",
		BaseUnit:         domain.BaseUnitPiece,
		DefaultSaleUnit:  domain.SaleUnitPiece,
		AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitPiece, domain.SaleUnitPack},
		PriceBase:        120,
		PackBOM:          &domain.PackBOM{PieceSKU: "SOAP-01", Count: 6},
	}
}

func TestToBaseConversions(t *testing.T) {
	product := looseProduct()

	tests := []struct {
		name     string
		qty      float64
		saleUnit domain.SaleUnit
		want     float64
	}{
		{"kilogram", 2, domain.SaleUnitKilogram, 2000},
		{"gram", 250, domain.SaleUnitGram, 250},
		{"hectogram", 3, domain.SaleUnitHecto, 300},
		{"fractional kg", 0.05, domain.SaleUnitKilogram, 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToBase(product, tc.qty, tc.saleUnit)
			if err != nil {
				t.Fatalf("ToBase failed: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ToBase(%v, %s) = %v, want %v", tc.qty, tc.saleUnit, got, tc.want)
			}
		})
	}
}

func TestToBasePackUsesBOM(t *testing.T) {
	product := pieceProduct()

	got, err := ToBase(product, 3, domain.SaleUnitPack)
	if err != nil {
		t.Fatalf("ToBase failed: %v", err)
	}
	if got != 18 {
		t.Fatalf("expected 3 packs = 18 pieces, got %v", got)
	}
}

func TestToBaseRejectsIncompatibleUnit(t *testing.T) {
	_, err := ToBase(looseProduct(), 2, domain.SaleUnitPiece)
	if err == nil {
		t.Fatalf("expected error converting pcs for a gram-based product")
	}
	var invalidUnit ErrInvalidUnit
	if !errors.As(err, &invalidUnit) {
		t.Fatalf("expected ErrInvalidUnit, got %v", err)
	}
	if invalidUnit.SaleUnit != domain.SaleUnitPiece {
		t.Fatalf("error should name the offending unit, got %s", invalidUnit.SaleUnit)
	}

	if _, err := ToBase(pieceProduct(), 1, domain.SaleUnitKilogram); err == nil {
		t.Fatalf("expected error converting kg for a piece-based product")
	}
}

func TestFromBaseRoundTrips(t *testing.T) {
	cases := []struct {
		product  domain.Product
		qty      float64
		saleUnit domain.SaleUnit
	}{
		{looseProduct(), 1.25, domain.SaleUnitKilogram},
		{looseProduct(), 775, domain.SaleUnitGram},
		{looseProduct(), 4, domain.SaleUnitHecto},
		{pieceProduct(), 7, domain.SaleUnitPiece},
		{pieceProduct(), 2, domain.SaleUnitPack},
	}

	for _, tc := range cases {
		baseQty, err := ToBase(tc.product, tc.qty, tc.saleUnit)
		if err != nil {
			t.Fatalf("ToBase(%v, %s) failed: %v", tc.qty, tc.saleUnit, err)
		}
		back, err := FromBase(tc.product, baseQty, tc.saleUnit)
		if err != nil {
			t.Fatalf("FromBase(%v, %s) failed: %v", baseQty, tc.saleUnit, err)
		}
		if math.Abs(back-tc.qty) > 1e-9 {
			t.Fatalf("round trip %v %s: got %v", tc.qty, tc.saleUnit, back)
		}
	}
}

func TestSaleUnitPrice(t *testing.T) {
	product := looseProduct() // 0.45 per gram

	price, err := SaleUnitPrice(product, domain.SaleUnitKilogram)
	if err != nil {
		t.Fatalf("SaleUnitPrice failed: %v", err)
	}
	if math.Abs(price-450) > 1e-9 {
		t.Fatalf("expected 450 per kg, got %v", price)
	}

	price, err = SaleUnitPrice(product, domain.SaleUnitHecto)
	if err != nil {
		t.Fatalf("SaleUnitPrice failed: %v", err)
	}
	if math.Abs(price-45) > 1e-9 {
		t.Fatalf("expected 45 per 100g, got %v", price)
	}

	packPrice, err := SaleUnitPrice(pieceProduct(), domain.SaleUnitPack)
	if err != nil {
		t.Fatalf("SaleUnitPrice pack failed: %v", err)
	}
	if packPrice != 720 {
		t.Fatalf("expected pack price 720 (6 x 120), got %v", packPrice)
	}

	if _, err := SaleUnitPrice(product, domain.SaleUnitPack); err == nil {
		t.Fatalf("expected pack price to fail without a pack BOM on a gram base")
	}
}

func TestUnitStepDefaults(t *testing.T) {
	var steps domain.UnitSteps

	if got := UnitStep(domain.SaleUnitKilogram, steps); got != 0.05 {
		t.Fatalf("expected default kg step 0.05, got %v", got)
	}
	if got := UnitStep(domain.SaleUnitGram, steps); got != 1 {
		t.Fatalf("expected default g step 1, got %v", got)
	}
	if got := UnitStep(domain.SaleUnitPack, steps); got != 1 {
		t.Fatalf("expected default pack step 1, got %v", got)
	}

	steps = domain.UnitSteps{KgStep: 0.1, GStep: 5, PcsStep: 1}
	if got := UnitStep(domain.SaleUnitKilogram, steps); got != 0.1 {
		t.Fatalf("expected configured kg step 0.1, got %v", got)
	}
	if got := UnitStep(domain.SaleUnitHecto, steps); got != 5 {
		t.Fatalf("expected 100g to follow g step, got %v", got)
	}
}

func TestValidateQuantity(t *testing.T) {
	steps := domain.UnitSteps{KgStep: 0.05, GStep: 1, PcsStep: 1}

	tests := []struct {
		name     string
		qty      float64
		saleUnit domain.SaleUnit
		want     bool
	}{
		{"whole kg", 2, domain.SaleUnitKilogram, true},
		{"kg on step", 0.15, domain.SaleUnitKilogram, true},
		{"kg off step", 0.07, domain.SaleUnitKilogram, false},
		{"whole grams", 250, domain.SaleUnitGram, true},
		{"fractional grams", 10.5, domain.SaleUnitGram, false},
		{"whole pieces", 3, domain.SaleUnitPiece, true},
		{"fractional pieces", 1.5, domain.SaleUnitPiece, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateQuantity(tc.qty, tc.saleUnit, steps); got != tc.want {
				t.Fatalf("ValidateQuantity(%v, %s) = %t, want %t", tc.qty, tc.saleUnit, got, tc.want)
			}
		})
	}
}
