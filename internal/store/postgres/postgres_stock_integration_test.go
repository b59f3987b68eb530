package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"dcmart/backend/internal/domain"
	"dcmart/backend/internal/store"
)

func TestBatchStockGuardsAndBillSequence(t *testing.T) {
	databaseURL := os.Getenv("DCMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DCMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-stock-it-%d", stamp)
	batchID := fmt.Sprintf("batch-stock-it-%d", stamp)
	dateKey := fmt.Sprintf("it%d", stamp%100000000)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, batchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bill_sequences WHERE date = $1`, dateKey)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, SKU: fmt.Sprintf("STOCK-IT-%d", stamp), NameEN: "Stock IT",
		BaseUnit: domain.BaseUnitPiece, DefaultSaleUnit: domain.SaleUnitPiece,
		AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitPiece},
		PriceBase:        100, Barcodes: []string{},
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.CreateBatch(ctx, domain.Batch{
		ID: batchID, ProductID: productID, UnitCost: 60, OnHand: 10,
	}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	if _, err := s.ReserveBatchStock(ctx, batchID, 8); err != nil {
		t.Fatalf("reserve within on-hand failed: %v", err)
	}
	if _, err := s.ReserveBatchStock(ctx, batchID, 5); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected oversized hold to fail, got %v", err)
	}
	if _, err := s.ReleaseBatchStock(ctx, batchID, 8); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	batch, err := s.ConsumeBatchStock(ctx, batchID, 4)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if batch.OnHand != 6 {
		t.Fatalf("expected 6 on hand after consume, got %v", batch.OnHand)
	}
	if _, err := s.ConsumeBatchStock(ctx, batchID, 7); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected oversized consume to fail, got %v", err)
	}

	first, err := s.NextBillSequence(ctx, dateKey)
	if err != nil {
		t.Fatalf("next bill sequence: %v", err)
	}
	second, err := s.NextBillSequence(ctx, dateKey)
	if err != nil {
		t.Fatalf("next bill sequence: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected sequence 1 then 2, got %d then %d", first, second)
	}
}
