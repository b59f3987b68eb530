package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"dcmart/backend/internal/domain"
	"dcmart/backend/internal/store"
	"dcmart/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, nil), repo
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "owner", Role: domain.RoleOwner})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func approxEq(t *testing.T, name string, got float64, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-2 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

// localMidnightUTC returns the store-local calendar date of the service clock
// anchored at UTC midnight, which is how batch expiry dates are stored.
func localMidnightUTC(svc *Service) time.Time {
	local := svc.localNow()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func TestGenerateBillNumberSequential(t *testing.T) {
	svc, _ := newTestService()
	svc.now = func() time.Time {
		// 20:00 UTC is already the next day in Colombo.
		return time.Date(2025, time.March, 10, 20, 0, 0, 0, time.UTC)
	}

	first, err := svc.GenerateBillNumber(context.Background())
	if err != nil {
		t.Fatalf("GenerateBillNumber failed: %v", err)
	}
	second, err := svc.GenerateBillNumber(context.Background())
	if err != nil {
		t.Fatalf("GenerateBillNumber failed: %v", err)
	}

	if first != "DC-20250311-0001" {
		t.Fatalf("expected DC-20250311-0001, got %s", first)
	}
	if second != "DC-20250311-0002" {
		t.Fatalf("expected DC-20250311-0002, got %s", second)
	}
}

func TestGenerateBillNumberResetsPerDay(t *testing.T) {
	svc, _ := newTestService()

	svc.now = func() time.Time { return time.Date(2025, time.March, 10, 6, 0, 0, 0, time.UTC) }
	first, err := svc.GenerateBillNumber(context.Background())
	if err != nil {
		t.Fatalf("GenerateBillNumber failed: %v", err)
	}

	svc.now = func() time.Time { return time.Date(2025, time.March, 11, 6, 0, 0, 0, time.UTC) }
	nextDay, err := svc.GenerateBillNumber(context.Background())
	if err != nil {
		t.Fatalf("GenerateBillNumber failed: %v", err)
	}

	if first != "DC-20250310-0001" || nextDay != "DC-20250311-0001" {
		t.Fatalf("expected per-day sequences, got %s then %s", first, nextDay)
	}
}

func TestGenerateBillNumberConcurrent(t *testing.T) {
	svc, _ := newTestService()
	svc.now = func() time.Time {
		return time.Date(2025, time.March, 10, 6, 0, 0, 0, time.UTC)
	}

	const callers = 25
	numbers := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			billNo, err := svc.GenerateBillNumber(context.Background())
			if err != nil {
				t.Errorf("GenerateBillNumber failed: %v", err)
				return
			}
			numbers <- billNo
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, callers)
	for billNo := range numbers {
		if seen[billNo] {
			t.Fatalf("bill number %s issued twice", billNo)
		}
		seen[billNo] = true
	}
	if len(seen) != callers {
		t.Fatalf("expected %d distinct bill numbers, got %d", callers, len(seen))
	}
}

func TestCheckoutCashSale(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		SaleClientID: "client-cash-1",
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 2, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{
			{Method: domain.PaymentCash, Amount: 1000},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// 2 x 480 inclusive of 18% VAT, whole-rupee rounding.
	approxEq(t, "total", resp.Sale.Total, 960)
	approxEq(t, "change", resp.Change, 40)
	if !strings.HasPrefix(resp.Sale.BillNo, "DC-") {
		t.Fatalf("expected DC bill number, got %s", resp.Sale.BillNo)
	}
	if resp.Duplicate {
		t.Fatalf("first checkout must not be a duplicate")
	}
	if resp.Sale.CashierRole != domain.RoleCashier {
		t.Fatalf("expected cashier role on sale, got %s", resp.Sale.CashierRole)
	}

	batch, err := repo.GetBatchByID(context.Background(), "batch-milk-fresh")
	if err != nil {
		t.Fatalf("batch lookup failed: %v", err)
	}
	approxEq(t, "on_hand after consume", batch.OnHand, 34)
	approxEq(t, "hold released after consume", batch.Reserved, 0)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	req := domain.CheckoutRequest{
		SaleClientID: "client-replay",
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 1, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 500}},
	}

	first, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	second, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if !second.Duplicate {
		t.Fatalf("replay must be flagged duplicate")
	}
	if second.Sale.ID != first.Sale.ID || second.Sale.BillNo != first.Sale.BillNo {
		t.Fatalf("replay must return the stored sale, got %s vs %s", second.Sale.BillNo, first.Sale.BillNo)
	}

	batch, err := repo.GetBatchByID(context.Background(), "batch-milk-fresh")
	if err != nil {
		t.Fatalf("batch lookup failed: %v", err)
	}
	approxEq(t, "on_hand consumed once", batch.OnHand, 35)
}

func TestCheckoutRejectsExpiredWithoutOverride(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-expired", Qty: 1, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 1000}},
	})
	if !errors.Is(err, ErrExpiredBatch) {
		t.Fatalf("expected ErrExpiredBatch, got %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-expired", Qty: 1, SaleUnit: domain.SaleUnitPiece, OverrideReason: "staff purchase of expired stock"},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 1000}},
	})
	if err != nil {
		t.Fatalf("override checkout failed: %v", err)
	}
	if resp.Sale.MarkdownTotal != 0 {
		t.Fatalf("expired stock gets no automatic markdown, got %v", resp.Sale.MarkdownTotal)
	}
}

func TestCheckoutInsufficientPayment(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 2, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 900}},
	})
	if !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
}

func TestCheckoutRejectsBadPayments(t *testing.T) {
	svc, _ := newTestService()
	lines := []domain.CartLine{
		{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 1, SaleUnit: domain.SaleUnitPiece},
	}

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:    lines,
		Payments: []domain.Payment{{Method: domain.PaymentMethod("cheque"), Amount: 500}},
	})
	if !errors.Is(err, store.ErrInvalidInput) || !strings.Contains(err.Error(), "cheque") {
		t.Fatalf("unknown payment method must be rejected by name, got %v", err)
	}

	_, err = svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines:    lines,
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 0}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("non-positive payment amount must be rejected, got %v", err)
	}
}

func TestCheckoutRequiresActor(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 1, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 500}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 100, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: 100000}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestPriceCartFEFOAndMarkdown(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	// Controlled batches anchored on the store-local calendar day so the
	// markdown step is deterministic regardless of wall-clock time.
	product, err := repo.CreateProduct(context.Background(), domain.Product{
		ID: "prod-yogurt", SKU: "YOG-01", NameEN: "Curd Cup",
		BaseUnit: domain.BaseUnitPiece, DefaultSaleUnit: domain.SaleUnitPiece,
		AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitPiece},
		PriceBase:        200, RequiresExpiry: true,
	})
	if err != nil {
		t.Fatalf("seed product failed: %v", err)
	}

	base := localMidnightUTC(svc)
	soon := base.AddDate(0, 0, 2)
	late := base.AddDate(0, 0, 30)
	gone := base.AddDate(0, 0, -1)
	created := base.AddDate(0, 0, -10)
	for i, expiry := range []time.Time{late, soon, gone} {
		e := expiry
		if _, err := repo.CreateBatch(context.Background(), domain.Batch{
			ID: fmt.Sprintf("batch-yog-%d", i), ProductID: product.ID, Expiry: &e,
			UnitCost: 120, OnHand: 20, CreatedAt: created,
		}); err != nil {
			t.Fatalf("seed batch failed: %v", err)
		}
	}

	resp, err := svc.PriceCart(ctx, domain.PriceCartRequest{
		Lines: []domain.CartLine{
			{ProductID: product.ID, Qty: 1, SaleUnit: domain.SaleUnitPiece},
		},
	})
	if err != nil {
		t.Fatalf("price cart failed: %v", err)
	}

	line := resp.Lines[0]
	if line.BatchID != "batch-yog-1" {
		t.Fatalf("FEFO must pick the soonest non-expired batch, got %s", line.BatchID)
	}
	// Two days to expiry sits in the 20%% markdown band.
	if line.MarkdownPct != 20 {
		t.Fatalf("expected 20%% markdown, got %v", line.MarkdownPct)
	}
	approxEq(t, "markdown total", resp.Totals.MarkdownTotal, 40)
	approxEq(t, "total", resp.Totals.Total, 160)

	// Pricing must not touch stock.
	batch, err := repo.GetBatchByID(context.Background(), "batch-yog-1")
	if err != nil {
		t.Fatalf("batch lookup failed: %v", err)
	}
	approxEq(t, "on_hand untouched", batch.OnHand, 20)
}

func TestPriceCartRejectsOffStepQuantity(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.PriceCart(cashierCtx(), domain.PriceCartRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-rice", BatchID: "batch-rice-1", Qty: 0.07, SaleUnit: domain.SaleUnitKilogram},
		},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for off-step quantity, got %v", err)
	}
}

func TestPriceCartWeighedLine(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.PriceCart(cashierCtx(), domain.PriceCartRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-rice", BatchID: "batch-rice-1", Qty: 2, SaleUnit: domain.SaleUnitKilogram},
		},
	})
	if err != nil {
		t.Fatalf("price cart failed: %v", err)
	}

	// 0.48/g => 480/kg => 960 gross, inclusive 18%.
	approxEq(t, "unit price", resp.Lines[0].UnitPrice, 480)
	approxEq(t, "total", resp.Totals.Total, 960)
	approxEq(t, "vat", resp.Totals.VATTotal, 960-960/1.18)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cashier must not create products, got %v", err)
	}

	_, err := svc.CreateProduct(ownerCtx(), domain.ProductCreateRequest{
		SKU: "EGG-01", NameEN: "Eggs", BaseUnit: domain.BaseUnitPiece,
		DefaultSaleUnit: domain.SaleUnitKilogram,
		PriceBase:       30,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("kg sale unit on a piece product must be rejected, got %v", err)
	}

	created, err := svc.CreateProduct(ownerCtx(), domain.ProductCreateRequest{
		SKU: "egg-01 ", NameEN: "Eggs", BaseUnit: domain.BaseUnitPiece,
		DefaultSaleUnit: domain.SaleUnitPiece,
		PriceBase:       30, Barcodes: []string{"4791234500059", "4791234500059"},
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.SKU != "EGG-01" {
		t.Fatalf("SKU must be upper-cased and trimmed, got %q", created.SKU)
	}
	if len(created.Barcodes) != 1 {
		t.Fatalf("duplicate barcodes must collapse, got %v", created.Barcodes)
	}
}

func TestReceiveBatchRequiresExpiryWhenFlagged(t *testing.T) {
	svc, _ := newTestService()
	ctx := ownerCtx()

	_, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ProductID: "prod-milk", Qty: 10, UnitCost: 300,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected expiry requirement, got %v", err)
	}

	batch, err := svc.ReceiveBatch(ctx, domain.BatchReceiveRequest{
		ProductID: "prod-milk", Qty: 10, UnitCost: 300, Expiry: "2027-06-01", Lot: "M-NEW",
	})
	if err != nil {
		t.Fatalf("receive batch failed: %v", err)
	}
	if batch.Expiry == nil || batch.Expiry.Format("2006-01-02") != "2027-06-01" {
		t.Fatalf("expiry not stored, got %v", batch.Expiry)
	}
	approxEq(t, "on_hand", batch.OnHand, 10)
}

func TestDailySummaryAggregatesSales(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		Lines: []domain.CartLine{
			{ProductID: "prod-milk", BatchID: "batch-milk-fresh", Qty: 1, SaleUnit: domain.SaleUnitPiece},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCard, Amount: 480, Ref: "CARD-1"}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	summary, err := svc.DailySummary(context.Background(), "")
	if err != nil {
		t.Fatalf("daily summary failed: %v", err)
	}
	if summary.SalesCount != 1 {
		t.Fatalf("expected one sale, got %d", summary.SalesCount)
	}
	approxEq(t, "summary total", summary.Total, resp.Sale.Total)

	sales, err := svc.ListSales(context.Background(), "")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 || sales[0].BillNo != resp.Sale.BillNo {
		t.Fatalf("expected the sale in today's listing, got %+v", sales)
	}
}

func TestLowStockReport(t *testing.T) {
	svc, repo := newTestService()

	if _, err := repo.CreateProduct(context.Background(), domain.Product{
		ID: "prod-salt", SKU: "SALT-01", NameEN: "Table Salt",
		BaseUnit: domain.BaseUnitGram, DefaultSaleUnit: domain.SaleUnitKilogram,
		AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitKilogram},
		PriceBase:        0.1, MinStock: 500,
	}); err != nil {
		t.Fatalf("seed product failed: %v", err)
	}

	items, err := svc.LowStock(context.Background())
	if err != nil {
		t.Fatalf("low stock failed: %v", err)
	}

	found := false
	for _, item := range items {
		if item.SKU == "SALT-01" {
			found = true
		}
		if item.SKU == "RICE-01" {
			t.Fatalf("well stocked product must not be flagged")
		}
	}
	if !found {
		t.Fatalf("product with no batches must be flagged low, got %+v", items)
	}
}

func TestSupplierInvoiceAndPayment(t *testing.T) {
	svc, _ := newTestService()
	ctx := ownerCtx()

	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "Lanka Dairies", TermsDays: 14})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	invoice, err := svc.CreateSupplierInvoice(ctx, domain.SupplierInvoiceCreateRequest{
		SupplierID: supplier.ID, InvoiceNo: "LD-1001", Date: "2025-03-01", Total: 25000,
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	approxEq(t, "opening balance", invoice.Balance, 25000)
	if invoice.DueDate.Format("2006-01-02") != "2025-03-15" {
		t.Fatalf("due date must follow supplier terms, got %s", invoice.DueDate.Format("2006-01-02"))
	}

	paid, err := svc.PaySupplierInvoice(ctx, domain.SupplierPaymentRequest{
		InvoiceID: invoice.ID, Amount: 30000, Method: domain.PaymentBank, Ref: "TRF-9",
	})
	if err != nil {
		t.Fatalf("pay invoice failed: %v", err)
	}
	approxEq(t, "balance clamps at zero", paid.Balance, 0)
}

func TestUpdateSettingsOwnerOnly(t *testing.T) {
	svc, _ := newTestService()

	managerCtx := WithActor(context.Background(), domain.Actor{Username: "m", Role: domain.RoleManager})
	if _, err := svc.UpdateSettings(managerCtx, domain.Settings{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("manager must not update settings, got %v", err)
	}

	updated, err := svc.UpdateSettings(ownerCtx(), domain.Settings{
		Taxes: domain.TaxSettings{Enabled: true, Rate: 15, Mode: domain.TaxModeExclusive, Rounding: 0.5},
		Units: domain.UnitSteps{KgStep: 0.1, GStep: 5, PcsStep: 1},
	})
	if err != nil {
		t.Fatalf("update settings failed: %v", err)
	}
	if updated.Taxes.Mode != domain.TaxModeExclusive {
		t.Fatalf("settings not applied: %+v", updated)
	}

	if _, err := svc.UpdateSettings(ownerCtx(), domain.Settings{
		Taxes: domain.TaxSettings{Mode: domain.TaxMode("gst")},
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("unknown tax mode must be rejected, got %v", err)
	}
}

func TestGetProductBySKU(t *testing.T) {
	svc, _ := newTestService()

	product, err := svc.GetProductBySKU(context.Background(), " rice-01 ")
	if err != nil {
		t.Fatalf("sku lookup failed: %v", err)
	}
	if product.ID != "prod-rice" {
		t.Fatalf("expected prod-rice, got %s", product.ID)
	}

	if _, err := svc.GetProductBySKU(context.Background(), "NO-SUCH-SKU"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetProductBySKU(context.Background(), "  "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank sku, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	if err := svc.ChangePassword(ctx, "wrong", "brand-new-pass"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("wrong current password must be rejected, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "cashier123", "short"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("short new password must be rejected, got %v", err)
	}

	if err := svc.ChangePassword(ctx, "cashier123", "brand-new-pass"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "cashier", "cashier123"); err == nil {
		t.Fatalf("old password must stop working")
	}
	actor, err := svc.Authenticate(context.Background(), "cashier", "brand-new-pass")
	if err != nil {
		t.Fatalf("new password must authenticate: %v", err)
	}
	if actor.Role != domain.RoleCashier {
		t.Fatalf("expected cashier role, got %s", actor.Role)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService()

	actor, err := svc.Authenticate(context.Background(), "Owner ", "owner123")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if actor.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %s", actor.Role)
	}

	if _, err := svc.Authenticate(context.Background(), "owner", "wrong"); err == nil {
		t.Fatalf("bad password must fail")
	}
}
